package pipeline

import (
	"fmt"
	"math"
	"strings"
	"time"

	"weighbridge/internal"
	"weighbridge/internal/util"
)

const (
	minNetTonnes      = 0.01
	maxNetTonnes      = 100.0
	weightTolerance   = 0.05
	floatEpsilon      = 1e-9
	entryWindowBefore = 30
	entryWindowAfter  = 31
)

// Validator applies the batch rule chain to normalized tickets.
type Validator struct {
	BatchID    string
	UploadDate time.Time
}

type Verdict struct {
	Accepted []internal.NormalizedTicket
	Errors   []internal.ErrorRecord
	// Duplicates counts DuplicateError records in Errors.
	Duplicates int
}

// ValidateBatch runs the duplicate pre-pass over the whole batch, then the
// per-ticket rules over what is left.
func (v Validator) ValidateBatch(tickets []internal.NormalizedTicket) Verdict {
	kept, dupErrs := DetectDuplicates(v.BatchID, tickets)
	out := Verdict{Errors: dupErrs, Duplicates: len(dupErrs)}
	for _, t := range kept {
		if err := v.Check(t); err != nil {
			out.Errors = append(out.Errors, internal.ErrorRecord{
				BatchID:      v.BatchID,
				TicketNumber: util.StringPtr(t.TicketNumber),
				RowNumber:    t.RowNumber,
				Type:         internal.ErrValidation,
				Message:      err.Error(),
				Raw:          t.Raw,
			})
			continue
		}
		out.Accepted = append(out.Accepted, t)
	}
	return out
}

// DetectDuplicates compares ticket numbers case-insensitively. Every repeat
// after the first yields a DuplicateError and all occurrences of a repeated
// number are dropped from kept.
func DetectDuplicates(batchID string, tickets []internal.NormalizedTicket) (kept []internal.NormalizedTicket, errs []internal.ErrorRecord) {
	first := map[string]int{}
	counts := map[string]int{}
	for i, t := range tickets {
		key := strings.ToUpper(t.TicketNumber)
		if _, ok := first[key]; !ok {
			first[key] = i
		}
		counts[key]++
	}

	for i, t := range tickets {
		key := strings.ToUpper(t.TicketNumber)
		if counts[key] == 1 {
			kept = append(kept, t)
			continue
		}
		if first[key] == i {
			continue
		}
		origin := tickets[first[key]]
		errs = append(errs, internal.ErrorRecord{
			BatchID:      batchID,
			TicketNumber: util.StringPtr(t.TicketNumber),
			RowNumber:    t.RowNumber,
			Type:         internal.ErrDuplicate,
			Message:      fmt.Sprintf("duplicate ticket number %s (first seen at row %d)", t.TicketNumber, origin.RowNumber),
			Raw:          t.Raw,
		})
	}
	return kept, errs
}

// Check returns the first rule the ticket breaks, or nil.
func (v Validator) Check(t internal.NormalizedTicket) error {
	var missing []string
	if t.TicketNumber == "" {
		missing = append(missing, "ticket_number")
	}
	if t.Status == "" {
		missing = append(missing, "status")
	}
	if t.EntryDate == nil {
		missing = append(missing, "entry_date")
	}
	if t.NetWeight == nil {
		missing = append(missing, "net_weight")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required fields: %s", strings.Join(missing, ", "))
	}

	if !t.Status.Valid() {
		return fmt.Errorf("invalid status %q", t.Status)
	}

	net := *t.NetWeight
	void := t.Status == internal.StatusVoid
	netInRange := net >= minNetTonnes-floatEpsilon && net <= maxNetTonnes+floatEpsilon
	if void {
		if !isZero(net) {
			return fmt.Errorf("VOID ticket must have zero net weight, got %.3f", net)
		}
	} else if !netInRange {
		return fmt.Errorf("net weight %.3f t is outside [%g, %g]", net, minNetTonnes, maxNetTonnes)
	}

	if t.GrossWeight != nil && t.TareWeight != nil {
		gross, tare := *t.GrossWeight, *t.TareWeight
		if netInRange {
			expected := gross - tare
			if math.Abs(net-expected) > weightTolerance*expected+floatEpsilon {
				return fmt.Errorf("net weight %.3f does not match gross %.3f - tare %.3f within %d%%",
					net, gross, tare, int(weightTolerance*100))
			}
		}
		if tare > gross+floatEpsilon {
			return fmt.Errorf("tare weight %.3f exceeds gross weight %.3f", tare, gross)
		}
	}

	skew := util.DaysBetween(v.UploadDate, *t.EntryDate)
	if skew < -entryWindowBefore || skew > entryWindowAfter {
		return fmt.Errorf("entry date %s is outside the %d/+%d day window around upload date %s",
			t.EntryDate.Format(time.DateOnly), -entryWindowBefore, entryWindowAfter,
			util.DateOnly(v.UploadDate).Format(time.DateOnly))
	}
	return nil
}

func isZero(v float64) bool {
	return math.Abs(v) <= floatEpsilon
}
