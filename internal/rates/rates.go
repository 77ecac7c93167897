// Package rates resolves effective per-tonne rates and enforces the rules
// for creating, changing and approving rate records.
package rates

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"weighbridge/internal"
	"weighbridge/internal/util"
)

var (
	MinRate = decimal.NewFromInt(10)
	MaxRate = decimal.NewFromInt(100)
)

var (
	ErrRateOutOfRange  = errors.New("rate per tonne must be between 10 and 100")
	ErrInvalidInterval = errors.New("effective_to must be after effective_from")
	ErrRateImmutable   = errors.New("approved rates cannot be modified")
	ErrAlreadyApproved = errors.New("rate is already approved")
)

// ConflictError rejects a rate whose interval overlaps existing records of
// the same client.
type ConflictError struct {
	Candidate internal.RateRecord
	Conflicts []internal.RateRecord
}

func (e *ConflictError) Error() string {
	parts := make([]string, 0, len(e.Conflicts))
	for _, r := range e.Conflicts {
		parts = append(parts, fmt.Sprintf("%s %s..%s", r.ID, r.EffectiveFrom.Format(time.DateOnly), formatTo(r.EffectiveTo)))
	}
	return fmt.Sprintf("rate %s..%s overlaps existing rates: %s",
		e.Candidate.EffectiveFrom.Format(time.DateOnly), formatTo(e.Candidate.EffectiveTo), strings.Join(parts, ", "))
}

func formatTo(t *time.Time) string {
	if t == nil {
		return "open"
	}
	return t.Format(time.DateOnly)
}

func Validate(r internal.RateRecord) error {
	if r.RatePerTonne.LessThan(MinRate) || r.RatePerTonne.GreaterThan(MaxRate) {
		return fmt.Errorf("%w: got %s", ErrRateOutOfRange, r.RatePerTonne.String())
	}
	if r.EffectiveTo != nil && !util.DateOnly(*r.EffectiveTo).After(util.DateOnly(r.EffectiveFrom)) {
		return ErrInvalidInterval
	}
	return nil
}

// Overlaps reports whether candidate's interval intersects existing's. Both
// ends are inclusive and a nil end extends to infinity.
func Overlaps(existing, candidate internal.RateRecord) bool {
	eFrom := util.DateOnly(existing.EffectiveFrom)
	cFrom := util.DateOnly(candidate.EffectiveFrom)
	endsAfterStart := existing.EffectiveTo == nil || !util.DateOnly(*existing.EffectiveTo).Before(cFrom)
	if candidate.EffectiveTo == nil {
		return endsAfterStart
	}
	return !eFrom.After(util.DateOnly(*candidate.EffectiveTo)) && endsAfterStart
}

// FindOverlaps returns every record of the candidate's client, approved or
// pending, whose interval overlaps the candidate, skipping the candidate itself.
func FindOverlaps(existing []internal.RateRecord, candidate internal.RateRecord) []internal.RateRecord {
	var out []internal.RateRecord
	for _, r := range existing {
		if r.ClientID != candidate.ClientID || (candidate.ID != "" && r.ID == candidate.ID) {
			continue
		}
		if Overlaps(r, candidate) {
			out = append(out, r)
		}
	}
	return out
}

func CheckOverlap(existing []internal.RateRecord, candidate internal.RateRecord) error {
	if conflicts := FindOverlaps(existing, candidate); len(conflicts) > 0 {
		return &ConflictError{Candidate: candidate, Conflicts: conflicts}
	}
	return nil
}

// Effective picks, among approved records of clientID in force on day, the
// one that started most recently. Nil when no approved rate applies.
func Effective(records []internal.RateRecord, clientID string, day time.Time) *internal.RateRecord {
	d := util.DateOnly(day)
	var best *internal.RateRecord
	for i := range records {
		r := &records[i]
		if r.ClientID != clientID || !r.Approved() {
			continue
		}
		if util.DateOnly(r.EffectiveFrom).After(d) {
			continue
		}
		if r.EffectiveTo != nil && util.DateOnly(*r.EffectiveTo).Before(d) {
			continue
		}
		if best == nil || r.EffectiveFrom.After(best.EffectiveFrom) ||
			(r.EffectiveFrom.Equal(best.EffectiveFrom) && r.CreatedAt.After(best.CreatedAt)) {
			best = r
		}
	}
	if best == nil {
		return nil
	}
	out := *best
	return &out
}

func CanModify(r internal.RateRecord) error {
	if r.Approved() {
		return ErrRateImmutable
	}
	return nil
}

// Approve moves a pending record to approved. Approval is one-way.
func Approve(r *internal.RateRecord, by string, at time.Time) error {
	if r.Approved() {
		return ErrAlreadyApproved
	}
	by = strings.TrimSpace(by)
	if by == "" {
		return errors.New("approver is required")
	}
	r.ApprovedBy = &by
	r.ApprovedAt = &at
	return nil
}
