package pipeline

import (
	"log/slog"
	"time"

	"weighbridge/internal"
	"weighbridge/internal/logging"
	"weighbridge/internal/sheet"
	"weighbridge/internal/util"
)

// Outcome is the in-memory result of one pipeline run over a sheet.
type Outcome struct {
	Layout  internal.Layout
	Tickets []internal.NormalizedTicket
	Errors  []internal.ErrorRecord
	Stats   internal.BatchStats
}

// RunSheet extracts, normalizes, validates and assigns the tickets of s
// without touching storage. Every error record carries batchID.
func RunSheet(s *sheet.Sheet, batchID string, uploadDate time.Time, snap internal.CatalogSnapshot, logger *slog.Logger) Outcome {
	logger = logging.OrDiscard(logger).With("batch_id", batchID)
	uploadDate = util.DateOnly(uploadDate)

	ex := ExtractTickets(s, logger)
	out := Outcome{Layout: ex.Layout}
	out.Stats.TicketsParsed = len(ex.Drafts)
	out.Stats.ParsingErrors = len(ex.Errors)
	for _, e := range ex.Errors {
		e.BatchID = batchID
		out.Errors = append(out.Errors, e)
	}

	norm := Normalizer{BatchID: batchID, UploadDate: uploadDate}
	candidates := make([]internal.NormalizedTicket, 0, len(ex.Drafts))
	for _, d := range ex.Drafts {
		t, err := norm.Normalize(d)
		if err != nil {
			out.Stats.MappingErrors++
			rec := internal.ErrorRecord{
				BatchID:   batchID,
				RowNumber: d.RowNumber,
				Type:      internal.ErrMapping,
				Message:   err.Error(),
				Raw:       d.Raw,
			}
			if !d.TicketNumber.IsEmpty() {
				rec.TicketNumber = util.StringPtr(d.TicketNumber.String())
			}
			out.Errors = append(out.Errors, rec)
			continue
		}
		candidates = append(candidates, t)
	}

	verdict := Validator{BatchID: batchID, UploadDate: uploadDate}.ValidateBatch(candidates)
	out.Errors = append(out.Errors, verdict.Errors...)
	out.Stats.DuplicatesDetected = verdict.Duplicates
	out.Stats.ValidationErrors = len(verdict.Errors) - verdict.Duplicates

	matcher := NewMatcher(snap)
	for i := range verdict.Accepted {
		t := &verdict.Accepted[i]
		if matcher.Assign(t) {
			out.Stats.Matched++
		} else {
			out.Stats.Unmatched++
			logger.Debug("ticket unmatched", "ticket", t.TicketNumber, "reference", util.DerefString(t.Reference), "note", util.DerefString(t.Note))
		}
	}
	out.Tickets = verdict.Accepted

	out.Stats.TicketsValid = len(out.Tickets)
	out.Stats.TicketsInvalid = out.Stats.TicketsParsed - out.Stats.TicketsValid
	return out
}
