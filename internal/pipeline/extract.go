package pipeline

import (
	"fmt"
	"log/slog"

	"weighbridge/internal"
	"weighbridge/internal/logging"
	"weighbridge/internal/sheet"
	"weighbridge/internal/util"
)

// Extraction is the output of one extractor run over a sheet. Errors holds
// RowParsingError records only.
type Extraction struct {
	Layout internal.Layout
	Drafts []internal.TicketDraft
	Errors []internal.ErrorRecord
}

type Extractor interface {
	Extract(s *sheet.Sheet) Extraction
}

func ExtractorFor(layout internal.Layout, logger *slog.Logger) Extractor {
	logger = logging.OrDiscard(logger)
	if layout == internal.LayoutBlock {
		return BlockExtractor{logger: logger}
	}
	return TabularExtractor{logger: logger}
}

// ExtractTickets detects the layout of s and runs the matching extractor.
func ExtractTickets(s *sheet.Sheet, logger *slog.Logger) Extraction {
	logger = logging.OrDiscard(logger)
	detect := DetectLayout(s)
	logger.Debug("layout detected", "sheet", s.Name, "layout", detect.Layout, "markers", detect.MarkerHits)
	out := ExtractorFor(detect.Layout, logger).Extract(s)
	out.Layout = detect.Layout
	return out
}

func rowParsingError(rowNumber int, ticket sheet.Cell, raw map[string]any, format string, args ...any) internal.ErrorRecord {
	rec := internal.ErrorRecord{
		RowNumber: rowNumber,
		Type:      internal.ErrRowParsing,
		Message:   fmt.Sprintf(format, args...),
		Raw:       raw,
	}
	if !ticket.IsEmpty() {
		rec.TicketNumber = util.StringPtr(ticket.String())
	}
	return rec
}
