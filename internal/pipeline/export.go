package pipeline

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"weighbridge/internal"
)

const (
	ticketsSheet = "Tickets"
	errorsSheet  = "Errors"
)

var ticketHeaders = []string{
	"row", "ticket_number", "status", "reference", "note", "entry_date", "entry_time", "exit_date", "exit_time",
	"vehicle", "license", "gross_t", "tare_t", "net_t", "material", "attendant", "billable",
	"client", "match_type", "matched_pattern", "confidence", "rate_per_tonne", "amount",
}

var errorHeaders = []string{"row", "ticket_number", "error_type", "message", "raw"}

// ExportBatchXLSX writes the accepted tickets and the error log of a batch
// into a two-sheet workbook.
func ExportBatchXLSX(tickets []internal.NormalizedTicket, errs []internal.ErrorRecord, outputPath string) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName(f.GetSheetName(0), ticketsSheet); err != nil {
		return err
	}
	if _, err := f.NewSheet(errorsSheet); err != nil {
		return err
	}
	writeHeaders(f, ticketsSheet, ticketHeaders)
	writeHeaders(f, errorsSheet, errorHeaders)

	for i, t := range tickets {
		r := i + 2
		set := func(col int, value any) {
			cell, _ := excelize.CoordinatesToCellName(col, r)
			_ = f.SetCellValue(ticketsSheet, cell, value)
		}

		set(1, t.RowNumber)
		set(2, t.TicketNumber)
		set(3, string(t.Status))
		set(4, derefString(t.Reference))
		set(5, derefString(t.Note))
		set(6, derefDate(t.EntryDate))
		set(7, derefString(t.EntryTime))
		set(8, derefDate(t.ExitDate))
		set(9, derefString(t.ExitTime))
		set(10, derefString(t.Vehicle))
		set(11, derefString(t.License))
		set(12, derefFloat(t.GrossWeight))
		set(13, derefFloat(t.TareWeight))
		set(14, derefFloat(t.NetWeight))
		set(15, t.Material)
		set(16, derefString(t.Attendant))
		set(17, t.IsBillable)
		set(18, derefString(t.ClientName))
		if t.MatchType != nil {
			set(19, string(*t.MatchType))
			set(21, t.Confidence)
		}
		set(20, derefString(t.MatchedPattern))
		if t.RatePerTonne != nil {
			rate, _ := t.RatePerTonne.Float64()
			set(22, rate)
			if t.NetWeight != nil && t.IsBillable {
				amount, _ := t.RatePerTonne.Mul(decimal.NewFromFloat(*t.NetWeight)).Round(2).Float64()
				set(23, amount)
			}
		}
	}

	for i, e := range errs {
		r := i + 2
		set := func(col int, value any) {
			cell, _ := excelize.CoordinatesToCellName(col, r)
			_ = f.SetCellValue(errorsSheet, cell, value)
		}
		raw, _ := json.Marshal(e.Raw)

		set(1, e.RowNumber)
		set(2, derefString(e.TicketNumber))
		set(3, string(e.Type))
		set(4, e.Message)
		set(5, string(raw))
	}

	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return err
	}
	return f.SaveAs(outputPath)
}

func writeHeaders(f *excelize.File, sheet string, headers []string) {
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func derefFloat(v *float64) any {
	if v == nil {
		return ""
	}
	return *v
}

func derefDate(v *time.Time) any {
	if v == nil {
		return ""
	}
	return *v
}
