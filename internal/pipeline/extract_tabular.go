package pipeline

import (
	"log/slog"
	"regexp"
	"strings"

	"weighbridge/internal"
	"weighbridge/internal/sheet"
)

const (
	headerScanRows  = 20
	headerMinHits   = 3
	minMappedFields = 3
	sniffSampleRows = 10
)

var headerKeywords = []string{"ticket", "number", "reference", "weight", "net", "gross", "tare", "date", "status", "vehicle", "entry"}

type field int

const (
	fieldTicket field = iota
	fieldReference
	fieldStatus
	fieldGross
	fieldTare
	fieldNet
	fieldVehicle
	fieldLicense
	fieldEntryDate
	fieldEntryTime
	fieldExitDate
	fieldExitTime
	fieldMaterial
	fieldAttendant
)

type columnRule struct {
	field field
	all   []string
	any   []string
}

// The first matching rule whose field is still free wins, so "Exit Time"
// is tested before the bare "exit" and "time" rules.
var columnRules = []columnRule{
	{field: fieldTicket, any: []string{"ticket"}},
	{field: fieldReference, any: []string{"reference", "ref"}},
	{field: fieldStatus, any: []string{"status"}},
	{field: fieldGross, any: []string{"gross"}},
	{field: fieldTare, any: []string{"tare"}},
	{field: fieldNet, any: []string{"net"}},
	{field: fieldVehicle, any: []string{"vehicle", "truck", "rego"}},
	{field: fieldLicense, any: []string{"license", "licence", "plate"}},
	{field: fieldExitTime, all: []string{"exit", "time"}},
	{field: fieldEntryTime, any: []string{"time"}},
	{field: fieldExitDate, any: []string{"exit"}},
	{field: fieldEntryDate, any: []string{"date", "entry"}},
	{field: fieldMaterial, any: []string{"material", "product"}},
	{field: fieldAttendant, any: []string{"attendant", "operator"}},
}

func (r columnRule) matches(header string) bool {
	for _, kw := range r.all {
		if !strings.Contains(header, kw) {
			return false
		}
	}
	if len(r.any) == 0 {
		return true
	}
	for _, kw := range r.any {
		if strings.Contains(header, kw) {
			return true
		}
	}
	return false
}

// columnMap maps a field to its 0-based column.
type columnMap map[field]int

func (m columnMap) cell(s *sheet.Sheet, row int, f field) sheet.Cell {
	col, ok := m[f]
	if !ok {
		return sheet.Cell{}
	}
	return s.Cell(row, col)
}

func (m columnMap) claimed(col int) bool {
	for _, c := range m {
		if c == col {
			return true
		}
	}
	return false
}

type TabularExtractor struct {
	logger *slog.Logger
}

func (e TabularExtractor) Extract(s *sheet.Sheet) Extraction {
	out := Extraction{Layout: internal.LayoutTabular}

	headerRow, hasHeader := s.FindHeaderRow(headerScanRows, headerMinHits, headerKeywords)
	dataStart := 1
	cols := columnMap{}
	if hasHeader {
		dataStart = headerRow + 1
		cols = mapColumns(s.Row(headerRow))
	}
	if len(cols) < minMappedFields {
		sniffColumns(s, dataStart, cols)
	}
	e.logger.Debug("tabular columns mapped", "sheet", s.Name, "header_row", headerRow+1, "has_header", hasHeader, "fields", len(cols))

	for r := dataStart; r < s.NumRows(); r++ {
		if s.IsEmptyRow(r) {
			continue
		}
		draft, ok := extractRow(s, r, cols)
		if !ok {
			out.Errors = append(out.Errors, rowParsingError(r+1, cols.cell(s, r, fieldTicket), s.Snapshot(r),
				"row %d has no values in any recognised ticket column", r+1))
			continue
		}
		out.Drafts = append(out.Drafts, draft)
	}
	return out
}

func mapColumns(header []sheet.Cell) columnMap {
	cols := columnMap{}
	for i, c := range header {
		if c.IsEmpty() {
			continue
		}
		text := strings.ToLower(c.String())
		for _, rule := range columnRules {
			if !rule.matches(text) {
				continue
			}
			if _, taken := cols[rule.field]; taken {
				continue
			}
			cols[rule.field] = i
			break
		}
	}
	return cols
}

var (
	reTicketLike     = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9\-_]{2,20}$`)
	statusVocabulary = map[string]bool{"ORIGINAL": true, "REPRINT": true, "VOID": true, "ACTIVE": true, "CANCELLED": true}
)

// sniffColumns fills unmapped fields by looking at what the data looks like.
func sniffColumns(s *sheet.Sheet, dataStart int, cols columnMap) {
	end := min(dataStart+sniffSampleRows, s.NumRows())
	for col := 0; col < s.NumCols(); col++ {
		if cols.claimed(col) {
			continue
		}
		var values []sheet.Cell
		for r := dataStart; r < end; r++ {
			if c := s.Cell(r, col); !c.IsEmpty() {
				values = append(values, c)
			}
		}
		if len(values) == 0 {
			continue
		}

		var ticketHits, statusHits, weightHits, dateHits int
		for _, v := range values {
			switch v.Kind {
			case sheet.Text:
				text := strings.TrimSpace(v.Text)
				if reTicketLike.MatchString(text) {
					ticketHits++
				}
				if statusVocabulary[strings.ToUpper(text)] {
					statusHits++
				}
			case sheet.Number:
				if v.Number >= 0.1 && v.Number <= 200 {
					weightHits++
				}
			case sheet.Date:
				dateHits++
			}
		}

		n := float64(len(values))
		guesses := []struct {
			field field
			ok    bool
		}{
			{fieldTicket, float64(ticketHits)/n > 0.7},
			{fieldStatus, float64(statusHits)/n > 0.5},
			{fieldNet, float64(weightHits)/n > 0.7},
			{fieldEntryDate, float64(dateHits)/n > 0.5},
		}
		// A class whose field is already mapped yields to the next one.
		for _, g := range guesses {
			if _, taken := cols[g.field]; g.ok && !taken {
				cols[g.field] = col
				break
			}
		}
	}
}

// extractRow reports false when none of the mapped columns has a value.
func extractRow(s *sheet.Sheet, r int, cols columnMap) (internal.TicketDraft, bool) {
	d := internal.TicketDraft{
		RowNumber:    r + 1,
		Layout:       internal.LayoutTabular,
		TicketNumber: cols.cell(s, r, fieldTicket),
		Reference:    cols.cell(s, r, fieldReference),
		Status:       cols.cell(s, r, fieldStatus),
		GrossWeight:  cols.cell(s, r, fieldGross),
		TareWeight:   cols.cell(s, r, fieldTare),
		NetWeight:    cols.cell(s, r, fieldNet),
		Vehicle:      cols.cell(s, r, fieldVehicle),
		License:      cols.cell(s, r, fieldLicense),
		EntryDate:    cols.cell(s, r, fieldEntryDate),
		EntryTime:    cols.cell(s, r, fieldEntryTime),
		ExitDate:     cols.cell(s, r, fieldExitDate),
		ExitTime:     cols.cell(s, r, fieldExitTime),
		Material:     cols.cell(s, r, fieldMaterial),
		Attendant:    cols.cell(s, r, fieldAttendant),
		Raw:          s.Snapshot(r),
	}
	for f := range cols {
		if !cols.cell(s, r, f).IsEmpty() {
			return d, true
		}
	}
	return d, false
}
