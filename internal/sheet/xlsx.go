package sheet

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"weighbridge/internal/util"
)

func readXLSX(r io.Reader) (*Workbook, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open xlsx: %w", err)
	}
	defer f.Close()

	book := &Workbook{Format: FormatXLSX}
	for _, name := range f.GetSheetList() {
		raw, err := f.GetRows(name, excelize.Options{RawCellValue: true})
		if err != nil {
			return nil, fmt.Errorf("read sheet %q: %w", name, err)
		}
		rows := make([][]Cell, len(raw))
		for ri, cols := range raw {
			cells := make([]Cell, len(cols))
			for ci, v := range cols {
				cells[ci] = xlsxCell(f, name, ri, ci, v)
			}
			rows[ri] = cells
		}
		book.Sheets = append(book.Sheets, New(name, rows))
	}
	if len(book.Sheets) == 0 {
		return nil, ErrNoSheets
	}
	return book, nil
}

func xlsxCell(f *excelize.File, sheetName string, row, col int, raw string) Cell {
	if strings.TrimSpace(raw) == "" {
		return Cell{}
	}
	axis, err := excelize.CoordinatesToCellName(col+1, row+1)
	if err != nil {
		return inferCell(raw)
	}
	typ, err := f.GetCellType(sheetName, axis)
	if err != nil {
		return inferCell(raw)
	}

	switch typ {
	case excelize.CellTypeSharedString, excelize.CellTypeInlineString:
		return TextCell(raw)
	case excelize.CellTypeBool:
		return BoolCell(raw == "1" || strings.EqualFold(raw, "true"))
	case excelize.CellTypeDate:
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			return DateCell(t)
		}
		return inferCell(raw)
	case excelize.CellTypeError:
		return TextCell(raw)
	}

	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return inferCell(raw)
	}
	switch numFmtClass(f, sheetName, axis) {
	case fmtDate:
		if d, ok := util.ExcelSerialDate(v); ok {
			return DateCell(d)
		}
	case fmtTime:
		return TextCell(util.ClockFromFraction(v))
	}
	return NumberCell(v)
}

type fmtClass int

const (
	fmtPlain fmtClass = iota
	fmtDate
	fmtTime
)

func numFmtClass(f *excelize.File, sheetName, axis string) fmtClass {
	idx, err := f.GetCellStyle(sheetName, axis)
	if err != nil || idx == 0 {
		return fmtPlain
	}
	style, err := f.GetStyle(idx)
	if err != nil || style == nil {
		return fmtPlain
	}
	if c, ok := builtinFmtClass(style.NumFmt); ok {
		return c
	}
	if style.CustomNumFmt != nil {
		return customFmtClass(*style.CustomNumFmt)
	}
	return fmtPlain
}

// builtinFmtClass reports the class of a built-in number format id; ok is
// false for ids that carry no date or time meaning.
func builtinFmtClass(n int) (fmtClass, bool) {
	switch {
	case n >= 14 && n <= 17, n == 22, n >= 27 && n <= 36, n >= 50 && n <= 58:
		return fmtDate, true
	case n >= 18 && n <= 21, n >= 45 && n <= 47:
		return fmtTime, true
	}
	return fmtPlain, false
}

func customFmtClass(code string) fmtClass {
	lower := strings.ToLower(code)
	if strings.ContainsAny(lower, "#0") && !strings.ContainsAny(lower, "dy") {
		return fmtPlain
	}
	if strings.ContainsAny(lower, "dy") {
		return fmtDate
	}
	if strings.Contains(lower, "h") || strings.Contains(lower, "s") {
		return fmtTime
	}
	return fmtPlain
}
