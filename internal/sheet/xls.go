package sheet

import (
	"bytes"
	"fmt"

	"github.com/extrame/xls"
)

// readXLS loads every worksheet of a BIFF workbook. Text comes from the xls
// reader; numeric, boolean and formula cells come from scanBIFF.
func readXLS(data []byte, charset string) (book *Workbook, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			book = nil
			err = fmt.Errorf("open xls: malformed workbook: %v", rec)
		}
	}()

	wb, err := xls.OpenReader(bytes.NewReader(data), charset)
	if err != nil {
		return nil, fmt.Errorf("open xls: %w", err)
	}
	scans, err := scanBIFF(bytes.NewReader(data), charset)
	if err != nil {
		return nil, fmt.Errorf("open xls: %w", err)
	}

	book = &Workbook{Format: FormatXLS}
	for i := 0; i < wb.NumSheets(); i++ {
		ws := wb.GetSheet(i)
		if ws == nil {
			continue
		}
		var scan biffSheet
		if i < len(scans) {
			scan = scans[i]
		}
		book.Sheets = append(book.Sheets, New(ws.Name, xlsRows(ws, scan)))
	}
	if len(book.Sheets) == 0 {
		return nil, ErrNoSheets
	}
	return book, nil
}

func xlsRows(ws *xls.WorkSheet, scan biffSheet) [][]Cell {
	last := int(ws.MaxRow)
	for r := range scan.widths {
		last = max(last, r)
	}
	rows := make([][]Cell, 0, last+1)
	for r := 0; r <= last; r++ {
		row := xlsRow(ws, r)
		width := scan.widths[r]
		if row != nil {
			width = max(width, row.LastCol())
		}
		if width == 0 {
			rows = append(rows, nil)
			continue
		}
		cells := make([]Cell, width)
		for c := range cells {
			if v, ok := scan.values[cellPos{r, c}]; ok {
				cells[c] = v.cell()
				continue
			}
			if row != nil {
				cells[c] = TextCell(row.Col(c))
			}
		}
		rows = append(rows, cells)
	}
	for len(rows) > 0 && blankRow(rows[len(rows)-1]) {
		rows = rows[:len(rows)-1]
	}
	return rows
}

// xlsRow returns nil for row indexes the sheet holds no record for, and for
// every index of an empty sheet; the reader's Row panics on both.
func xlsRow(ws *xls.WorkSheet, r int) (row *xls.Row) {
	defer func() {
		if recover() != nil {
			row = nil
		}
	}()
	return ws.Row(r)
}
