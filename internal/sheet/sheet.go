package sheet

import (
	"strings"

	"github.com/xuri/excelize/v2"
)

// Sheet is an in-memory grid of typed cells. Reads outside the grid return
// an Empty cell.
type Sheet struct {
	Name    string
	rows    [][]Cell
	numCols int
}

func New(name string, rows [][]Cell) *Sheet {
	s := &Sheet{Name: name, rows: rows}
	for _, r := range rows {
		if len(r) > s.numCols {
			s.numCols = len(r)
		}
	}
	return s
}

func (s *Sheet) NumRows() int { return len(s.rows) }

func (s *Sheet) NumCols() int { return s.numCols }

func (s *Sheet) Cell(row, col int) Cell {
	if row < 0 || row >= len(s.rows) || col < 0 || col >= len(s.rows[row]) {
		return Cell{}
	}
	return s.rows[row][col]
}

func (s *Sheet) Row(row int) []Cell {
	if row < 0 || row >= len(s.rows) {
		return nil
	}
	return s.rows[row]
}

func (s *Sheet) IsEmptyRow(row int) bool { return blankRow(s.Row(row)) }

func blankRow(cells []Cell) bool {
	for _, c := range cells {
		if !c.IsEmpty() {
			return false
		}
	}
	return true
}

// FindHeaderRow returns the first of the leading maxRows rows in which at
// least minHits cells contain one of keywords (case-insensitive).
func (s *Sheet) FindHeaderRow(maxRows, minHits int, keywords []string) (int, bool) {
	limit := min(maxRows, len(s.rows))
	for r := 0; r < limit; r++ {
		hits := 0
		for _, c := range s.rows[r] {
			if c.IsEmpty() {
				continue
			}
			text := strings.ToLower(c.String())
			for _, kw := range keywords {
				if strings.Contains(text, kw) {
					hits++
					break
				}
			}
		}
		if hits >= minHits {
			return r, true
		}
	}
	return -1, false
}

// Snapshot maps column letters to the non-empty values of one row.
func (s *Sheet) Snapshot(row int) map[string]any {
	out := map[string]any{}
	for col, c := range s.Row(row) {
		if c.IsEmpty() {
			continue
		}
		name, err := excelize.ColumnNumberToName(col + 1)
		if err != nil {
			continue
		}
		out[name] = c.Value()
	}
	return out
}

// SnapshotRange merges the snapshots of rows [from, to), keying cells as "A12".
func (s *Sheet) SnapshotRange(from, to int) map[string]any {
	out := map[string]any{}
	for r := max(from, 0); r < min(to, len(s.rows)); r++ {
		for col, c := range s.rows[r] {
			if c.IsEmpty() {
				continue
			}
			name, err := excelize.CoordinatesToCellName(col+1, r+1)
			if err != nil {
				continue
			}
			out[name] = c.Value()
		}
	}
	return out
}
