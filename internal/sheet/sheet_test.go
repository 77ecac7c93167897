package sheet

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func mkXLSX(t *testing.T, rows [][]any) []byte {
	t.Helper()
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	for r, row := range rows {
		for c, v := range row {
			if v == nil {
				continue
			}
			cell, err := excelize.CoordinatesToCellName(c+1, r+1)
			require.NoError(t, err)
			require.NoError(t, f.SetCellValue(sheet, cell, v))
		}
	}
	var buf bytes.Buffer
	_, err := f.WriteTo(&buf)
	require.NoError(t, err)
	return buf.Bytes()
}

func TestOpenBytesXLSXTypedCells(t *testing.T) {
	entry := time.Date(2025, 4, 14, 0, 0, 0, 0, time.UTC)
	data := mkXLSX(t, [][]any{
		{"Ticket Number", "Net Weight", "Entry Date", "Billable"},
		{"TK-001", 12.5, entry, true},
		{nil, nil, nil, nil},
		{"TK-002", 7, "14/04/2025", false},
	})

	book, err := OpenBytes(data, Options{})
	require.NoError(t, err)
	assert.Equal(t, FormatXLSX, book.Format)

	s, err := book.First()
	require.NoError(t, err)

	assert.Equal(t, Text, s.Cell(1, 0).Kind)
	assert.Equal(t, "TK-001", s.Cell(1, 0).String())

	assert.Equal(t, Number, s.Cell(1, 1).Kind)
	assert.Equal(t, 12.5, s.Cell(1, 1).Number)

	require.Equal(t, Date, s.Cell(1, 2).Kind)
	assert.True(t, entry.Equal(s.Cell(1, 2).Date))

	assert.Equal(t, Boolean, s.Cell(1, 3).Kind)
	assert.True(t, s.Cell(1, 3).Bool)

	assert.Equal(t, "7", s.Cell(3, 1).String())
	assert.Equal(t, Text, s.Cell(3, 2).Kind, "shared strings stay text")

	assert.True(t, s.IsEmptyRow(2))
	assert.False(t, s.IsEmptyRow(3))
	assert.Equal(t, Empty, s.Cell(50, 50).Kind)
}

func TestOpenBytesRejectsUnknownFormat(t *testing.T) {
	_, err := OpenBytes([]byte("ticket,net\n1,2\n"), Options{})
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestInferCell(t *testing.T) {
	cases := []struct {
		in   string
		kind Kind
		str  string
	}{
		{in: "", kind: Empty, str: ""},
		{in: "   ", kind: Empty, str: ""},
		{in: "12500", kind: Number, str: "12500"},
		{in: "12.5", kind: Number, str: "12.5"},
		{in: "2025-04-14T00:00:00Z", kind: Date, str: "2025-04-14"},
		{in: "14/04/2025", kind: Date, str: "2025-04-14"},
		{in: "TRUE", kind: Boolean, str: "TRUE"},
		{in: "NaN", kind: Text, str: "NaN"},
		{in: " TICKET # ", kind: Text, str: "TICKET #"},
		{in: "0.5", kind: Number, str: "0.5"},
		{in: "-3", kind: Number, str: "-3"},
		{in: "0", kind: Number, str: "0"},
		{in: "007", kind: Text, str: "007"},
		{in: "00123", kind: Text, str: "00123"},
		{in: "1E5", kind: Text, str: "1E5"},
		{in: "2e-3", kind: Text, str: "2e-3"},
		{in: "+42", kind: Text, str: "+42"},
		{in: "Inf", kind: Text, str: "Inf"},
		{in: "0x1F", kind: Text, str: "0x1F"},
	}
	for _, tc := range cases {
		c := inferCell(tc.in)
		assert.Equal(t, tc.kind, c.Kind, "input %q", tc.in)
		assert.Equal(t, tc.str, c.String(), "input %q", tc.in)
	}
}

func TestFindHeaderRow(t *testing.T) {
	s := New("t", [][]Cell{
		{TextCell("WEIGHBRIDGE REPORT")},
		{TextCell("Site: North"), TextCell("Printed 14/04")},
		{TextCell("Ticket"), TextCell("Ref"), TextCell("Net Weight"), TextCell("Entry Date")},
	})
	row, ok := s.FindHeaderRow(20, 3, []string{"ticket", "reference", "weight", "date"})
	require.True(t, ok)
	assert.Equal(t, 2, row)

	_, ok = s.FindHeaderRow(2, 3, []string{"ticket", "reference", "weight", "date"})
	assert.False(t, ok)
}

func TestSnapshot(t *testing.T) {
	s := New("t", [][]Cell{
		{TextCell("TK-1"), {}, NumberCell(2.5)},
		{TextCell("x")},
	})
	assert.Equal(t, map[string]any{"A": "TK-1", "C": 2.5}, s.Snapshot(0))
	assert.Equal(t, map[string]any{"A1": "TK-1", "C1": 2.5, "A2": "x"}, s.SnapshotRange(0, 5))
	assert.Equal(t, 3, s.NumCols())
}

func TestCellFloat(t *testing.T) {
	v, ok := TextCell(" 12.5 ").Float()
	require.True(t, ok)
	assert.Equal(t, 12.5, v)

	_, ok = TextCell("12 T").Float()
	assert.False(t, ok)

	_, ok = DateCell(time.Now()).Float()
	assert.False(t, ok)
}
