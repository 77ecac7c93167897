package sheet

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// XF indexes written by mkXLS.
const (
	xfGeneral = 0
	xfDate    = 1 // built-in format 14
	xfCustom  = 2 // dd/mm/yyyy
	xfClock   = 3 // built-in format 20, h:mm
)

type biffRec struct {
	id   uint16
	body []byte
}

type xlsSheet struct {
	name  string
	cells []biffRec
}

func le16(v int) []byte { return binary.LittleEndian.AppendUint16(nil, uint16(v)) }
func le32(v uint32) []byte { return binary.LittleEndian.AppendUint32(nil, v) }
func cat(parts ...[]byte) []byte {
	return bytes.Join(parts, nil)
}

func encodeRecs(recs []biffRec) []byte {
	var buf bytes.Buffer
	for _, r := range recs {
		buf.Write(le16(int(r.id)))
		buf.Write(le16(len(r.body)))
		buf.Write(r.body)
	}
	return buf.Bytes()
}

func bofRec(kind int) biffRec {
	return biffRec{recBOF, cat(le16(0x0600), le16(kind), make([]byte, 12))}
}

func rowRec(row, first, last int) biffRec {
	return biffRec{0x0208, cat(le16(row), le16(first), le16(last), le16(0xFF), le16(0), le16(0), le32(0x100))}
}

func labelRec(row, col, sst int) biffRec {
	return biffRec{recLabelSST, cat(le16(row), le16(col), le16(xfGeneral), le32(uint32(sst)))}
}

func numberRec(row, col, xf int, v float64) biffRec {
	return biffRec{recNumber, cat(le16(row), le16(col), le16(xf), binary.LittleEndian.AppendUint64(nil, math.Float64bits(v)))}
}

func rkRec(row, col, xf int, rk uint32) biffRec {
	return biffRec{recRK, cat(le16(row), le16(col), le16(xf), le32(rk))}
}

func rkInt(n int) uint32 { return uint32(n)<<2 | 0x02 }

// mkXLS builds a BIFF8 workbook inside a minimal OLE2 container: sector 0
// holds the FAT, sector 1 the directory and the Workbook stream follows.
func mkXLS(t *testing.T, sst []string, sheets ...xlsSheet) []byte {
	t.Helper()

	var sstBody []byte
	sstBody = cat(le32(uint32(len(sst))), le32(uint32(len(sst))))
	for _, s := range sst {
		sstBody = cat(sstBody, le16(len(s)), []byte{0}, []byte(s))
	}
	globals := func(offsets []uint32) []byte {
		recs := []biffRec{
			bofRec(0x0005),
			{recXF, cat(le16(0), le16(0), make([]byte, 16))},
			{recXF, cat(le16(0), le16(14), make([]byte, 16))},
			{recXF, cat(le16(0), le16(164), make([]byte, 16))},
			{recXF, cat(le16(0), le16(20), make([]byte, 16))},
			{recFormat, cat(le16(164), le16(len("dd/mm/yyyy")), []byte{0}, []byte("dd/mm/yyyy"))},
			{0x00FC, sstBody},
		}
		for i, sh := range sheets {
			recs = append(recs, biffRec{recBoundSheet, cat(le32(offsets[i]), []byte{0, 0, byte(len(sh.name)), 0}, []byte(sh.name))})
		}
		return encodeRecs(append(recs, biffRec{id: 0x000A}))
	}

	var bodies [][]byte
	for _, sh := range sheets {
		recs := append([]biffRec{bofRec(0x0010)}, sh.cells...)
		bodies = append(bodies, encodeRecs(append(recs, biffRec{id: 0x000A})))
	}
	offsets := make([]uint32, len(sheets))
	next := uint32(len(globals(offsets)))
	for i, b := range bodies {
		offsets[i] = next
		next += uint32(len(b))
	}
	stream := cat(append([][]byte{globals(offsets)}, bodies...)...)
	size := max(4096, (len(stream)+511)/512*512)
	stream = append(stream, make([]byte, size-len(stream))...)
	sectors := size / 512
	require.Less(t, sectors+2, 128, "fixture exceeds one FAT sector")

	header := make([]byte, 512)
	copy(header, []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1})
	put16 := func(off, v int) { binary.LittleEndian.PutUint16(header[off:], uint16(v)) }
	put32 := func(off int, v uint32) { binary.LittleEndian.PutUint32(header[off:], v) }
	put16(24, 0x003E)
	put16(26, 0x0003)
	put16(28, 0xFFFE)
	put16(30, 9)
	put16(32, 6)
	put32(44, 1)
	put32(48, 1)
	put32(56, 4096)
	put32(60, 0xFFFFFFFE)
	put32(68, 0xFFFFFFFE)
	put32(76, 0)
	for i := 1; i < 109; i++ {
		put32(76+i*4, 0xFFFFFFFF)
	}

	fat := make([]byte, 512)
	for i := range 128 {
		v := uint32(0xFFFFFFFF)
		switch {
		case i == 0:
			v = 0xFFFFFFFD
		case i == 1:
			v = 0xFFFFFFFE
		case i >= 2 && i < sectors+1:
			v = uint32(i + 1)
		case i == sectors+1:
			v = 0xFFFFFFFE
		}
		binary.LittleEndian.PutUint32(fat[i*4:], v)
	}

	dir := make([]byte, 512)
	entry := func(slot int, name string, typ byte, child, start, size uint32) {
		e := dir[slot*128 : (slot+1)*128]
		for i, r := range name {
			binary.LittleEndian.PutUint16(e[i*2:], uint16(r))
		}
		binary.LittleEndian.PutUint16(e[64:], uint16((len(name)+1)*2))
		e[66] = typ
		e[67] = 1
		binary.LittleEndian.PutUint32(e[68:], 0xFFFFFFFF)
		binary.LittleEndian.PutUint32(e[72:], 0xFFFFFFFF)
		binary.LittleEndian.PutUint32(e[76:], child)
		binary.LittleEndian.PutUint32(e[116:], start)
		binary.LittleEndian.PutUint32(e[120:], size)
	}
	entry(0, "Root Entry", 5, 1, 0xFFFFFFFE, 0)
	entry(1, "Workbook", 2, 0xFFFFFFFF, 2, uint32(size))

	return cat(header, fat, dir, stream)
}

func ticketsXLS(t *testing.T) []byte {
	t.Helper()
	return mkXLS(t, []string{"Ticket Number", "Net Weight", "Entry Date", "Printed", "Entry Time", "007", "TK-2", "remarks only"},
		xlsSheet{name: "Tickets", cells: []biffRec{
			rowRec(0, 0, 5),
			labelRec(0, 0, 0),
			labelRec(0, 1, 1),
			labelRec(0, 2, 2),
			labelRec(0, 3, 3),
			labelRec(0, 4, 4),
			rowRec(1, 0, 5),
			labelRec(1, 0, 5),
			numberRec(1, 1, xfGeneral, 12.48),
			rkRec(1, 2, xfDate, rkInt(45446)),
			numberRec(1, 3, xfCustom, 45447),
			rkRec(1, 4, xfClock, 0x3FD40000),
			labelRec(3, 0, 6),
			rkRec(3, 1, xfGeneral, rkInt(1234)|0x01),
			rkRec(3, 2, xfDate, rkInt(45448)),
		}},
		xlsSheet{name: "Notes", cells: []biffRec{labelRec(0, 0, 7)}},
		xlsSheet{name: "Empty"},
	)
}

func TestOpenBytesXLSTypedCells(t *testing.T) {
	book, err := OpenBytes(ticketsXLS(t), Options{})
	require.NoError(t, err)
	assert.Equal(t, FormatXLS, book.Format)
	require.Len(t, book.Sheets, 3)

	s, err := book.First()
	require.NoError(t, err)
	assert.Equal(t, "Tickets", s.Name)
	assert.Equal(t, 4, s.NumRows())
	assert.Equal(t, "Ticket Number", s.Cell(0, 0).String())

	ticket := s.Cell(1, 0)
	assert.Equal(t, Text, ticket.Kind)
	assert.Equal(t, "007", ticket.String())

	assert.Equal(t, Number, s.Cell(1, 1).Kind)
	assert.InDelta(t, 12.48, s.Cell(1, 1).Number, 1e-9)

	require.Equal(t, Date, s.Cell(1, 2).Kind)
	assert.True(t, time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC).Equal(s.Cell(1, 2).Date))

	require.Equal(t, Date, s.Cell(1, 3).Kind, "custom date format on a NUMBER record")
	assert.True(t, time.Date(2024, 6, 4, 0, 0, 0, 0, time.UTC).Equal(s.Cell(1, 3).Date))

	assert.Equal(t, "07:30", s.Cell(1, 4).String())
}

func TestOpenBytesXLSGapRowAndRowWithoutRecord(t *testing.T) {
	book, err := OpenBytes(ticketsXLS(t), Options{})
	require.NoError(t, err)
	s := book.Sheets[0]

	assert.True(t, s.IsEmptyRow(2))

	assert.Equal(t, "TK-2", s.Cell(3, 0).String())
	assert.Equal(t, Number, s.Cell(3, 1).Kind)
	assert.InDelta(t, 12.34, s.Cell(3, 1).Number, 1e-9)
	require.Equal(t, Date, s.Cell(3, 2).Kind)
	assert.True(t, time.Date(2024, 6, 5, 0, 0, 0, 0, time.UTC).Equal(s.Cell(3, 2).Date))
}

func TestOpenBytesXLSEmptySheet(t *testing.T) {
	book, err := OpenBytes(ticketsXLS(t), Options{})
	require.NoError(t, err)

	assert.Equal(t, "Notes", book.Sheets[1].Name)
	assert.Equal(t, "remarks only", book.Sheets[1].Cell(0, 0).String())

	empty := book.Sheets[2]
	assert.Equal(t, "Empty", empty.Name)
	assert.Equal(t, 0, empty.NumRows())
}

func TestRKValue(t *testing.T) {
	assert.Equal(t, 45446.0, rkValue(rkInt(45446)))
	neg := int32(-7)
	assert.Equal(t, -7.0, rkValue(uint32(neg<<2)|0x02))
	assert.InDelta(t, 12.34, rkValue(rkInt(1234)|0x01), 1e-9)
	assert.Equal(t, 0.3125, rkValue(0x3FD40000))
}
