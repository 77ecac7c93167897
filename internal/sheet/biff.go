package sheet

import (
	"encoding/binary"
	"errors"
	"io"
	"math"
	"unicode/utf16"

	"github.com/extrame/ole2"

	"weighbridge/internal/util"
)

// BIFF record ids read by scanBIFF.
const (
	recFormula    = 0x0006
	recDateMode   = 0x0022
	recBoundSheet = 0x0085
	recMulRK      = 0x00BD
	recRString    = 0x00D6
	recXF         = 0x00E0
	recLabelSST   = 0x00FD
	recNumber     = 0x0203
	recLabel      = 0x0204
	recBoolErr    = 0x0205
	recString     = 0x0207
	recRK         = 0x027E
	recFormat     = 0x041E
	recBOF        = 0x0809
)

// 1904-system serials count from 1904-01-01, 1462 days after the 1900 epoch.
const date1904Offset = 1462

type cellPos struct{ row, col int }

type biffValue struct {
	kind  Kind
	num   float64
	class fmtClass
	text  string
	b     bool
}

func (v biffValue) cell() Cell {
	switch v.kind {
	case Boolean:
		return BoolCell(v.b)
	case Text:
		return TextCell(v.text)
	case Empty:
		return Cell{}
	}
	switch v.class {
	case fmtDate:
		if d, ok := util.ExcelSerialDate(v.num); ok {
			return DateCell(d)
		}
	case fmtTime:
		return TextCell(util.ClockFromFraction(v.num))
	}
	return NumberCell(v.num)
}

// biffSheet holds the typed cell values and row widths of one worksheet.
type biffSheet struct {
	values map[cellPos]biffValue
	widths map[int]int
}

func (s *biffSheet) touch(row, col int) {
	if col+1 > s.widths[row] {
		s.widths[row] = col + 1
	}
}

type biffScan struct {
	biff8     bool
	date1904  bool
	xfFormats []uint16
	formats   map[uint16]string
	offsets   []uint32
	sheets    []biffSheet
	current   int
	pending   *cellPos
}

// scanBIFF walks the Workbook stream of an OLE2 container once and returns
// one biffSheet per BOUNDSHEET record, in workbook order.
func scanBIFF(r io.ReadSeeker, charset string) ([]biffSheet, error) {
	doc, err := ole2.Open(r, charset)
	if err != nil {
		return nil, err
	}
	dir, err := doc.ListDir()
	if err != nil {
		return nil, err
	}
	var book, root *ole2.File
	for _, f := range dir {
		switch f.Name() {
		case "Workbook", "Book":
			book = f
		case "Root Entry":
			root = f
		}
	}
	if book == nil {
		return nil, errors.New("no workbook stream")
	}
	data, err := io.ReadAll(doc.OpenFile(book, root))
	if err != nil {
		return nil, err
	}
	if uint32(len(data)) > book.Size {
		data = data[:book.Size]
	}

	s := &biffScan{formats: map[uint16]string{}, current: -1}
	s.walk(data)
	return s.sheets, nil
}

func (s *biffScan) walk(data []byte) {
	first := true
	for pos := 0; pos+4 <= len(data); {
		id := binary.LittleEndian.Uint16(data[pos:])
		size := int(binary.LittleEndian.Uint16(data[pos+2:]))
		start := pos
		end := min(pos+4+size, len(data))
		body := data[pos+4 : end]
		pos = end

		switch id {
		case recBOF:
			if first {
				s.biff8 = len(body) >= 2 && binary.LittleEndian.Uint16(body) == 0x0600
				first = false
			}
			for i, off := range s.offsets {
				if off == uint32(start) {
					s.current = i
				}
			}
		case recDateMode:
			s.date1904 = len(body) >= 2 && binary.LittleEndian.Uint16(body) == 1
		case recXF:
			if len(body) >= 4 {
				s.xfFormats = append(s.xfFormats, binary.LittleEndian.Uint16(body[2:]))
			}
		case recFormat:
			s.addFormat(body)
		case recBoundSheet:
			if len(body) >= 4 {
				s.offsets = append(s.offsets, binary.LittleEndian.Uint32(body))
				s.sheets = append(s.sheets, biffSheet{values: map[cellPos]biffValue{}, widths: map[int]int{}})
			}
		default:
			if s.current >= 0 && s.current < len(s.sheets) {
				s.cellRecord(id, body)
			}
		}
	}
}

func (s *biffScan) addFormat(body []byte) {
	if len(body) < 3 {
		return
	}
	idx := binary.LittleEndian.Uint16(body)
	if s.biff8 {
		if len(body) < 5 {
			return
		}
		cch := int(binary.LittleEndian.Uint16(body[2:]))
		s.formats[idx] = biffChars(body[5:], cch, body[4])
		return
	}
	s.formats[idx] = biffChars(body[3:], int(body[2]), 0)
}

func (s *biffScan) class(xf uint16) fmtClass {
	if int(xf) >= len(s.xfFormats) {
		return fmtPlain
	}
	n := s.xfFormats[xf]
	if c, ok := builtinFmtClass(int(n)); ok {
		return c
	}
	if code, ok := s.formats[n]; ok {
		return customFmtClass(code)
	}
	return fmtPlain
}

func (s *biffScan) number(sh *biffSheet, row, col int, xf uint16, v float64) {
	class := s.class(xf)
	if class == fmtDate && s.date1904 {
		v += date1904Offset
	}
	sh.values[cellPos{row, col}] = biffValue{kind: Number, num: v, class: class}
	sh.touch(row, col)
}

func (s *biffScan) cellRecord(id uint16, body []byte) {
	sh := &s.sheets[s.current]
	if id == recString {
		if s.pending != nil {
			sh.values[*s.pending] = biffValue{kind: Text, text: s.stringResult(body)}
			s.pending = nil
		}
		return
	}
	if len(body) < 6 {
		return
	}
	row := int(binary.LittleEndian.Uint16(body))
	col := int(binary.LittleEndian.Uint16(body[2:]))
	xf := binary.LittleEndian.Uint16(body[4:])

	switch id {
	case recNumber:
		if len(body) >= 14 {
			s.number(sh, row, col, xf, math.Float64frombits(binary.LittleEndian.Uint64(body[6:])))
		}
	case recRK:
		if len(body) >= 10 {
			s.number(sh, row, col, xf, rkValue(binary.LittleEndian.Uint32(body[6:])))
		}
	case recMulRK:
		for i, off := 0, 4; off+6 <= len(body)-2; i, off = i+1, off+6 {
			s.number(sh, row, col+i, binary.LittleEndian.Uint16(body[off:]), rkValue(binary.LittleEndian.Uint32(body[off+2:])))
		}
	case recBoolErr:
		if len(body) >= 8 && body[7] == 0 {
			sh.values[cellPos{row, col}] = biffValue{kind: Boolean, b: body[6] != 0}
			sh.touch(row, col)
		}
	case recFormula:
		if len(body) < 14 {
			return
		}
		res := body[6:14]
		pos := cellPos{row, col}
		sh.touch(row, col)
		if res[6] != 0xFF || res[7] != 0xFF {
			s.number(sh, row, col, xf, math.Float64frombits(binary.LittleEndian.Uint64(res)))
			return
		}
		switch res[0] {
		case 0:
			sh.values[pos] = biffValue{kind: Empty}
			s.pending = &pos
		case 1:
			sh.values[pos] = biffValue{kind: Boolean, b: res[2] != 0}
		default:
			sh.values[pos] = biffValue{kind: Empty}
		}
	case recLabelSST, recLabel, recRString:
		sh.touch(row, col)
	}
}

func (s *biffScan) stringResult(body []byte) string {
	if len(body) < 2 {
		return ""
	}
	cch := int(binary.LittleEndian.Uint16(body))
	if !s.biff8 {
		return biffChars(body[2:], cch, 0)
	}
	if len(body) < 3 {
		return ""
	}
	flags := body[2]
	skip := 3
	if flags&0x08 != 0 {
		skip += 2
	}
	if flags&0x04 != 0 {
		skip += 4
	}
	if skip > len(body) {
		return ""
	}
	return biffChars(body[skip:], cch, flags)
}

// biffChars decodes cch characters, UTF-16LE when the high-byte flag is set
// and one byte per character otherwise.
func biffChars(b []byte, cch int, flags byte) string {
	if flags&0x01 != 0 {
		n := min(cch, len(b)/2)
		units := make([]uint16, n)
		for i := range n {
			units[i] = binary.LittleEndian.Uint16(b[i*2:])
		}
		return string(utf16.Decode(units))
	}
	n := min(cch, len(b))
	runes := make([]rune, n)
	for i := range n {
		runes[i] = rune(b[i])
	}
	return string(runes)
}

func rkValue(rk uint32) float64 {
	var v float64
	if rk&0x02 != 0 {
		v = float64(int32(rk) >> 2)
	} else {
		v = math.Float64frombits(uint64(rk&^0x03) << 32)
	}
	if rk&0x01 != 0 {
		v /= 100
	}
	return v
}

