// Package sheet reads legacy weighbridge workbooks into typed cell grids.
package sheet

import (
	"bytes"
	"errors"
)

const (
	FormatXLS  = "xls"
	FormatXLSX = "xlsx"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported workbook format")
	ErrNoSheets          = errors.New("workbook has no sheets")
)

var (
	oleMagic = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}
	zipMagic = []byte{'P', 'K', 0x03, 0x04}
)

type Options struct {
	// Charset for BIFF string records, "utf-8" when empty.
	Charset string
}

type Workbook struct {
	Format string
	Sheets []*Sheet
}

// First returns the sheet tickets are read from.
func (w *Workbook) First() (*Sheet, error) {
	if w == nil || len(w.Sheets) == 0 {
		return nil, ErrNoSheets
	}
	return w.Sheets[0], nil
}

// OpenBytes picks the reader from the leading magic bytes, not the file name.
func OpenBytes(data []byte, opts Options) (*Workbook, error) {
	if opts.Charset == "" {
		opts.Charset = "utf-8"
	}
	switch {
	case bytes.HasPrefix(data, oleMagic):
		return readXLS(data, opts.Charset)
	case bytes.HasPrefix(data, zipMagic):
		return readXLSX(bytes.NewReader(data))
	default:
		return nil, ErrUnsupportedFormat
	}
}
