package sheet

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"weighbridge/internal/util"
)

type Kind int

const (
	Empty Kind = iota
	Text
	Number
	Date
	Boolean
)

func (k Kind) String() string {
	switch k {
	case Text:
		return "text"
	case Number:
		return "number"
	case Date:
		return "date"
	case Boolean:
		return "boolean"
	default:
		return "empty"
	}
}

// Cell is one typed spreadsheet value. Only the field matching Kind is set.
type Cell struct {
	Kind   Kind
	Text   string
	Number float64
	Date   time.Time
	Bool   bool
}

func TextCell(v string) Cell {
	if strings.TrimSpace(v) == "" {
		return Cell{}
	}
	return Cell{Kind: Text, Text: v}
}

func NumberCell(v float64) Cell { return Cell{Kind: Number, Number: v} }

func DateCell(v time.Time) Cell { return Cell{Kind: Date, Date: util.DateOnly(v)} }

func BoolCell(v bool) Cell { return Cell{Kind: Boolean, Bool: v} }

func (c Cell) IsEmpty() bool {
	return c.Kind == Empty || (c.Kind == Text && strings.TrimSpace(c.Text) == "")
}

// String renders the cell as text. Whole numbers print without a fraction.
func (c Cell) String() string {
	switch c.Kind {
	case Text:
		return strings.TrimSpace(c.Text)
	case Number:
		return strconv.FormatFloat(c.Number, 'f', -1, 64)
	case Date:
		return c.Date.Format("2006-01-02")
	case Boolean:
		if c.Bool {
			return "TRUE"
		}
		return "FALSE"
	default:
		return ""
	}
}

// Float returns the numeric value of Number cells and of text that is a bare number.
func (c Cell) Float() (float64, bool) {
	switch c.Kind {
	case Number:
		return c.Number, true
	case Text:
		v, err := strconv.ParseFloat(strings.TrimSpace(c.Text), 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, false
		}
		return v, true
	default:
		return 0, false
	}
}

// Value is the JSON-friendly form used in raw row snapshots.
func (c Cell) Value() any {
	switch c.Kind {
	case Number:
		return c.Number
	case Boolean:
		return c.Bool
	case Empty:
		return nil
	default:
		return c.String()
	}
}

// plainNumber matches decimals written without a leading zero, sign or
// exponent. Anything else (ticket "007", "1E5") stays text.
var plainNumber = regexp.MustCompile(`^-?(0|[1-9][0-9]*)(\.[0-9]+)?$`)

// inferCell types a value that the underlying reader only exposes as text.
func inferCell(raw string) Cell {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Cell{}
	}
	switch strings.ToUpper(s) {
	case "TRUE":
		return BoolCell(true)
	case "FALSE":
		return BoolCell(false)
	}
	if plainNumber.MatchString(s) {
		if v, err := strconv.ParseFloat(s, 64); err == nil {
			return NumberCell(v)
		}
	}
	if d, ok := util.ParseDateText(s); ok {
		return DateCell(d)
	}
	return TextCell(s)
}
