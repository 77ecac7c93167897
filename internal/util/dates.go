package util

import (
	"fmt"
	"math"
	"time"

	"github.com/xuri/excelize/v2"
)

// Day-first layouts are tried before month-first ones.
var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"2/1/2006",
	"1/2/2006",
	"2-1-2006",
	"2.1.2006",
	"2006.1.2",
	"20060102",
	"2/1/06",
	"2-Jan-2006",
	"2-Jan-06",
	"2 Jan 2006",
	"Jan 2, 2006",
}

// ParseDateText parses the textual date layouts seen in weighbridge exports
// and returns the calendar date at UTC midnight.
func ParseDateText(input string) (time.Time, bool) {
	s := NormalizeSpaces(input)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return DateOnly(t), true
		}
	}
	return time.Time{}, false
}

// ExcelSerialDate converts a 1900-system Excel serial into a calendar date.
func ExcelSerialDate(serial float64) (time.Time, bool) {
	if serial < 1 || serial > 2958465 {
		return time.Time{}, false
	}
	t, err := excelize.ExcelDateToTime(serial, false)
	if err != nil {
		return time.Time{}, false
	}
	return DateOnly(t), true
}

func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns the whole calendar days from a to b.
func DaysBetween(a, b time.Time) int {
	return int(DateOnly(b).Sub(DateOnly(a)).Hours() / 24)
}

// ClockFromFraction renders the time-of-day part of an Excel serial as HH:MM.
func ClockFromFraction(serial float64) string {
	frac := serial - math.Floor(serial)
	minutes := int(math.Round(frac * 24 * 60))
	if minutes >= 24*60 {
		minutes = 0
	}
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}
