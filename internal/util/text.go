package util

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	reSpaces      = regexp.MustCompile(`\s+`)
	reRefPunct    = regexp.MustCompile(`[.,;:!?]`)
	reTicketStrip = regexp.MustCompile(`[^A-Z0-9\-_]`)
)

func NormalizeSpaces(input string) string {
	s := strings.ReplaceAll(input, "\u00a0", " ")
	s = reSpaces.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// NormalizeLabel is the comparison form used for sheet labels such as "TICKET #".
func NormalizeLabel(input string) string {
	return strings.ToUpper(NormalizeSpaces(input))
}

// NormalizeReference uppercases, collapses whitespace and drops punctuation.
func NormalizeReference(input string) string {
	s := NormalizeLabel(input)
	s = reRefPunct.ReplaceAllString(s, "")
	return NormalizeSpaces(s)
}

// CleanTicketNumber uppercases and strips everything outside [A-Z0-9-_].
func CleanTicketNumber(input string) string {
	s := strings.ToUpper(strings.TrimSpace(input))
	return reTicketStrip.ReplaceAllString(s, "")
}

func CleanText(input string) *string {
	s := NormalizeSpaces(input)
	if s == "" {
		return nil
	}
	return &s
}

func Truncate(input string, max int) string {
	if max <= 0 || utf8.RuneCountInString(input) <= max {
		return input
	}
	r := []rune(input)
	return string(r[:max])
}

func StringPtr(v string) *string {
	return &v
}

func FloatPtr(v float64) *float64 {
	return &v
}

func DerefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
