package util

import (
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// SequenceRatio is the Ratcliff/Obershelp similarity of a and b in [0,1],
// computed per character after trimming and uppercasing.
func SequenceRatio(a, b string) float64 {
	a = strings.ToUpper(strings.TrimSpace(a))
	b = strings.ToUpper(strings.TrimSpace(b))
	if a == "" && b == "" {
		return 1
	}
	if a == "" || b == "" {
		return 0
	}
	m := difflib.NewMatcher(splitChars(a), splitChars(b))
	return m.Ratio()
}

// ReferenceSimilarity compares two billing references leniently: equal
// normalized forms score 1, containment scores 0.9, anything else falls back
// to SequenceRatio.
func ReferenceSimilarity(a, b string) float64 {
	na := NormalizeReference(a)
	nb := NormalizeReference(b)
	if na == "" || nb == "" {
		return 0
	}
	if na == nb {
		return 1
	}
	if strings.Contains(na, nb) || strings.Contains(nb, na) {
		return 0.9
	}
	return SequenceRatio(na, nb)
}

func splitChars(s string) []string {
	out := make([]string, 0, len(s))
	for _, r := range s {
		out = append(out, string(r))
	}
	return out
}
