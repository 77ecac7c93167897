package match

import (
	"strings"
	"unicode/utf8"

	"weighbridge/internal"
	"weighbridge/internal/util"
)

const (
	prefixConfidenceCap = 0.95
	regexConfidenceCap  = 0.9
	fuzzyThreshold      = 0.6
	fuzzyScale          = 0.85
)

func candidate(en entry, typ internal.MatchType, confidence float64) Candidate {
	return Candidate{
		ClientID:   en.client.ID,
		ClientName: en.client.Name,
		PatternID:  en.pattern.ID,
		Pattern:    en.pattern.Pattern,
		Priority:   en.pattern.Priority,
		Type:       typ,
		Confidence: confidence,
	}
}

// exactMatches treats a leading "#" on either side as optional.
func exactMatches(ref string, entries []entry) []Candidate {
	bare := ref
	if strings.HasPrefix(ref, "#") && len(ref) > 1 {
		bare = ref[1:]
	}
	var out []Candidate
	for _, en := range entries {
		if !en.pattern.Plain() {
			continue
		}
		p := en.pattern.Pattern
		if ref == p || bare == p || (strings.HasPrefix(p, "#") && p[1:] == bare) {
			out = append(out, candidate(en, internal.MatchExact, 1.0))
		}
	}
	return out
}

func prefixMatches(ref string, entries []entry) []Candidate {
	refLen := utf8.RuneCountInString(ref)
	var out []Candidate
	for _, en := range entries {
		if en.pattern.Kind() != internal.KindPrefix {
			continue
		}
		prefix := strings.TrimSuffix(en.pattern.Pattern, "*")
		if prefix == "" || !strings.HasPrefix(ref, prefix) {
			continue
		}
		conf := min(float64(utf8.RuneCountInString(prefix))/float64(refLen), prefixConfidenceCap)
		out = append(out, candidate(en, internal.MatchPrefix, conf))
	}
	return out
}

func regexMatches(ref string, entries []entry) []Candidate {
	refLen := utf8.RuneCountInString(ref)
	var out []Candidate
	for _, en := range entries {
		if en.re == nil {
			continue
		}
		loc := en.re.FindStringIndex(ref)
		if loc == nil {
			continue
		}
		matched := utf8.RuneCountInString(ref[loc[0]:loc[1]])
		conf := min(float64(matched)/float64(refLen), regexConfidenceCap)
		out = append(out, candidate(en, internal.MatchRegex, conf))
	}
	return out
}

func fuzzyMatches(ref string, entries []entry) []Candidate {
	var out []Candidate
	for _, en := range entries {
		if !en.pattern.IsFuzzy || en.pattern.IsRegex {
			continue
		}
		sim := util.ReferenceSimilarity(ref, en.pattern.Pattern)
		if sim < fuzzyThreshold {
			continue
		}
		out = append(out, candidate(en, internal.MatchFuzzy, sim*fuzzyScale))
	}
	return out
}
