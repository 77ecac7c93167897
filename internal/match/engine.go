// Package match assigns billing clients to ticket references using the
// client reference-pattern catalog.
package match

import (
	"regexp"
	"sort"
	"strings"

	"weighbridge/internal"
)

// ToppsRoute is reported as the matched pattern for "T-" references routed
// straight to the TOPPS client.
const ToppsRoute = "T-*"

type Candidate struct {
	ClientID   string
	ClientName string
	PatternID  string
	Pattern    string
	Priority   int
	Type       internal.MatchType
	Confidence float64
}

type entry struct {
	pattern internal.ReferencePattern
	client  internal.Client
	re      *regexp.Regexp
}

// Engine is built once per catalog snapshot and is safe for concurrent use.
type Engine struct {
	entries []entry
	topps   *internal.Client
}

func NewEngine(snap internal.CatalogSnapshot) *Engine {
	clients := make(map[string]internal.Client, len(snap.Clients))
	e := &Engine{}
	for _, c := range snap.Clients {
		if !c.Active {
			continue
		}
		clients[c.ID] = c
		if e.topps == nil && strings.Contains(strings.ToUpper(c.Name), "TOPPS") {
			e.topps = &c
		}
	}

	for _, p := range snap.Patterns {
		if !p.Active {
			continue
		}
		client, ok := clients[p.ClientID]
		if !ok {
			continue
		}
		en := entry{pattern: p, client: client}
		if p.IsRegex && !p.IsFuzzy {
			// Patterns that do not compile are skipped at match time.
			en.re, _ = compileAnchored(p.Pattern)
		}
		e.entries = append(e.entries, en)
	}
	sort.SliceStable(e.entries, func(i, j int) bool {
		return e.entries[i].pattern.Priority < e.entries[j].pattern.Priority
	})
	return e
}

func compileAnchored(pattern string) (*regexp.Regexp, error) {
	return regexp.Compile(`(?i)^(?:` + pattern + `)`)
}

// Match returns the best client for reference, or nil when nothing matches.
func (e *Engine) Match(reference string) *Candidate {
	ref := strings.TrimSpace(reference)
	if ref == "" {
		return nil
	}
	if strings.HasPrefix(strings.ToUpper(ref), "T-") && e.topps != nil {
		return &Candidate{
			ClientID:   e.topps.ID,
			ClientName: e.topps.Name,
			Pattern:    ToppsRoute,
			Type:       internal.MatchExact,
			Confidence: 1.0,
		}
	}
	all := e.rank(ref)
	if len(all) == 0 {
		return nil
	}
	return &all[0]
}

// MatchAll returns every candidate for reference in ranking order.
func (e *Engine) MatchAll(reference string) []Candidate {
	ref := strings.TrimSpace(reference)
	if ref == "" {
		return nil
	}
	return e.rank(ref)
}

func (e *Engine) rank(ref string) []Candidate {
	var all []Candidate
	all = append(all, exactMatches(ref, e.entries)...)
	all = append(all, prefixMatches(ref, e.entries)...)
	all = append(all, regexMatches(ref, e.entries)...)
	all = append(all, fuzzyMatches(ref, e.entries)...)
	Rank(all)
	return all
}

var strategyRank = map[internal.MatchType]int{
	internal.MatchExact:  0,
	internal.MatchPrefix: 1,
	internal.MatchRegex:  2,
	internal.MatchFuzzy:  3,
}

// Rank orders candidates by strategy (exact, prefix, regex, fuzzy), then
// confidence descending, then pattern priority ascending.
func Rank(cands []Candidate) {
	sort.SliceStable(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if ra, rb := strategyRank[a.Type], strategyRank[b.Type]; ra != rb {
			return ra < rb
		}
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		return a.Priority < b.Priority
	})
}
