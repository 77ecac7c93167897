package pipeline

import (
	"weighbridge/internal"
	"weighbridge/internal/match"
	"weighbridge/internal/rates"
	"weighbridge/internal/util"
)

// Matcher assigns clients and rates to accepted tickets of one batch. It
// is built from a single catalog snapshot.
type Matcher struct {
	engine *match.Engine
	rates  []internal.RateRecord
}

func NewMatcher(snap internal.CatalogSnapshot) *Matcher {
	return &Matcher{engine: match.NewEngine(snap), rates: snap.Rates}
}

// Assign fills the client and rate fields of t and reports whether a client
// was found. The structured reference code is matched; tickets without one
// fall back to the note.
func (m *Matcher) Assign(t *internal.NormalizedTicket) bool {
	ref := util.DerefString(t.Reference)
	if ref == "" {
		ref = util.DerefString(t.Note)
	}
	cand := m.engine.Match(ref)
	if cand == nil {
		return false
	}

	typ := cand.Type
	t.ClientID = util.StringPtr(cand.ClientID)
	t.ClientName = util.StringPtr(cand.ClientName)
	t.MatchedPattern = util.StringPtr(cand.Pattern)
	t.MatchType = &typ
	t.Confidence = cand.Confidence

	if t.EntryDate != nil {
		if rate := rates.Effective(m.rates, cand.ClientID, *t.EntryDate); rate != nil {
			r := rate.RatePerTonne
			t.RatePerTonne = &r
		}
	}
	return true
}
