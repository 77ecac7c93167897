package match

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"weighbridge/internal"
)

func fixtureSnapshot() internal.CatalogSnapshot {
	return internal.CatalogSnapshot{
		Clients: []internal.Client{
			{ID: "c-hills", Name: "Seven Hills Sand", Active: true},
			{ID: "c-topps", Name: "Topps Haulage", Active: true},
			{ID: "c-quarry", Name: "Quarry Co", Active: true},
			{ID: "c-gone", Name: "Closed Ltd", Active: false},
		},
		Patterns: []internal.ReferencePattern{
			{ID: "p-007", ClientID: "c-hills", Pattern: "007", Priority: 100, Active: true},
			{ID: "p-mm-prefix", ClientID: "c-quarry", Pattern: "MM*", Priority: 50, Active: true},
			{ID: "p-mm-regex", ClientID: "c-quarry", Pattern: `MM\d{4}`, IsRegex: true, Priority: 100, Active: true},
			{ID: "p-hills-fuzzy", ClientID: "c-hills", Pattern: "SEVEN HILLS", IsFuzzy: true, Priority: 100, Active: true},
			{ID: "p-gone", ClientID: "c-gone", Pattern: "900", Priority: 1, Active: true},
			{ID: "p-broken", ClientID: "c-hills", Pattern: "(unclosed", IsRegex: true, Priority: 1, Active: true},
			{ID: "p-off", ClientID: "c-quarry", Pattern: "555", Priority: 1, Active: false},
		},
	}
}

func TestMatchExactWithHash(t *testing.T) {
	e := NewEngine(fixtureSnapshot())

	for _, ref := range []string{"007", "#007", " #007 "} {
		got := e.Match(ref)
		require.NotNil(t, got, ref)
		assert.Equal(t, "c-hills", got.ClientID)
		assert.Equal(t, internal.MatchExact, got.Type)
		assert.Equal(t, 1.0, got.Confidence)
		assert.Equal(t, "007", got.Pattern)
	}
}

func TestMatchHashPattern(t *testing.T) {
	snap := internal.CatalogSnapshot{
		Clients:  []internal.Client{{ID: "c1", Name: "A", Active: true}},
		Patterns: []internal.ReferencePattern{{ID: "p1", ClientID: "c1", Pattern: "#141", Priority: 100, Active: true}},
	}
	got := NewEngine(snap).Match("141")
	require.NotNil(t, got)
	assert.Equal(t, internal.MatchExact, got.Type)
}

func TestMatchToppsRoute(t *testing.T) {
	e := NewEngine(fixtureSnapshot())
	got := e.Match("t-202")
	require.NotNil(t, got)
	assert.Equal(t, "c-topps", got.ClientID)
	assert.Equal(t, ToppsRoute, got.Pattern)
	assert.Equal(t, internal.MatchExact, got.Type)
	assert.Equal(t, 1.0, got.Confidence)
}

func TestMatchToppsRouteFallsThrough(t *testing.T) {
	snap := fixtureSnapshot()
	snap.Clients[1].Active = false
	snap.Patterns = append(snap.Patterns, internal.ReferencePattern{
		ID: "p-t", ClientID: "c-quarry", Pattern: "T-*", Priority: 100, Active: true,
	})
	got := NewEngine(snap).Match("T-202")
	require.NotNil(t, got)
	assert.Equal(t, "c-quarry", got.ClientID)
	assert.Equal(t, internal.MatchPrefix, got.Type)
}

func TestMatchPrefixBeatsRegex(t *testing.T) {
	e := NewEngine(fixtureSnapshot())
	got := e.Match("MM1001")
	require.NotNil(t, got)
	assert.Equal(t, internal.MatchPrefix, got.Type)
	assert.InDelta(t, 2.0/6.0, got.Confidence, 1e-9)

	all := e.MatchAll("MM1001")
	require.Len(t, all, 2)
	assert.Equal(t, internal.MatchRegex, all[1].Type)
	assert.Equal(t, 0.9, all[1].Confidence)
}

func TestMatchRegexAnchoredCaseInsensitive(t *testing.T) {
	snap := internal.CatalogSnapshot{
		Clients:  []internal.Client{{ID: "c1", Name: "A", Active: true}},
		Patterns: []internal.ReferencePattern{{ID: "p1", ClientID: "c1", Pattern: `mm\d+`, IsRegex: true, Priority: 100, Active: true}},
	}
	e := NewEngine(snap)

	got := e.Match("MM12 X")
	require.NotNil(t, got)
	assert.InDelta(t, 4.0/6.0, got.Confidence, 1e-9)

	assert.Nil(t, e.Match("X MM12"))
}

func TestMatchFuzzy(t *testing.T) {
	e := NewEngine(fixtureSnapshot())
	got := e.Match("SEVEN HILS")
	require.NotNil(t, got)
	assert.Equal(t, internal.MatchFuzzy, got.Type)
	assert.InDelta(t, 20.0/21.0*0.85, got.Confidence, 1e-9)

	assert.Nil(t, e.Match("GRAVEL"))
}

func TestMatchIgnoresInactive(t *testing.T) {
	e := NewEngine(fixtureSnapshot())
	assert.Nil(t, e.Match("900"))
	assert.Nil(t, e.Match("555"))
	assert.Nil(t, e.Match("   "))
}

func TestExactOutranksHigherConfidenceFuzzy(t *testing.T) {
	cands := []Candidate{
		{ClientID: "fuzzy", Type: internal.MatchFuzzy, Confidence: 0.99, Priority: 1},
		{ClientID: "regex", Type: internal.MatchRegex, Confidence: 0.9, Priority: 1},
		{ClientID: "exact", Type: internal.MatchExact, Confidence: 0.5, Priority: 999},
	}
	Rank(cands)
	assert.Equal(t, "exact", cands[0].ClientID)
	assert.Equal(t, "regex", cands[1].ClientID)

	snap := internal.CatalogSnapshot{
		Clients: []internal.Client{
			{ID: "c-exact", Name: "Exact", Active: true},
			{ID: "c-fuzzy", Name: "Fuzzy", Active: true},
		},
		Patterns: []internal.ReferencePattern{
			{ID: "p1", ClientID: "c-fuzzy", Pattern: "SAND 7", IsFuzzy: true, Priority: 1, Active: true},
			{ID: "p2", ClientID: "c-exact", Pattern: "SAND 7", Priority: 500, Active: true},
		},
	}
	got := NewEngine(snap).Match("SAND 7")
	require.NotNil(t, got)
	assert.Equal(t, "c-exact", got.ClientID)
}

func TestRankPriorityTieBreak(t *testing.T) {
	snap := internal.CatalogSnapshot{
		Clients: []internal.Client{
			{ID: "c-a", Name: "A", Active: true},
			{ID: "c-b", Name: "B", Active: true},
		},
		Patterns: []internal.ReferencePattern{
			{ID: "p-a", ClientID: "c-a", Pattern: "AB*", Priority: 10, Active: true},
			{ID: "p-b", ClientID: "c-b", Pattern: "AB*", Priority: 5, Active: true},
		},
	}
	got := NewEngine(snap).Match("AB12")
	require.NotNil(t, got)
	assert.Equal(t, "c-b", got.ClientID)
	assert.Equal(t, 0.5, got.Confidence)
}

func TestPrefixConfidenceCap(t *testing.T) {
	snap := internal.CatalogSnapshot{
		Clients:  []internal.Client{{ID: "c1", Name: "A", Active: true}},
		Patterns: []internal.ReferencePattern{{ID: "p1", ClientID: "c1", Pattern: "ABC*", Priority: 100, Active: true}},
	}
	got := NewEngine(snap).Match("ABC")
	require.NotNil(t, got)
	assert.Equal(t, internal.MatchPrefix, got.Type)
	assert.Equal(t, 0.95, got.Confidence)
}

func TestDetectConflicts(t *testing.T) {
	snap := fixtureSnapshot()

	cases := []struct {
		name      string
		candidate internal.ReferencePattern
		want      []string
	}{
		{
			name:      "duplicate across clients",
			candidate: internal.ReferencePattern{ClientID: "c-quarry", Pattern: "007"},
			want:      []string{ConflictDuplicate},
		},
		{
			name:      "same owner is not a conflict",
			candidate: internal.ReferencePattern{ClientID: "c-hills", Pattern: "007"},
		},
		{
			name:      "new prefix covers existing pattern",
			candidate: internal.ReferencePattern{ClientID: "c-quarry", Pattern: "00*"},
			want:      []string{ConflictPrefix},
		},
		{
			name:      "existing prefix covers new pattern",
			candidate: internal.ReferencePattern{ClientID: "c-hills", Pattern: "MM1001"},
			want:      []string{ConflictPrefix},
		},
		{
			name:      "regex against regex is not compared",
			candidate: internal.ReferencePattern{ClientID: "c-hills", Pattern: `MM\d{3}`, IsRegex: true},
		},
		{
			name:      "same regex text is a duplicate",
			candidate: internal.ReferencePattern{ClientID: "c-hills", Pattern: `MM\d{4}`, IsRegex: true},
			want:      []string{ConflictDuplicate},
		},
		{
			name:      "plain against fuzzy is not compared",
			candidate: internal.ReferencePattern{ClientID: "c-quarry", Pattern: "SEVEN HILLS"},
		},
		{
			name:      "inactive client ignored",
			candidate: internal.ReferencePattern{ClientID: "c-quarry", Pattern: "900"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := DetectConflicts(tc.candidate, snap)
			var types []string
			for _, c := range got {
				types = append(types, c.Type)
			}
			assert.Equal(t, tc.want, types)
		})
	}
}

func TestConflictErrorMessage(t *testing.T) {
	err := &ConflictError{
		Pattern: "007",
		Conflicts: []Conflict{{
			Type:       ConflictDuplicate,
			Existing:   internal.ReferencePattern{Pattern: "007"},
			ClientName: "Seven Hills Sand",
		}},
	}
	assert.Contains(t, err.Error(), `duplicate with "007" (client Seven Hills Sand)`)
}

func TestValidatePattern(t *testing.T) {
	p := internal.ReferencePattern{Pattern: "  MM*  "}
	require.NoError(t, ValidatePattern(&p))
	assert.Equal(t, "MM*", p.Pattern)
	assert.Equal(t, DefaultPriority, p.Priority)

	bad := []internal.ReferencePattern{
		{Pattern: "   "},
		{Pattern: string(make([]byte, 201))},
		{Pattern: "A", IsRegex: true, IsFuzzy: true},
		{Pattern: "(unclosed", IsRegex: true},
		{Pattern: "A", Priority: 1001},
		{Pattern: "A", Priority: -1},
	}
	for _, b := range bad {
		assert.ErrorIs(t, ValidatePattern(&b), ErrInvalidPattern, "pattern %q", b.Pattern)
	}
}
