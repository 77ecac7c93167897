package rates

import (
	"sort"

	"github.com/shopspring/decimal"

	"weighbridge/internal"
)

type Stats struct {
	Total    int
	Approved int
	Pending  int
	Min      decimal.Decimal
	Max      decimal.Decimal
	Average  decimal.Decimal
}

// Summarize aggregates rate records; Min, Max and Average cover approved
// records only.
func Summarize(records []internal.RateRecord) Stats {
	var s Stats
	sum := decimal.Zero
	for _, r := range records {
		s.Total++
		if !r.Approved() {
			s.Pending++
			continue
		}
		if s.Approved == 0 || r.RatePerTonne.LessThan(s.Min) {
			s.Min = r.RatePerTonne
		}
		if s.Approved == 0 || r.RatePerTonne.GreaterThan(s.Max) {
			s.Max = r.RatePerTonne
		}
		s.Approved++
		sum = sum.Add(r.RatePerTonne)
	}
	if s.Approved > 0 {
		s.Average = sum.Div(decimal.NewFromInt(int64(s.Approved))).Round(2)
	}
	return s
}

// History returns the client's records newest first.
func History(records []internal.RateRecord, clientID string) []internal.RateRecord {
	var out []internal.RateRecord
	for _, r := range records {
		if r.ClientID == clientID {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].EffectiveFrom.After(out[j].EffectiveFrom)
	})
	return out
}
