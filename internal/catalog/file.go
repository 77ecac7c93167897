package catalog

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"weighbridge/internal"
	"weighbridge/internal/util"
)

// File is the YAML catalog format:
//
//	clients:
//	  - name: Seven Hills Sand
//	    patterns:
//	      - pattern: "007"
//	      - pattern: SEVEN HILLS
//	        fuzzy: true
//	    rates:
//	      - rate: "27.50"
//	        from: 2024-01-01
//	        approved_by: ops
type File struct {
	Clients []FileClient `yaml:"clients"`
}

type FileClient struct {
	Name     string        `yaml:"name"`
	Patterns []FilePattern `yaml:"patterns"`
	Rates    []FileRate    `yaml:"rates"`
}

type FilePattern struct {
	Pattern  string `yaml:"pattern"`
	Regex    bool   `yaml:"regex"`
	Fuzzy    bool   `yaml:"fuzzy"`
	Priority int    `yaml:"priority"`
}

type FileRate struct {
	Rate       string `yaml:"rate"`
	From       string `yaml:"from"`
	To         string `yaml:"to"`
	ApprovedBy string `yaml:"approved_by"`
	Notes      string `yaml:"notes"`
}

func LoadFile(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, err
	}
	f, err := DecodeFile(bytes.NewReader(data))
	if err != nil {
		return File{}, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

func DecodeFile(r io.Reader) (File, error) {
	var f File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return File{}, err
	}
	return f, nil
}

func (fr FileRate) record(clientID string) (internal.RateRecord, error) {
	rate, err := decimal.NewFromString(strings.TrimSpace(fr.Rate))
	if err != nil {
		return internal.RateRecord{}, fmt.Errorf("rate %q: %w", fr.Rate, err)
	}
	from, err := time.Parse(time.DateOnly, strings.TrimSpace(fr.From))
	if err != nil {
		return internal.RateRecord{}, fmt.Errorf("from %q: %w", fr.From, err)
	}
	r := internal.RateRecord{ClientID: clientID, RatePerTonne: rate, EffectiveFrom: from, Notes: util.CleanText(fr.Notes)}
	if strings.TrimSpace(fr.To) != "" {
		to, err := time.Parse(time.DateOnly, strings.TrimSpace(fr.To))
		if err != nil {
			return internal.RateRecord{}, fmt.Errorf("to %q: %w", fr.To, err)
		}
		r.EffectiveTo = &to
	}
	return r, nil
}

type ImportResult struct {
	ClientsCreated  int
	PatternsAdded   int
	PatternsSkipped int
	RatesAdded      int
	RatesSkipped    int
}

// Import applies f through the same checks as manual administration.
// Clients are matched by name; identical patterns and rates are skipped.
// The first rejected entry stops the import.
func (a *Admin) Import(f File) (ImportResult, error) {
	var res ImportResult
	for _, fc := range f.Clients {
		client, err := a.ResolveClient(fc.Name)
		if errors.Is(err, ErrClientNotFound) {
			client, err = a.AddClient(fc.Name)
			if err == nil {
				res.ClientsCreated++
			}
		}
		if err != nil {
			return res, fmt.Errorf("client %q: %w", fc.Name, err)
		}

		patterns, err := a.db.ListPatterns(client.ID)
		if err != nil {
			return res, err
		}
		for _, fp := range fc.Patterns {
			p := internal.ReferencePattern{ClientID: client.ID, Pattern: strings.TrimSpace(fp.Pattern), IsRegex: fp.Regex, IsFuzzy: fp.Fuzzy, Priority: fp.Priority}
			if hasPattern(patterns, p) {
				res.PatternsSkipped++
				continue
			}
			if _, err := a.AddPattern(p); err != nil {
				return res, fmt.Errorf("client %q pattern %q: %w", fc.Name, fp.Pattern, err)
			}
			res.PatternsAdded++
		}

		existing, err := a.db.ListRates(client.ID)
		if err != nil {
			return res, err
		}
		for _, fr := range fc.Rates {
			r, err := fr.record(client.ID)
			if err != nil {
				return res, fmt.Errorf("client %q: %w", fc.Name, err)
			}
			if hasRate(existing, r) {
				res.RatesSkipped++
				continue
			}
			if _, err := a.AddRate(r, fr.ApprovedBy); err != nil {
				return res, fmt.Errorf("client %q rate from %s: %w", fc.Name, fr.From, err)
			}
			res.RatesAdded++
		}
	}
	return res, nil
}

func hasPattern(existing []internal.ReferencePattern, p internal.ReferencePattern) bool {
	for _, e := range existing {
		if e.Pattern == p.Pattern && e.IsRegex == p.IsRegex && e.IsFuzzy == p.IsFuzzy {
			return true
		}
	}
	return false
}

func hasRate(existing []internal.RateRecord, r internal.RateRecord) bool {
	for _, e := range existing {
		if !e.RatePerTonne.Equal(r.RatePerTonne) || !util.DateOnly(e.EffectiveFrom).Equal(util.DateOnly(r.EffectiveFrom)) {
			continue
		}
		switch {
		case e.EffectiveTo == nil && r.EffectiveTo == nil:
			return true
		case e.EffectiveTo != nil && r.EffectiveTo != nil && util.DateOnly(*e.EffectiveTo).Equal(util.DateOnly(*r.EffectiveTo)):
			return true
		}
	}
	return false
}
