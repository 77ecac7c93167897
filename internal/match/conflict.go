package match

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"weighbridge/internal"
)

const (
	ConflictDuplicate      = "duplicate"
	ConflictExactDuplicate = "exact_duplicate"
	ConflictPrefix         = "prefix_conflict"

	DefaultPriority = 100
	MaxPatternLen   = 200
)

var ErrInvalidPattern = errors.New("invalid reference pattern")

type Conflict struct {
	Type       string
	Existing   internal.ReferencePattern
	ClientName string
}

// ConflictError rejects a pattern that collides with another client's pattern.
type ConflictError struct {
	Pattern   string
	Conflicts []Conflict
}

func (e *ConflictError) Error() string {
	parts := make([]string, 0, len(e.Conflicts))
	for _, c := range e.Conflicts {
		parts = append(parts, fmt.Sprintf("%s with %q (client %s)", c.Type, c.Existing.Pattern, c.ClientName))
	}
	return fmt.Sprintf("pattern %q conflicts: %s", e.Pattern, strings.Join(parts, "; "))
}

// DetectConflicts checks candidate against active patterns of active clients
// other than its owner. Regex against regex and anything involving fuzzy
// patterns are not compared.
func DetectConflicts(candidate internal.ReferencePattern, snap internal.CatalogSnapshot) []Conflict {
	names := map[string]string{}
	for _, c := range snap.Clients {
		if c.Active {
			names[c.ID] = c.Name
		}
	}
	var out []Conflict
	for _, existing := range snap.Patterns {
		if !existing.Active || existing.ClientID == candidate.ClientID {
			continue
		}
		name, ok := names[existing.ClientID]
		if !ok {
			continue
		}
		if typ := conflictType(candidate, existing); typ != "" {
			out = append(out, Conflict{Type: typ, Existing: existing, ClientName: name})
		}
	}
	return out
}

func conflictType(n, e internal.ReferencePattern) string {
	if n.Pattern == e.Pattern && n.IsRegex == e.IsRegex && n.IsFuzzy == e.IsFuzzy {
		return ConflictDuplicate
	}
	if n.Plain() && e.Plain() && n.Pattern == e.Pattern {
		return ConflictExactDuplicate
	}
	if n.Plain() && e.Plain() {
		if strings.HasSuffix(n.Pattern, "*") && strings.HasPrefix(e.Pattern, strings.TrimSuffix(n.Pattern, "*")) {
			return ConflictPrefix
		}
		if strings.HasSuffix(e.Pattern, "*") && strings.HasPrefix(n.Pattern, strings.TrimSuffix(e.Pattern, "*")) {
			return ConflictPrefix
		}
	}
	return ""
}

// ValidatePattern trims the pattern, applies the default priority and
// checks length, flags, priority range and regex syntax.
func ValidatePattern(p *internal.ReferencePattern) error {
	p.Pattern = strings.TrimSpace(p.Pattern)
	if p.Pattern == "" {
		return fmt.Errorf("%w: pattern cannot be empty", ErrInvalidPattern)
	}
	if utf8.RuneCountInString(p.Pattern) > MaxPatternLen {
		return fmt.Errorf("%w: pattern too long (max %d characters)", ErrInvalidPattern, MaxPatternLen)
	}
	if p.IsRegex && p.IsFuzzy {
		return fmt.Errorf("%w: pattern cannot be both regex and fuzzy", ErrInvalidPattern)
	}
	if p.Priority == 0 {
		p.Priority = DefaultPriority
	}
	if p.Priority < 1 || p.Priority > 1000 {
		return fmt.Errorf("%w: priority %d outside 1..1000", ErrInvalidPattern, p.Priority)
	}
	if p.IsRegex {
		if _, err := regexp.Compile(p.Pattern); err != nil {
			return fmt.Errorf("%w: invalid regex: %v", ErrInvalidPattern, err)
		}
		if _, err := compileAnchored(p.Pattern); err != nil {
			return fmt.Errorf("%w: invalid regex: %v", ErrInvalidPattern, err)
		}
	}
	return nil
}
