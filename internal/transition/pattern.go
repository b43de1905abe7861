// Package transition converts one block type into another once enough world
// calendar time has passed.
package transition

import (
	"errors"
	"fmt"
	"strings"
)

var ErrMalformedPattern = errors.New("transition: malformed pattern")

// Pattern is a block code with at most one "*" wildcard segment, for example
// "wood-*" or "pile-*-rotten".
type Pattern struct {
	raw    string
	prefix string
	suffix string
	wild   bool
}

func ParsePattern(s string) (Pattern, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Pattern{}, fmt.Errorf("%w: empty", ErrMalformedPattern)
	}
	switch strings.Count(s, "*") {
	case 0:
		return Pattern{raw: s, prefix: s}, nil
	case 1:
		i := strings.IndexByte(s, '*')
		return Pattern{raw: s, prefix: s[:i], suffix: s[i+1:], wild: true}, nil
	default:
		return Pattern{}, fmt.Errorf("%w: %q has more than one wildcard", ErrMalformedPattern, s)
	}
}

func (p Pattern) String() string { return p.raw }

func (p Pattern) HasWildcard() bool { return p.wild }

// Match reports whether code fits p and returns the text the wildcard
// matched. The wildcard must match at least one character.
func (p Pattern) Match(code string) (string, bool) {
	if !p.wild {
		return "", code == p.prefix
	}
	if len(code) <= len(p.prefix)+len(p.suffix) {
		return "", false
	}
	if !strings.HasPrefix(code, p.prefix) || !strings.HasSuffix(code, p.suffix) {
		return "", false
	}
	return code[len(p.prefix) : len(code)-len(p.suffix)], true
}

// Expand substitutes wild for the wildcard. Patterns without one return
// themselves.
func (p Pattern) Expand(wild string) string {
	if !p.wild {
		return p.prefix
	}
	return p.prefix + wild + p.suffix
}
