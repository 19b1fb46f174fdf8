package mailparse

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// Notification templates drift across upstream releases, so every extraction
// runs an ordered cascade of patterns and takes the first that matches. The
// cascades are ordered most-specific-first: a generic amount pattern placed
// too early would match a differently-shaped number elsewhere in the body.
// Adding a new template variant is a one-line insertion into a cascade.

// firstMatch evaluates the cascade in order against text and returns the named
// capture groups of the first matching pattern.
func firstMatch(text string, cascade []*regexp.Regexp) (map[string]string, bool) {
	for _, re := range cascade {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		caps := make(map[string]string)
		for i, name := range re.SubexpNames() {
			if name == "" || i >= len(m) || m[i] == "" {
				continue
			}
			caps[name] = m[i]
		}
		return caps, true
	}
	return nil, false
}

// parseAmount converts a captured amount string to a decimal, stripping
// thousands-separator commas first.
func parseAmount(s string) (decimal.Decimal, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	if !d.IsPositive() {
		return decimal.Zero, fmt.Errorf("amount %q is not positive", s)
	}
	return d, nil
}
