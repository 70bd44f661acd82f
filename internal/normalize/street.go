package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// StreetCasefolder holds the configuration-driven state street_casefold
// needs: the punctuation set to strip and the token alias map (§4.1). It
// is constructed once per process from loaded configuration and reused —
// the "loaded once and memoised" requirement in §4.1.
type StreetCasefolder struct {
	stripPunctuation map[rune]bool
	aliasMap         map[string]string
}

// NewStreetCasefolder builds a casefolder from the punctuation-strip set
// and alias map loaded from configuration. Alias map keys/values are
// upper-cased, per §4.1 ("upper-case keys → upper-case values").
func NewStreetCasefolder(stripPunctuation string, aliasMap map[string]string) *StreetCasefolder {
	strip := make(map[rune]bool, len(stripPunctuation))
	for _, r := range stripPunctuation {
		strip[r] = true
	}

	aliases := make(map[string]string, len(aliasMap))
	for k, v := range aliasMap {
		aliases[strings.ToUpper(k)] = strings.ToUpper(v)
	}

	return &StreetCasefolder{stripPunctuation: strip, aliasMap: aliases}
}

// Casefold applies the street_casefold transform from §4.1:
//  1. NFKC-normalise, trim, upper-case
//  2. collapse internal whitespace to single spaces
//  3. delete the configured punctuation set
//  4. re-collapse whitespace
//  5. split on spaces, substitute each token via the alias map
//  6. rejoin
//
// Returns "" if the result is empty.
func (c *StreetCasefolder) Casefold(s string) string {
	normalised := norm.NFKC.String(s)
	normalised = strings.TrimSpace(normalised)
	normalised = strings.ToUpper(normalised)
	normalised = collapseWhitespace(normalised)

	normalised = c.stripConfiguredPunctuation(normalised)
	normalised = collapseWhitespace(normalised)

	if normalised == "" {
		return ""
	}

	tokens := strings.Split(normalised, " ")
	for i, tok := range tokens {
		if alias, ok := c.aliasMap[tok]; ok {
			tokens[i] = alias
		}
	}

	result := strings.Join(tokens, " ")
	if result == "" {
		return ""
	}
	return result
}

func (c *StreetCasefolder) stripConfiguredPunctuation(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if c.stripPunctuation[r] {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func collapseWhitespace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inSpace := false
	for _, r := range strings.TrimSpace(s) {
		if unicode.IsSpace(r) {
			if !inSpace {
				b.WriteRune(' ')
				inSpace = true
			}
			continue
		}
		inSpace = false
		b.WriteRune(r)
	}
	return strings.TrimSpace(b.String())
}
