// Package normalize implements the pure, configuration-driven
// normalisation primitives (C1, §4.1): postcode canonicalisation and
// street-name casefolding. These functions are deterministic and take no
// database dependency so every pass can call them inline.
package normalize

import "strings"

// Postcode canonicalises s to its storage form: upper-cased, every
// non-alphanumeric character stripped. Returns "" when the result would be
// empty — callers treat that as "no postcode" (§4.1).
func Postcode(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= 'a' && r <= 'z' {
			r -= 'a' - 'A'
		}
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// PostcodeDisplay returns the display form of s: the storage form with a
// single space inserted before the last three characters when its length
// exceeds 3, otherwise the storage form unchanged (§4.1).
func PostcodeDisplay(s string) string {
	norm := Postcode(s)
	if norm == "" {
		return ""
	}
	if len(norm) > 3 {
		return norm[:len(norm)-3] + " " + norm[len(norm)-3:]
	}
	return norm
}
