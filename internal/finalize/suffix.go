// Package finalize implements C7, the finaliser: it aggregates the
// append-only candidate graph into ranked, probability-normalised streets
// per postcode and materialises the versioned API projection
// tables (§4.7).
package finalize

import "strings"

// DatasetSuffix derives the "__<suffix>" table-name suffix from a
// dataset_version string: any character outside [A-Za-z0-9_] becomes an
// underscore; an empty result collapses to "v3" (§4.7).
func DatasetSuffix(datasetVersion string) string {
	var b strings.Builder
	b.Grow(len(datasetVersion))
	for _, r := range datasetVersion {
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "v3"
	}
	return b.String()
}
