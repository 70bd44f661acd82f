package config

import (
	"sort"

	"github.com/ukpostal/refbuild/internal/errors"
)

// Validate enforces the configuration invariants from §6 and §7: the
// weight table must contain exactly the eight canonical candidate types,
// all strictly positive, and every configured source's required fields
// must each resolve to a field_map entry.
func Validate(cfg *Config) error {
	if err := validateWeights(cfg.Weights); err != nil {
		return err
	}
	if err := validateSources(cfg.Sources); err != nil {
		return err
	}
	return nil
}

func validateWeights(weights map[string]float64) error {
	want := make(map[string]bool, len(CanonicalCandidateTypes))
	for _, t := range CanonicalCandidateTypes {
		want[t] = true
	}

	var missing, extra []string
	for _, t := range CanonicalCandidateTypes {
		if _, ok := weights[t]; !ok {
			missing = append(missing, t)
		}
	}
	for t := range weights {
		if !want[t] {
			extra = append(extra, t)
		}
	}
	sort.Strings(missing)
	sort.Strings(extra)

	if len(missing) > 0 {
		return errors.Build("weight table missing required candidate types: %v", missing)
	}
	if len(extra) > 0 {
		return errors.Build("weight table contains unknown candidate types: %v", extra)
	}
	for _, t := range CanonicalCandidateTypes {
		if weights[t] <= 0 {
			return errors.Build("weight for candidate type %q must be strictly positive, got %v", t, weights[t])
		}
	}
	return nil
}

func validateSources(sources map[string]SourceConfig) error {
	for name, sc := range sources {
		for _, field := range sc.RequiredFields {
			if _, ok := sc.FieldMap[field]; !ok {
				return errors.Manifest("source %q: required field %q has no field_map entry", name, field)
			}
		}
	}
	return nil
}
