// Package schema implements the schema binder (C2, §4.2): resolving
// logical field names to the physical keys present in a source's raw
// rows, validating required fields exist, and exposing a uniform
// field_value accessor that tries the mapped name, the logical name, case
// variants, and a fixed legacy-alias table.
package schema

import (
	"strings"

	"github.com/ukpostal/refbuild/internal/config"
	"github.com/ukpostal/refbuild/internal/errors"
)

// legacyAliases captures the LIDS identifier-pair naming ambiguity noted
// in §9's open question: a new implementation accepts all three
// conventions (id_1/identifier_1/left_id, symmetrically for id_2) rather
// than guessing. Each entry lists every other spelling to try when
// resolving the key on the left.
var legacyAliases = map[string][]string{
	"id_1":         {"identifier_1", "left_id"},
	"identifier_1": {"id_1", "left_id"},
	"left_id":      {"id_1", "identifier_1"},
	"id_2":         {"identifier_2", "right_id"},
	"identifier_2": {"id_2", "right_id"},
	"right_id":     {"id_2", "identifier_2"},
}

// Binder resolves logical field names to the physical keys in one
// source's raw rows, using the field_map and required_fields from
// configuration.
type Binder struct {
	source         string
	fieldMap       map[string]string
	requiredFields []string
	verified       bool
}

// NewBinder constructs a Binder for the named source from its
// configuration. It does not validate the field map against a row yet —
// call VerifyAgainstRow on the first staged row per §4.2.
func NewBinder(source string, sc config.SourceConfig) *Binder {
	return &Binder{
		source:         source,
		fieldMap:       sc.FieldMap,
		requiredFields: sc.RequiredFields,
	}
}

// VerifyAgainstRow checks every required logical field resolves to a key
// present in row, using case variants and the legacy-alias table. It must
// be called once, on the first row of a source's staging cursor (§4.2).
func (b *Binder) VerifyAgainstRow(row map[string]any) error {
	var unresolved []string
	for _, logical := range b.requiredFields {
		if _, ok := b.resolve(row, logical); !ok {
			unresolved = append(unresolved, logical)
		}
	}
	if len(unresolved) > 0 {
		return errors.Ingest("source %q: required fields not present in raw row: %v", b.source, unresolved).
			WithContext("source", b.source).
			WithContext("fields", unresolved)
	}
	b.verified = true
	return nil
}

// FieldValue returns the value bound to logicalKey in row, per §4.2: try
// the mapped physical name, then the logical name itself, then case
// variants and legacy aliases. The second return value is false if no
// candidate key is present in row.
func (b *Binder) FieldValue(row map[string]any, logicalKey string) (any, bool) {
	return b.resolve(row, logicalKey)
}

func (b *Binder) resolve(row map[string]any, logicalKey string) (any, bool) {
	candidates := b.candidateKeys(logicalKey)
	for _, key := range candidates {
		if v, ok := lookupCaseInsensitive(row, key); ok {
			return v, true
		}
	}
	return nil, false
}

func (b *Binder) candidateKeys(logicalKey string) []string {
	var candidates []string
	if mapped, ok := b.fieldMap[logicalKey]; ok {
		candidates = append(candidates, mapped)
	}
	candidates = append(candidates, logicalKey)
	candidates = append(candidates, legacyAliases[logicalKey]...)
	return candidates
}

func lookupCaseInsensitive(row map[string]any, key string) (any, bool) {
	if v, ok := row[key]; ok {
		return v, true
	}
	lower := strings.ToLower(key)
	for k, v := range row {
		if strings.ToLower(k) == lower {
			return v, true
		}
	}
	return nil, false
}
