package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsAndOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "refbuild.yaml")
	yaml := `
storage:
  postgres_dsn: "postgres://example/db"
sources:
  onspd:
    field_map:
      postcode: "pcds"
    required_fields:
      - postcode
weights:
  names_postcode_feature: 1
  oli_toid_usrn: 3
  uprn_usrn: 3
  spatial_os_open_roads: 0.5
  osni_gazetteer_direct: 2
  spatial_dfi_highway: 0.5
  ppd_parse_matched: 1.5
  ppd_parse_unmatched: 0.2
normalisation:
  alias_map:
    ST: STREET
  strip_punctuation: ".,'-"
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "postgres://example/db", cfg.Storage.PostgresDSN)
	assert.Equal(t, 5000, cfg.Batch.CursorBatchSize)
	assert.Equal(t, "STREET", cfg.Normalisation.AliasMap["ST"])
}

func TestLoad_EnvOverridesDSN(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "refbuild.yaml")
	yaml := `
weights:
  names_postcode_feature: 1
  oli_toid_usrn: 1
  uprn_usrn: 1
  spatial_os_open_roads: 1
  osni_gazetteer_direct: 1
  spatial_dfi_highway: 1
  ppd_parse_matched: 1
  ppd_parse_unmatched: 1
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	t.Setenv("REFBUILD_POSTGRES_DSN", "postgres://env/db")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "postgres://env/db", cfg.Storage.PostgresDSN)
}

func TestValidate_RejectsBadWeights(t *testing.T) {
	cfg := Default()
	cfg.Weights = map[string]float64{"names_postcode_feature": 1}
	err := Validate(cfg)
	assert.Error(t, err)
}

func TestValidate_RejectsNonPositiveWeight(t *testing.T) {
	cfg := Default()
	for _, t2 := range CanonicalCandidateTypes {
		cfg.Weights[t2] = 1
	}
	cfg.Weights["ppd_parse_unmatched"] = 0
	err := Validate(cfg)
	assert.Error(t, err)
}

func TestValidate_RejectsUnresolvedRequiredField(t *testing.T) {
	cfg := Default()
	for _, t2 := range CanonicalCandidateTypes {
		cfg.Weights[t2] = 1
	}
	cfg.Sources["onspd"] = SourceConfig{
		FieldMap:       map[string]string{},
		RequiredFields: []string{"postcode"},
	}
	err := Validate(cfg)
	assert.Error(t, err)
}
