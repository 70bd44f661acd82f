package finalize

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ukpostal/refbuild/internal/dbutil"
)

func TestDatasetSuffix(t *testing.T) {
	cases := map[string]string{
		"v3_abc123def456": "v3_abc123def456",
		"v3_abc-123":       "v3_abc_123",
		"":                 "v3",
		"!!!":               "___",
	}
	for in, want := range cases {
		assert.Equal(t, want, DatasetSuffix(in), "input %q", in)
	}
}

func TestFormatFixed4(t *testing.T) {
	assert.Equal(t, "0.7500", formatFixed4(7500))
	assert.Equal(t, "1.0000", formatFixed4(10000))
	assert.Equal(t, "0.0001", formatFixed4(1))
}

// TestScaledProbabilities_ExactSumToOne reproduces §8 scenario 2: weights
// 3.0 and 1.0 must round to exactly 0.7500 and 0.2500, not the repeating
// decimals real division alone would produce.
func TestScaledProbabilities_ExactSumToOne(t *testing.T) {
	scaled, err := scaledProbabilities([]float64{3.0, 1.0})
	require.NoError(t, err)
	assert.Equal(t, []int64{7500, 2500}, scaled)
}

// TestScaledProbabilities_ResidualOnRank1 exercises a distribution whose
// real-valued shares don't round cleanly (1/3 each): the residual from
// rounding must land entirely on index 0.
func TestScaledProbabilities_ResidualOnRank1(t *testing.T) {
	scaled, err := scaledProbabilities([]float64{1.0, 1.0, 1.0})
	require.NoError(t, err)
	var sum int64
	for _, s := range scaled {
		sum += s
	}
	assert.Equal(t, int64(10000), sum)
	assert.Equal(t, int64(3334), scaled[0])
	assert.Equal(t, int64(3333), scaled[1])
	assert.Equal(t, int64(3333), scaled[2])
}

func TestScaledProbabilities_RejectsNonPositiveTotal(t *testing.T) {
	_, err := scaledProbabilities([]float64{0, 0})
	assert.Error(t, err)
}

// TestPass8Finalisation_ProbabilityNormalisation reproduces §8 scenario
// 2 end to end: two candidates for "AA1 1AA" weighted 3.0 and 1.0
// produce postcode_streets_final rows with probability 0.7500 and
// 0.2500, and the postcode is flagged multi_street.
func TestPass8Finalisation_ProbabilityNormalisation(t *testing.T) {
	db := dbutil.OpenTestDB(t)
	ctx := context.Background()
	buildRunID := uuid.NewString()

	bundleID := uuid.NewString()
	_, err := db.Exec(`INSERT INTO bundle (bundle_id, build_profile, bundle_hash, status, created_at_utc) VALUES ($1, 'gb_core', $2, 'created', now())`, bundleID, uuid.NewString())
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO build_run (build_run_id, bundle_id, dataset_version, status, current_pass, started_at_utc) VALUES ($1, $2, 'v3_test', 'started', '8_finalisation', now())`, buildRunID, bundleID)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO postcodes (build_run_id, postcode, status, country_iso2, country_iso3, street_enrichment_available, multi_street) VALUES ($1, 'AA1 1AA', 'active', 'GB', 'GBR', true, false)`, buildRunID)
	require.NoError(t, err)

	insertCandidate := func(streetRaw, streetCanonical, candidateType, confidence string) {
		_, err := db.Exec(`
			INSERT INTO postcode_street_candidates
				(build_run_id, postcode, street_name_raw, street_name_canonical, usrn, candidate_type, confidence, evidence_ref, source_name, ingest_run_id, evidence_json)
			VALUES ($1, 'AA1 1AA', $2, $3, NULL, $4, $5, 'test:evidence', 'test', $6, '{}')
		`, buildRunID, streetRaw, streetCanonical, candidateType, confidence, uuid.NewString())
		require.NoError(t, err)
	}
	insertCandidate("MAIN STREET", "MAIN STREET", "names_postcode_feature", "medium")
	insertCandidate("HIGH ROAD", "HIGH ROAD", "spatial_os_open_roads", "low")

	tx, err := db.Beginx()
	require.NoError(t, err)
	defer tx.Rollback()

	weights := map[string]float64{
		"names_postcode_feature": 3.0,
		"spatial_os_open_roads":  1.0,
	}
	counts, err := Pass8Finalisation(ctx, tx, buildRunID, weights)
	require.NoError(t, err)
	assert.Equal(t, 2, counts["postcode_streets_final"])

	type row struct {
		StreetName  string `db:"street_name"`
		Probability string `db:"probability"`
	}
	var rows []row
	require.NoError(t, tx.SelectContext(ctx, &rows, `
		SELECT street_name, probability::text AS probability
		FROM postcode_streets_final
		WHERE build_run_id = $1
		ORDER BY probability DESC
	`, buildRunID))
	require.Len(t, rows, 2)
	assert.Equal(t, "MAIN STREET", rows[0].StreetName)
	assert.Equal(t, "0.7500", rows[0].Probability)
	assert.Equal(t, "HIGH ROAD", rows[1].StreetName)
	assert.Equal(t, "0.2500", rows[1].Probability)

	var multiStreet bool
	require.NoError(t, tx.GetContext(ctx, &multiStreet, `SELECT multi_street FROM postcodes WHERE build_run_id = $1 AND postcode = 'AA1 1AA'`, buildRunID))
	assert.True(t, multiStreet)
}
