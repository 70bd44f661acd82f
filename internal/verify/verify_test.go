package verify

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ukpostal/refbuild/internal/dbutil"
)

func seedBuildRun(t *testing.T, db *dbutil.DB, status string) string {
	t.Helper()
	buildRunID := uuid.NewString()
	bundleID := uuid.NewString()
	_, err := db.Exec(`INSERT INTO bundle (bundle_id, build_profile, bundle_hash, status, created_at_utc) VALUES ($1, 'gb_core', $2, 'created', now())`, bundleID, uuid.NewString())
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO build_run (build_run_id, bundle_id, dataset_version, status, current_pass, started_at_utc) VALUES ($1, $2, 'v3_verifytest', $3, 'complete', now())`, buildRunID, bundleID, status)
	require.NoError(t, err)
	return buildRunID
}

func TestCheckProbabilitySum_PassesOnExactSum(t *testing.T) {
	db := dbutil.OpenTestDB(t)
	ctx := context.Background()
	buildRunID := seedBuildRun(t, db, "built")

	_, err := db.Exec(`INSERT INTO postcode_streets_final (build_run_id, postcode, street_name, confidence, frequency_score, probability) VALUES ($1, 'AA1 1AA', 'MAIN STREET', 'high', 3.0000, 0.7500)`, buildRunID)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO postcode_streets_final (build_run_id, postcode, street_name, confidence, frequency_score, probability) VALUES ($1, 'AA1 1AA', 'HIGH ROAD', 'low', 1.0000, 0.2500)`, buildRunID)
	require.NoError(t, err)

	tx, err := db.Beginx()
	require.NoError(t, err)
	defer tx.Rollback()

	assert.NoError(t, CheckProbabilitySum(ctx, tx, buildRunID))
}

func TestCheckProbabilitySum_FailsOnMismatch(t *testing.T) {
	db := dbutil.OpenTestDB(t)
	ctx := context.Background()
	buildRunID := seedBuildRun(t, db, "built")

	_, err := db.Exec(`INSERT INTO postcode_streets_final (build_run_id, postcode, street_name, confidence, frequency_score, probability) VALUES ($1, 'AA1 1AA', 'MAIN STREET', 'high', 3.0000, 0.9000)`, buildRunID)
	require.NoError(t, err)

	tx, err := db.Beginx()
	require.NoError(t, err)
	defer tx.Rollback()

	err = CheckProbabilitySum(ctx, tx, buildRunID)
	assert.Error(t, err)
}

func TestCheckProjectionsExist_FailsWhenMissing(t *testing.T) {
	db := dbutil.OpenTestDB(t)
	ctx := context.Background()
	buildRunID := seedBuildRun(t, db, "built")
	_ = buildRunID

	tx, err := db.Beginx()
	require.NoError(t, err)
	defer tx.Rollback()

	err = CheckProjectionsExist(ctx, tx, "v3_doesnotexist")
	assert.Error(t, err)
}
