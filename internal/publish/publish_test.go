package publish

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ukpostal/refbuild/internal/dbutil"
	"github.com/ukpostal/refbuild/internal/finalize"
)

// TestRun_AliasSwapAndIdempotentPublication reproduces §8 scenario 5:
// publishing points the global aliases at the versioned projection
// tables and records the publication; republishing upserts rather than
// duplicating the dataset_publication row.
func TestRun_AliasSwapAndIdempotentPublication(t *testing.T) {
	db := dbutil.OpenTestDB(t)
	ctx := context.Background()

	bundleID := uuid.NewString()
	buildRunID := uuid.NewString()
	datasetVersion := "v3_" + uuid.NewString()[:12]
	_, err := db.Exec(`INSERT INTO bundle (bundle_id, build_profile, bundle_hash, status, created_at_utc) VALUES ($1, 'gb_core', $2, 'built', now())`, bundleID, uuid.NewString())
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO build_run (build_run_id, bundle_id, dataset_version, status, current_pass, started_at_utc) VALUES ($1, $2, $3, 'built', 'complete', now())`, buildRunID, bundleID, datasetVersion)
	require.NoError(t, err)

	_, err = db.Exec(`CREATE SCHEMA IF NOT EXISTS api`)
	require.NoError(t, err)
	suffix := finalize.DatasetSuffix(datasetVersion)
	_, err = db.Exec(`CREATE TABLE api.postcode_lookup__` + suffix + ` (postcode text)`)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE api.postcode_street_lookup__` + suffix + ` (postcode text)`)
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = db.Exec(`DROP VIEW IF EXISTS api.postcode_lookup, api.postcode_street_lookup`)
		_, _ = db.Exec(`DROP TABLE IF EXISTS api.postcode_lookup__` + suffix + `, api.postcode_street_lookup__` + suffix)
		_, _ = db.Exec(`DELETE FROM dataset_publication WHERE dataset_version = $1`, datasetVersion)
	})

	got, err := Run(ctx, db, buildRunID, "alice")
	require.NoError(t, err)
	assert.Equal(t, datasetVersion, got)

	var publicationCount int
	require.NoError(t, db.Get(&publicationCount, `SELECT count(*) FROM dataset_publication WHERE dataset_version = $1`, datasetVersion))
	assert.Equal(t, 1, publicationCount)

	var publishedBy string
	require.NoError(t, db.Get(&publishedBy, `SELECT published_by FROM dataset_publication WHERE dataset_version = $1`, datasetVersion))
	assert.Equal(t, "alice", publishedBy)

	_, err = Run(ctx, db, buildRunID, "bob")
	require.NoError(t, err)
	require.NoError(t, db.Get(&publicationCount, `SELECT count(*) FROM dataset_publication WHERE dataset_version = $1`, datasetVersion))
	assert.Equal(t, 1, publicationCount)
	require.NoError(t, db.Get(&publishedBy, `SELECT published_by FROM dataset_publication WHERE dataset_version = $1`, datasetVersion))
	assert.Equal(t, "bob", publishedBy)
}
