package evidence_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ukpostal/refbuild/internal/dbutil"
	"github.com/ukpostal/refbuild/internal/evidence"
)

// TestPass3_PromotionAppendOnly reproduces §8 scenario 3: a base
// names_postcode_feature candidate with TOID OSGB123 and a matching
// oli_toid_usrn(OSGB123→10000001) yields two candidate rows and one
// lineage edge.
func TestPass3_PromotionAppendOnly(t *testing.T) {
	db := dbutil.OpenTestDB(t)
	ctx := context.Background()
	buildRunID := uuid.NewString()

	seedRun(t, db, buildRunID)
	_, err := db.Exec(`INSERT INTO postcodes (build_run_id, postcode, status, country_iso2, country_iso3, street_enrichment_available, multi_street) VALUES ($1, 'AA1 1AA', 'active', 'GB', 'GBR', true, false)`, buildRunID)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO open_names_road_feature (build_run_id, ingest_run_id, feature_id, postcode_norm, toid, street_name, street_name_casefolded) VALUES ($1, $2, 'feat-1', 'AA11AA', 'OSGB123', 'Main Street', 'MAIN STREET')`, buildRunID, uuid.NewString())
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO streets_usrn (build_run_id, usrn, street_name, street_name_casefolded, usrn_run_id) VALUES ($1, 10000001, 'Main Street', 'MAIN STREET', $2)`, buildRunID, uuid.NewString())
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO oli_toid_usrn (build_run_id, ingest_run_id, toid, usrn) VALUES ($1, $2, 'OSGB123', 10000001)`, buildRunID, uuid.NewString())
	require.NoError(t, err)

	tx, err := db.Beginx()
	require.NoError(t, err)
	defer tx.Rollback()

	_, err = evidence.Pass3OpenNamesCandidates(ctx, tx, buildRunID)
	require.NoError(t, err)

	var candidateCount int
	require.NoError(t, tx.Get(&candidateCount, `SELECT count(*) FROM postcode_street_candidates WHERE build_run_id = $1`, buildRunID))
	assert.Equal(t, 2, candidateCount)

	var lineageCount int
	require.NoError(t, tx.Get(&lineageCount, `SELECT count(*) FROM postcode_street_candidate_lineage WHERE build_run_id = $1 AND relation_type = 'promotion_toid_usrn'`, buildRunID))
	assert.Equal(t, 1, lineageCount)
}

func seedRun(t *testing.T, db *dbutil.DB, buildRunID string) {
	t.Helper()
	bundleID := uuid.NewString()
	_, err := db.Exec(`INSERT INTO bundle (bundle_id, build_profile, bundle_hash, status, created_at_utc) VALUES ($1, 'gb_core', $2, 'created', now())`, bundleID, uuid.NewString())
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO build_run (build_run_id, bundle_id, dataset_version, status, current_pass, started_at_utc) VALUES ($1, $2, 'v3_test', 'started', '3_open_names_candidates', now())`, buildRunID, bundleID)
	require.NoError(t, err)
}
