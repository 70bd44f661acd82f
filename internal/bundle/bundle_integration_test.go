package bundle_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ukpostal/refbuild/internal/bundle"
	"github.com/ukpostal/refbuild/internal/dbutil"
	"github.com/ukpostal/refbuild/internal/model"
)

// TestCreateBundle_Idempotent reproduces §8 scenario 1: two bundle_create
// calls with the same manifest return the same bundle id, the first
// reporting "created" and the second "existing".
func TestCreateBundle_Idempotent(t *testing.T) {
	db := dbutil.OpenTestDB(t)
	ctx := context.Background()
	clock := func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }

	runIDs := seedIngestRuns(t, db, map[string]string{
		"onspd":        "11111111-1111-1111-1111-111111111111",
		"os_open_usrn": "22222222-2222-2222-2222-222222222222",
		"os_open_names": "33333333-3333-3333-3333-333333333333",
		"os_open_roads": "44444444-4444-4444-4444-444444444444",
		"os_open_uprn":  "55555555-5555-5555-5555-555555555555",
		"os_open_lids":  "66666666-6666-6666-6666-666666666666",
		"nsul":          "77777777-7777-7777-7777-777777777777",
	})

	manifest := bundle.Manifest{
		BuildProfile: model.ProfileGBCore,
		SourceRuns:   runIDs,
	}

	first, err := bundle.CreateBundle(ctx, db, clock, manifest)
	require.NoError(t, err)
	assert.Equal(t, bundle.OutcomeCreated, first.Outcome)

	second, err := bundle.CreateBundle(ctx, db, clock, manifest)
	require.NoError(t, err)
	assert.Equal(t, bundle.OutcomeExisting, second.Outcome)
	assert.Equal(t, first.Bundle.BundleID, second.Bundle.BundleID)
	assert.Equal(t, first.Bundle.BundleHash, second.Bundle.BundleHash)
}

func TestCreateBundle_RejectsWrongCardinality(t *testing.T) {
	db := dbutil.OpenTestDB(t)
	ctx := context.Background()

	runIDs := seedIngestRuns(t, db, map[string]string{
		"onspd":         "a1111111-1111-1111-1111-111111111111",
		"os_open_usrn":  "a2222222-2222-2222-2222-222222222222",
		"os_open_names": "a3333333-3333-3333-3333-333333333333",
		"os_open_roads": "a4444444-4444-4444-4444-444444444444",
		"os_open_uprn":  "a5555555-5555-5555-5555-555555555555",
		"os_open_lids":  "a6666666-6666-6666-6666-666666666666",
		"nsul":          "a7777777-7777-7777-7777-777777777777",
	})
	// onspd should be exactly one run; give it two.
	runIDs["onspd"] = append(runIDs["onspd"], "a1111111-2222-1111-1111-111111111111")

	_, err := bundle.CreateBundle(ctx, db, nil, bundle.Manifest{
		BuildProfile: model.ProfileGBCore,
		SourceRuns:   runIDs,
	})
	require.Error(t, err)
}

func seedIngestRuns(t *testing.T, db *dbutil.DB, bySource map[string]string) map[string][]string {
	t.Helper()
	out := make(map[string][]string, len(bySource))
	for source, runID := range bySource {
		_, err := db.Exec(`
			INSERT INTO ingest_run (run_id, source_name, source_version, retrieved_at_utc, record_count)
			VALUES ($1, $2, 'v1', now(), 100)
			ON CONFLICT (run_id) DO NOTHING
		`, runID, source)
		require.NoError(t, err)
		out[source] = []string{runID}
	}
	return out
}
