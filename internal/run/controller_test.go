package run_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ukpostal/refbuild/internal/bundle"
	"github.com/ukpostal/refbuild/internal/dbutil"
	"github.com/ukpostal/refbuild/internal/model"
	"github.com/ukpostal/refbuild/internal/run"
)

func TestDispatch_SkipsCompletedPassesOnResume(t *testing.T) {
	db := dbutil.OpenTestDB(t)
	ctx := context.Background()
	clock := func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }

	bundleID := seedBundle(t, db, clock)
	r, err := run.OpenRun(ctx, db, clock, bundleID, false, false)
	require.NoError(t, err)

	var calls []model.PassName
	handlers := make(run.Handlers)
	for _, pass := range model.PassOrder {
		pass := pass
		handlers[pass] = func(ctx context.Context, tx *sqlx.Tx, buildRunID string) (map[string]int, error) {
			calls = append(calls, pass)
			return map[string]int{"rows": 1}, nil
		}
	}

	require.NoError(t, run.Dispatch(ctx, db, nil, r, handlers, clock))
	assert.Equal(t, model.PassOrder, calls)

	got, err := run.Get(ctx, db, r.BuildRunID)
	require.NoError(t, err)
	assert.Equal(t, model.RunBuilt, got.Status)
	assert.Equal(t, string(model.PassComplete), got.CurrentPass)

	// Re-dispatch the same run: every checkpoint already exists, so no
	// handler should be invoked again.
	calls = nil
	require.NoError(t, run.Dispatch(ctx, db, nil, r, handlers, clock))
	assert.Empty(t, calls)
}

func TestDispatch_RecordsFailureAndFailingPass(t *testing.T) {
	db := dbutil.OpenTestDB(t)
	ctx := context.Background()
	clock := func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }

	bundleID := seedBundle(t, db, clock)
	r, err := run.OpenRun(ctx, db, clock, bundleID, false, false)
	require.NoError(t, err)

	handlers := make(run.Handlers)
	for i, pass := range model.PassOrder {
		pass := pass
		fail := i == 2
		handlers[pass] = func(ctx context.Context, tx *sqlx.Tx, buildRunID string) (map[string]int, error) {
			if fail {
				return nil, assert.AnError
			}
			return map[string]int{}, nil
		}
	}

	err = run.Dispatch(ctx, db, nil, r, handlers, clock)
	require.Error(t, err)

	got, err := run.Get(ctx, db, r.BuildRunID)
	require.NoError(t, err)
	assert.Equal(t, model.RunFailed, got.Status)
	assert.Equal(t, string(model.PassOrder[2]), got.CurrentPass)
	assert.True(t, got.ErrorText.Valid)

	done, err := run.CheckpointExists(ctx, db, r.BuildRunID, model.PassOrder[2])
	require.NoError(t, err)
	assert.False(t, done, "failing pass must not leave a checkpoint behind")
}

func seedBundle(t *testing.T, db *dbutil.DB, clock func() time.Time) string {
	t.Helper()
	ctx := context.Background()

	bySource := map[string]string{
		"onspd":         uuid.NewString(),
		"os_open_usrn":  uuid.NewString(),
		"os_open_names": uuid.NewString(),
		"os_open_roads": uuid.NewString(),
		"os_open_uprn":  uuid.NewString(),
		"os_open_lids":  uuid.NewString(),
		"nsul":          uuid.NewString(),
	}
	runs := make(map[string][]string, len(bySource))
	for source, runID := range bySource {
		_, err := db.Exec(`
			INSERT INTO ingest_run (run_id, source_name, source_version, retrieved_at_utc, record_count)
			VALUES ($1, $2, 'v1', now(), 100)
			ON CONFLICT (run_id) DO NOTHING
		`, runID, source)
		require.NoError(t, err)
		runs[source] = []string{runID}
	}

	res, err := bundle.CreateBundle(ctx, db, clock, bundle.Manifest{
		BuildProfile: model.ProfileGBCore,
		SourceRuns:   runs,
	})
	require.NoError(t, err)
	return res.Bundle.BundleID
}
