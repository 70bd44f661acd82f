package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ukpostal/refbuild/internal/dbutil"
)

func TestStore_CreatesRunAndRawRows(t *testing.T) {
	db := dbutil.OpenTestDB(t)
	ctx := context.Background()
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	result, err := Store(ctx, db, func() time.Time { return fixed }, SourceManifest{
		SourceName:    "onspd",
		SourceVersion: "2026-01",
		Rows: []map[string]any{
			{"postcode": "AA1 1AA", "status": "live"},
			{"postcode": "AA1 1AB", "status": "live"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.RecordCount)

	run, err := GetRun(ctx, db, result.RunID)
	require.NoError(t, err)
	assert.Equal(t, "onspd", run.SourceName)
	assert.Equal(t, "2026-01", run.SourceVersion)
	assert.Equal(t, 2, run.RecordCount)
	assert.True(t, run.RetrievedAt.Equal(fixed))

	var rowCount int
	require.NoError(t, db.Get(&rowCount, `SELECT count(*) FROM raw.onspd_row WHERE ingest_run_id = $1`, result.RunID))
	assert.Equal(t, 2, rowCount)
}

func TestGetRun_NotFound(t *testing.T) {
	db := dbutil.OpenTestDB(t)
	_, err := GetRun(context.Background(), db, "00000000-0000-0000-0000-000000000000")
	assert.Error(t, err)
}

func TestGetRuns_EmptyInputReturnsNil(t *testing.T) {
	db := dbutil.OpenTestDB(t)
	runs, err := GetRuns(context.Background(), db, nil)
	require.NoError(t, err)
	assert.Nil(t, runs)
}
