package migrate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ukpostal/refbuild/internal/dbutil"
	"github.com/ukpostal/refbuild/internal/logging"
)

func TestSplitSQLStatements(t *testing.T) {
	content := "-- comment\nCREATE TABLE a (x int);\n\nCREATE TABLE b (\n\ty int\n);\n"
	stmts := splitSQLStatements(content)
	require.Len(t, stmts, 2)
	assert.Contains(t, stmts[0], "CREATE TABLE a")
	assert.Contains(t, stmts[1], "CREATE TABLE b")
}

func TestRun_AppliesAllFilesAndIsIdempotent(t *testing.T) {
	db := dbutil.OpenTestDB(t)
	ctx := context.Background()
	log, err := logging.NewLogger(logging.DefaultConfig(true))
	require.NoError(t, err)

	require.NoError(t, Run(ctx, db, log))

	var tableCount int
	require.NoError(t, db.Get(&tableCount, `
		SELECT count(*) FROM information_schema.tables
		WHERE table_schema = 'public' AND table_name = 'build_run'
	`))
	assert.Equal(t, 1, tableCount)

	var versionCount int
	require.NoError(t, db.Get(&versionCount, `SELECT count(*) FROM schema_migrations`))
	assert.Greater(t, versionCount, 0)

	require.NoError(t, Run(ctx, db, log))
	var versionCountAfter int
	require.NoError(t, db.Get(&versionCountAfter, `SELECT count(*) FROM schema_migrations`))
	assert.Equal(t, versionCount, versionCountAfter)
}
