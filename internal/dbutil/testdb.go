package dbutil

import (
	"context"
	"os"
	"testing"
)

// OpenTestDB connects to the Postgres instance named by REFBUILD_TEST_DSN,
// skipping the calling test when it is unset or the connection fails.
// Every integration test in this module that needs a live database goes
// through this helper, mirroring the teacher's setupTestNeo4j pattern.
func OpenTestDB(t *testing.T) *DB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	dsn := os.Getenv("REFBUILD_TEST_DSN")
	if dsn == "" {
		t.Skip("REFBUILD_TEST_DSN not set, skipping integration test")
	}

	db, err := Open(context.Background(), dsn)
	if err != nil {
		t.Skipf("could not connect to test database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}
