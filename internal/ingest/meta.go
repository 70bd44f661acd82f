// Package ingest implements the read-only ingest-run contract C3/C4/C5
// consume (§6), plus a thin write-side collaborator that satisfies the
// "ingest source --manifest" command surface named in §6 (source
// ingestion proper — raw row capture and manifest validation — is out of
// scope per §1; this package only stores what the pipeline needs to read
// back).
package ingest

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/ukpostal/refbuild/internal/dbutil"
	"github.com/ukpostal/refbuild/internal/errors"
)

// Run is one row of the external ingest_run metadata store (§6).
type Run struct {
	RunID         string    `db:"run_id"`
	SourceName    string    `db:"source_name"`
	SourceVersion string    `db:"source_version"`
	RetrievedAt   time.Time `db:"retrieved_at_utc"`
	RecordCount   int       `db:"record_count"`
}

// GetRun fetches a single ingest run by id. Returns an IngestError if it
// does not exist.
func GetRun(ctx context.Context, db *dbutil.DB, runID string) (*Run, error) {
	var run Run
	err := db.GetContext(ctx, &run, `
		SELECT run_id, source_name, source_version, retrieved_at_utc, record_count
		FROM ingest_run
		WHERE run_id = $1
	`, runID)
	if err == sql.ErrNoRows {
		return nil, errors.Ingest("ingest run %q not found", runID).WithContext("run_id", runID)
	}
	if err != nil {
		return nil, fmt.Errorf("query ingest run %s: %w", runID, err)
	}
	return &run, nil
}

// GetRuns fetches multiple ingest runs by id, preserving no particular
// order; callers that need ordering (e.g. ppd by retrieved_at) re-sort.
func GetRuns(ctx context.Context, db *dbutil.DB, runIDs []string) ([]Run, error) {
	if len(runIDs) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(`
		SELECT run_id, source_name, source_version, retrieved_at_utc, record_count
		FROM ingest_run
		WHERE run_id IN (?)
	`, runIDs)
	if err != nil {
		return nil, fmt.Errorf("build ingest run query: %w", err)
	}
	query = db.Rebind(query)

	var runs []Run
	if err := db.SelectContext(ctx, &runs, query, args...); err != nil {
		return nil, fmt.Errorf("query ingest runs: %w", err)
	}
	return runs, nil
}
