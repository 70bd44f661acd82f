package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/ukpostal/refbuild/internal/dbutil"
)

// SourceManifest is the input to the supplemental "ingest source" command:
// a source name, its version label, and the raw rows to capture, each a
// flat key/value payload matching the shape raw.<source>_row.payload_jsonb
// expects (§6).
type SourceManifest struct {
	SourceName    string
	SourceVersion string
	Rows          []map[string]any
}

// Result reports the ingest run created and how many rows were stored.
type Result struct {
	RunID       string
	RecordCount int
}

// Store creates an ingest_run row and the corresponding raw.<source>_row
// rows in one transaction, assigning stable, monotonically increasing
// source_row_num values so downstream cursors (§4.5) read a deterministic
// order.
func Store(ctx context.Context, db *dbutil.DB, clock func() time.Time, m SourceManifest) (*Result, error) {
	if clock == nil {
		clock = time.Now
	}
	runID := uuid.NewString()
	retrievedAt := clock().UTC()

	err := dbutil.WithTx(ctx, db, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO ingest_run (run_id, source_name, source_version, retrieved_at_utc, record_count)
			VALUES ($1, $2, $3, $4, $5)
		`, runID, m.SourceName, m.SourceVersion, retrievedAt, len(m.Rows))
		if err != nil {
			return fmt.Errorf("insert ingest_run: %w", err)
		}

		table := fmt.Sprintf("raw.%s_row", m.SourceName)
		for i, row := range m.Rows {
			payload, err := json.Marshal(row)
			if err != nil {
				return fmt.Errorf("marshal raw row %d: %w", i, err)
			}
			_, err = tx.ExecContext(ctx, fmt.Sprintf(`
				INSERT INTO %s (ingest_run_id, source_row_num, payload_jsonb)
				VALUES ($1, $2, $3)
			`, table), runID, i, payload)
			if err != nil {
				return fmt.Errorf("insert raw row %d: %w", i, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &Result{RunID: runID, RecordCount: len(m.Rows)}, nil
}
