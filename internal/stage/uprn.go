package stage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/ukpostal/refbuild/internal/normalize"
	"github.com/ukpostal/refbuild/internal/schema"
)

type uprnRow struct {
	IngestRunID  string
	UPRN         int64
	PostcodeNorm sql.NullString
}

// processUPRN implements the os_open_uprn staging rule (§4.5): integer
// uprn, optional postcode_norm.
func processUPRN(ctx context.Context, rawDB *sqlx.DB, tx *sqlx.Tx, binder *schema.Binder, _ *normalize.StreetCasefolder, buildRunID string, ingestRunIDs []string, batchSize int) (int, error) {
	convert := func(ingestRunID string, row RawRow) (uprnRow, bool) {
		uprnVal, ok := binder.FieldValue(row.Payload, "uprn")
		if !ok {
			return uprnRow{}, false
		}
		uprn, ok := asInt(uprnVal)
		if !ok {
			return uprnRow{}, false
		}
		r := uprnRow{IngestRunID: ingestRunID, UPRN: uprn}
		if v, ok := binder.FieldValue(row.Payload, "postcode"); ok {
			if pc := normalize.Postcode(asString(v)); pc != "" {
				r.PostcodeNorm = sql.NullString{String: pc, Valid: true}
			}
		}
		return r, true
	}
	return streamSource(ctx, rawDB, tx, "os_open_uprn", ingestRunIDs, binder, batchSize, buildRunID, convert, flushUPRN)
}

func flushUPRN(ctx context.Context, tx *sqlx.Tx, buildRunID string, batch []uprnRow) error {
	const stmt = `
		INSERT INTO uprn_point (build_run_id, ingest_run_id, uprn, postcode_norm)
		VALUES (:build_run_id, :ingest_run_id, :uprn, :postcode_norm)
		ON CONFLICT (build_run_id, uprn) DO UPDATE SET
			ingest_run_id = EXCLUDED.ingest_run_id,
			postcode_norm = EXCLUDED.postcode_norm
	`
	for _, r := range batch {
		params := map[string]any{
			"build_run_id": buildRunID, "ingest_run_id": r.IngestRunID,
			"uprn": r.UPRN, "postcode_norm": r.PostcodeNorm,
		}
		if _, err := tx.NamedExecContext(ctx, stmt, params); err != nil {
			return fmt.Errorf("insert uprn_point %d: %w", r.UPRN, err)
		}
	}
	return nil
}
