package stage

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/ukpostal/refbuild/internal/normalize"
	"github.com/ukpostal/refbuild/internal/schema"
)

type nsulRow struct {
	IngestRunID  string
	UPRN         int64
	PostcodeNorm string
}

// processNSUL implements the nsul staging rule (§4.5): integer uprn, a
// required postcode_norm — rows with no resolvable postcode are dropped.
func processNSUL(ctx context.Context, rawDB *sqlx.DB, tx *sqlx.Tx, binder *schema.Binder, _ *normalize.StreetCasefolder, buildRunID string, ingestRunIDs []string, batchSize int) (int, error) {
	convert := func(ingestRunID string, row RawRow) (nsulRow, bool) {
		uprnVal, ok := binder.FieldValue(row.Payload, "uprn")
		if !ok {
			return nsulRow{}, false
		}
		uprn, ok := asInt(uprnVal)
		if !ok {
			return nsulRow{}, false
		}
		pcVal, ok := binder.FieldValue(row.Payload, "postcode")
		if !ok {
			return nsulRow{}, false
		}
		pc := normalize.Postcode(asString(pcVal))
		if pc == "" {
			return nsulRow{}, false
		}
		return nsulRow{IngestRunID: ingestRunID, UPRN: uprn, PostcodeNorm: pc}, true
	}
	return streamSource(ctx, rawDB, tx, "nsul", ingestRunIDs, binder, batchSize, buildRunID, convert, flushNSUL)
}

func flushNSUL(ctx context.Context, tx *sqlx.Tx, buildRunID string, batch []nsulRow) error {
	const stmt = `
		INSERT INTO nsul_uprn_postcode (build_run_id, ingest_run_id, uprn, postcode_norm)
		VALUES (:build_run_id, :ingest_run_id, :uprn, :postcode_norm)
		ON CONFLICT (build_run_id, uprn) DO UPDATE SET
			ingest_run_id = EXCLUDED.ingest_run_id, postcode_norm = EXCLUDED.postcode_norm
	`
	for _, r := range batch {
		params := map[string]any{
			"build_run_id": buildRunID, "ingest_run_id": r.IngestRunID,
			"uprn": r.UPRN, "postcode_norm": r.PostcodeNorm,
		}
		if _, err := tx.NamedExecContext(ctx, stmt, params); err != nil {
			return fmt.Errorf("insert nsul_uprn_postcode %d: %w", r.UPRN, err)
		}
	}
	return nil
}
