package stage

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/ukpostal/refbuild/internal/normalize"
	"github.com/ukpostal/refbuild/internal/schema"
)

type ppdRow struct {
	IngestRunID          string
	RowHash              string
	PostcodeNorm         string
	StreetNameRaw        string
	StreetNameCasefolded string
	HouseNumber          string
}

// processPPD implements the ppd staging rule (§4.5): keep only rows with
// a non-empty row_hash, a parseable postcode, and a non-empty street;
// house_number is trimmed and coerced to "" when missing. ingestRunIDs
// must already be ordered by retrieved_at_utc ASC, run_id ASC — the
// caller (Pass 0b's orderedRunIDs) guarantees this.
func processPPD(ctx context.Context, rawDB *sqlx.DB, tx *sqlx.Tx, binder *schema.Binder, caser *normalize.StreetCasefolder, buildRunID string, ingestRunIDs []string, batchSize int) (int, error) {
	convert := func(ingestRunID string, row RawRow) (ppdRow, bool) {
		hashVal, ok := binder.FieldValue(row.Payload, "row_hash")
		if !ok {
			return ppdRow{}, false
		}
		hash := asString(hashVal)
		if hash == "" {
			return ppdRow{}, false
		}

		pcVal, ok := binder.FieldValue(row.Payload, "postcode")
		if !ok {
			return ppdRow{}, false
		}
		pc := normalize.Postcode(asString(pcVal))
		if pc == "" {
			return ppdRow{}, false
		}

		street := fieldString(binder, row.Payload, "street_name")
		if street == "" {
			return ppdRow{}, false
		}

		return ppdRow{
			IngestRunID:          ingestRunID,
			RowHash:              hash,
			PostcodeNorm:         pc,
			StreetNameRaw:        street,
			StreetNameCasefolded: caser.Casefold(street),
			HouseNumber:          fieldString(binder, row.Payload, "house_number"),
		}, true
	}
	return streamSource(ctx, rawDB, tx, "ppd", ingestRunIDs, binder, batchSize, buildRunID, convert, flushPPD)
}

func flushPPD(ctx context.Context, tx *sqlx.Tx, buildRunID string, batch []ppdRow) error {
	const stmt = `
		INSERT INTO ppd_parsed_address (build_run_id, ingest_run_id, row_hash, postcode_norm, street_name_raw, street_name_casefolded, house_number)
		VALUES (:build_run_id, :ingest_run_id, :row_hash, :postcode_norm, :street_name_raw, :street_name_casefolded, :house_number)
		ON CONFLICT (build_run_id, ingest_run_id, row_hash) DO UPDATE SET
			postcode_norm = EXCLUDED.postcode_norm,
			street_name_raw = EXCLUDED.street_name_raw,
			street_name_casefolded = EXCLUDED.street_name_casefolded,
			house_number = EXCLUDED.house_number
	`
	for _, r := range batch {
		params := map[string]any{
			"build_run_id": buildRunID, "ingest_run_id": r.IngestRunID, "row_hash": r.RowHash,
			"postcode_norm": r.PostcodeNorm, "street_name_raw": r.StreetNameRaw,
			"street_name_casefolded": r.StreetNameCasefolded, "house_number": r.HouseNumber,
		}
		if _, err := tx.NamedExecContext(ctx, stmt, params); err != nil {
			return fmt.Errorf("insert ppd_parsed_address %s: %w", r.RowHash, err)
		}
	}
	return nil
}
