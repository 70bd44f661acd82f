package stage

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/ukpostal/refbuild/internal/normalize"
	"github.com/ukpostal/refbuild/internal/schema"
)

type usrnRow struct {
	IngestRunID          string
	USRN                 int64
	StreetName           string
	StreetNameCasefolded string
}

// processUSRN implements the os_open_usrn staging rule (§4.5): integer
// usrn key plus raw and casefolded street name.
func processUSRN(ctx context.Context, rawDB *sqlx.DB, tx *sqlx.Tx, binder *schema.Binder, caser *normalize.StreetCasefolder, buildRunID string, ingestRunIDs []string, batchSize int) (int, error) {
	convert := func(ingestRunID string, row RawRow) (usrnRow, bool) {
		usrnVal, ok := binder.FieldValue(row.Payload, "usrn")
		if !ok {
			return usrnRow{}, false
		}
		usrn, ok := asInt(usrnVal)
		if !ok {
			return usrnRow{}, false
		}
		name := fieldString(binder, row.Payload, "street_name")
		if name == "" {
			return usrnRow{}, false
		}
		return usrnRow{
			IngestRunID:          ingestRunID,
			USRN:                 usrn,
			StreetName:           name,
			StreetNameCasefolded: caser.Casefold(name),
		}, true
	}
	return streamSource(ctx, rawDB, tx, "os_open_usrn", ingestRunIDs, binder, batchSize, buildRunID, convert, flushUSRN)
}

func flushUSRN(ctx context.Context, tx *sqlx.Tx, buildRunID string, batch []usrnRow) error {
	const stmt = `
		INSERT INTO streets_usrn_input (build_run_id, ingest_run_id, usrn, street_name, street_name_casefolded)
		VALUES (:build_run_id, :ingest_run_id, :usrn, :street_name, :street_name_casefolded)
		ON CONFLICT (build_run_id, usrn) DO UPDATE SET
			ingest_run_id = EXCLUDED.ingest_run_id,
			street_name = EXCLUDED.street_name,
			street_name_casefolded = EXCLUDED.street_name_casefolded
	`
	for _, r := range batch {
		params := map[string]any{
			"build_run_id": buildRunID, "ingest_run_id": r.IngestRunID,
			"usrn": r.USRN, "street_name": r.StreetName, "street_name_casefolded": r.StreetNameCasefolded,
		}
		if _, err := tx.NamedExecContext(ctx, stmt, params); err != nil {
			return fmt.Errorf("insert streets_usrn_input for usrn %d: %w", r.USRN, err)
		}
	}
	return nil
}
