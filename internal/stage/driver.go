package stage

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/ukpostal/refbuild/internal/schema"
)

// streamSource drives the common shape of §4.5 step 2-4 for one source:
// open a cursor per ingest run (ppd's caller supplies them pre-ordered by
// retrieved_at_utc then run_id), verify the binder on the very first row,
// convert and buffer rows, and flush at batchSize boundaries. Returns the
// number of rows actually written (rows dropped by convert don't count).
func streamSource[T any](
	ctx context.Context,
	rawDB *sqlx.DB,
	tx *sqlx.Tx,
	source string,
	ingestRunIDs []string,
	binder *schema.Binder,
	batchSize int,
	buildRunID string,
	convert func(ingestRunID string, row RawRow) (T, bool),
	flush func(ctx context.Context, tx *sqlx.Tx, buildRunID string, batch []T) error,
) (int, error) {
	verifiedOnce := false
	var batch []T
	total := 0

	for _, runID := range ingestRunIDs {
		cur, err := NewCursor(rawDB, source, runID, batchSize)
		if err != nil {
			return 0, err
		}

		err = cur.Each(ctx, func(rows []RawRow) error {
			for _, row := range rows {
				if !verifiedOnce {
					if err := binder.VerifyAgainstRow(row.Payload); err != nil {
						return err
					}
					verifiedOnce = true
				}

				item, ok := convert(runID, row)
				if !ok {
					continue
				}
				batch = append(batch, item)
				if len(batch) >= batchSize {
					if err := flush(ctx, tx, buildRunID, batch); err != nil {
						return err
					}
					total += len(batch)
					batch = batch[:0]
				}
			}
			return nil
		})
		if err != nil {
			return 0, err
		}
	}

	if len(batch) > 0 {
		if err := flush(ctx, tx, buildRunID, batch); err != nil {
			return 0, err
		}
		total += len(batch)
	}

	return total, nil
}
