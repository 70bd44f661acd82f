package verify

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/ukpostal/refbuild/internal/dbutil"
	"github.com/ukpostal/refbuild/internal/errors"
)

// Run executes C8 end to end for a build run whose status is "built" or
// "published" (§4.8): the probability invariant, projection existence,
// canonical hashing, then a delete-then-insert of canonical_hash rows,
// all under one transaction.
func Run(ctx context.Context, db *dbutil.DB, buildRunID string) (map[string]ObjectHash, error) {
	var hashes map[string]ObjectHash
	err := dbutil.WithTx(ctx, db, func(tx *sqlx.Tx) error {
		var run struct {
			Status         string `db:"status"`
			DatasetVersion string `db:"dataset_version"`
		}
		if err := tx.GetContext(ctx, &run, `SELECT status, dataset_version FROM build_run WHERE build_run_id = $1`, buildRunID); err != nil {
			return fmt.Errorf("verify: load build run: %w", err)
		}
		if run.Status != "built" && run.Status != "published" {
			return errors.Verification("build run %q has status %q, expected built or published", buildRunID, run.Status)
		}

		if err := CheckProbabilitySum(ctx, tx, buildRunID); err != nil {
			return err
		}
		if err := CheckProjectionsExist(ctx, tx, run.DatasetVersion); err != nil {
			return err
		}

		h, err := HashAll(ctx, tx, buildRunID, run.DatasetVersion)
		if err != nil {
			return err
		}
		hashes = h

		if err := persistHashes(ctx, tx, buildRunID, h); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return hashes, nil
}

func persistHashes(ctx context.Context, tx *sqlx.Tx, buildRunID string, hashes map[string]ObjectHash) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM canonical_hash WHERE build_run_id = $1`, buildRunID); err != nil {
		return fmt.Errorf("verify: clear prior canonical_hash rows: %w", err)
	}
	for name, h := range hashes {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO canonical_hash (build_run_id, object_name, row_count, hash_hex)
			VALUES ($1, $2, $3, $4)
		`, buildRunID, name, h.RowCount, h.HashHex); err != nil {
			return fmt.Errorf("verify: insert canonical_hash for %q: %w", name, err)
		}
	}
	return nil
}
