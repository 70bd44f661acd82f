// Package publish implements C9: the publisher. Under a single
// transaction that locks the build run row it validates the run is
// ready, swaps the globally-visible API alias views onto this dataset
// version's projection tables, and records the publication (§4.9).
package publish

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/ukpostal/refbuild/internal/dbutil"
	"github.com/ukpostal/refbuild/internal/errors"
	"github.com/ukpostal/refbuild/internal/finalize"
	"github.com/ukpostal/refbuild/internal/model"
	"github.com/ukpostal/refbuild/internal/verify"
)

// Run executes C9 end to end for buildRunID, crediting actor as the
// publishing identity in dataset_publication. Returns the dataset
// version that was published.
func Run(ctx context.Context, db *dbutil.DB, buildRunID, actor string) (string, error) {
	var datasetVersion string
	err := dbutil.WithTx(ctx, db, func(tx *sqlx.Tx) error {
		var run struct {
			BundleID       string `db:"bundle_id"`
			DatasetVersion string `db:"dataset_version"`
			Status         string `db:"status"`
		}
		if err := tx.GetContext(ctx, &run, `
			SELECT bundle_id, dataset_version, status
			FROM build_run
			WHERE build_run_id = $1
			FOR UPDATE
		`, buildRunID); err != nil {
			return fmt.Errorf("publish: load build run: %w", err)
		}
		if run.Status != string(model.RunBuilt) && run.Status != string(model.RunPublished) {
			return errors.Build("build run %q has status %q, expected built or published", buildRunID, run.Status)
		}
		if err := verify.CheckProjectionsExist(ctx, tx, run.DatasetVersion); err != nil {
			return err
		}
		datasetVersion = run.DatasetVersion

		if err := swapAliases(ctx, tx, run.DatasetVersion); err != nil {
			return err
		}
		if err := recordPublication(ctx, tx, run.DatasetVersion, actor); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE build_run
			SET status = $1, finished_at_utc = COALESCE(finished_at_utc, now())
			WHERE build_run_id = $2
		`, string(model.RunPublished), buildRunID); err != nil {
			return fmt.Errorf("publish: mark build run published: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE bundle SET status = $1 WHERE bundle_id = $2`, string(model.BundlePublished), run.BundleID); err != nil {
			return fmt.Errorf("publish: mark bundle published: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return datasetVersion, nil
}

// swapAliases create-or-replaces the two globally-visible alias views so
// they select from this dataset version's projection tables (§4.9 step
// 2). A view, not a table rename, is what makes the swap atomic and
// instantaneous under the enclosing transaction.
func swapAliases(ctx context.Context, tx *sqlx.Tx, datasetVersion string) error {
	suffix := finalize.DatasetSuffix(datasetVersion)
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(
		`CREATE OR REPLACE VIEW api.postcode_lookup AS SELECT * FROM api.postcode_lookup__%s`, suffix,
	)); err != nil {
		return fmt.Errorf("publish: swap api.postcode_lookup alias: %w", err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(
		`CREATE OR REPLACE VIEW api.postcode_street_lookup AS SELECT * FROM api.postcode_street_lookup__%s`, suffix,
	)); err != nil {
		return fmt.Errorf("publish: swap api.postcode_street_lookup alias: %w", err)
	}
	return nil
}

// recordPublication upserts the dataset_publication row for this dataset
// version, recording the current transaction id and the publishing
// actor (§4.9 step 3). Rerunning publish for the same dataset version
// updates the row in place rather than creating a second one.
func recordPublication(ctx context.Context, tx *sqlx.Tx, datasetVersion, actor string) error {
	suffix := finalize.DatasetSuffix(datasetVersion)
	_, err := tx.ExecContext(ctx, `
		INSERT INTO dataset_publication
			(dataset_version, postcode_lookup_table, postcode_street_lookup_table, published_txid, published_by, published_at_utc)
		VALUES ($1, $2, $3, txid_current(), $4, now())
		ON CONFLICT (dataset_version) DO UPDATE SET
			postcode_lookup_table = EXCLUDED.postcode_lookup_table,
			postcode_street_lookup_table = EXCLUDED.postcode_street_lookup_table,
			published_txid = EXCLUDED.published_txid,
			published_by = EXCLUDED.published_by,
			published_at_utc = EXCLUDED.published_at_utc
	`, datasetVersion, fmt.Sprintf("postcode_lookup__%s", suffix), fmt.Sprintf("postcode_street_lookup__%s", suffix), actor)
	if err != nil {
		return fmt.Errorf("publish: upsert dataset_publication for %q: %w", datasetVersion, err)
	}
	return nil
}
