// Package run implements the run controller (C4, §4.4): opening and
// resuming build runs, dispatching passes in fixed order with per-pass
// checkpoints, and driving the transactional boundaries the rest of the
// pipeline commits through.
package run

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/ukpostal/refbuild/internal/bundle"
	"github.com/ukpostal/refbuild/internal/dbutil"
	"github.com/ukpostal/refbuild/internal/errors"
	"github.com/ukpostal/refbuild/internal/model"
)

// BuildRun is a persisted row of the build_run table (§3).
type BuildRun struct {
	BuildRunID     string         `db:"build_run_id"`
	BundleID       string         `db:"bundle_id"`
	DatasetVersion string         `db:"dataset_version"`
	Status         model.RunStatus `db:"status"`
	CurrentPass    string         `db:"current_pass"`
	StartedAt      time.Time      `db:"started_at_utc"`
	FinishedAt     sql.NullTime   `db:"finished_at_utc"`
	ErrorText      sql.NullString `db:"error_text"`
}

// OpenRun implements §4.4's open_run: rebuild and resume are mutually
// exclusive. resume reattaches to the most recent started|failed run;
// rebuild reattaches to the most recent run of any status and wipes its
// outputs and checkpoints; otherwise a brand new run is opened.
func OpenRun(ctx context.Context, db *dbutil.DB, clock func() time.Time, bundleID string, rebuild, resume bool) (*BuildRun, error) {
	if clock == nil {
		clock = time.Now
	}
	if rebuild && resume {
		return nil, errors.Build("--rebuild and --resume are mutually exclusive")
	}

	if resume {
		r, err := mostRecentRunByStatus(ctx, db, bundleID, model.RunStarted, model.RunFailed)
		if err != nil {
			return nil, err
		}
		if r == nil {
			return nil, errors.Build("no started or failed run to resume for bundle %q", bundleID).WithContext("bundle_id", bundleID)
		}
		return r, nil
	}

	if rebuild {
		r, err := mostRecentRun(ctx, db, bundleID)
		if err != nil {
			return nil, err
		}
		if r == nil {
			return nil, errors.Build("no existing run to rebuild for bundle %q", bundleID).WithContext("bundle_id", bundleID)
		}
		if err := wipeRunOutputs(ctx, db, r.BuildRunID); err != nil {
			return nil, err
		}
		if err := resetRunForRebuild(ctx, db, r.BuildRunID, clock().UTC()); err != nil {
			return nil, err
		}
		r.Status = model.RunStarted
		r.CurrentPass = string(model.PassInitialising)
		r.FinishedAt = sql.NullTime{}
		r.ErrorText = sql.NullString{}
		return r, nil
	}

	b, err := bundle.Get(ctx, db, bundleID)
	if err != nil {
		return nil, err
	}

	r := &BuildRun{
		BuildRunID:     uuid.NewString(),
		BundleID:       bundleID,
		DatasetVersion: model.DatasetVersion(b.BundleHash),
		Status:         model.RunStarted,
		CurrentPass:    string(model.PassInitialising),
		StartedAt:      clock().UTC(),
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO build_run (build_run_id, bundle_id, dataset_version, status, current_pass, started_at_utc)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, r.BuildRunID, r.BundleID, r.DatasetVersion, r.Status, r.CurrentPass, r.StartedAt)
	if err != nil {
		return nil, fmt.Errorf("insert build_run: %w", err)
	}
	return r, nil
}

// Get loads a build run by id.
func Get(ctx context.Context, db *dbutil.DB, buildRunID string) (*BuildRun, error) {
	var r BuildRun
	err := db.GetContext(ctx, &r, `
		SELECT build_run_id, bundle_id, dataset_version, status, current_pass, started_at_utc, finished_at_utc, error_text
		FROM build_run WHERE build_run_id = $1
	`, buildRunID)
	if err == sql.ErrNoRows {
		return nil, errors.Build("build run %q not found", buildRunID).WithContext("build_run_id", buildRunID)
	}
	if err != nil {
		return nil, fmt.Errorf("query build_run %s: %w", buildRunID, err)
	}
	return &r, nil
}

func mostRecentRunByStatus(ctx context.Context, db *dbutil.DB, bundleID string, statuses ...model.RunStatus) (*BuildRun, error) {
	query, args, err := sqlx.In(`
		SELECT build_run_id, bundle_id, dataset_version, status, current_pass, started_at_utc, finished_at_utc, error_text
		FROM build_run
		WHERE bundle_id = ? AND status IN (?)
		ORDER BY started_at_utc DESC
		LIMIT 1
	`, bundleID, statuses)
	if err != nil {
		return nil, fmt.Errorf("build most-recent-run query: %w", err)
	}
	query = db.Rebind(query)

	var r BuildRun
	err = db.GetContext(ctx, &r, query, args...)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query most recent run: %w", err)
	}
	return &r, nil
}

func mostRecentRun(ctx context.Context, db *dbutil.DB, bundleID string) (*BuildRun, error) {
	var r BuildRun
	err := db.GetContext(ctx, &r, `
		SELECT build_run_id, bundle_id, dataset_version, status, current_pass, started_at_utc, finished_at_utc, error_text
		FROM build_run
		WHERE bundle_id = $1
		ORDER BY started_at_utc DESC
		LIMIT 1
	`, bundleID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query most recent run: %w", err)
	}
	return &r, nil
}

func resetRunForRebuild(ctx context.Context, db *dbutil.DB, buildRunID string, now time.Time) error {
	_, err := db.ExecContext(ctx, `
		UPDATE build_run
		SET status = $1, current_pass = $2, finished_at_utc = NULL, error_text = NULL, started_at_utc = $3
		WHERE build_run_id = $4
	`, model.RunStarted, model.PassInitialising, now, buildRunID)
	if err != nil {
		return fmt.Errorf("reset build_run %s for rebuild: %w", buildRunID, err)
	}
	return nil
}

// wipeRunOutputs deletes every output row owned by buildRunID in the
// children-first order from §4.4, plus its checkpoints.
func wipeRunOutputs(ctx context.Context, db *dbutil.DB, buildRunID string) error {
	return dbutil.WithTx(ctx, db, func(tx *sqlx.Tx) error {
		for _, table := range model.RebuildDeleteOrder {
			query := fmt.Sprintf(`DELETE FROM %s WHERE build_run_id = $1`, table)
			if table == "postcode_streets_final_source" || table == "postcode_streets_final_candidate" {
				// These link tables carry no build_run_id; their rows belong to
				// the run through final_id.
				query = fmt.Sprintf(`DELETE FROM %s WHERE final_id IN (SELECT final_id FROM postcode_streets_final WHERE build_run_id = $1)`, table)
			}
			if _, err := tx.ExecContext(ctx, query, buildRunID); err != nil {
				return fmt.Errorf("delete from %s for run %s: %w", table, buildRunID, err)
			}
		}
		return nil
	})
}
