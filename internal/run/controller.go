package run

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/ukpostal/refbuild/internal/bundle"
	"github.com/ukpostal/refbuild/internal/dbutil"
	"github.com/ukpostal/refbuild/internal/errors"
	"github.com/ukpostal/refbuild/internal/logging"
	"github.com/ukpostal/refbuild/internal/model"
)

// PassHandler executes one pass's set operations against tx, scoped to
// buildRunID, and returns the per-table row counts for the checkpoint
// summary (§3, §4.4).
type PassHandler func(ctx context.Context, tx *sqlx.Tx, buildRunID string) (rowCounts map[string]int, err error)

// Handlers maps each fixed pass name to its handler. Every entry in
// model.PassOrder must be present.
type Handlers map[model.PassName]PassHandler

// Dispatch runs every pass in model.PassOrder against buildRunID,
// skipping passes whose checkpoint already exists (resumability, §4.4/§5),
// committing one transaction per pass, and recording failure in a
// dedicated short transaction on error (§4.4, §7).
func Dispatch(ctx context.Context, db *dbutil.DB, log *logging.Logger, r *BuildRun, handlers Handlers, clock func() time.Time) error {
	if clock == nil {
		clock = time.Now
	}

	for _, pass := range model.PassOrder {
		handler, ok := handlers[pass]
		if !ok {
			return errors.Build("no handler registered for pass %q", pass)
		}

		done, err := CheckpointExists(ctx, db, r.BuildRunID, pass)
		if err != nil {
			return err
		}
		if done {
			logging.ForPass(log, r.BuildRunID, string(pass)).Info("skipping pass, checkpoint present")
			continue
		}

		if err := setCurrentPass(ctx, db, r.BuildRunID, pass); err != nil {
			return err
		}
		r.CurrentPass = string(pass)

		passLog := logging.ForPass(log, r.BuildRunID, string(pass))
		passLog.Info("starting pass")

		now := clock().UTC()
		err = dbutil.WithTx(ctx, db, func(tx *sqlx.Tx) error {
			rowCounts, err := handler(ctx, tx, r.BuildRunID)
			if err != nil {
				return err
			}
			return WriteCheckpoint(ctx, tx, r.BuildRunID, pass, now, rowCounts)
		})
		if err != nil {
			failErr := markFailed(ctx, db, r, pass, err, clock().UTC())
			if failErr != nil {
				return fmt.Errorf("pass %s failed (%v) and marking run failed also failed: %w", pass, err, failErr)
			}
			return err
		}

		passLog.Info("completed pass")
	}

	return markBuilt(ctx, db, r, clock().UTC())
}

func setCurrentPass(ctx context.Context, db *dbutil.DB, buildRunID string, pass model.PassName) error {
	_, err := db.ExecContext(ctx, `UPDATE build_run SET current_pass = $1 WHERE build_run_id = $2`, pass, buildRunID)
	if err != nil {
		return fmt.Errorf("set current_pass for %s: %w", buildRunID, err)
	}
	return nil
}

// markFailed rolls the run into status=failed with the failing pass and
// error text, in its own short transaction per §4.4/§7 — the current
// pass's transaction has already been rolled back by dbutil.WithTx by the
// time this runs.
func markFailed(ctx context.Context, db *dbutil.DB, r *BuildRun, pass model.PassName, cause error, now time.Time) error {
	return dbutil.Short(ctx, db, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE build_run
			SET status = $1, current_pass = $2, finished_at_utc = $3, error_text = $4
			WHERE build_run_id = $5
		`, model.RunFailed, pass, now, cause.Error(), r.BuildRunID)
		if err != nil {
			return fmt.Errorf("mark build_run %s failed: %w", r.BuildRunID, err)
		}
		r.Status = model.RunFailed
		r.FinishedAt.Time = now
		r.FinishedAt.Valid = true
		r.ErrorText.String = cause.Error()
		r.ErrorText.Valid = true
		return nil
	})
}

func markBuilt(ctx context.Context, db *dbutil.DB, r *BuildRun, now time.Time) error {
	return dbutil.WithTx(ctx, db, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE build_run
			SET status = $1, current_pass = $2, finished_at_utc = $3
			WHERE build_run_id = $4
		`, model.RunBuilt, model.PassComplete, now, r.BuildRunID)
		if err != nil {
			return fmt.Errorf("mark build_run %s built: %w", r.BuildRunID, err)
		}
		if err := bundle.SetStatus(ctx, tx, r.BundleID, model.BundleBuilt); err != nil {
			return err
		}
		r.Status = model.RunBuilt
		r.CurrentPass = string(model.PassComplete)
		r.FinishedAt.Time = now
		r.FinishedAt.Valid = true
		return nil
	})
}
