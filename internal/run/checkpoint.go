package run

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/ukpostal/refbuild/internal/dbutil"
	"github.com/ukpostal/refbuild/internal/model"
)

// Checkpoint is a persisted row of build_pass_checkpoint (§3). Uniqueness
// on (build_run_id, pass_name); upsert on retry.
type Checkpoint struct {
	BuildRunID      string
	PassName        string
	CompletedAt     time.Time
	RowCountSummary map[string]int
}

// CheckpointExists reports whether a checkpoint row already exists for
// (buildRunID, pass), used by the controller to decide whether to skip a
// pass on resume (§4.4, §5).
func CheckpointExists(ctx context.Context, db *dbutil.DB, buildRunID string, pass model.PassName) (bool, error) {
	var n int
	err := db.GetContext(ctx, &n, `
		SELECT COUNT(*) FROM build_pass_checkpoint WHERE build_run_id = $1 AND pass_name = $2
	`, buildRunID, pass)
	if err != nil {
		return false, fmt.Errorf("check checkpoint existence: %w", err)
	}
	return n > 0, nil
}

// WriteCheckpoint upserts the checkpoint row for (buildRunID, pass) inside
// tx, the same transaction the pass's output rows were written in — this
// is what makes "one commit per pass" durable.
func WriteCheckpoint(ctx context.Context, tx *sqlx.Tx, buildRunID string, pass model.PassName, now time.Time, rowCounts map[string]int) error {
	summary, err := json.Marshal(rowCounts)
	if err != nil {
		return fmt.Errorf("marshal row_count_summary: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO build_pass_checkpoint (build_run_id, pass_name, completed_at_utc, row_count_summary)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (build_run_id, pass_name)
		DO UPDATE SET completed_at_utc = EXCLUDED.completed_at_utc, row_count_summary = EXCLUDED.row_count_summary
	`, buildRunID, pass, now, summary)
	if err != nil {
		return fmt.Errorf("upsert checkpoint for pass %s: %w", pass, err)
	}
	return nil
}

// Checkpoints lists all checkpoints recorded for a build run, ordered by
// completion time — used by `build status`.
func Checkpoints(ctx context.Context, db *dbutil.DB, buildRunID string) ([]Checkpoint, error) {
	type row struct {
		BuildRunID  string    `db:"build_run_id"`
		PassName    string    `db:"pass_name"`
		CompletedAt time.Time `db:"completed_at_utc"`
		Summary     []byte    `db:"row_count_summary"`
	}
	var rows []row
	err := db.SelectContext(ctx, &rows, `
		SELECT build_run_id, pass_name, completed_at_utc, row_count_summary
		FROM build_pass_checkpoint
		WHERE build_run_id = $1
		ORDER BY completed_at_utc ASC
	`, buildRunID)
	if err != nil {
		return nil, fmt.Errorf("query checkpoints for %s: %w", buildRunID, err)
	}

	out := make([]Checkpoint, 0, len(rows))
	for _, r := range rows {
		var summary map[string]int
		if len(r.Summary) > 0 {
			if err := json.Unmarshal(r.Summary, &summary); err != nil {
				return nil, fmt.Errorf("unmarshal row_count_summary for pass %s: %w", r.PassName, err)
			}
		}
		out = append(out, Checkpoint{
			BuildRunID:      r.BuildRunID,
			PassName:        r.PassName,
			CompletedAt:     r.CompletedAt,
			RowCountSummary: summary,
		})
	}
	return out, nil
}

