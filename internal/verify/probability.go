// Package verify implements C8: the post-build verifier. It enforces the
// probability sum-to-one invariant, checks the versioned API projection
// tables exist, and recomputes deterministic per-object row hashes
// (§4.8).
package verify

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	pipelineerrors "github.com/ukpostal/refbuild/internal/errors"
)

// CheckProbabilitySum enforces §4.8 step 1: every postcode's final
// streets must sum to exactly 1.0000. Postgres's numeric type sums
// exactly, so this comparison never suffers float drift. Fails on the
// first violating postcode (by postcode order).
func CheckProbabilitySum(ctx context.Context, tx *sqlx.Tx, buildRunID string) error {
	var bad struct {
		Postcode string  `db:"postcode"`
		Sum      float64 `db:"sum"`
	}
	err := tx.GetContext(ctx, &bad, `
		SELECT postcode, SUM(probability) AS sum
		FROM postcode_streets_final
		WHERE build_run_id = $1
		GROUP BY postcode
		HAVING SUM(probability) <> 1.0000
		ORDER BY postcode ASC
		LIMIT 1
	`, buildRunID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return err
	}
	return pipelineerrors.Verification("postcode %q: probability sum %.4f, expected 1.0000", bad.Postcode, bad.Sum).
		WithContext("postcode", bad.Postcode)
}
