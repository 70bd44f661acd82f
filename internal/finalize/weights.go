package finalize

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// prepareWeightedCandidates loads the configured weight table into a
// session-local temporary table and joins it against every candidate row
// for this build run into a second temporary table, resolving each
// candidate's canonical street name and confidence rank up front (§4.7
// step 1, §5 "session-local temporary tables for weights and weighted
// candidates").
func prepareWeightedCandidates(ctx context.Context, tx *sqlx.Tx, buildRunID string, weights map[string]float64) error {
	if _, err := tx.ExecContext(ctx, `
		CREATE TEMP TABLE weight_table (
			candidate_type text PRIMARY KEY,
			weight numeric(10,4) NOT NULL
		) ON COMMIT DROP
	`); err != nil {
		return fmt.Errorf("finalize: create weight_table: %w", err)
	}
	for candidateType, weight := range weights {
		if _, err := tx.ExecContext(ctx, `INSERT INTO weight_table (candidate_type, weight) VALUES ($1, $2)`, candidateType, weight); err != nil {
			return fmt.Errorf("finalize: insert weight for %q: %w", candidateType, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		CREATE TEMP TABLE weighted_candidates ON COMMIT DROP AS
		SELECT
			c.candidate_id,
			c.postcode,
			COALESCE(su.street_name, c.street_name_canonical) AS canonical_street_name,
			CASE c.confidence WHEN 'high' THEN 3 WHEN 'medium' THEN 2 ELSE 1 END AS conf_rank,
			w.weight AS weight,
			c.usrn,
			c.source_name,
			c.ingest_run_id,
			c.candidate_type
		FROM postcode_street_candidates c
		JOIN weight_table w ON w.candidate_type = c.candidate_type
		LEFT JOIN streets_usrn su ON su.build_run_id = $1 AND su.usrn = c.usrn
		WHERE c.build_run_id = $1
	`, buildRunID); err != nil {
		return fmt.Errorf("finalize: create weighted_candidates: %w", err)
	}
	return nil
}
