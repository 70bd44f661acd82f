package evidence

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Pass4UPRNReinforcement emits one candidate per (postcode, usrn) pair
// derivable by joining nsul against oli_uprn_usrn, carrying the
// supporting UPRN count in its evidence reference (§4.6 Pass 4).
func Pass4UPRNReinforcement(ctx context.Context, tx *sqlx.Tx, buildRunID string) (map[string]int, error) {
	res, err := tx.ExecContext(ctx, `
		WITH pairs AS (
			SELECT n.postcode_norm, o.usrn, count(*) AS uprn_count, min(n.ingest_run_id) AS ingest_run_id
			FROM nsul_uprn_postcode n
			JOIN oli_uprn_usrn o ON o.build_run_id = n.build_run_id AND o.uprn = n.uprn
			WHERE n.build_run_id = $1
			GROUP BY n.postcode_norm, o.usrn
		)
		INSERT INTO postcode_street_candidates (
			build_run_id, postcode, street_name_raw, street_name_canonical, usrn,
			candidate_type, confidence, evidence_ref, source_name, ingest_run_id, evidence_json
		)
		SELECT
			$1, p.postcode, su.street_name, su.street_name_casefolded, pr.usrn,
			'uprn_usrn', 'high',
			'oli:uprn_usrn:' || pr.uprn_count || '_uprns', 'nsul', pr.ingest_run_id,
			jsonb_build_object('usrn', pr.usrn, 'uprn_count', pr.uprn_count)
		FROM pairs pr
		JOIN postcodes p ON p.build_run_id = $1 AND replace(p.postcode, ' ', '') = pr.postcode_norm
		JOIN streets_usrn su ON su.build_run_id = $1 AND su.usrn = pr.usrn
		ORDER BY p.postcode ASC, pr.usrn ASC
	`, buildRunID)
	if err != nil {
		return nil, fmt.Errorf("pass 4: insert uprn_usrn candidates: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("pass 4: rows affected: %w", err)
	}
	return map[string]int{"postcode_street_candidates_uprn_usrn": int(n)}, nil
}
