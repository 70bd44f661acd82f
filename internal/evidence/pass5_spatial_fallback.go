package evidence

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Pass5GBSpatialFallback emits a single low-confidence candidate for
// every GB postcode still lacking a high-confidence candidate, picking
// the lowest-ordered matching open_roads_segment (§4.6 Pass 5).
func Pass5GBSpatialFallback(ctx context.Context, tx *sqlx.Tx, buildRunID string) (map[string]int, error) {
	res, err := tx.ExecContext(ctx, `
		WITH lacking AS (
			SELECT p.postcode, replace(p.postcode, ' ', '') AS postcode_norm
			FROM postcodes p
			WHERE p.build_run_id = $1
				AND p.country_iso2 = 'GB'
				AND NOT EXISTS (
					SELECT 1 FROM postcode_street_candidates c
					WHERE c.build_run_id = $1 AND c.postcode = p.postcode AND c.confidence = 'high'
				)
		),
		ranked AS (
			SELECT
				l.postcode, r.segment_id, r.road_name, r.road_name_casefolded, r.usrn, r.ingest_run_id,
				row_number() OVER (PARTITION BY l.postcode ORDER BY r.segment_id ASC) AS rn
			FROM lacking l
			JOIN open_roads_segment r ON r.build_run_id = $1 AND r.postcode_norm = l.postcode_norm
		)
		INSERT INTO postcode_street_candidates (
			build_run_id, postcode, street_name_raw, street_name_canonical, usrn,
			candidate_type, confidence, evidence_ref, source_name, ingest_run_id, evidence_json
		)
		SELECT
			$1, postcode, road_name, road_name_casefolded, usrn,
			'spatial_os_open_roads', 'low',
			'open_roads:segment:' || segment_id, 'os_open_roads', ingest_run_id,
			jsonb_build_object('segment_id', segment_id)
		FROM ranked
		WHERE rn = 1
		ORDER BY postcode ASC
	`, buildRunID)
	if err != nil {
		return nil, fmt.Errorf("pass 5: insert spatial fallback candidates: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("pass 5: rows affected: %w", err)
	}
	return map[string]int{"postcode_street_candidates_spatial_os_open_roads": int(n)}, nil
}
