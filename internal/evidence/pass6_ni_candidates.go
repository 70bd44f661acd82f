package evidence

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Pass6NICandidates implements §4.6 Pass 6's two sub-passes: direct OSNI
// candidates for every NI postcode, then a DFI-segment fallback for NI
// postcodes left with no candidate at all. The DFI statement runs after
// and in the same transaction as the OSNI insert, so its NOT-EXISTS
// suppression sees the OSNI rows just written.
func Pass6NICandidates(ctx context.Context, tx *sqlx.Tx, buildRunID string) (map[string]int, error) {
	osniRes, err := tx.ExecContext(ctx, `
		INSERT INTO postcode_street_candidates (
			build_run_id, postcode, street_name_raw, street_name_canonical, usrn,
			candidate_type, confidence, evidence_ref, source_name, ingest_run_id, evidence_json
		)
		SELECT
			$1, p.postcode, o.street_name, o.street_name_casefolded, NULL,
			'osni_gazetteer_direct', 'medium',
			'osni:feature:' || o.feature_id, 'osni_gazetteer', o.ingest_run_id,
			jsonb_build_object('feature_id', o.feature_id)
		FROM osni_street_point o
		JOIN postcodes p
			ON p.build_run_id = $1 AND p.subdivision_code = 'GB-NIR' AND o.postcode_norm = replace(p.postcode, ' ', '')
		WHERE o.build_run_id = $1 AND o.postcode_norm IS NOT NULL
		ORDER BY p.postcode ASC, o.feature_id ASC
	`, buildRunID)
	if err != nil {
		return nil, fmt.Errorf("pass 6a: insert osni_gazetteer_direct candidates: %w", err)
	}
	osniCount, err := osniRes.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("pass 6a: rows affected: %w", err)
	}

	dfiRes, err := tx.ExecContext(ctx, `
		WITH lacking AS (
			SELECT p.postcode, replace(p.postcode, ' ', '') AS postcode_norm
			FROM postcodes p
			WHERE p.build_run_id = $1
				AND p.subdivision_code = 'GB-NIR'
				AND NOT EXISTS (
					SELECT 1 FROM postcode_street_candidates c
					WHERE c.build_run_id = $1 AND c.postcode = p.postcode
				)
		),
		ranked AS (
			SELECT
				l.postcode, d.segment_id, d.street_name, d.street_name_casefolded, d.ingest_run_id,
				row_number() OVER (PARTITION BY l.postcode ORDER BY d.segment_id ASC) AS rn
			FROM lacking l
			JOIN dfi_road_segment d ON d.build_run_id = $1 AND d.postcode_norm = l.postcode_norm
		)
		INSERT INTO postcode_street_candidates (
			build_run_id, postcode, street_name_raw, street_name_canonical, usrn,
			candidate_type, confidence, evidence_ref, source_name, ingest_run_id, evidence_json
		)
		SELECT
			$1, postcode, street_name, street_name_casefolded, NULL,
			'spatial_dfi_highway', 'low',
			'dfi:segment:' || segment_id, 'dfi_highway', ingest_run_id,
			jsonb_build_object('segment_id', segment_id)
		FROM ranked
		WHERE rn = 1
		ORDER BY postcode ASC
	`, buildRunID)
	if err != nil {
		return nil, fmt.Errorf("pass 6b: insert spatial_dfi_highway candidates: %w", err)
	}
	dfiCount, err := dfiRes.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("pass 6b: rows affected: %w", err)
	}

	return map[string]int{
		"postcode_street_candidates_osni_gazetteer_direct": int(osniCount),
		"postcode_street_candidates_spatial_dfi_highway":    int(dfiCount),
	}, nil
}
