package evidence

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Pass3OpenNamesCandidates implements §4.6 Pass 3's two stages: a base
// candidate per (postcode, Open Names feature) whose postcode_norm
// matches a canonical postcode, then an append-only promotion for every
// base candidate whose TOID resolves through oli_toid_usrn — each
// promotion is a brand new candidate row plus a lineage edge, never a
// mutation of the parent.
func Pass3OpenNamesCandidates(ctx context.Context, tx *sqlx.Tx, buildRunID string) (map[string]int, error) {
	baseRes, err := tx.ExecContext(ctx, `
		INSERT INTO postcode_street_candidates (
			build_run_id, postcode, street_name_raw, street_name_canonical, usrn,
			candidate_type, confidence, evidence_ref, source_name, ingest_run_id, evidence_json
		)
		SELECT
			$1, p.postcode, n.street_name, n.street_name_casefolded, NULL,
			'names_postcode_feature', 'medium',
			'open_names:feature:' || n.feature_id, 'os_open_names', n.ingest_run_id,
			jsonb_build_object('feature_id', n.feature_id, 'toid', n.toid)
		FROM open_names_road_feature n
		JOIN postcodes p
			ON p.build_run_id = $1 AND n.postcode_norm = replace(p.postcode, ' ', '')
		WHERE n.build_run_id = $1 AND n.postcode_norm IS NOT NULL
		ORDER BY p.postcode ASC, n.feature_id ASC
	`, buildRunID)
	if err != nil {
		return nil, fmt.Errorf("pass 3a: insert base candidates: %w", err)
	}
	baseCount, err := baseRes.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("pass 3a: rows affected: %w", err)
	}

	promoRes, err := tx.ExecContext(ctx, `
		WITH parent AS (
			SELECT candidate_id, postcode, (evidence_json->>'toid') AS toid, ingest_run_id
			FROM postcode_street_candidates
			WHERE build_run_id = $1
				AND candidate_type = 'names_postcode_feature'
				AND evidence_json->>'toid' IS NOT NULL
		),
		promotable AS (
			SELECT parent.candidate_id AS parent_candidate_id, parent.postcode, l.usrn, l.toid
			FROM parent
			JOIN oli_toid_usrn l ON l.build_run_id = $1 AND l.toid = parent.toid
		),
		inserted AS (
			INSERT INTO postcode_street_candidates (
				build_run_id, postcode, street_name_raw, street_name_canonical, usrn,
				candidate_type, confidence, evidence_ref, source_name, ingest_run_id, evidence_json
			)
			SELECT
				$1, pr.postcode, su.street_name, su.street_name_casefolded, pr.usrn,
				'oli_toid_usrn', 'high',
				'oli:toid_usrn:' || pr.toid, 'os_open_lids', su.usrn_run_id,
				jsonb_build_object('toid', pr.toid, 'usrn', pr.usrn)
			FROM promotable pr
			JOIN streets_usrn su ON su.build_run_id = $1 AND su.usrn = pr.usrn
			ORDER BY pr.postcode ASC, pr.toid ASC
			RETURNING candidate_id, postcode, (evidence_json->>'toid') AS toid
		)
		INSERT INTO postcode_street_candidate_lineage (build_run_id, parent_candidate_id, child_candidate_id, relation_type)
		SELECT $1, parent.candidate_id, inserted.candidate_id, 'promotion_toid_usrn'
		FROM inserted
		JOIN parent ON parent.toid = inserted.toid AND parent.postcode = inserted.postcode
	`, buildRunID)
	if err != nil {
		return nil, fmt.Errorf("pass 3b: promote and link lineage: %w", err)
	}
	promoCount, err := promoRes.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("pass 3b: rows affected: %w", err)
	}

	return map[string]int{
		"postcode_street_candidates_base":      int(baseCount),
		"postcode_street_candidates_promoted":  int(promoCount),
	}, nil
}
