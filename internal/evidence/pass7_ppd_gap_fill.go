package evidence

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// ppdJoinCTE resolves every staged ppd row against its canonical postcode
// and, by casefolded name, against a canonical street — shared between
// the candidate insert and the unit_index insert of §4.6 Pass 7.
const ppdJoinCTE = `
	WITH joined AS (
		SELECT
			pp.row_hash, pp.postcode_norm, pp.street_name_raw, pp.street_name_casefolded,
			pp.house_number, pp.ingest_run_id,
			p.postcode AS postcode_display, su.usrn AS usrn, su.street_name AS matched_name
		FROM ppd_parsed_address pp
		JOIN postcodes p ON p.build_run_id = $1 AND replace(p.postcode, ' ', '') = pp.postcode_norm
		LEFT JOIN streets_usrn su ON su.build_run_id = $1 AND su.street_name_casefolded = pp.street_name_casefolded
		WHERE pp.build_run_id = $1
	)
`

// Pass7PPDGapFill joins ppd_parsed_address against canonical postcodes
// and canonical streets by casefolded name: matched rows become
// ppd_parse_matched (medium), unmatched become ppd_parse_unmatched (low)
// with the casefolded token standing in for the canonical name. Every
// joined row also lands in unit_index (§4.6 Pass 7).
func Pass7PPDGapFill(ctx context.Context, tx *sqlx.Tx, buildRunID string) (map[string]int, error) {
	candRes, err := tx.ExecContext(ctx, ppdJoinCTE+`
		INSERT INTO postcode_street_candidates (
			build_run_id, postcode, street_name_raw, street_name_canonical, usrn,
			candidate_type, confidence, evidence_ref, source_name, ingest_run_id, evidence_json
		)
		SELECT
			$1, postcode_display, street_name_raw,
			CASE WHEN usrn IS NOT NULL THEN matched_name ELSE street_name_casefolded END,
			usrn,
			CASE WHEN usrn IS NOT NULL THEN 'ppd_parse_matched' ELSE 'ppd_parse_unmatched' END,
			CASE WHEN usrn IS NOT NULL THEN 'medium' ELSE 'low' END,
			'ppd:row:' || row_hash, 'ppd', ingest_run_id,
			jsonb_build_object('row_hash', row_hash, 'usrn', usrn)
		FROM joined
		ORDER BY postcode_display ASC, row_hash ASC
	`, buildRunID)
	if err != nil {
		return nil, fmt.Errorf("pass 7a: insert ppd candidates: %w", err)
	}
	candCount, err := candRes.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("pass 7a: rows affected: %w", err)
	}

	unitRes, err := tx.ExecContext(ctx, ppdJoinCTE+`
		INSERT INTO unit_index (build_run_id, postcode, house_number, street_name, usrn, confidence, source_type, ingest_run_id)
		SELECT
			$1, postcode_display, house_number,
			CASE WHEN usrn IS NOT NULL THEN matched_name ELSE street_name_casefolded END,
			usrn,
			CASE WHEN usrn IS NOT NULL THEN 'medium' ELSE 'low' END,
			'ppd', ingest_run_id
		FROM joined
		ORDER BY postcode_display ASC, row_hash ASC
	`, buildRunID)
	if err != nil {
		return nil, fmt.Errorf("pass 7b: insert unit_index: %w", err)
	}
	unitCount, err := unitRes.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("pass 7b: rows affected: %w", err)
	}

	return map[string]int{
		"postcode_street_candidates_ppd": int(candCount),
		"unit_index":                     int(unitCount),
	}, nil
}
