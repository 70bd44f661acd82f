package evidence

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Pass2GBCanonicalStreets unions the direct os_open_usrn stage with
// streets inferred through oli_toid_usrn → Open Names, preferring the
// direct source on conflict, one row per usrn (§4.6 Pass 2).
func Pass2GBCanonicalStreets(ctx context.Context, tx *sqlx.Tx, buildRunID string) (map[string]int, error) {
	res, err := tx.ExecContext(ctx, `
		WITH direct AS (
			SELECT usrn, street_name, street_name_casefolded, ingest_run_id
			FROM streets_usrn_input
			WHERE build_run_id = $1
		),
		inferred_candidates AS (
			SELECT
				l.usrn, n.street_name, n.street_name_casefolded, n.ingest_run_id,
				count(*) OVER (PARTITION BY l.usrn, n.street_name_casefolded) AS freq
			FROM oli_toid_usrn l
			JOIN open_names_road_feature n
				ON n.build_run_id = l.build_run_id AND n.toid = l.toid
			WHERE l.build_run_id = $1
		),
		inferred_ranked AS (
			SELECT
				usrn, street_name, street_name_casefolded, ingest_run_id,
				row_number() OVER (
					PARTITION BY usrn
					ORDER BY freq DESC, street_name_casefolded ASC, street_name ASC
				) AS rn
			FROM inferred_candidates
		),
		inferred AS (
			SELECT usrn, street_name, street_name_casefolded, ingest_run_id
			FROM inferred_ranked
			WHERE rn = 1
		),
		combined AS (
			SELECT usrn, street_name, street_name_casefolded, ingest_run_id, 1 AS priority FROM direct
			UNION ALL
			SELECT usrn, street_name, street_name_casefolded, ingest_run_id, 2 AS priority FROM inferred
		),
		best AS (
			SELECT DISTINCT ON (usrn) usrn, street_name, street_name_casefolded, ingest_run_id
			FROM combined
			ORDER BY usrn ASC, priority ASC
		)
		INSERT INTO streets_usrn (build_run_id, usrn, street_name, street_name_casefolded, usrn_run_id)
		SELECT $1, usrn, street_name, street_name_casefolded, ingest_run_id
		FROM best
		ORDER BY usrn ASC
		ON CONFLICT (build_run_id, usrn) DO NOTHING
	`, buildRunID)
	if err != nil {
		return nil, fmt.Errorf("pass 2: insert streets_usrn: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("pass 2: rows affected: %w", err)
	}
	return map[string]int{"streets_usrn": int(n)}, nil
}
