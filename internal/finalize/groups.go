package finalize

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// groupRow is one (postcode, canonical_street_name) aggregate from
// weighted_candidates (§4.7 step 2). Rows arrive pre-sorted in rank
// order within each postcode.
type groupRow struct {
	Postcode            string        `db:"postcode"`
	CanonicalStreetName string        `db:"canonical_street_name"`
	ConfRank            int           `db:"conf_rank"`
	USRN                sql.NullInt64 `db:"usrn"`
	WeightedScore       float64       `db:"weighted_score"`
	CandidateIDs        pq.Int64Array `db:"candidate_ids"`
}

const groupQuery = `
	SELECT
		postcode,
		canonical_street_name,
		MAX(conf_rank) AS conf_rank,
		MIN(usrn) AS usrn,
		SUM(weight) AS weighted_score,
		array_agg(candidate_id ORDER BY candidate_id ASC) AS candidate_ids
	FROM weighted_candidates
	GROUP BY postcode, canonical_street_name
	ORDER BY postcode ASC, SUM(weight) DESC, MAX(conf_rank) DESC, canonical_street_name ASC, MIN(usrn) ASC NULLS LAST
`

func fetchGroups(ctx context.Context, tx *sqlx.Tx) ([]groupRow, error) {
	rows, err := tx.QueryxContext(ctx, groupQuery)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []groupRow
	for rows.Next() {
		var g groupRow
		if err := rows.StructScan(&g); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// sourceRow is one per-(postcode, canonical_street_name, source_name,
// ingest_run_id, candidate_type) contribution-weight aggregate (§4.7
// step 7's final_source).
type sourceRow struct {
	Postcode            string  `db:"postcode"`
	CanonicalStreetName string  `db:"canonical_street_name"`
	SourceName          string  `db:"source_name"`
	IngestRunID         string  `db:"ingest_run_id"`
	CandidateType       string  `db:"candidate_type"`
	ContributionWeight  float64 `db:"contribution_weight"`
}

const sourceQuery = `
	SELECT
		postcode, canonical_street_name, source_name, ingest_run_id, candidate_type,
		SUM(weight) AS contribution_weight
	FROM weighted_candidates
	GROUP BY postcode, canonical_street_name, source_name, ingest_run_id, candidate_type
	ORDER BY postcode ASC, canonical_street_name ASC, source_name ASC, ingest_run_id ASC, candidate_type ASC
`

func fetchSourceContributions(ctx context.Context, tx *sqlx.Tx) ([]sourceRow, error) {
	rows, err := tx.QueryxContext(ctx, sourceQuery)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []sourceRow
	for rows.Next() {
		var s sourceRow
		if err := rows.StructScan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func groupKey(postcode, canonicalStreetName string) string {
	return postcode + "\x1f" + canonicalStreetName
}
