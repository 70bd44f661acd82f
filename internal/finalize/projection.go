package finalize

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// materialiseProjections rebuilds the two versioned API projection
// tables for this dataset version (§4.7 step 9). Table names embed the
// dataset suffix directly since Postgres identifiers cannot be bound
// parameters; DatasetSuffix has already restricted the suffix to
// [A-Za-z0-9_].
func materialiseProjections(ctx context.Context, tx *sqlx.Tx, buildRunID, datasetVersion string) error {
	suffix := DatasetSuffix(datasetVersion)

	if _, err := tx.ExecContext(ctx, `CREATE SCHEMA IF NOT EXISTS api`); err != nil {
		return fmt.Errorf("finalize: create schema api: %w", err)
	}

	streetLookup := fmt.Sprintf("api.postcode_street_lookup__%s", suffix)
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s`, streetLookup)); err != nil {
		return fmt.Errorf("finalize: drop %s: %w", streetLookup, err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE %s AS
		SELECT
			$2::text AS dataset_version,
			postcode, street_name, usrn, confidence, frequency_score, probability
		FROM postcode_streets_final
		WHERE build_run_id = $1
		ORDER BY postcode ASC, probability DESC, confidence DESC, street_name ASC, usrn ASC NULLS LAST
	`, streetLookup), buildRunID, datasetVersion); err != nil {
		return fmt.Errorf("finalize: materialise %s: %w", streetLookup, err)
	}

	lookup := fmt.Sprintf("api.postcode_lookup__%s", suffix)
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s`, lookup)); err != nil {
		return fmt.Errorf("finalize: drop %s: %w", lookup, err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE %s AS
		WITH streets AS (
			SELECT
				postcode,
				jsonb_agg(
					jsonb_build_object(
						'street_name', street_name, 'usrn', usrn, 'confidence', confidence,
						'frequency_score', frequency_score, 'probability', probability
					)
					ORDER BY probability DESC, confidence DESC, street_name ASC, usrn ASC NULLS LAST
				) AS streets_json
			FROM postcode_streets_final
			WHERE build_run_id = $1
			GROUP BY postcode
		),
		sources AS (
			SELECT f.postcode, array_agg(DISTINCT s.source_name ORDER BY s.source_name) AS source_names
			FROM postcode_streets_final f
			JOIN postcode_streets_final_source s ON s.final_id = f.final_id
			WHERE f.build_run_id = $1
			GROUP BY f.postcode
		)
		SELECT
			$2::text AS dataset_version,
			p.postcode,
			COALESCE(st.streets_json, '[]'::jsonb) AS streets_json,
			COALESCE(so.source_names, ARRAY['onspd']::text[]) AS sources
		FROM postcodes p
		LEFT JOIN streets st ON st.postcode = p.postcode
		LEFT JOIN sources so ON so.postcode = p.postcode
		WHERE p.build_run_id = $1
		ORDER BY p.postcode ASC
	`, lookup), buildRunID, datasetVersion); err != nil {
		return fmt.Errorf("finalize: materialise %s: %w", lookup, err)
	}

	return nil
}
