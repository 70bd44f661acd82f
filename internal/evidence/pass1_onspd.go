// Package evidence implements the evidence builder (C6, §4.6): passes
// 1-7 construct canonical postcode and street records and emit
// append-only candidate rows per evidence type, every insert ordered by
// its natural key so row-id allocation is deterministic given the same
// inputs. Every handler matches run.PassHandler so the run controller can
// dispatch it directly.
package evidence

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Pass1ONSPDBackbone copies every staged onspd row into postcodes
// (display-form postcode) and postcodes_meta (a JSON bag mirroring the
// canonical fields), ordered by storage postcode (§4.6 Pass 1).
func Pass1ONSPDBackbone(ctx context.Context, tx *sqlx.Tx, buildRunID string) (map[string]int, error) {
	postcodesRes, err := tx.ExecContext(ctx, `
		INSERT INTO postcodes (
			build_run_id, postcode, status, lat, lon, easting, northing,
			country_iso2, country_iso3, subdivision_code, post_town, locality,
			street_enrichment_available, multi_street, onspd_run_id
		)
		SELECT
			$1, postcode_display, status, lat, lon, easting, northing,
			country_iso2, country_iso3, subdivision_code, post_town, locality,
			street_enrichment_available, false, ingest_run_id
		FROM onspd_postcode
		WHERE build_run_id = $1
		ORDER BY postcode ASC
		ON CONFLICT (build_run_id, postcode) DO NOTHING
	`, buildRunID)
	if err != nil {
		return nil, fmt.Errorf("pass 1: insert postcodes: %w", err)
	}

	metaRes, err := tx.ExecContext(ctx, `
		INSERT INTO postcodes_meta (build_run_id, postcode, meta_json)
		SELECT $1, postcode_display, jsonb_build_object(
			'postcode', postcode_display,
			'status', status,
			'country_iso2', country_iso2,
			'country_iso3', country_iso3,
			'subdivision_code', subdivision_code,
			'post_town', post_town,
			'locality', locality,
			'lat', lat,
			'lon', lon,
			'easting', easting,
			'northing', northing,
			'street_enrichment_available', street_enrichment_available
		)
		FROM onspd_postcode
		WHERE build_run_id = $1
		ORDER BY postcode ASC
		ON CONFLICT (build_run_id, postcode) DO UPDATE SET meta_json = EXCLUDED.meta_json
	`, buildRunID)
	if err != nil {
		return nil, fmt.Errorf("pass 1: insert postcodes_meta: %w", err)
	}

	return rowCounts(map[string]interface{ RowsAffected() (int64, error) }{
		"postcodes":      postcodesRes,
		"postcodes_meta": metaRes,
	})
}

func rowCounts(results map[string]interface {
	RowsAffected() (int64, error)
}) (map[string]int, error) {
	out := make(map[string]int, len(results))
	for name, res := range results {
		n, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("rows affected for %s: %w", name, err)
		}
		out[name] = int(n)
	}
	return out, nil
}
