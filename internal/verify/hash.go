package verify

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/ukpostal/refbuild/internal/bundle"
	"github.com/ukpostal/refbuild/internal/finalize"
)

// ObjectHash is the recomputed hash of one output object (§4.8 step 3).
type ObjectHash struct {
	RowCount int
	HashHex  string
}

// HashAll recomputes the deterministic canonical hash of every output
// object named in §4.8: postcode_streets_final, postcode_street_lookup,
// and postcode_lookup. Each query already casts decimals and composite
// columns to text so the row tuple serialises the same way regardless of
// driver-level type mapping.
func HashAll(ctx context.Context, tx *sqlx.Tx, buildRunID, datasetVersion string) (map[string]ObjectHash, error) {
	suffix := finalize.DatasetSuffix(datasetVersion)

	objects := map[string]struct {
		query string
		args  []any
	}{
		"postcode_streets_final": {
			query: `
				SELECT postcode, street_name, usrn, confidence, frequency_score::text, probability::text
				FROM postcode_streets_final
				WHERE build_run_id = $1
				ORDER BY postcode ASC, street_name ASC, usrn ASC NULLS LAST
			`,
			args: []any{buildRunID},
		},
		"postcode_street_lookup": {
			query: fmt.Sprintf(`
				SELECT dataset_version, postcode, street_name, usrn, confidence, frequency_score::text, probability::text
				FROM api.postcode_street_lookup__%s
				ORDER BY postcode ASC, street_name ASC, usrn ASC NULLS LAST
			`, suffix),
		},
		"postcode_lookup": {
			query: fmt.Sprintf(`
				SELECT dataset_version, postcode, streets_json::text AS streets_json, sources::text AS sources
				FROM api.postcode_lookup__%s
				ORDER BY postcode ASC
			`, suffix),
		},
	}

	out := make(map[string]ObjectHash, len(objects))
	for name, o := range objects {
		h, err := hashObject(ctx, tx, o.query, o.args...)
		if err != nil {
			return nil, fmt.Errorf("verify: hash %s: %w", name, err)
		}
		out[name] = h
	}
	return out, nil
}

func hashObject(ctx context.Context, tx *sqlx.Tx, query string, args ...any) (ObjectHash, error) {
	rows, err := tx.QueryxContext(ctx, query, args...)
	if err != nil {
		return ObjectHash{}, err
	}
	defer rows.Close()

	h := sha256.New()
	count := 0
	for rows.Next() {
		vals, err := rows.SliceScan()
		if err != nil {
			return ObjectHash{}, err
		}
		for i, v := range vals {
			if b, ok := v.([]byte); ok {
				vals[i] = string(b)
			}
		}
		raw, err := json.Marshal(vals)
		if err != nil {
			return ObjectHash{}, err
		}
		h.Write([]byte(bundle.AsciiSafeEscape(string(raw))))
		h.Write([]byte("\n"))
		count++
	}
	if err := rows.Err(); err != nil {
		return ObjectHash{}, err
	}
	return ObjectHash{RowCount: count, HashHex: hex.EncodeToString(h.Sum(nil))}, nil
}
