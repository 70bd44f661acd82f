package stage

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/ukpostal/refbuild/internal/normalize"
	"github.com/ukpostal/refbuild/internal/schema"
)

type toidUsrnRow struct {
	IngestRunID string
	TOID        string
	USRN        int64
}

type uprnUsrnRow struct {
	IngestRunID string
	UPRN        int64
	USRN        int64
}

type identifierPairRow struct {
	IngestRunID  string
	ID1          string
	ID2          string
	RelationType string
}

// processLIDS implements the os_open_lids staging rule (§4.5, §9's open
// question): every pair lands in the generic oli_identifier_pair table
// regardless of shape, accepting all three historical column-naming
// conventions via the binder's legacy-alias table. When a relation is
// inferable — either an explicit relation_type column, or heuristically
// by identifier shape (TOID prefix "OSGB", UPRNs longer than 8 digits) —
// the pair is additionally projected into oli_toid_usrn or oli_uprn_usrn.
func processLIDS(ctx context.Context, rawDB *sqlx.DB, tx *sqlx.Tx, binder *schema.Binder, _ *normalize.StreetCasefolder, buildRunID string, ingestRunIDs []string, batchSize int) (int, error) {
	var toidUsrn []toidUsrnRow
	var uprnUsrn []uprnUsrnRow
	var pairs []identifierPairRow
	total := 0

	flushAll := func(ctx context.Context, tx *sqlx.Tx) error {
		if err := flushPairs(ctx, tx, buildRunID, pairs); err != nil {
			return err
		}
		if err := flushTOIDUsrn(ctx, tx, buildRunID, toidUsrn); err != nil {
			return err
		}
		if err := flushUPRNUsrn(ctx, tx, buildRunID, uprnUsrn); err != nil {
			return err
		}
		total += len(pairs)
		pairs, toidUsrn, uprnUsrn = nil, nil, nil
		return nil
	}

	verifiedOnce := false
	for _, runID := range ingestRunIDs {
		cur, err := NewCursor(rawDB, "os_open_lids", runID, batchSize)
		if err != nil {
			return 0, err
		}
		err = cur.Each(ctx, func(rows []RawRow) error {
			for _, row := range rows {
				if !verifiedOnce {
					if err := binder.VerifyAgainstRow(row.Payload); err != nil {
						return err
					}
					verifiedOnce = true
				}

				v1, ok1 := binder.FieldValue(row.Payload, "id_1")
				v2, ok2 := binder.FieldValue(row.Payload, "id_2")
				if !ok1 || !ok2 {
					continue
				}
				id1, id2 := asString(v1), asString(v2)
				if id1 == "" || id2 == "" {
					continue
				}
				relation := ""
				if v, ok := binder.FieldValue(row.Payload, "relation_type"); ok {
					relation = strings.ToLower(asString(v))
				}

				pairs = append(pairs, identifierPairRow{IngestRunID: runID, ID1: id1, ID2: id2, RelationType: relation})

				toid, usrn, uprn, ok := classifyLIDSPair(id1, id2, relation)
				if !ok {
					if len(pairs) >= batchSize {
						if err := flushAll(ctx, tx); err != nil {
							return err
						}
					}
					continue
				}
				if toid != "" {
					toidUsrn = append(toidUsrn, toidUsrnRow{IngestRunID: runID, TOID: toid, USRN: usrn})
				} else {
					uprnUsrn = append(uprnUsrn, uprnUsrnRow{IngestRunID: runID, UPRN: uprn, USRN: usrn})
				}

				if len(pairs) >= batchSize {
					if err := flushAll(ctx, tx); err != nil {
						return err
					}
				}
			}
			return nil
		})
		if err != nil {
			return 0, err
		}
	}

	if len(pairs) > 0 || len(toidUsrn) > 0 || len(uprnUsrn) > 0 {
		if err := flushAll(ctx, tx); err != nil {
			return 0, err
		}
	}
	return total, nil
}

// classifyLIDSPair infers which relation, if any, a (id_1, id_2) pair
// expresses. ok is false when no relation can be determined — the pair
// still lands in oli_identifier_pair, just not in a typed projection.
func classifyLIDSPair(id1, id2, relation string) (toid string, usrn, uprn int64, ok bool) {
	switch relation {
	case "toid_usrn", "promotion_toid_usrn":
		if n, err := strconv.ParseInt(id2, 10, 64); err == nil {
			return id1, n, 0, true
		}
	case "uprn_usrn":
		if a, err1 := strconv.ParseInt(id1, 10, 64); err1 == nil {
			if b, err2 := strconv.ParseInt(id2, 10, 64); err2 == nil {
				return "", b, a, true
			}
		}
	}

	aIsTOID, aUSRN, aUPRN := classifyIdentifier(id1)
	bIsTOID, bUSRN, bUPRN := classifyIdentifier(id2)

	switch {
	case aIsTOID && bUSRN:
		return id1, toInt(id2), 0, true
	case bIsTOID && aUSRN:
		return id2, toInt(id1), 0, true
	case aUPRN && bUSRN:
		return "", toInt(id2), toInt(id1), true
	case bUPRN && aUSRN:
		return "", toInt(id1), toInt(id2), true
	default:
		return "", 0, 0, false
	}
}

func classifyIdentifier(id string) (isTOID, isUSRN, isUPRN bool) {
	if strings.HasPrefix(strings.ToUpper(id), "OSGB") {
		return true, false, false
	}
	if isAllDigits(id) {
		if len(id) > 8 {
			return false, false, true
		}
		return false, true, false
	}
	return false, false, false
}

func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func toInt(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}

func flushPairs(ctx context.Context, tx *sqlx.Tx, buildRunID string, batch []identifierPairRow) error {
	if len(batch) == 0 {
		return nil
	}
	const stmt = `
		INSERT INTO oli_identifier_pair (build_run_id, ingest_run_id, id_1, id_2, relation_type)
		VALUES (:build_run_id, :ingest_run_id, :id_1, :id_2, :relation_type)
		ON CONFLICT (build_run_id, id_1, id_2) DO UPDATE SET
			ingest_run_id = EXCLUDED.ingest_run_id, relation_type = EXCLUDED.relation_type
	`
	for _, r := range batch {
		params := map[string]any{
			"build_run_id": buildRunID, "ingest_run_id": r.IngestRunID,
			"id_1": r.ID1, "id_2": r.ID2, "relation_type": r.RelationType,
		}
		if _, err := tx.NamedExecContext(ctx, stmt, params); err != nil {
			return fmt.Errorf("insert oli_identifier_pair %s/%s: %w", r.ID1, r.ID2, err)
		}
	}
	return nil
}

func flushTOIDUsrn(ctx context.Context, tx *sqlx.Tx, buildRunID string, batch []toidUsrnRow) error {
	if len(batch) == 0 {
		return nil
	}
	const stmt = `
		INSERT INTO oli_toid_usrn (build_run_id, ingest_run_id, toid, usrn)
		VALUES (:build_run_id, :ingest_run_id, :toid, :usrn)
		ON CONFLICT (build_run_id, toid, usrn) DO NOTHING
	`
	for _, r := range batch {
		params := map[string]any{
			"build_run_id": buildRunID, "ingest_run_id": r.IngestRunID, "toid": r.TOID, "usrn": r.USRN,
		}
		if _, err := tx.NamedExecContext(ctx, stmt, params); err != nil {
			return fmt.Errorf("insert oli_toid_usrn %s/%d: %w", r.TOID, r.USRN, err)
		}
	}
	return nil
}

func flushUPRNUsrn(ctx context.Context, tx *sqlx.Tx, buildRunID string, batch []uprnUsrnRow) error {
	if len(batch) == 0 {
		return nil
	}
	const stmt = `
		INSERT INTO oli_uprn_usrn (build_run_id, ingest_run_id, uprn, usrn)
		VALUES (:build_run_id, :ingest_run_id, :uprn, :usrn)
		ON CONFLICT (build_run_id, uprn, usrn) DO NOTHING
	`
	for _, r := range batch {
		params := map[string]any{
			"build_run_id": buildRunID, "ingest_run_id": r.IngestRunID, "uprn": r.UPRN, "usrn": r.USRN,
		}
		if _, err := tx.NamedExecContext(ctx, stmt, params); err != nil {
			return fmt.Errorf("insert oli_uprn_usrn %d/%d: %w", r.UPRN, r.USRN, err)
		}
	}
	return nil
}
