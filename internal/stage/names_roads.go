package stage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/ukpostal/refbuild/internal/normalize"
	"github.com/ukpostal/refbuild/internal/schema"
)

type openNamesRow struct {
	IngestRunID          string
	FeatureID            string
	PostcodeNorm         sql.NullString
	TOID                 sql.NullString
	StreetName           string
	StreetNameCasefolded string
}

// processOpenNames implements the os_open_names staging rule (§4.5):
// retain only features whose local_type is empty or mentions "road" or
// "transport"; postcode_norm may be null.
func processOpenNames(ctx context.Context, rawDB *sqlx.DB, tx *sqlx.Tx, binder *schema.Binder, caser *normalize.StreetCasefolder, buildRunID string, ingestRunIDs []string, batchSize int) (int, error) {
	convert := func(ingestRunID string, row RawRow) (openNamesRow, bool) {
		featureID := fieldString(binder, row.Payload, "feature_id")
		if featureID == "" {
			return openNamesRow{}, false
		}
		localType := strings.ToLower(fieldString(binder, row.Payload, "local_type"))
		if localType != "" && !strings.Contains(localType, "road") && !strings.Contains(localType, "transport") {
			return openNamesRow{}, false
		}
		name := fieldString(binder, row.Payload, "street_name")
		if name == "" {
			return openNamesRow{}, false
		}

		r := openNamesRow{
			IngestRunID:          ingestRunID,
			FeatureID:            featureID,
			StreetName:           name,
			StreetNameCasefolded: caser.Casefold(name),
		}
		if v, ok := binder.FieldValue(row.Payload, "postcode"); ok {
			if pc := normalize.Postcode(asString(v)); pc != "" {
				r.PostcodeNorm = sql.NullString{String: pc, Valid: true}
			}
		}
		if v, ok := binder.FieldValue(row.Payload, "toid"); ok {
			if toid := asString(v); toid != "" {
				r.TOID = sql.NullString{String: toid, Valid: true}
			}
		}
		return r, true
	}
	return streamSource(ctx, rawDB, tx, "os_open_names", ingestRunIDs, binder, batchSize, buildRunID, convert, flushOpenNames)
}

func flushOpenNames(ctx context.Context, tx *sqlx.Tx, buildRunID string, batch []openNamesRow) error {
	const stmt = `
		INSERT INTO open_names_road_feature (build_run_id, ingest_run_id, feature_id, postcode_norm, toid, street_name, street_name_casefolded)
		VALUES (:build_run_id, :ingest_run_id, :feature_id, :postcode_norm, :toid, :street_name, :street_name_casefolded)
		ON CONFLICT (build_run_id, feature_id) DO UPDATE SET
			ingest_run_id = EXCLUDED.ingest_run_id,
			postcode_norm = EXCLUDED.postcode_norm,
			toid = EXCLUDED.toid,
			street_name = EXCLUDED.street_name,
			street_name_casefolded = EXCLUDED.street_name_casefolded
	`
	for _, r := range batch {
		params := map[string]any{
			"build_run_id": buildRunID, "ingest_run_id": r.IngestRunID, "feature_id": r.FeatureID,
			"postcode_norm": r.PostcodeNorm, "toid": r.TOID,
			"street_name": r.StreetName, "street_name_casefolded": r.StreetNameCasefolded,
		}
		if _, err := tx.NamedExecContext(ctx, stmt, params); err != nil {
			return fmt.Errorf("insert open_names_road_feature %s: %w", r.FeatureID, err)
		}
	}
	return nil
}

type openRoadsRow struct {
	IngestRunID          string
	SegmentID            string
	RoadID                string
	RoadName             string
	RoadNameCasefolded   string
	USRN                 sql.NullInt64
	PostcodeNorm         sql.NullString
}

// processOpenRoads implements the os_open_roads staging rule (§4.5):
// segment_id, road_id, road_name (raw + casefolded), optional usrn,
// optional postcode_norm.
func processOpenRoads(ctx context.Context, rawDB *sqlx.DB, tx *sqlx.Tx, binder *schema.Binder, caser *normalize.StreetCasefolder, buildRunID string, ingestRunIDs []string, batchSize int) (int, error) {
	convert := func(ingestRunID string, row RawRow) (openRoadsRow, bool) {
		segmentID := fieldString(binder, row.Payload, "segment_id")
		if segmentID == "" {
			return openRoadsRow{}, false
		}
		name := fieldString(binder, row.Payload, "road_name")
		if name == "" {
			return openRoadsRow{}, false
		}
		r := openRoadsRow{
			IngestRunID:        ingestRunID,
			SegmentID:          segmentID,
			RoadID:             fieldString(binder, row.Payload, "road_id"),
			RoadName:           name,
			RoadNameCasefolded: caser.Casefold(name),
		}
		if v, ok := binder.FieldValue(row.Payload, "usrn"); ok {
			if n, ok := asInt(v); ok {
				r.USRN = sql.NullInt64{Int64: n, Valid: true}
			}
		}
		if v, ok := binder.FieldValue(row.Payload, "postcode"); ok {
			if pc := normalize.Postcode(asString(v)); pc != "" {
				r.PostcodeNorm = sql.NullString{String: pc, Valid: true}
			}
		}
		return r, true
	}
	return streamSource(ctx, rawDB, tx, "os_open_roads", ingestRunIDs, binder, batchSize, buildRunID, convert, flushOpenRoads)
}

func flushOpenRoads(ctx context.Context, tx *sqlx.Tx, buildRunID string, batch []openRoadsRow) error {
	const stmt = `
		INSERT INTO open_roads_segment (build_run_id, ingest_run_id, segment_id, road_id, road_name, road_name_casefolded, usrn, postcode_norm)
		VALUES (:build_run_id, :ingest_run_id, :segment_id, :road_id, :road_name, :road_name_casefolded, :usrn, :postcode_norm)
		ON CONFLICT (build_run_id, segment_id) DO UPDATE SET
			ingest_run_id = EXCLUDED.ingest_run_id,
			road_id = EXCLUDED.road_id,
			road_name = EXCLUDED.road_name,
			road_name_casefolded = EXCLUDED.road_name_casefolded,
			usrn = EXCLUDED.usrn,
			postcode_norm = EXCLUDED.postcode_norm
	`
	for _, r := range batch {
		params := map[string]any{
			"build_run_id": buildRunID, "ingest_run_id": r.IngestRunID, "segment_id": r.SegmentID,
			"road_id": r.RoadID, "road_name": r.RoadName, "road_name_casefolded": r.RoadNameCasefolded,
			"usrn": r.USRN, "postcode_norm": r.PostcodeNorm,
		}
		if _, err := tx.NamedExecContext(ctx, stmt, params); err != nil {
			return fmt.Errorf("insert open_roads_segment %s: %w", r.SegmentID, err)
		}
	}
	return nil
}
