package stage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/ukpostal/refbuild/internal/normalize"
	"github.com/ukpostal/refbuild/internal/schema"
)

type osniRow struct {
	IngestRunID          string
	FeatureID            string
	PostcodeNorm         sql.NullString
	StreetName           string
	StreetNameCasefolded string
}

// processOSNI implements the osni_gazetteer staging rule (§4.5):
// feature_id, optional postcode_norm, raw + casefolded street name.
func processOSNI(ctx context.Context, rawDB *sqlx.DB, tx *sqlx.Tx, binder *schema.Binder, caser *normalize.StreetCasefolder, buildRunID string, ingestRunIDs []string, batchSize int) (int, error) {
	convert := func(ingestRunID string, row RawRow) (osniRow, bool) {
		featureID := fieldString(binder, row.Payload, "feature_id")
		if featureID == "" {
			return osniRow{}, false
		}
		name := fieldString(binder, row.Payload, "street_name")
		if name == "" {
			return osniRow{}, false
		}
		r := osniRow{
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
		return r, true
	}
	return streamSource(ctx, rawDB, tx, "osni_gazetteer", ingestRunIDs, binder, batchSize, buildRunID, convert, flushOSNI)
}

func flushOSNI(ctx context.Context, tx *sqlx.Tx, buildRunID string, batch []osniRow) error {
	const stmt = `
		INSERT INTO osni_street_point (build_run_id, ingest_run_id, feature_id, postcode_norm, street_name, street_name_casefolded)
		VALUES (:build_run_id, :ingest_run_id, :feature_id, :postcode_norm, :street_name, :street_name_casefolded)
		ON CONFLICT (build_run_id, feature_id) DO UPDATE SET
			ingest_run_id = EXCLUDED.ingest_run_id, postcode_norm = EXCLUDED.postcode_norm,
			street_name = EXCLUDED.street_name, street_name_casefolded = EXCLUDED.street_name_casefolded
	`
	for _, r := range batch {
		params := map[string]any{
			"build_run_id": buildRunID, "ingest_run_id": r.IngestRunID, "feature_id": r.FeatureID,
			"postcode_norm": r.PostcodeNorm, "street_name": r.StreetName, "street_name_casefolded": r.StreetNameCasefolded,
		}
		if _, err := tx.NamedExecContext(ctx, stmt, params); err != nil {
			return fmt.Errorf("insert osni_street_point %s: %w", r.FeatureID, err)
		}
	}
	return nil
}

type dfiRow struct {
	IngestRunID          string
	SegmentID            string
	PostcodeNorm         sql.NullString
	StreetName           string
	StreetNameCasefolded string
}

// processDFI implements the dfi_highway staging rule (§4.5): segment_id,
// optional postcode_norm, raw + casefolded street name.
func processDFI(ctx context.Context, rawDB *sqlx.DB, tx *sqlx.Tx, binder *schema.Binder, caser *normalize.StreetCasefolder, buildRunID string, ingestRunIDs []string, batchSize int) (int, error) {
	convert := func(ingestRunID string, row RawRow) (dfiRow, bool) {
		segmentID := fieldString(binder, row.Payload, "segment_id")
		if segmentID == "" {
			return dfiRow{}, false
		}
		name := fieldString(binder, row.Payload, "street_name")
		if name == "" {
			return dfiRow{}, false
		}
		r := dfiRow{
			IngestRunID:          ingestRunID,
			SegmentID:            segmentID,
			StreetName:           name,
			StreetNameCasefolded: caser.Casefold(name),
		}
		if v, ok := binder.FieldValue(row.Payload, "postcode"); ok {
			if pc := normalize.Postcode(asString(v)); pc != "" {
				r.PostcodeNorm = sql.NullString{String: pc, Valid: true}
			}
		}
		return r, true
	}
	return streamSource(ctx, rawDB, tx, "dfi_highway", ingestRunIDs, binder, batchSize, buildRunID, convert, flushDFI)
}

func flushDFI(ctx context.Context, tx *sqlx.Tx, buildRunID string, batch []dfiRow) error {
	const stmt = `
		INSERT INTO dfi_road_segment (build_run_id, ingest_run_id, segment_id, postcode_norm, street_name, street_name_casefolded)
		VALUES (:build_run_id, :ingest_run_id, :segment_id, :postcode_norm, :street_name, :street_name_casefolded)
		ON CONFLICT (build_run_id, segment_id) DO UPDATE SET
			ingest_run_id = EXCLUDED.ingest_run_id, postcode_norm = EXCLUDED.postcode_norm,
			street_name = EXCLUDED.street_name, street_name_casefolded = EXCLUDED.street_name_casefolded
	`
	for _, r := range batch {
		params := map[string]any{
			"build_run_id": buildRunID, "ingest_run_id": r.IngestRunID, "segment_id": r.SegmentID,
			"postcode_norm": r.PostcodeNorm, "street_name": r.StreetName, "street_name_casefolded": r.StreetNameCasefolded,
		}
		if _, err := tx.NamedExecContext(ctx, stmt, params); err != nil {
			return fmt.Errorf("insert dfi_road_segment %s: %w", r.SegmentID, err)
		}
	}
	return nil
}
