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

type onspdRow struct {
	IngestRunID               string
	Postcode                  string
	PostcodeDisplay           string
	Status                    string
	CountryISO2               string
	CountryISO3               string
	SubdivisionCode           sql.NullString
	Lat                       sql.NullFloat64
	Lon                       sql.NullFloat64
	Easting                   sql.NullInt64
	Northing                  sql.NullInt64
	PostTown                  string
	Locality                  string
	StreetEnrichmentAvailable bool
}

// processONSPD implements the onspd staging rule (§4.5): normalise the
// postcode (dropping the row if either form is empty), derive status from
// a termination-date field, resolve country/subdivision from the ONSPD
// code prefix, quantise coordinates, and upper-case the place names.
func processONSPD(ctx context.Context, rawDB *sqlx.DB, tx *sqlx.Tx, binder *schema.Binder, _ *normalize.StreetCasefolder, buildRunID string, ingestRunIDs []string, batchSize int) (int, error) {
	convert := func(ingestRunID string, row RawRow) (onspdRow, bool) {
		pcVal, ok := binder.FieldValue(row.Payload, "postcode")
		if !ok {
			return onspdRow{}, false
		}
		storage := normalize.Postcode(asString(pcVal))
		display := normalize.PostcodeDisplay(asString(pcVal))
		if storage == "" || display == "" {
			return onspdRow{}, false
		}

		status := "active"
		if v, ok := binder.FieldValue(row.Payload, "termination_date"); ok && asString(v) != "" {
			status = "terminated"
		}

		countryCode := ""
		if v, ok := binder.FieldValue(row.Payload, "country_code"); ok {
			countryCode = strings.ToUpper(asString(v))
		}
		iso2, iso3, subdivision := resolveCountry(countryCode)

		r := onspdRow{
			IngestRunID:               ingestRunID,
			Postcode:                  storage,
			PostcodeDisplay:           display,
			Status:                    status,
			CountryISO2:               iso2,
			CountryISO3:               iso3,
			SubdivisionCode:           subdivision,
			PostTown:                  strings.ToUpper(fieldString(binder, row.Payload, "post_town")),
			Locality:                  strings.ToUpper(fieldString(binder, row.Payload, "locality")),
			StreetEnrichmentAvailable: iso2 == "GB" || subdivision.Valid,
		}

		if v, ok := binder.FieldValue(row.Payload, "latitude"); ok {
			if f, ok := asFloat(v); ok {
				r.Lat = sql.NullFloat64{Float64: round6(f), Valid: true}
			}
		}
		if v, ok := binder.FieldValue(row.Payload, "longitude"); ok {
			if f, ok := asFloat(v); ok {
				r.Lon = sql.NullFloat64{Float64: round6(f), Valid: true}
			}
		}
		if v, ok := binder.FieldValue(row.Payload, "easting"); ok {
			if n, ok := asInt(v); ok {
				r.Easting = sql.NullInt64{Int64: n, Valid: true}
			}
		}
		if v, ok := binder.FieldValue(row.Payload, "northing"); ok {
			if n, ok := asInt(v); ok {
				r.Northing = sql.NullInt64{Int64: n, Valid: true}
			}
		}

		return r, true
	}

	return streamSource(ctx, rawDB, tx, "onspd", ingestRunIDs, binder, batchSize, buildRunID, convert, flushONSPD)
}

// resolveCountry implements the ONSPD code-prefix resolution rule (§4.5):
// E92/S92/W92/N92 map to GB plus the corresponding nation subdivision;
// anything else is GB/GBR with no subdivision.
func resolveCountry(prefix string) (iso2, iso3 string, subdivision sql.NullString) {
	switch {
	case strings.HasPrefix(prefix, "E92"):
		return "GB", "GBR", sql.NullString{String: "GB-ENG", Valid: true}
	case strings.HasPrefix(prefix, "S92"):
		return "GB", "GBR", sql.NullString{String: "GB-SCT", Valid: true}
	case strings.HasPrefix(prefix, "W92"):
		return "GB", "GBR", sql.NullString{String: "GB-WLS", Valid: true}
	case strings.HasPrefix(prefix, "N92"):
		return "GB", "GBR", sql.NullString{String: "GB-NIR", Valid: true}
	default:
		return "GB", "GBR", sql.NullString{}
	}
}

func fieldString(binder *schema.Binder, payload map[string]any, logical string) string {
	v, ok := binder.FieldValue(payload, logical)
	if !ok {
		return ""
	}
	return asString(v)
}

func flushONSPD(ctx context.Context, tx *sqlx.Tx, buildRunID string, batch []onspdRow) error {
	const stmt = `
		INSERT INTO onspd_postcode (
			build_run_id, ingest_run_id, postcode, postcode_display, status,
			country_iso2, country_iso3, subdivision_code, lat, lon, easting, northing,
			post_town, locality, street_enrichment_available
		) VALUES (
			:build_run_id, :ingest_run_id, :postcode, :postcode_display, :status,
			:country_iso2, :country_iso3, :subdivision_code, :lat, :lon, :easting, :northing,
			:post_town, :locality, :street_enrichment_available
		)
		ON CONFLICT (build_run_id, postcode) DO UPDATE SET
			ingest_run_id = EXCLUDED.ingest_run_id,
			postcode_display = EXCLUDED.postcode_display,
			status = EXCLUDED.status,
			country_iso2 = EXCLUDED.country_iso2,
			country_iso3 = EXCLUDED.country_iso3,
			subdivision_code = EXCLUDED.subdivision_code,
			lat = EXCLUDED.lat, lon = EXCLUDED.lon,
			easting = EXCLUDED.easting, northing = EXCLUDED.northing,
			post_town = EXCLUDED.post_town, locality = EXCLUDED.locality,
			street_enrichment_available = EXCLUDED.street_enrichment_available
	`
	for _, r := range batch {
		params := map[string]any{
			"build_run_id":                 buildRunID,
			"ingest_run_id":                r.IngestRunID,
			"postcode":                     r.Postcode,
			"postcode_display":             r.PostcodeDisplay,
			"status":                       r.Status,
			"country_iso2":                 r.CountryISO2,
			"country_iso3":                 r.CountryISO3,
			"subdivision_code":             r.SubdivisionCode,
			"lat":                          r.Lat,
			"lon":                          r.Lon,
			"easting":                      r.Easting,
			"northing":                     r.Northing,
			"post_town":                    r.PostTown,
			"locality":                     r.Locality,
			"street_enrichment_available":  r.StreetEnrichmentAvailable,
		}
		if _, err := tx.NamedExecContext(ctx, stmt, params); err != nil {
			return fmt.Errorf("insert onspd_postcode for %s: %w", r.Postcode, err)
		}
	}
	return nil
}
