package stage

import (
	"context"
	"fmt"
	"sort"

	"github.com/jmoiron/sqlx"
	"github.com/ukpostal/refbuild/internal/bundle"
	"github.com/ukpostal/refbuild/internal/config"
	"github.com/ukpostal/refbuild/internal/dbutil"
	"github.com/ukpostal/refbuild/internal/errors"
	"github.com/ukpostal/refbuild/internal/ingest"
	"github.com/ukpostal/refbuild/internal/model"
	"github.com/ukpostal/refbuild/internal/normalize"
	"github.com/ukpostal/refbuild/internal/schema"
)

// sourceProcessor streams one source's declared ingest runs into its
// stage table(s) and returns the number of rows written.
type sourceProcessor func(ctx context.Context, rawDB *sqlx.DB, tx *sqlx.Tx, binder *schema.Binder, caser *normalize.StreetCasefolder, buildRunID string, ingestRunIDs []string, batchSize int) (int, error)

var processors = map[string]sourceProcessor{
	"onspd":          processONSPD,
	"os_open_usrn":   processUSRN,
	"os_open_names":  processOpenNames,
	"os_open_roads":  processOpenRoads,
	"os_open_uprn":   processUPRN,
	"os_open_lids":   processLIDS,
	"nsul":           processNSUL,
	"osni_gazetteer": processOSNI,
	"dfi_highway":    processDFI,
	"ppd":            processPPD,
}

// Run implements Pass 0b (§4.5): truncate every stage table for this run,
// then stream each source the bundle declares through schema binding and
// normalisation into its stage table(s), in deterministic profile-source
// order. tx is the single transaction this pass commits through.
func Run(ctx context.Context, rawDB *dbutil.DB, tx *sqlx.Tx, cfg *config.Config, buildRunID, bundleID string) (map[string]int, error) {
	SetReadRateLimit(cfg.Batch.CursorReadRPS)

	if err := Truncate(ctx, tx, buildRunID); err != nil {
		return nil, err
	}

	sourceRuns, err := bundle.SourceRuns(ctx, rawDB, bundleID)
	if err != nil {
		return nil, err
	}

	caser := normalize.NewStreetCasefolder(cfg.Normalisation.StripPunctuation, cfg.Normalisation.AliasMap)
	summary := make(map[string]int)

	for _, source := range sortedKeys(sourceRuns) {
		runIDs, err := orderedRunIDs(ctx, rawDB, source, sourceRuns[source])
		if err != nil {
			return nil, err
		}

		proc, ok := processors[source]
		if !ok {
			return nil, errors.Build("no stage processor registered for source %q", source)
		}

		sc, ok := cfg.Sources[source]
		if !ok {
			return nil, errors.Build("no schema binding configured for source %q", source).WithContext("source", source)
		}
		binder := schema.NewBinder(source, sc)

		count, err := proc(ctx, rawDB.DB, tx, binder, caser, buildRunID, runIDs, cfg.Batch.StageFlushSize)
		if err != nil {
			return nil, err
		}
		summary[source] = count
	}

	return summary, nil
}

// orderedRunIDs returns a source's ingest runs in the order Pass 0b must
// process them. Every source has exactly one run except ppd, which is
// processed oldest-retrieved first (§4.5).
func orderedRunIDs(ctx context.Context, db *dbutil.DB, source string, runIDs []string) ([]string, error) {
	if !model.MultiRunSource(source) || len(runIDs) <= 1 {
		return runIDs, nil
	}

	runs, err := ingest.GetRuns(ctx, db, runIDs)
	if err != nil {
		return nil, fmt.Errorf("load ppd ingest runs: %w", err)
	}
	sort.Slice(runs, func(i, j int) bool {
		if !runs[i].RetrievedAt.Equal(runs[j].RetrievedAt) {
			return runs[i].RetrievedAt.Before(runs[j].RetrievedAt)
		}
		return runs[i].RunID < runs[j].RunID
	})

	ordered := make([]string, len(runs))
	for i, r := range runs {
		ordered[i] = r.RunID
	}
	return ordered, nil
}

func sortedKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
