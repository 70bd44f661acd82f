package stage

import (
	"context"

	"github.com/ukpostal/refbuild/internal/bundle"
	"github.com/ukpostal/refbuild/internal/dbutil"
	"github.com/ukpostal/refbuild/internal/errors"
	"github.com/ukpostal/refbuild/internal/ingest"
)

// ValidateBundle implements Pass 0a (§4.5): every ingest run declared by
// the bundle must exist, its source_name must match the slot it was bound
// to, and its record_count must be positive. Returns a per-source row
// count summary for the pass checkpoint.
func ValidateBundle(ctx context.Context, db *dbutil.DB, bundleID string) (map[string]int, error) {
	sourceRuns, err := bundle.SourceRuns(ctx, db, bundleID)
	if err != nil {
		return nil, err
	}

	summary := make(map[string]int, len(sourceRuns))
	for source, runIDs := range sourceRuns {
		total := 0
		for _, runID := range runIDs {
			run, err := ingest.GetRun(ctx, db, runID)
			if err != nil {
				return nil, err
			}
			if run.SourceName != source {
				return nil, errors.Ingest("ingest run %q is bound to slot %q but has source_name %q", runID, source, run.SourceName).
					WithContext("run_id", runID).WithContext("source", source)
			}
			if run.RecordCount <= 0 {
				return nil, errors.Build("ingest run %q for source %q has record_count %d, must be > 0", runID, source, run.RecordCount).
					WithContext("run_id", runID).WithContext("source", source)
			}
			total += run.RecordCount
		}
		summary[source] = total
	}

	return summary, nil
}
