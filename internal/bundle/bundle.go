// Package bundle implements the bundle manager (C3, §4.3): creating,
// looking up, and loading bundles, computing the content-addressable
// bundle_hash, and validating per-source run-cardinality rules.
package bundle

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/ukpostal/refbuild/internal/dbutil"
	"github.com/ukpostal/refbuild/internal/errors"
	"github.com/ukpostal/refbuild/internal/ingest"
	"github.com/ukpostal/refbuild/internal/model"
)

// Manifest is the input to CreateBundle: a build profile and, for each
// required source slot, the ingest run ids to bind (§3, §4.3).
type Manifest struct {
	BuildProfile model.BuildProfile
	SourceRuns   map[string][]string
}

// Bundle is a persisted row of the bundle table (§3).
type Bundle struct {
	BundleID     string             `db:"bundle_id"`
	BuildProfile string             `db:"build_profile"`
	BundleHash   string             `db:"bundle_hash"`
	Status       model.BundleStatus `db:"status"`
	CreatedAt    time.Time          `db:"created_at_utc"`
}

// CreateOutcome distinguishes a freshly-created bundle from a pre-existing
// one with the same (profile, hash), per §4.3 step 1 and §8's idempotency
// test.
type CreateOutcome string

const (
	OutcomeCreated  CreateOutcome = "created"
	OutcomeExisting CreateOutcome = "existing"
)

// CreateResult is the result of CreateBundle.
type CreateResult struct {
	Bundle  Bundle
	Outcome CreateOutcome
}

// CreateBundle implements §4.3's five-step algorithm.
func CreateBundle(ctx context.Context, db *dbutil.DB, clock func() time.Time, m Manifest) (*CreateResult, error) {
	if clock == nil {
		clock = time.Now
	}
	if !model.ValidProfile(m.BuildProfile) {
		return nil, errors.Manifest("unknown build profile %q", m.BuildProfile)
	}

	hash, err := Hash(m.BuildProfile, m.SourceRuns)
	if err != nil {
		return nil, fmt.Errorf("compute bundle hash: %w", err)
	}

	// Step 1: idempotent lookup by (profile, hash).
	existing, err := lookupByProfileAndHash(ctx, db, m.BuildProfile, hash)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return &CreateResult{Bundle: *existing, Outcome: OutcomeExisting}, nil
	}

	// Step 2: every required source slot must be present.
	required := model.RequiredSources(m.BuildProfile)
	for _, source := range required {
		if _, ok := m.SourceRuns[source]; !ok {
			return nil, errors.Manifest("bundle manifest missing required source %q for profile %q", source, m.BuildProfile).
				WithContext("source", source)
		}
	}
	for source := range m.SourceRuns {
		if !contains(required, source) {
			return nil, errors.Manifest("bundle manifest has unexpected source %q for profile %q", source, m.BuildProfile).
				WithContext("source", source)
		}
	}

	// Step 3: run-cardinality rules. ppd: ≥1, all others: exactly 1.
	for source, runs := range m.SourceRuns {
		if model.MultiRunSource(source) {
			if len(runs) < 1 {
				return nil, errors.Manifest("source %q requires at least one ingest run", source).WithContext("source", source)
			}
			continue
		}
		if len(runs) != 1 {
			return nil, errors.Manifest("source %q requires exactly one ingest run, got %d", source, len(runs)).
				WithContext("source", source).WithContext("count", len(runs))
		}
	}

	// Step 4: every listed ingest run must exist and match its slot's
	// source_name.
	allRunIDs := flattenRunIDs(m.SourceRuns)
	runs, err := ingest.GetRuns(ctx, db, allRunIDs)
	if err != nil {
		return nil, fmt.Errorf("load ingest runs: %w", err)
	}
	runsByID := make(map[string]ingest.Run, len(runs))
	for _, r := range runs {
		runsByID[r.RunID] = r
	}
	for source, runIDs := range m.SourceRuns {
		for _, runID := range runIDs {
			r, ok := runsByID[runID]
			if !ok {
				return nil, errors.Manifest("ingest run %q does not exist", runID).
					WithContext("run_id", runID).WithContext("source", source)
			}
			if r.SourceName != source {
				return nil, errors.Manifest("ingest run %q has source_name %q, expected %q", runID, r.SourceName, source).
					WithContext("run_id", runID)
			}
		}
	}

	// Step 5: insert bundle + bundle_sources.
	b := Bundle{
		BundleID:     uuid.NewString(),
		BuildProfile: string(m.BuildProfile),
		BundleHash:   hash,
		Status:       model.BundleCreated,
		CreatedAt:    clock().UTC(),
	}

	err = dbutil.WithTx(ctx, db, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO bundle (bundle_id, build_profile, bundle_hash, status, created_at_utc)
			VALUES ($1, $2, $3, $4, $5)
		`, b.BundleID, b.BuildProfile, b.BundleHash, b.Status, b.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert bundle: %w", err)
		}

		for _, source := range sortedKeys(m.SourceRuns) {
			runIDs := m.SourceRuns[source]
			for position, runID := range runIDs {
				_, err := tx.ExecContext(ctx, `
					INSERT INTO bundle_source (bundle_id, source_name, ingest_run_id, position)
					VALUES ($1, $2, $3, $4)
				`, b.BundleID, source, runID, position)
				if err != nil {
					return fmt.Errorf("insert bundle_source %s/%s: %w", source, runID, err)
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &CreateResult{Bundle: b, Outcome: OutcomeCreated}, nil
}

// Get loads a bundle by id.
func Get(ctx context.Context, db *dbutil.DB, bundleID string) (*Bundle, error) {
	var b Bundle
	err := db.GetContext(ctx, &b, `
		SELECT bundle_id, build_profile, bundle_hash, status, created_at_utc
		FROM bundle WHERE bundle_id = $1
	`, bundleID)
	if err == sql.ErrNoRows {
		return nil, errors.Build("bundle %q not found", bundleID).WithContext("bundle_id", bundleID)
	}
	if err != nil {
		return nil, fmt.Errorf("query bundle %s: %w", bundleID, err)
	}
	return &b, nil
}

// SourceRuns loads a bundle's source → ordered ingest-run-id mapping, in
// the order runs were originally listed (§3: "ordered multiset").
func SourceRuns(ctx context.Context, db *dbutil.DB, bundleID string) (map[string][]string, error) {
	type row struct {
		SourceName  string `db:"source_name"`
		IngestRunID string `db:"ingest_run_id"`
		Position    int    `db:"position"`
	}
	var rows []row
	err := db.SelectContext(ctx, &rows, `
		SELECT source_name, ingest_run_id, position
		FROM bundle_source
		WHERE bundle_id = $1
		ORDER BY source_name, position
	`, bundleID)
	if err != nil {
		return nil, fmt.Errorf("query bundle_source for %s: %w", bundleID, err)
	}

	out := make(map[string][]string)
	for _, r := range rows {
		out[r.SourceName] = append(out[r.SourceName], r.IngestRunID)
	}
	return out, nil
}

// SetStatus transitions a bundle's status (used by the run controller on
// build/publish completion).
func SetStatus(ctx context.Context, tx *sqlx.Tx, bundleID string, status model.BundleStatus) error {
	_, err := tx.Exec(`UPDATE bundle SET status = $1 WHERE bundle_id = $2`, status, bundleID)
	if err != nil {
		return fmt.Errorf("update bundle %s status: %w", bundleID, err)
	}
	return nil
}

func lookupByProfileAndHash(ctx context.Context, db *dbutil.DB, profile model.BuildProfile, hash string) (*Bundle, error) {
	var b Bundle
	err := db.GetContext(ctx, &b, `
		SELECT bundle_id, build_profile, bundle_hash, status, created_at_utc
		FROM bundle WHERE build_profile = $1 AND bundle_hash = $2
	`, string(profile), hash)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup bundle by profile/hash: %w", err)
	}
	return &b, nil
}

func contains(xs []string, x string) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}

func flattenRunIDs(sourceRuns map[string][]string) []string {
	var ids []string
	for _, runs := range sourceRuns {
		ids = append(ids, runs...)
	}
	return ids
}

func sortedKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
