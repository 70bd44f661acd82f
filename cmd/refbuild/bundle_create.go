package main

import (
	"context"
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
	"github.com/ukpostal/refbuild/internal/bundle"
	pipelineerrors "github.com/ukpostal/refbuild/internal/errors"
	"github.com/ukpostal/refbuild/internal/ingest"
	"github.com/ukpostal/refbuild/internal/model"
)

var (
	bundleManifestPath string
	bundleDryRun       bool
)

// bundleManifestFile is the on-disk shape read by `bundle create
// --manifest`: a build profile and, per required source slot, the ingest
// run ids to bind (§3, §4.3).
type bundleManifestFile struct {
	BuildProfile string              `json:"build_profile"`
	SourceRuns   map[string][]string `json:"source_runs"`
}

var bundleCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create or look up a bundle from a manifest",
	RunE: func(cmd *cobra.Command, args []string) error {
		if bundleManifestPath == "" {
			return argErrorf("--manifest is required")
		}
		raw, err := os.ReadFile(bundleManifestPath)
		if err != nil {
			return argErrorf("read manifest %q: %v", bundleManifestPath, err)
		}
		var mf bundleManifestFile
		if err := json.Unmarshal(raw, &mf); err != nil {
			return argErrorf("parse manifest %q: %v", bundleManifestPath, err)
		}

		profile := model.BuildProfile(mf.BuildProfile)
		manifest := bundle.Manifest{BuildProfile: profile, SourceRuns: mf.SourceRuns}

		if bundleDryRun {
			return runBundleDryRun(manifest)
		}

		result, err := bundle.CreateBundle(context.Background(), db, nil, manifest)
		if err != nil {
			return err
		}
		printResult(map[string]any{
			"command":   "bundle create",
			"bundle_id": result.Bundle.BundleID,
			"outcome":   string(result.Outcome),
			"hash":      result.Bundle.BundleHash,
		})
		return nil
	},
}

// runBundleDryRun replays §4.3 steps 1-4's validation (profile,
// required-source coverage, run cardinality, ingest-run existence) and
// reports the bundle_hash that would be used, without persisting
// anything — grounded in the teacher's read-only preview commands.
func runBundleDryRun(m bundle.Manifest) error {
	if !model.ValidProfile(m.BuildProfile) {
		return pipelineerrors.Manifest("unknown build profile %q", m.BuildProfile)
	}

	hash, err := bundle.Hash(m.BuildProfile, m.SourceRuns)
	if err != nil {
		return err
	}

	required := model.RequiredSources(m.BuildProfile)
	for _, source := range required {
		runIDs, ok := m.SourceRuns[source]
		if !ok {
			return pipelineerrors.Manifest("bundle manifest missing required source %q for profile %q", source, m.BuildProfile).
				WithContext("source", source)
		}
		if model.MultiRunSource(source) {
			if len(runIDs) < 1 {
				return pipelineerrors.Manifest("source %q requires at least one ingest run", source).WithContext("source", source)
			}
		} else if len(runIDs) != 1 {
			return pipelineerrors.Manifest("source %q requires exactly one ingest run, got %d", source, len(runIDs)).
				WithContext("source", source).WithContext("count", len(runIDs))
		}
	}

	var allRunIDs []string
	for _, runIDs := range m.SourceRuns {
		allRunIDs = append(allRunIDs, runIDs...)
	}
	runs, err := ingest.GetRuns(context.Background(), db, allRunIDs)
	if err != nil {
		return err
	}
	runsByID := make(map[string]ingest.Run, len(runs))
	for _, r := range runs {
		runsByID[r.RunID] = r
	}
	for source, runIDs := range m.SourceRuns {
		for _, runID := range runIDs {
			r, ok := runsByID[runID]
			if !ok {
				return pipelineerrors.Manifest("ingest run %q does not exist", runID).
					WithContext("run_id", runID).WithContext("source", source)
			}
			if r.SourceName != source {
				return pipelineerrors.Manifest("ingest run %q has source_name %q, expected %q", runID, r.SourceName, source).
					WithContext("run_id", runID)
			}
		}
	}

	printResult(map[string]any{
		"command": "bundle create",
		"dry_run": true,
		"hash":    hash,
	})
	return nil
}

func init() {
	bundleCreateCmd.Flags().StringVar(&bundleManifestPath, "manifest", "", "path to the bundle manifest JSON file")
	bundleCreateCmd.Flags().BoolVar(&bundleDryRun, "dry-run", false, "validate the manifest without persisting a bundle")
}
