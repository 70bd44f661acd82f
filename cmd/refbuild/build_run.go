package main

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	"github.com/ukpostal/refbuild/internal/evidence"
	"github.com/ukpostal/refbuild/internal/finalize"
	"github.com/ukpostal/refbuild/internal/model"
	"github.com/ukpostal/refbuild/internal/run"
	"github.com/ukpostal/refbuild/internal/stage"
)

var (
	buildRunBundleID string
	buildRebuild     bool
	buildResume      bool
)

var buildRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Create or resume a build run and dispatch the pass pipeline",
	RunE: func(cmd *cobra.Command, args []string) error {
		if buildRunBundleID == "" {
			return argErrorf("--bundle-id is required")
		}
		if buildRebuild && buildResume {
			return argErrorf("--rebuild and --resume are mutually exclusive")
		}

		ctx := context.Background()
		log, err := newPassLogger()
		if err != nil {
			return err
		}

		r, err := run.OpenRun(ctx, db, nil, buildRunBundleID, buildRebuild, buildResume)
		if err != nil {
			return err
		}

		handlers := buildHandlers(r.BundleID)
		if err := run.Dispatch(ctx, db, log, r, handlers, nil); err != nil {
			return err
		}

		printResult(map[string]any{
			"command":         "build run",
			"build_run_id":    r.BuildRunID,
			"dataset_version": r.DatasetVersion,
			"status":          string(r.Status),
		})
		return nil
	},
}

// buildHandlers adapts every pass to run.PassHandler. Pass 0a and 0b need
// the shared connection pool and bundle id rather than just the pass
// transaction, so they're wrapped in closures; Pass 8 is wrapped too, to
// supply cfg.Weights. Passes 1-7 already match the handler shape.
func buildHandlers(bundleID string) run.Handlers {
	return run.Handlers{
		model.Pass0aRawIngest: func(ctx context.Context, tx *sqlx.Tx, buildRunID string) (map[string]int, error) {
			return stage.ValidateBundle(ctx, db, bundleID)
		},
		model.Pass0bStageNormalisation: func(ctx context.Context, tx *sqlx.Tx, buildRunID string) (map[string]int, error) {
			return stage.Run(ctx, db, tx, cfg, buildRunID, bundleID)
		},
		model.Pass1ONSPDBackbone:       evidence.Pass1ONSPDBackbone,
		model.Pass2GBCanonicalStreets:  evidence.Pass2GBCanonicalStreets,
		model.Pass3OpenNamesCandidates: evidence.Pass3OpenNamesCandidates,
		model.Pass4UPRNReinforcement:   evidence.Pass4UPRNReinforcement,
		model.Pass5GBSpatialFallback:   evidence.Pass5GBSpatialFallback,
		model.Pass6NICandidates:        evidence.Pass6NICandidates,
		model.Pass7PPDGapFill:          evidence.Pass7PPDGapFill,
		model.Pass8Finalisation: func(ctx context.Context, tx *sqlx.Tx, buildRunID string) (map[string]int, error) {
			return finalize.Pass8Finalisation(ctx, tx, buildRunID, cfg.Weights)
		},
	}
}

func init() {
	buildRunCmd.Flags().StringVar(&buildRunBundleID, "bundle-id", "", "bundle to build")
	buildRunCmd.Flags().BoolVar(&buildRebuild, "rebuild", false, "clear the most recent run's outputs and checkpoints and run it again")
	buildRunCmd.Flags().BoolVar(&buildResume, "resume", false, "resume the most recent unfinished run")
}
