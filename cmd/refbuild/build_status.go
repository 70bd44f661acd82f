package main

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/ukpostal/refbuild/internal/run"
)

var buildStatusBuildRunID string

var buildStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report a build run's current pass and checkpoint history",
	RunE: func(cmd *cobra.Command, args []string) error {
		if buildStatusBuildRunID == "" {
			return argErrorf("--build-run-id is required")
		}

		ctx := context.Background()
		r, err := run.Get(ctx, db, buildStatusBuildRunID)
		if err != nil {
			return err
		}
		checkpoints, err := run.Checkpoints(ctx, db, buildStatusBuildRunID)
		if err != nil {
			return err
		}

		passes := make([]map[string]any, 0, len(checkpoints))
		for _, c := range checkpoints {
			passes = append(passes, map[string]any{
				"pass_name":         c.PassName,
				"completed_at_utc":  c.CompletedAt,
				"row_count_summary": c.RowCountSummary,
			})
		}

		printResult(map[string]any{
			"command":         "build status",
			"build_run_id":    r.BuildRunID,
			"bundle_id":       r.BundleID,
			"dataset_version": r.DatasetVersion,
			"run_status":      string(r.Status),
			"current_pass":    r.CurrentPass,
			"passes":          passes,
		})
		return nil
	},
}

func init() {
	buildStatusCmd.Flags().StringVar(&buildStatusBuildRunID, "build-run-id", "", "build run to inspect")
}
