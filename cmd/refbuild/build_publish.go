package main

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/ukpostal/refbuild/internal/publish"
)

var (
	buildPublishBuildRunID string
	buildPublishActor      string
)

var buildPublishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Swap the API alias views onto this build run's projections",
	RunE: func(cmd *cobra.Command, args []string) error {
		if buildPublishBuildRunID == "" {
			return argErrorf("--build-run-id is required")
		}
		if buildPublishActor == "" {
			return argErrorf("--actor is required")
		}

		datasetVersion, err := publish.Run(context.Background(), db, buildPublishBuildRunID, buildPublishActor)
		if err != nil {
			return err
		}
		printResult(map[string]any{
			"command":         "build publish",
			"build_run_id":    buildPublishBuildRunID,
			"dataset_version": datasetVersion,
			"published_by":    buildPublishActor,
		})
		return nil
	},
}

func init() {
	buildPublishCmd.Flags().StringVar(&buildPublishBuildRunID, "build-run-id", "", "build run to publish")
	buildPublishCmd.Flags().StringVar(&buildPublishActor, "actor", "", "identity to record as publisher")
}
