package main

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/ukpostal/refbuild/internal/verify"
)

var buildVerifyBuildRunID string

var buildVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Recompute canonical hashes and check the probability invariant",
	RunE: func(cmd *cobra.Command, args []string) error {
		if buildVerifyBuildRunID == "" {
			return argErrorf("--build-run-id is required")
		}

		hashes, err := verify.Run(context.Background(), db, buildVerifyBuildRunID)
		if err != nil {
			return err
		}

		objects := make(map[string]any, len(hashes))
		for name, h := range hashes {
			objects[name] = map[string]any{"row_count": h.RowCount, "hash_hex": h.HashHex}
		}
		printResult(map[string]any{
			"command":      "build verify",
			"build_run_id": buildVerifyBuildRunID,
			"objects":      objects,
		})
		return nil
	},
}

func init() {
	buildVerifyCmd.Flags().StringVar(&buildVerifyBuildRunID, "build-run-id", "", "build run to verify")
}
