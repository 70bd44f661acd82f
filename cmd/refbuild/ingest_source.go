package main

import (
	"context"
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
	"github.com/ukpostal/refbuild/internal/ingest"
)

var ingestManifestPath string

// ingestManifestFile is the on-disk shape read by `ingest source
// --manifest`: a source name, version label, and the raw rows to store,
// one flat key/value payload per row (§6's supplemental ingest contract).
type ingestManifestFile struct {
	SourceName    string           `json:"source_name"`
	SourceVersion string           `json:"source_version"`
	Rows          []map[string]any `json:"rows"`
}

var ingestSourceCmd = &cobra.Command{
	Use:   "source",
	Short: "Store raw rows and an ingest_run for one source",
	RunE: func(cmd *cobra.Command, args []string) error {
		if ingestManifestPath == "" {
			return argErrorf("--manifest is required")
		}
		raw, err := os.ReadFile(ingestManifestPath)
		if err != nil {
			return argErrorf("read manifest %q: %v", ingestManifestPath, err)
		}
		var mf ingestManifestFile
		if err := json.Unmarshal(raw, &mf); err != nil {
			return argErrorf("parse manifest %q: %v", ingestManifestPath, err)
		}
		if mf.SourceName == "" {
			return argErrorf("manifest source_name is required")
		}

		result, err := ingest.Store(context.Background(), db, nil, ingest.SourceManifest{
			SourceName:    mf.SourceName,
			SourceVersion: mf.SourceVersion,
			Rows:          mf.Rows,
		})
		if err != nil {
			return err
		}
		printResult(map[string]any{
			"command":      "ingest source",
			"run_id":       result.RunID,
			"record_count": result.RecordCount,
		})
		return nil
	},
}

func init() {
	ingestSourceCmd.Flags().StringVar(&ingestManifestPath, "manifest", "", "path to the ingest manifest JSON file")
}
