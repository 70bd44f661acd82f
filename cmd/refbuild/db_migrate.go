package main

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/ukpostal/refbuild/internal/migrate"
)

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		log, err := newPassLogger()
		if err != nil {
			return err
		}
		if err := migrate.Run(context.Background(), db, log); err != nil {
			return err
		}
		printResult(map[string]any{"command": "db migrate"})
		return nil
	},
}
