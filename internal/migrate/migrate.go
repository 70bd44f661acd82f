// Package migrate applies the embedded SQL schema to a fresh Postgres
// database. Each file under migrations/ runs once, tracked in
// schema_migrations, in filename order.
package migrate

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/ukpostal/refbuild/internal/dbutil"
	"github.com/ukpostal/refbuild/internal/logging"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const trackingTableDDL = `
CREATE TABLE IF NOT EXISTS schema_migrations (
	version text PRIMARY KEY,
	applied_at_utc timestamptz NOT NULL DEFAULT now()
)`

// Run applies every migration file not already recorded in
// schema_migrations, each inside its own transaction.
func Run(ctx context.Context, db *dbutil.DB, log *logging.Logger) error {
	log.Info("running schema migrations")

	if _, err := db.ExecContext(ctx, trackingTableDDL); err != nil {
		return fmt.Errorf("migrate: create schema_migrations: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("migrate: read migrations directory: %w", err)
	}

	var files []fs.DirEntry
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			files = append(files, entry)
		}
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name() < files[j].Name() })

	if len(files) == 0 {
		log.Warn("no migration files found")
		return nil
	}

	var applied []string
	if err := db.SelectContext(ctx, &applied, `SELECT version FROM schema_migrations`); err != nil {
		return fmt.Errorf("migrate: load applied versions: %w", err)
	}
	done := make(map[string]bool, len(applied))
	for _, v := range applied {
		done[v] = true
	}

	for _, entry := range files {
		version := entry.Name()
		if done[version] {
			log.Debug("skipping already-applied migration", "file", version)
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + version)
		if err != nil {
			return fmt.Errorf("migrate: read %s: %w", version, err)
		}

		log.Info("applying migration", "file", version)
		err = dbutil.WithTx(ctx, db, func(tx *sqlx.Tx) error {
			for i, stmt := range splitSQLStatements(string(content)) {
				if _, err := tx.ExecContext(ctx, stmt); err != nil {
					return fmt.Errorf("statement %d: %w", i+1, err)
				}
			}
			_, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, version)
			return err
		})
		if err != nil {
			return fmt.Errorf("migrate: apply %s: %w", version, err)
		}
		log.Info("applied migration", "file", version)
	}

	log.Info("schema migrations complete", "count", len(files))
	return nil
}

// splitSQLStatements splits a migration file's content into individual
// statements on semicolon-terminated lines, skipping blank and
// "--"-comment lines.
func splitSQLStatements(content string) []string {
	var statements []string
	var current strings.Builder

	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		current.WriteString(line)
		current.WriteString("\n")
		if strings.HasSuffix(trimmed, ";") {
			if stmt := strings.TrimSpace(current.String()); stmt != "" {
				statements = append(statements, stmt)
			}
			current.Reset()
		}
	}
	if stmt := strings.TrimSpace(current.String()); stmt != "" {
		statements = append(statements, stmt)
	}
	return statements
}
