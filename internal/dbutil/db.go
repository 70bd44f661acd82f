// Package dbutil wires the single shared Postgres connection pool used by
// every component (§5: "the underlying database is the only shared
// store") and the small transaction helper every pass commits through.
package dbutil

import (
	"context"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
)

// DB wraps a *sqlx.DB. It is the single connection pool a build process
// opens; every component in C3-C9 takes a *DB.
type DB struct {
	*sqlx.DB
}

// Open connects to Postgres via the pgx stdlib driver, exactly as the
// teacher's storage layer wires sqlx + pgx together.
func Open(ctx context.Context, dsn string) (*DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn is empty")
	}

	conn, err := sqlx.ConnectContext(ctx, "pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(30 * time.Minute)

	return &DB{DB: conn}, nil
}

// WithTx runs fn inside a single transaction, committing on success and
// rolling back on any error or panic. This is the "one commit per pass"
// boundary from §4.4 and §5: every pass handler is invoked through this
// helper exactly once.
func WithTx(ctx context.Context, db *DB, fn func(tx *sqlx.Tx) error) (err error) {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()

	err = fn(tx)
	return err
}

// Short runs fn inside a short-lived transaction, used by the run
// controller to record a failed run outside the main pass transaction
// per §4.4 and §5.
func Short(ctx context.Context, db *DB, fn func(tx *sqlx.Tx) error) error {
	return WithTx(ctx, db, fn)
}
