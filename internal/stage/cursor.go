// Package stage implements the staging normaliser (C5, §4.5): Pass 0a
// validates a bundle's declared ingest runs against their recorded
// metadata, Pass 0b streams each source's raw rows through schema binding
// and the C1 normalisation primitives into typed stage tables.
package stage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"
	"golang.org/x/time/rate"
)

// readLimiter throttles raw-row cursor reads process-wide when configured
// via SetReadRateLimit (§5's cursor_read_rps, loaded once per process
// alongside the rest of *config.Config). nil means unlimited, the
// zero-value default.
var readLimiter *rate.Limiter

// SetReadRateLimit configures the shared cursor read-rate limit in
// batches per second. rps <= 0 disables limiting. Pass 0b calls this once
// per build run from the loaded config, before dispatching any source.
func SetReadRateLimit(rps float64) {
	if rps <= 0 {
		readLimiter = nil
		return
	}
	readLimiter = rate.NewLimiter(rate.Limit(rps), 1)
}

// rawTableSuffix maps a configured source name to the raw.<suffix>_row
// table the ingest collaborator wrote into (§6). Kept as an explicit
// allowlist rather than formatting the source name directly into SQL.
var rawTableSuffix = map[string]string{
	"onspd":         "onspd",
	"os_open_usrn":  "os_open_usrn",
	"os_open_names": "os_open_names",
	"os_open_roads": "os_open_roads",
	"os_open_uprn":  "os_open_uprn",
	"os_open_lids":  "os_open_lids",
	"nsul":          "nsul",
	"osni_gazetteer": "osni_gazetteer",
	"dfi_highway":    "dfi_highway",
	"ppd":            "ppd",
}

// RawRow is one row of raw.<source>_row: an opaque key/value payload plus
// its source-assigned ordinal (§6).
type RawRow struct {
	SourceRowNum int64
	Payload      map[string]any
}

// Cursor streams a single ingest run's raw rows in ascending
// source_row_num order, in fixed-size batches (§4.5 step 2-3, §5's 5,000
// row cursor batch).
type Cursor struct {
	db         *sqlx.DB
	table      string
	ingestRunID string
	batchSize  int
	after      int64
	exhausted  bool
}

// NewCursor opens a batched cursor over raw.<source>_row for one ingest
// run. source must be one of the fixed, configured source names.
func NewCursor(db *sqlx.DB, source, ingestRunID string, batchSize int) (*Cursor, error) {
	suffix, ok := rawTableSuffix[source]
	if !ok {
		return nil, fmt.Errorf("unknown raw source %q", source)
	}
	if batchSize <= 0 {
		batchSize = 5000
	}
	return &Cursor{
		db:          db,
		table:       fmt.Sprintf("raw.%s_row", suffix),
		ingestRunID: ingestRunID,
		batchSize:   batchSize,
		after:       -1,
	}, nil
}

// Next returns the next batch of rows, or an empty slice once exhausted.
func (c *Cursor) Next(ctx context.Context) ([]RawRow, error) {
	if c.exhausted {
		return nil, nil
	}

	if readLimiter != nil {
		if err := readLimiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("cursor read rate limit: %w", err)
		}
	}

	query := fmt.Sprintf(`
		SELECT source_row_num, payload_jsonb
		FROM %s
		WHERE ingest_run_id = $1 AND source_row_num > $2
		ORDER BY source_row_num ASC
		LIMIT $3
	`, c.table)

	type row struct {
		SourceRowNum int64  `db:"source_row_num"`
		Payload      []byte `db:"payload_jsonb"`
	}
	var rows []row
	if err := c.db.SelectContext(ctx, &rows, query, c.ingestRunID, c.after, c.batchSize); err != nil {
		return nil, fmt.Errorf("read %s batch: %w", c.table, err)
	}

	out := make([]RawRow, 0, len(rows))
	for _, r := range rows {
		var payload map[string]any
		if err := json.Unmarshal(r.Payload, &payload); err != nil {
			return nil, fmt.Errorf("decode payload at %s row %d: %w", c.table, r.SourceRowNum, err)
		}
		out = append(out, RawRow{SourceRowNum: r.SourceRowNum, Payload: payload})
		c.after = r.SourceRowNum
	}

	if len(rows) < c.batchSize {
		c.exhausted = true
	}
	return out, nil
}

// Each drains the cursor, invoking fn once per batch until exhausted or fn
// returns an error.
func (c *Cursor) Each(ctx context.Context, fn func(batch []RawRow) error) error {
	for {
		batch, err := c.Next(ctx)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}
		if err := fn(batch); err != nil {
			return err
		}
	}
}
