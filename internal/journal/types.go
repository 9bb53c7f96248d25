package journal

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Table is the journal table.
const Table = "alert_events"

// Columns are the columns written by the journal, in copy order.
var Columns = []string{"alert_id", "kind", "topic", "received_at", "payload"}

// Schema creates the journal table.
const Schema = `
CREATE TABLE IF NOT EXISTS alert_events (
	id          BIGSERIAL PRIMARY KEY,
	alert_id    TEXT NOT NULL,
	kind        TEXT NOT NULL,
	topic       TEXT NOT NULL,
	received_at TIMESTAMPTZ NOT NULL,
	payload     JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS alert_events_alert_id_idx ON alert_events (alert_id);
`

// DB is the part of *pgxpool.Pool the journal needs.
type DB interface {
	CopyFrom(ctx context.Context, table pgx.Identifier, columns []string, src pgx.CopyFromSource) (int64, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Config holds writer configuration.
type Config struct {
	BatchSize     int
	FlushInterval time.Duration
	WriteTimeout  time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:     500,
		FlushInterval: time.Second,
		WriteTimeout:  10 * time.Second,
	}
}

// Metrics tracks writer performance.
type Metrics struct {
	Inserted int64
	Flushes  int64
	Errors   int64
	Dropped  int64 // Rows lost to failed flushes
}
