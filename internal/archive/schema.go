package archive

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// Schema creates the live_events table.
const Schema = `
CREATE TABLE IF NOT EXISTS live_events (
	event_id     BIGINT PRIMARY KEY,
	card_id      TEXT NOT NULL,
	merchant_id  TEXT NOT NULL,
	amount       DOUBLE PRECISION NOT NULL,
	currency     TEXT NOT NULL DEFAULT '',
	score        DOUBLE PRECISION NOT NULL,
	risk_level   TEXT NOT NULL,
	reasons      JSONB NOT NULL DEFAULT '[]',
	event_ts     TIMESTAMPTZ,
	received_at  TIMESTAMPTZ NOT NULL
)`

// Execer runs a statement. *pgxpool.Pool implements it.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// EnsureSchema creates the archive table if it does not exist.
func EnsureSchema(ctx context.Context, db Execer) error {
	if _, err := db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("create live_events: %w", err)
	}
	return nil
}
