package storage

import (
	"context"
	"fmt"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS target_states (
    group_id             TEXT NOT NULL,
    symbol               TEXT NOT NULL,
    exchange             TEXT NOT NULL,
    timeframe            TEXT NOT NULL,
    status               TEXT NOT NULL DEFAULT 'normal',
    last_rate            TEXT NOT NULL DEFAULT '0',
    last_notified_at     TIMESTAMPTZ,
    next_allowed_at      TIMESTAMPTZ,
    pending_notification BOOLEAN NOT NULL DEFAULT FALSE,
    updated_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (group_id, symbol, exchange, timeframe)
);

CREATE TABLE IF NOT EXISTS scheduled_notifications (
    id           TEXT PRIMARY KEY,
    group_id     TEXT NOT NULL,
    symbol       TEXT NOT NULL,
    exchange     TEXT NOT NULL,
    timeframe    TEXT NOT NULL,
    kind         TEXT NOT NULL,
    recipient    TEXT NOT NULL,
    group_name   TEXT NOT NULL DEFAULT '',
    rate         TEXT NOT NULL,
    threshold    TEXT NOT NULL,
    history      JSONB NOT NULL DEFAULT '[]',
    scheduled_at TIMESTAMPTZ NOT NULL,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
    UNIQUE (group_id, symbol, exchange, timeframe, kind)
);

CREATE TABLE IF NOT EXISTS rate_samples (
    id          BIGSERIAL PRIMARY KEY,
    group_id    TEXT NOT NULL,
    symbol      TEXT NOT NULL,
    exchange    TEXT NOT NULL,
    timeframe   TEXT NOT NULL,
    rate        TEXT NOT NULL,
    threshold   TEXT NOT NULL,
    status      TEXT NOT NULL,
    observed_at TIMESTAMPTZ NOT NULL,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_rate_samples_target_time
    ON rate_samples (symbol, exchange, timeframe, observed_at);

CREATE TABLE IF NOT EXISTS dispatch_log (
    id         BIGSERIAL PRIMARY KEY,
    group_id   TEXT NOT NULL,
    symbol     TEXT NOT NULL,
    exchange   TEXT NOT NULL,
    timeframe  TEXT NOT NULL,
    kind       TEXT NOT NULL,
    recipient  TEXT NOT NULL,
    rate       TEXT NOT NULL,
    threshold  TEXT NOT NULL,
    deferred   BOOLEAN NOT NULL DEFAULT FALSE,
    error      TEXT,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_dispatch_log_created_at
    ON dispatch_log (created_at);
`

// EnsureSchema creates the tables the watcher needs when they do not exist.
// Statements are idempotent so it is safe to run on every startup.
func (s *Store) EnsureSchema(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, schemaSQL); execErr != nil {
		return fmt.Errorf("ensure schema: %w", execErr)
	}
	return nil
}
