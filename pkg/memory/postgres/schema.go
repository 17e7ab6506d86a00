package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlSessions = `
CREATE TABLE IF NOT EXISTS device_sessions (
    store_path    TEXT         NOT NULL,
    session_key   TEXT         NOT NULL,
    agent_id      TEXT         NOT NULL DEFAULT '',
    created_at    TIMESTAMPTZ  NOT NULL DEFAULT now(),
    updated_at    TIMESTAMPTZ  NOT NULL DEFAULT now(),
    last_channel  TEXT         NOT NULL DEFAULT '',
    last_to       TEXT         NOT NULL DEFAULT '',
    last_account  TEXT         NOT NULL DEFAULT '',
    PRIMARY KEY (store_path, session_key)
);
`

const ddlSessionEntries = `
CREATE TABLE IF NOT EXISTS device_session_entries (
    id           BIGSERIAL    PRIMARY KEY,
    store_path   TEXT         NOT NULL,
    session_key  TEXT         NOT NULL,
    message_id   TEXT         NOT NULL,
    channel      TEXT         NOT NULL DEFAULT '',
    sender       TEXT         NOT NULL DEFAULT '',
    body         TEXT         NOT NULL,
    media_path   TEXT         NOT NULL DEFAULT '',
    media_type   TEXT         NOT NULL DEFAULT '',
    timestamp    TIMESTAMPTZ  NOT NULL DEFAULT now(),
    FOREIGN KEY (store_path, session_key)
        REFERENCES device_sessions (store_path, session_key) ON DELETE CASCADE
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_device_session_entries_message
    ON device_session_entries (store_path, session_key, message_id);

CREATE INDEX IF NOT EXISTS idx_device_session_entries_session_timestamp
    ON device_session_entries (store_path, session_key, timestamp);
`

// Migrate creates the session tables if they do not exist. It is idempotent
// and safe to call on every application start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range []string{ddlSessions, ddlSessionEntries} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}
