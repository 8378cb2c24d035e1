package database

import (
	"context"
	"database/sql"
	"fmt"
)

const baseSchema = `
    CREATE TABLE IF NOT EXISTS sessions (
        id                  SERIAL PRIMARY KEY,
        session_id          VARCHAR(255) UNIQUE NOT NULL,
        name                VARCHAR(255),
        status              VARCHAR(50) NOT NULL DEFAULT 'connecting',
        is_connected        BOOLEAN NOT NULL DEFAULT false,
        qr_code             TEXT,
        phone_number        VARCHAR(50),
        last_connected_at   TIMESTAMPTZ,
        created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
        updated_at          TIMESTAMPTZ NOT NULL DEFAULT NOW()
    );

    CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);

    CREATE TABLE IF NOT EXISTS messages (
        id              UUID PRIMARY KEY,
        session_id      VARCHAR(255) NOT NULL REFERENCES sessions(session_id) ON DELETE CASCADE,
        message_id      VARCHAR(255) NOT NULL,
        remote_jid      VARCHAR(255) NOT NULL,
        from_me         BOOLEAN NOT NULL DEFAULT false,
        message_type    VARCHAR(50) NOT NULL,
        content         TEXT NOT NULL,
        timestamp       TIMESTAMPTZ NOT NULL,
        status          VARCHAR(20) NOT NULL,
        created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
        UNIQUE (session_id, message_id)
    );

    CREATE INDEX IF NOT EXISTS idx_messages_session_ts ON messages(session_id, timestamp DESC);
`

const alterSchema = `
    ALTER TABLE sessions
    ADD COLUMN IF NOT EXISTS webhook_url TEXT,
    ADD COLUMN IF NOT EXISTS webhook_secret TEXT;
`

// InitSchema creates or upgrades the application tables. Every statement is
// idempotent, so it is safe to run on each start with --createschema.
func InitSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, baseSchema); err != nil {
		return fmt.Errorf("init base schema: %w", err)
	}
	if _, err := db.ExecContext(ctx, alterSchema); err != nil {
		return fmt.Errorf("alter schema: %w", err)
	}
	return nil
}
