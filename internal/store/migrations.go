package store

import (
	"context"
	"fmt"
)

// migrations is the ordered schema history. Statements stay within the SQL
// subset both SQLite and PostgreSQL accept.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id            TEXT PRIMARY KEY,
		username      TEXT NOT NULL UNIQUE,
		display_name  TEXT NOT NULL,
		password_hash TEXT NOT NULL,
		avatar_url    TEXT,
		is_bot        BOOLEAN NOT NULL DEFAULT FALSE,
		created_at    TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS channels (
		id           TEXT PRIMARY KEY,
		name         TEXT NOT NULL UNIQUE,
		description  TEXT NOT NULL DEFAULT '',
		channel_type TEXT NOT NULL DEFAULT 'text',
		position     BIGINT NOT NULL DEFAULT 0,
		created_at   TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id         TEXT PRIMARY KEY,
		channel_id TEXT NOT NULL,
		user_id    TEXT NOT NULL,
		user_name  TEXT NOT NULL,
		content    TEXT NOT NULL,
		created_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_channel_created
		ON messages (channel_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS invite_codes (
		code     TEXT PRIMARY KEY,
		max_uses BIGINT,
		uses     BIGINT NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS roles (
		id          TEXT PRIMARY KEY,
		name        TEXT NOT NULL,
		color       TEXT,
		position    BIGINT NOT NULL DEFAULT 0,
		permissions BIGINT NOT NULL DEFAULT 0,
		server_id   TEXT NOT NULL DEFAULT 'default'
	)`,
	`CREATE TABLE IF NOT EXISTS user_roles (
		user_id     TEXT NOT NULL,
		role_id     TEXT NOT NULL,
		assigned_at TEXT NOT NULL,
		PRIMARY KEY (user_id, role_id)
	)`,
	`CREATE TABLE IF NOT EXISTS channel_overrides (
		id          TEXT PRIMARY KEY,
		channel_id  TEXT NOT NULL,
		target_id   TEXT NOT NULL,
		target_type TEXT NOT NULL,
		allow       BIGINT NOT NULL DEFAULT 0,
		deny        BIGINT NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS federation_peers (
		id            TEXT PRIMARY KEY,
		name          TEXT NOT NULL,
		host          TEXT NOT NULL,
		port          BIGINT NOT NULL,
		shared_secret TEXT NOT NULL,
		status        TEXT NOT NULL DEFAULT 'pending',
		direction     TEXT NOT NULL DEFAULT 'outgoing',
		created_at    TEXT NOT NULL,
		last_seen     TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS federated_channels (
		id                TEXT PRIMARY KEY,
		local_channel_id  TEXT NOT NULL,
		peer_id           TEXT NOT NULL,
		remote_channel_id TEXT NOT NULL,
		created_at        TEXT NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_federated_channels_peer_remote
		ON federated_channels (peer_id, remote_channel_id)`,
}

// Migrate applies the schema. Failures here are fatal at startup: the
// process must not serve requests against a partial schema.
func (s *SQLStore) Migrate(ctx context.Context) error {
	for i, stmt := range migrations {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: migration %d failed: %w", i, err)
		}
	}
	s.logger.Info().Int("statements", len(migrations)).Msg("database migrations applied")
	return nil
}
