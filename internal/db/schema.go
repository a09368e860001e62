package db

import (
	"context"
	"fmt"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS volunteers (
		id          TEXT PRIMARY KEY,
		name        TEXT NOT NULL,
		role        TEXT NOT NULL,
		points      INTEGER NOT NULL DEFAULT 0,
		deductions  INTEGER NOT NULL DEFAULT 0,
		banned      BOOLEAN NOT NULL DEFAULT FALSE,
		ban_reason  TEXT NOT NULL DEFAULT '',
		banned_at   TIMESTAMPTZ,
		created_at  TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS disasters (
		id          TEXT PRIMARY KEY,
		type        TEXT NOT NULL,
		city        TEXT NOT NULL DEFAULT '',
		state       TEXT NOT NULL DEFAULT '',
		lat         DOUBLE PRECISION,
		lng         DOUBLE PRECISION,
		severity    TEXT NOT NULL,
		source      TEXT NOT NULL,
		status      TEXT NOT NULL,
		reporter_id TEXT NOT NULL DEFAULT '',
		confidence  DOUBLE PRECISION NOT NULL DEFAULT 0,
		created_at  TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS notifications (
		id            TEXT PRIMARY KEY,
		disaster_id   TEXT NOT NULL DEFAULT '',
		disaster_type TEXT NOT NULL DEFAULT '',
		city          TEXT NOT NULL DEFAULT '',
		state         TEXT NOT NULL DEFAULT '',
		lat           DOUBLE PRECISION,
		lng           DOUBLE PRECISION,
		severity      TEXT NOT NULL DEFAULT '',
		message       TEXT NOT NULL,
		advisory      TEXT NOT NULL DEFAULT '',
		recipient     TEXT NOT NULL,
		read          BOOLEAN NOT NULL DEFAULT FALSE,
		created_at    TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS notifications_recipient_idx ON notifications (recipient, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS escalations (
		id           TEXT PRIMARY KEY,
		disaster_id  TEXT NOT NULL UNIQUE REFERENCES disasters(id),
		escalated_by TEXT NOT NULL DEFAULT '',
		status       TEXT NOT NULL,
		notified_at  TIMESTAMPTZ,
		created_at   TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS subscriptions (
		connection_id TEXT PRIMARY KEY,
		user_id       TEXT,
		lat           DOUBLE PRECISION NOT NULL,
		lng           DOUBLE PRECISION NOT NULL,
		guest         BOOLEAN NOT NULL DEFAULT FALSE,
		updated_at    TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS help_tickets (
		id             TEXT PRIMARY KEY,
		volunteer_id   TEXT NOT NULL REFERENCES volunteers(id),
		disaster_id    TEXT NOT NULL REFERENCES disasters(id),
		status         TEXT NOT NULL,
		signed_up      BOOLEAN NOT NULL DEFAULT TRUE,
		signed_up_at   TIMESTAMPTZ NOT NULL,
		expires_at     TIMESTAMPTZ NOT NULL,
		quantity       INTEGER NOT NULL DEFAULT 0,
		proofs         TEXT[] NOT NULL DEFAULT '{}',
		score_deducted BOOLEAN NOT NULL DEFAULT FALSE,
		verified_by    TEXT NOT NULL DEFAULT '',
		verified_at    TIMESTAMPTZ
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS help_tickets_one_active_idx
		ON help_tickets (volunteer_id, disaster_id)
		WHERE status IN ('signed_up', 'pending')`,
	`CREATE INDEX IF NOT EXISTS help_tickets_expiry_idx
		ON help_tickets (expires_at) WHERE status = 'signed_up' AND score_deducted = FALSE`,
	`CREATE TABLE IF NOT EXISTS tasks (
		id          TEXT PRIMARY KEY,
		disaster_id TEXT NOT NULL REFERENCES disasters(id),
		assigned_to TEXT,
		kind        TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		status      TEXT NOT NULL,
		claimed_at  TIMESTAMPTZ,
		deadline    TIMESTAMPTZ,
		proof       TEXT NOT NULL DEFAULT '',
		feedback    TEXT NOT NULL DEFAULT '',
		created_by  TEXT NOT NULL DEFAULT '',
		created_at  TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS tasks_deadline_idx ON tasks (deadline) WHERE status = 'claimed'`,
}

// Migrate creates the tables and indexes the service needs.
func (d *DB) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := d.conn(ctx).Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}
