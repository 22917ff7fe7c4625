// Package migrations bootstraps the ledger schema.
package migrations

import (
	"context"
	"database/sql"
	"fmt"
)

var statements = []string{
	`CREATE TABLE IF NOT EXISTS dp_applications (
		id          TEXT PRIMARY KEY,
		name        TEXT NOT NULL,
		owner       TEXT NOT NULL,
		tier        TEXT NOT NULL DEFAULT '',
		callback_url TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		status      TEXT NOT NULL,
		created_at  TIMESTAMPTZ NOT NULL,
		updated_at  TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS dp_subscriptions (
		id             TEXT PRIMARY KEY,
		api_provider   TEXT NOT NULL,
		api_name       TEXT NOT NULL,
		api_version    TEXT NOT NULL,
		api_context    TEXT NOT NULL DEFAULT '',
		tier           TEXT NOT NULL,
		application_id TEXT NOT NULL,
		subscriber     TEXT NOT NULL,
		tenant_id      TEXT NOT NULL DEFAULT '',
		status         TEXT NOT NULL,
		created_at     TIMESTAMPTZ NOT NULL,
		updated_at     TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS dp_registrations (
		application_id  TEXT NOT NULL,
		key_type        TEXT NOT NULL,
		status          TEXT NOT NULL,
		callback_url    TEXT NOT NULL DEFAULT '',
		allowed_domains TEXT[] NOT NULL DEFAULT '{}',
		validity_secs   BIGINT NOT NULL DEFAULT 0,
		token_scope     TEXT NOT NULL DEFAULT '',
		created_at      TIMESTAMPTZ NOT NULL,
		updated_at      TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (application_id, key_type)
	)`,
	`CREATE TABLE IF NOT EXISTS dp_application_keys (
		application_id  TEXT NOT NULL,
		key_type        TEXT NOT NULL,
		consumer_key    TEXT NOT NULL,
		consumer_secret TEXT NOT NULL,
		access_token    TEXT NOT NULL,
		validity_secs   BIGINT NOT NULL DEFAULT 0,
		token_scope     TEXT NOT NULL DEFAULT '',
		created_at      TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS dp_tier_permissions (
		tier            TEXT NOT NULL,
		tenant_id       TEXT NOT NULL,
		permission_type TEXT NOT NULL,
		roles           TEXT[] NOT NULL DEFAULT '{}',
		PRIMARY KEY (tier, tenant_id)
	)`,
}

// Apply executes every schema statement. Statements are idempotent.
func Apply(ctx context.Context, db *sql.DB) error {
	for i, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
	}
	return nil
}
