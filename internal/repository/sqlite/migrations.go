package sqlite

import (
	"database/sql"
	"fmt"
)

var migrationStatements = []string{
	`CREATE TABLE IF NOT EXISTS tenants (
		id         TEXT PRIMARY KEY,
		name       TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		deleted_at TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS api_keys (
		id         TEXT PRIMARY KEY,
		tenant_id  TEXT NOT NULL REFERENCES tenants(id),
		digest     TEXT NOT NULL UNIQUE,
		label      TEXT,
		created_at TEXT NOT NULL,
		revoked_at TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_api_keys_tenant ON api_keys(tenant_id)`,
	`CREATE TABLE IF NOT EXISTS jobs (
		id            TEXT PRIMARY KEY,
		tenant_id     TEXT,
		request_id    TEXT NOT NULL,
		payload       TEXT NOT NULL,
		status        TEXT NOT NULL,
		result        TEXT,
		error_code    TEXT,
		error_message TEXT,
		created_at    TEXT NOT NULL,
		updated_at    TEXT NOT NULL,
		started_at    TEXT,
		finished_at   TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_tenant ON jobs(tenant_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS usage_events (
		id           TEXT PRIMARY KEY,
		tenant_id    TEXT,
		api_key_id   TEXT,
		request_id   TEXT,
		operation    TEXT NOT NULL,
		status_code  INTEGER NOT NULL,
		error_code   TEXT,
		accepted     INTEGER,
		reason_codes TEXT,
		latency_ms   INTEGER NOT NULL DEFAULT 0,
		created_at   TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_usage_events_tenant_created ON usage_events(tenant_id, created_at)`,
}

// ApplyMigrations applies the schema in a single transaction. Statements are
// idempotent so repeated startups are safe.
func ApplyMigrations(db *sql.DB) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin migration transaction: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range migrationStatements {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("failed to apply migration: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migrations: %w", err)
	}
	return nil
}
