package datastore

import (
	"context"
	"database/sql"
	"fmt"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		account_id       BIGSERIAL PRIMARY KEY,
		email            VARCHAR(255) NOT NULL UNIQUE,
		account_name     VARCHAR(255) NOT NULL,
		app_secret_token VARCHAR(255) NOT NULL UNIQUE,
		website          VARCHAR(255)
	)`,
	`CREATE TABLE IF NOT EXISTS destinations (
		destination_id BIGSERIAL PRIMARY KEY,
		account_id     BIGINT NOT NULL REFERENCES accounts (account_id) ON DELETE CASCADE,
		url            VARCHAR(255) NOT NULL,
		http_method    VARCHAR(10) NOT NULL,
		headers        JSONB NOT NULL DEFAULT '{}'
	)`,
	`CREATE INDEX IF NOT EXISTS destinations_account_id_idx ON destinations (account_id)`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		account_id       INTEGER PRIMARY KEY AUTOINCREMENT,
		email            VARCHAR(255) NOT NULL UNIQUE,
		account_name     VARCHAR(255) NOT NULL,
		app_secret_token VARCHAR(255) NOT NULL UNIQUE,
		website          VARCHAR(255)
	)`,
	`CREATE TABLE IF NOT EXISTS destinations (
		destination_id INTEGER PRIMARY KEY AUTOINCREMENT,
		account_id     INTEGER NOT NULL REFERENCES accounts (account_id) ON DELETE CASCADE,
		url            VARCHAR(255) NOT NULL,
		http_method    VARCHAR(10) NOT NULL,
		headers        TEXT NOT NULL DEFAULT '{}'
	)`,
	`CREATE INDEX IF NOT EXISTS destinations_account_id_idx ON destinations (account_id)`,
}

// Migrate creates the accounts and destinations tables for the given driver.
// SQLite connections must be opened with foreign keys enabled for cascades to apply.
func Migrate(ctx context.Context, db *sql.DB, driver string) error {
	var statements []string
	switch driver {
	case DriverPostgres:
		statements = postgresSchema
	case DriverSQLite:
		statements = sqliteSchema
	default:
		return fmt.Errorf("unsupported database driver %q", driver)
	}

	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}
