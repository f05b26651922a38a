package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

type migration struct {
	Version string
	Name    string
	Up      string
}

// Migrations are applied in order and recorded in credit_schema_migrations.
var Migrations = []migration{
	{
		Version: "20260101000001",
		Name:    "create_credit_accounts",
		Up: `
CREATE TABLE IF NOT EXISTS credit_accounts (
    client_id       TEXT PRIMARY KEY,
    display_name    TEXT NOT NULL DEFAULT '',
    currency        TEXT NOT NULL,
    balance         INTEGER NOT NULL CHECK (balance >= 0),
    initial_balance INTEGER NOT NULL CHECK (initial_balance >= 0),
    version         INTEGER NOT NULL DEFAULT 0,
    created_at      TEXT NOT NULL,
    updated_at      TEXT NOT NULL
);
`,
	},
	{
		Version: "20260101000002",
		Name:    "create_credit_transactions",
		Up: `
CREATE TABLE IF NOT EXISTS credit_transactions (
    id               TEXT PRIMARY KEY,
    client_id        TEXT NOT NULL REFERENCES credit_accounts (client_id),
    type             TEXT NOT NULL,
    currency         TEXT NOT NULL,
    amount           INTEGER NOT NULL CHECK (amount > 0),
    previous_balance INTEGER NOT NULL,
    new_balance      INTEGER NOT NULL CHECK (new_balance >= 0),
    emission_id      TEXT NOT NULL DEFAULT '',
    description      TEXT NOT NULL DEFAULT '',
    performed_by     TEXT NOT NULL DEFAULT '',
    sequence         INTEGER NOT NULL,
    created_at       TEXT NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS credit_transactions_sequence_key
    ON credit_transactions (client_id, sequence);
CREATE UNIQUE INDEX IF NOT EXISTS credit_transactions_emission_key
    ON credit_transactions (client_id, emission_id, type) WHERE emission_id <> '';
`,
	},
	{
		Version: "20260101000003",
		Name:    "create_credit_settings",
		Up: `
CREATE TABLE IF NOT EXISTS credit_settings (
    id                        INTEGER PRIMARY KEY CHECK (id = 1),
    currency                  TEXT NOT NULL,
    default_initial_credits   INTEGER NOT NULL,
    default_markup_percentage TEXT NOT NULL,
    low_balance_threshold     INTEGER NOT NULL,
    updated_by                TEXT NOT NULL DEFAULT '',
    updated_at                TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS credit_client_pricing (
    client_id         TEXT PRIMARY KEY,
    markup_percentage TEXT,
    enabled_carriers  TEXT NOT NULL DEFAULT '[]',
    updated_at        TEXT NOT NULL
);
`,
	},
	{
		Version: "20260101000004",
		Name:    "create_credit_adjustments",
		Up: `
CREATE TABLE IF NOT EXISTS credit_adjustments (
    id            TEXT PRIMARY KEY,
    client_id     TEXT NOT NULL,
    emission_id   TEXT NOT NULL,
    currency      TEXT NOT NULL,
    original_cost INTEGER NOT NULL,
    adjusted_cost INTEGER NOT NULL,
    sale_price    INTEGER NOT NULL,
    reason        TEXT NOT NULL,
    performed_by  TEXT NOT NULL DEFAULT '',
    created_at    TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS credit_adjustments_client_idx
    ON credit_adjustments (client_id, emission_id, created_at);
`,
	},
}

// Migrate creates the required tables and indexes.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS credit_schema_migrations (
    version    TEXT PRIMARY KEY,
    name       TEXT NOT NULL,
    applied_at TEXT NOT NULL
)`); err != nil {
		return fmt.Errorf("credit/sqlite: create migrations table: %w", err)
	}

	for _, m := range Migrations {
		if err := s.apply(ctx, m); err != nil {
			return fmt.Errorf("credit/sqlite: migration %s failed: %w", m.Name, err)
		}
	}
	return nil
}

func (s *Store) apply(ctx context.Context, m migration) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	var applied int
	err = tx.QueryRowContext(ctx,
		`SELECT 1 FROM credit_schema_migrations WHERE version = ?`, m.Version,
	).Scan(&applied)
	switch {
	case err == nil:
		return nil
	case !errors.Is(err, sql.ErrNoRows):
		return err
	}

	if _, err := tx.ExecContext(ctx, m.Up); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO credit_schema_migrations (version, name, applied_at) VALUES (?, ?, ?)`,
		m.Version, m.Name, formatTime(time.Now()),
	); err != nil {
		return err
	}
	return tx.Commit()
}
