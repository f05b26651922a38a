package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// migrationLockKey serializes concurrent Migrate calls across processes.
const migrationLockKey = 0x637265646974 // "credit"

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
    balance         BIGINT NOT NULL CHECK (balance >= 0),
    initial_balance BIGINT NOT NULL CHECK (initial_balance >= 0),
    version         BIGINT NOT NULL DEFAULT 0,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
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
    amount           BIGINT NOT NULL CHECK (amount > 0),
    previous_balance BIGINT NOT NULL,
    new_balance      BIGINT NOT NULL CHECK (new_balance >= 0),
    emission_id      TEXT NOT NULL DEFAULT '',
    description      TEXT NOT NULL DEFAULT '',
    performed_by     TEXT NOT NULL DEFAULT '',
    sequence         BIGINT NOT NULL,
    created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS credit_transactions_sequence_key
    ON credit_transactions (client_id, sequence);
CREATE UNIQUE INDEX IF NOT EXISTS credit_transactions_emission_key
    ON credit_transactions (client_id, emission_id, type) WHERE emission_id <> '';
CREATE INDEX IF NOT EXISTS credit_transactions_type_idx
    ON credit_transactions (client_id, type, sequence);
`,
	},
	{
		Version: "20260101000003",
		Name:    "create_credit_settings",
		Up: `
CREATE TABLE IF NOT EXISTS credit_settings (
    id                        SMALLINT PRIMARY KEY CHECK (id = 1),
    currency                  TEXT NOT NULL,
    default_initial_credits   BIGINT NOT NULL,
    default_markup_percentage NUMERIC(12, 4) NOT NULL,
    low_balance_threshold     BIGINT NOT NULL,
    updated_by                TEXT NOT NULL DEFAULT '',
    updated_at                TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS credit_client_pricing (
    client_id         TEXT PRIMARY KEY,
    markup_percentage NUMERIC(12, 4),
    enabled_carriers  TEXT[] NOT NULL DEFAULT '{}',
    updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
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
    original_cost BIGINT NOT NULL,
    adjusted_cost BIGINT NOT NULL,
    sale_price    BIGINT NOT NULL,
    reason        TEXT NOT NULL,
    performed_by  TEXT NOT NULL DEFAULT '',
    created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS credit_adjustments_client_idx
    ON credit_adjustments (client_id, emission_id, created_at DESC);
`,
	},
}

// Migrate creates the required tables and indexes.
func (s *Store) Migrate(ctx context.Context) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(migrationLockKey)); err != nil {
			return fmt.Errorf("credit/postgres: acquire migration lock: %w", err)
		}
		if _, err := tx.Exec(ctx, `
CREATE TABLE IF NOT EXISTS credit_schema_migrations (
    version    TEXT PRIMARY KEY,
    name       TEXT NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`); err != nil {
			return fmt.Errorf("credit/postgres: create migrations table: %w", err)
		}

		for _, m := range Migrations {
			var applied bool
			if err := tx.QueryRow(ctx,
				`SELECT EXISTS (SELECT 1 FROM credit_schema_migrations WHERE version = $1)`,
				m.Version,
			).Scan(&applied); err != nil {
				return err
			}
			if applied {
				continue
			}
			if _, err := tx.Exec(ctx, m.Up); err != nil {
				return fmt.Errorf("credit/postgres: migration %s failed: %w", m.Name, err)
			}
			if _, err := tx.Exec(ctx,
				`INSERT INTO credit_schema_migrations (version, name) VALUES ($1, $2)`,
				m.Version, m.Name,
			); err != nil {
				return err
			}
		}
		return nil
	})
}
