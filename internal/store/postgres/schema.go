package postgres

import "context"

// Records are kept as JSONB documents. Columns next to the document carry only
// what the database itself has to enforce or order by.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS products (
		seq         BIGSERIAL,
		id          TEXT PRIMARY KEY,
		barcode     TEXT NOT NULL DEFAULT '',
		quantity    INTEGER NOT NULL DEFAULT 0,
		doc         JSONB NOT NULL,
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS products_barcode_idx ON products (barcode)`,
	`CREATE TABLE IF NOT EXISTS stock_adjustments (
		key         TEXT PRIMARY KEY,
		product_id  TEXT NOT NULL,
		delta       INTEGER NOT NULL,
		applied_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS transactions (
		seq         BIGSERIAL,
		id          TEXT PRIMARY KEY,
		reversal_of TEXT NOT NULL DEFAULT '',
		created_at  TIMESTAMPTZ NOT NULL,
		doc         JSONB NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS transactions_single_reversal_idx
		ON transactions (reversal_of) WHERE reversal_of <> ''`,
	`CREATE TABLE IF NOT EXISTS shifts (
		seq         BIGSERIAL,
		id          TEXT PRIMARY KEY,
		user_id     TEXT NOT NULL,
		is_open     BOOLEAN NOT NULL,
		doc         JSONB NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS shifts_one_open_per_user_idx
		ON shifts (user_id) WHERE is_open`,
	`CREATE TABLE IF NOT EXISTS customers (
		seq         BIGSERIAL,
		id          TEXT PRIMARY KEY,
		doc         JSONB NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS users (
		seq         BIGSERIAL,
		id          TEXT PRIMARY KEY,
		username    TEXT NOT NULL UNIQUE,
		doc         JSONB NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS audit_entries (
		seq         BIGSERIAL,
		id          TEXT PRIMARY KEY,
		at          TIMESTAMPTZ NOT NULL,
		doc         JSONB NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS settings (
		id          SMALLINT PRIMARY KEY CHECK (id = 1),
		doc         JSONB NOT NULL
	)`,
}

// Migrate creates any missing tables and indexes. It is safe to run on every start.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
