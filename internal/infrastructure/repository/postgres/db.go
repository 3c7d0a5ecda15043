package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func EnsureSchema(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026052601)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS trade_documents (
	id TEXT PRIMARY KEY,
	storage_name TEXT NOT NULL,
	generation TEXT NOT NULL UNIQUE,
	status TEXT NOT NULL,
	origin_address TEXT NOT NULL DEFAULT '',
	received_at TIMESTAMPTZ NOT NULL,
	claimed_at TIMESTAMPTZ,
	retry_count INTEGER NOT NULL DEFAULT 0,
	last_error TEXT NOT NULL DEFAULT '',
	final_status TEXT,
	outcome JSONB,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_trade_documents_status ON trade_documents(status);
CREATE INDEX IF NOT EXISTS idx_trade_documents_claimed_at ON trade_documents(status, claimed_at);

CREATE TABLE IF NOT EXISTS employees (
	id TEXT PRIMARY KEY,
	email TEXT NOT NULL UNIQUE,
	given_name TEXT NOT NULL,
	family_name TEXT NOT NULL,
	preferred_name TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS trade_requests (
	id TEXT PRIMARY KEY,
	employee_id TEXT NOT NULL REFERENCES employees(id),
	ticker TEXT NOT NULL,
	direction TEXT NOT NULL,
	quantity DOUBLE PRECISION NOT NULL,
	estimated_value DOUBLE PRECISION NOT NULL,
	status TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_trade_requests_status ON trade_requests(status);

CREATE TABLE IF NOT EXISTS review_queue (
	id TEXT PRIMARY KEY,
	document_id TEXT NOT NULL UNIQUE REFERENCES trade_documents(id),
	reason TEXT NOT NULL,
	extraction JSONB,
	match_result JSONB,
	candidates JSONB,
	validation JSONB,
	status TEXT NOT NULL,
	assigned_employee_id TEXT,
	assigned_request_id TEXT,
	resolution_note TEXT NOT NULL DEFAULT '',
	resolved_by TEXT NOT NULL DEFAULT '',
	resolved_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_review_queue_status ON review_queue(status);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}
