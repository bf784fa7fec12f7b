package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/kirillkom/docvault/internal/core/domain"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	schemaLockKey         = int64(2025030101)
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

const schemaDDL = `
CREATE TABLE IF NOT EXISTS documents (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	original_name TEXT NOT NULL,
	mime_type TEXT NOT NULL,
	size BIGINT NOT NULL CHECK (size >= 0),
	object_path TEXT NOT NULL,
	category TEXT,
	status TEXT NOT NULL CHECK (status IN ('pending','processing','completed','error')),
	ai_analysis JSONB,
	extracted_data JSONB,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	CONSTRAINT documents_analysis_only_when_completed CHECK (
		status = 'completed' OR (category IS NULL AND ai_analysis IS NULL AND extracted_data IS NULL)
	)
);

CREATE INDEX IF NOT EXISTS idx_documents_created_at ON documents(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_documents_category ON documents(category) WHERE category IS NOT NULL;

CREATE TABLE IF NOT EXISTS ai_processing_queue (
	id TEXT PRIMARY KEY,
	document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	status TEXT NOT NULL CHECK (status IN ('pending','processing','completed','error')),
	result JSONB,
	error TEXT,
	attempt INTEGER NOT NULL DEFAULT 1,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS uq_ai_processing_queue_active
	ON ai_processing_queue(document_id) WHERE status IN ('pending','processing');
CREATE INDEX IF NOT EXISTS idx_ai_processing_queue_status_created
	ON ai_processing_queue(status, created_at);

CREATE TABLE IF NOT EXISTS categories (
	name TEXT PRIMARY KEY,
	icon TEXT NOT NULL,
	color TEXT NOT NULL,
	position INTEGER NOT NULL
);
`

// EnsureSchema creates the tables and indexes used by the repositories.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, schemaLockKey); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}
	if _, err := tx.ExecContext(ctx, schemaDDL); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

func pgErrorCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// classifyWriteError maps constraint violations onto domain error kinds.
func classifyWriteError(op string, err error) error {
	switch pgErrorCode(err) {
	case pgUniqueViolation:
		return domain.WrapError(domain.ErrConflictActiveAnalysis, op, err)
	case pgForeignKeyViolation:
		return domain.WrapError(domain.ErrNotFound, op, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}
