package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/docvault/internal/core/domain"
)

const queueColumns = `id, document_id, status, result, error, attempt, created_at, updated_at`

// QueueRepository stores analysis attempts in ai_processing_queue. The
// partial unique index on document_id rejects a second active entry.
type QueueRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewQueueRepository(db *sql.DB) *QueueRepository {
	return &QueueRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (r *QueueRepository) Enqueue(ctx context.Context, documentID string) (*domain.QueueEntry, error) {
	now := r.now()
	entry := domain.QueueEntry{
		ID:         uuid.NewString(),
		DocumentID: documentID,
		Status:     domain.StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	err := r.db.QueryRowContext(ctx, `
INSERT INTO ai_processing_queue (id, document_id, status, attempt, created_at, updated_at)
SELECT $1, $2, $3, COALESCE(MAX(attempt), 0) + 1, $4, $4
FROM ai_processing_queue
WHERE document_id = $2
RETURNING attempt
`, entry.ID, documentID, string(domain.StatusPending), now).Scan(&entry.Attempt)
	if err != nil {
		return nil, classifyWriteError("enqueue analysis", err)
	}
	return &entry, nil
}

func (r *QueueRepository) List(ctx context.Context) ([]domain.QueueEntry, error) {
	return r.query(ctx, "list queue entries", `
SELECT `+queueColumns+`
FROM ai_processing_queue
ORDER BY created_at ASC, attempt ASC
`)
}

func (r *QueueRepository) ListByStatus(ctx context.Context, status domain.QueueStatus, limit int) ([]domain.QueueEntry, error) {
	query := `
SELECT ` + queueColumns + `
FROM ai_processing_queue
WHERE status = $1
ORDER BY created_at ASC, attempt ASC
`
	args := []any{string(status)}
	if limit > 0 {
		query += "LIMIT $2\n"
		args = append(args, limit)
	}
	return r.query(ctx, "list queue entries by status", query, args...)
}

func (r *QueueRepository) ActiveForDocument(ctx context.Context, documentID string) (*domain.QueueEntry, error) {
	entry, err := scanQueueEntry(r.db.QueryRowContext(ctx, `
SELECT `+queueColumns+`
FROM ai_processing_queue
WHERE document_id = $1 AND status IN ('pending','processing')
`, documentID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrNotFound, "find active queue entry", fmt.Errorf("document %s", documentID))
		}
		return nil, fmt.Errorf("find active queue entry: %w", err)
	}
	return &entry, nil
}

func (r *QueueRepository) Update(ctx context.Context, id string, patch domain.QueuePatch) (*domain.QueueEntry, error) {
	if patch.Status != nil && !patch.Status.Valid() {
		return nil, domain.WrapError(domain.ErrInvalidInput, "update queue entry", fmt.Errorf("unknown status %q", *patch.Status))
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin update queue tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	entry, err := scanQueueEntry(tx.QueryRowContext(ctx, `
SELECT `+queueColumns+`
FROM ai_processing_queue
WHERE id = $1
FOR UPDATE
`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrNotFound, "update queue entry", fmt.Errorf("entry %s", id))
		}
		return nil, fmt.Errorf("lock queue entry: %w", err)
	}
	if !patch.Allows(entry.Status) {
		return nil, domain.WrapError(domain.ErrConflictActiveAnalysis, "update queue entry", fmt.Errorf("entry %s is %s", id, entry.Status))
	}

	patch.Apply(&entry, r.now())
	var resultArg any
	if entry.Result != nil {
		raw, err := json.Marshal(entry.Result)
		if err != nil {
			return nil, fmt.Errorf("marshal queue result: %w", err)
		}
		resultArg = raw
	}

	if _, err := tx.ExecContext(ctx, `
UPDATE ai_processing_queue
SET status = $2, result = $3, error = $4, updated_at = $5
WHERE id = $1
`, id, string(entry.Status), resultArg, entry.Error, entry.UpdatedAt); err != nil {
		return nil, classifyWriteError("update queue entry", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit update queue tx: %w", err)
	}
	return &entry, nil
}

func (r *QueueRepository) query(ctx context.Context, op, query string, args ...any) ([]domain.QueueEntry, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	out := make([]domain.QueueEntry, 0)
	for rows.Next() {
		entry, err := scanQueueEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("%s scan: %w", op, err)
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s iterate: %w", op, err)
	}
	return out, nil
}

func scanQueueEntry(row rowScanner) (domain.QueueEntry, error) {
	var (
		entry     domain.QueueEntry
		status    string
		resultRaw []byte
	)
	err := row.Scan(
		&entry.ID,
		&entry.DocumentID,
		&status,
		&resultRaw,
		&entry.Error,
		&entry.Attempt,
		&entry.CreatedAt,
		&entry.UpdatedAt,
	)
	if err != nil {
		return domain.QueueEntry{}, err
	}
	entry.Status = domain.QueueStatus(status)
	if len(resultRaw) > 0 {
		var result domain.AnalysisResult
		if err := json.Unmarshal(resultRaw, &result); err != nil {
			return domain.QueueEntry{}, fmt.Errorf("unmarshal queue result: %w", err)
		}
		entry.Result = &result
	}
	return entry, nil
}
