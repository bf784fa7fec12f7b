package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kirillkom/docvault/internal/core/domain"
)

const documentColumns = `id, name, original_name, mime_type, size, object_path, category, status, ai_analysis, extracted_data, created_at, updated_at`

type DocumentRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewDocumentRepository(db *sql.DB) *DocumentRepository {
	return &DocumentRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (r *DocumentRepository) Create(ctx context.Context, doc *domain.Document) error {
	stored := *doc
	if stored.Status != domain.StatusCompleted {
		stored.Category = nil
		stored.AIAnalysis = nil
		stored.ExtractedData = nil
	}
	analysisJSON, extractedJSON, err := marshalAnalysisColumns(&stored)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
INSERT INTO documents (`+documentColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
`,
		stored.ID, stored.Name, stored.OriginalName, stored.MimeType, stored.Size, stored.ObjectPath,
		stored.Category, string(stored.Status), analysisJSON, extractedJSON, stored.CreatedAt, stored.UpdatedAt,
	)
	if err != nil {
		if pgErrorCode(err) == pgUniqueViolation {
			return domain.WrapError(domain.ErrAlreadyExists, "insert document", err)
		}
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

func (r *DocumentRepository) GetByID(ctx context.Context, id string) (*domain.Document, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT `+documentColumns+`
FROM documents
WHERE id = $1
`, id)

	doc, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrNotFound, "get document", fmt.Errorf("document %s", id))
		}
		return nil, fmt.Errorf("scan document: %w", err)
	}
	return &doc, nil
}

func (r *DocumentRepository) List(ctx context.Context) ([]domain.Document, error) {
	return r.query(ctx, "list documents", `
SELECT `+documentColumns+`
FROM documents
ORDER BY created_at DESC, id DESC
`)
}

func (r *DocumentRepository) ListByCategory(ctx context.Context, category string) ([]domain.Document, error) {
	return r.query(ctx, "list documents by category", `
SELECT `+documentColumns+`
FROM documents
WHERE category = $1
ORDER BY created_at DESC, id DESC
`, category)
}

func (r *DocumentRepository) ListRecent(ctx context.Context, limit int) ([]domain.Document, error) {
	if limit <= 0 {
		return []domain.Document{}, nil
	}
	return r.query(ctx, "list recent documents", `
SELECT `+documentColumns+`
FROM documents
ORDER BY created_at DESC, id DESC
LIMIT $1
`, limit)
}

func (r *DocumentRepository) query(ctx context.Context, op, query string, args ...any) ([]domain.Document, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	out := make([]domain.Document, 0)
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("%s scan: %w", op, err)
		}
		out = append(out, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s iterate: %w", op, err)
	}
	return out, nil
}

// Update locks the row, applies the patch in Go and writes every mutable
// column back, so the compare-and-set and the completed-only invariant are
// evaluated on the same snapshot.
func (r *DocumentRepository) Update(ctx context.Context, id string, patch domain.DocumentPatch) (*domain.Document, error) {
	if patch.Status != nil && !patch.Status.Valid() {
		return nil, domain.WrapError(domain.ErrInvalidInput, "update document", fmt.Errorf("unknown status %q", *patch.Status))
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin update document tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	doc, err := scanDocument(tx.QueryRowContext(ctx, `
SELECT `+documentColumns+`
FROM documents
WHERE id = $1
FOR UPDATE
`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrNotFound, "update document", fmt.Errorf("document %s", id))
		}
		return nil, fmt.Errorf("lock document: %w", err)
	}
	if !patch.Allows(doc.Status) {
		return nil, domain.WrapError(domain.ErrConflictActiveAnalysis, "update document", fmt.Errorf("document %s is %s", id, doc.Status))
	}

	patch.Apply(&doc, r.now())
	analysisJSON, extractedJSON, err := marshalAnalysisColumns(&doc)
	if err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `
UPDATE documents
SET name = $2, status = $3, category = $4, ai_analysis = $5, extracted_data = $6, updated_at = $7
WHERE id = $1
`, id, doc.Name, string(doc.Status), doc.Category, analysisJSON, extractedJSON, doc.UpdatedAt); err != nil {
		return nil, fmt.Errorf("update document: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit update document tx: %w", err)
	}
	return &doc, nil
}

// Delete removes the queue entries before the document in one transaction.
func (r *DocumentRepository) Delete(ctx context.Context, id string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete document tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM ai_processing_queue WHERE document_id = $1`, id); err != nil {
		return fmt.Errorf("delete queue entries: %w", err)
	}
	result, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete document rows affected: %w", err)
	}
	if rows == 0 {
		return domain.WrapError(domain.ErrNotFound, "delete document", fmt.Errorf("document %s", id))
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete document tx: %w", err)
	}
	return nil
}

// Statistics is computed on every call. processedToday counts documents that
// reached completed since midnight UTC.
func (r *DocumentRepository) Statistics(ctx context.Context) (*domain.Statistics, error) {
	now := r.now()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	stats := &domain.Statistics{Categories: make(map[string]int)}
	err := r.db.QueryRowContext(ctx, `
SELECT
	(SELECT COUNT(*) FROM documents),
	(SELECT COUNT(*) FROM documents WHERE status = 'completed' AND updated_at >= $1),
	(SELECT COUNT(*) FROM ai_processing_queue WHERE status IN ('pending','processing'))
`, dayStart).Scan(&stats.TotalDocuments, &stats.ProcessedToday, &stats.PendingProcessing)
	if err != nil {
		return nil, fmt.Errorf("count documents: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, `
SELECT category, COUNT(*)
FROM documents
WHERE category IS NOT NULL
GROUP BY category
`)
	if err != nil {
		return nil, fmt.Errorf("count categories: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			category string
			count    int
		)
		if err := rows.Scan(&category, &count); err != nil {
			return nil, fmt.Errorf("scan category count: %w", err)
		}
		stats.Categories[category] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate category counts: %w", err)
	}
	return stats, nil
}

func scanDocument(row rowScanner) (domain.Document, error) {
	var (
		doc          domain.Document
		status       string
		analysisRaw  []byte
		extractedRaw []byte
	)
	err := row.Scan(
		&doc.ID,
		&doc.Name,
		&doc.OriginalName,
		&doc.MimeType,
		&doc.Size,
		&doc.ObjectPath,
		&doc.Category,
		&status,
		&analysisRaw,
		&extractedRaw,
		&doc.CreatedAt,
		&doc.UpdatedAt,
	)
	if err != nil {
		return domain.Document{}, err
	}
	doc.Status = domain.DocumentStatus(status)
	if len(analysisRaw) > 0 {
		var analysis domain.AnalysisResult
		if err := json.Unmarshal(analysisRaw, &analysis); err != nil {
			return domain.Document{}, fmt.Errorf("unmarshal ai_analysis: %w", err)
		}
		doc.AIAnalysis = &analysis
	}
	if len(extractedRaw) > 0 {
		if err := json.Unmarshal(extractedRaw, &doc.ExtractedData); err != nil {
			return domain.Document{}, fmt.Errorf("unmarshal extracted_data: %w", err)
		}
	}
	return doc, nil
}

// marshalAnalysisColumns returns nil arguments for absent values so they are
// stored as SQL NULL rather than JSON null.
func marshalAnalysisColumns(doc *domain.Document) (any, any, error) {
	var analysisArg, extractedArg any
	if doc.AIAnalysis != nil {
		raw, err := json.Marshal(doc.AIAnalysis)
		if err != nil {
			return nil, nil, fmt.Errorf("marshal ai_analysis: %w", err)
		}
		analysisArg = raw
	}
	if doc.ExtractedData != nil {
		raw, err := json.Marshal(doc.ExtractedData)
		if err != nil {
			return nil, nil, fmt.Errorf("marshal extracted_data: %w", err)
		}
		extractedArg = raw
	}
	return analysisArg, extractedArg, nil
}
