package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/kirillkom/docvault/internal/core/domain"
)

var documentColumnNames = []string{
	"id", "name", "original_name", "mime_type", "size", "object_path", "category", "status",
	"ai_analysis", "extracted_data", "created_at", "updated_at",
}

func newRepoWithMock(t *testing.T) (*DocumentRepository, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	return NewDocumentRepository(db), mock, func() { _ = db.Close() }
}

func pendingRow(id string, status domain.DocumentStatus) *sqlmock.Rows {
	ts := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	return sqlmock.NewRows(documentColumnNames).
		AddRow(id, "Invoice", "invoice.pdf", "application/pdf", int64(1024), "/objects/uploads/k1", nil, string(status), nil, nil, ts, ts)
}

func TestGetByIDReturnsDomainNotFound(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	mock.ExpectQuery("SELECT id, name, original_name").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByID(context.Background(), "missing")
	if !domain.IsKind(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetByIDDecodesAnalysisColumns(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	ts := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows(documentColumnNames).AddRow(
		"doc-1", "Invoice", "invoice.pdf", "application/pdf", int64(1024), "/objects/uploads/k1",
		"invoices", "completed",
		[]byte(`{"category":"invoices","confidence":0.9,"extractedData":{"total":"10"},"summary":"s","keyInformation":["a"],"documentType":"Invoice"}`),
		[]byte(`{"total":"10"}`),
		ts, ts,
	)
	mock.ExpectQuery("SELECT id, name, original_name").WithArgs("doc-1").WillReturnRows(rows)

	doc, err := repo.GetByID(context.Background(), "doc-1")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if doc.Category == nil || *doc.Category != "invoices" {
		t.Fatalf("unexpected category: %v", doc.Category)
	}
	if doc.AIAnalysis == nil || doc.AIAnalysis.Confidence != 0.9 || doc.AIAnalysis.DocumentType != "Invoice" {
		t.Fatalf("unexpected analysis: %+v", doc.AIAnalysis)
	}
	if doc.ExtractedData["total"] != "10" {
		t.Fatalf("unexpected extracted data: %+v", doc.ExtractedData)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestUpdateWritesPatchedRowUnderLock(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").WithArgs("doc-1").WillReturnRows(pendingRow("doc-1", domain.StatusPending))
	mock.ExpectExec("UPDATE documents").
		WithArgs("doc-1", "Invoice", string(domain.StatusProcessing), nil, nil, nil, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	doc, err := repo.Update(context.Background(), "doc-1", domain.DocumentPatch{
		Status:         domain.StatusPtr(domain.StatusProcessing),
		ExpectedStatus: []domain.DocumentStatus{domain.StatusPending},
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if doc.Status != domain.StatusProcessing {
		t.Fatalf("expected processing, got %s", doc.Status)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestUpdateReturnsConflictWhenStatusDoesNotMatch(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").WithArgs("doc-1").WillReturnRows(pendingRow("doc-1", domain.StatusProcessing))
	mock.ExpectRollback()

	_, err := repo.Update(context.Background(), "doc-1", domain.DocumentPatch{
		Status:         domain.StatusPtr(domain.StatusProcessing),
		ExpectedStatus: []domain.DocumentStatus{domain.StatusPending, domain.StatusCompleted, domain.StatusError},
	})
	if !domain.IsKind(err, domain.ErrConflictActiveAnalysis) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestUpdateReturnsDomainNotFoundWhenRowMissing(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").WithArgs("missing").WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	_, err := repo.Update(context.Background(), "missing", domain.DocumentPatch{Status: domain.StatusPtr(domain.StatusError)})
	if !domain.IsKind(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestDeleteRemovesQueueEntriesInSameTransaction(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM ai_processing_queue").WithArgs("doc-1").WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("DELETE FROM documents").WithArgs("doc-1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := repo.Delete(context.Background(), "doc-1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestDeleteReturnsDomainNotFoundWhenNoRowsAffected(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM ai_processing_queue").WithArgs("missing").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("DELETE FROM documents").WithArgs("missing").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.Delete(context.Background(), "missing")
	if !domain.IsKind(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestStatisticsUsesUTCDayStart(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()
	repo.now = func() time.Time { return time.Date(2025, 3, 1, 15, 30, 0, 0, time.UTC) }

	mock.ExpectQuery("SELECT COUNT").
		WithArgs(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)).
		WillReturnRows(sqlmock.NewRows([]string{"total", "today", "pending"}).AddRow(7, 2, 3))
	mock.ExpectQuery("GROUP BY category").
		WillReturnRows(sqlmock.NewRows([]string{"category", "count"}).AddRow("invoices", 4).AddRow("medical", 1))

	stats, err := repo.Statistics(context.Background())
	if err != nil {
		t.Fatalf("Statistics() error = %v", err)
	}
	if stats.TotalDocuments != 7 || stats.ProcessedToday != 2 || stats.PendingProcessing != 3 {
		t.Fatalf("unexpected statistics: %+v", stats)
	}
	if stats.Categories["invoices"] != 4 || stats.Categories["medical"] != 1 {
		t.Fatalf("unexpected category counts: %+v", stats.Categories)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestEnqueueMapsUniqueViolationToConflict(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	repo := NewQueueRepository(db)
	mock.ExpectQuery("INSERT INTO ai_processing_queue").
		WithArgs(sqlmock.AnyArg(), "doc-1", string(domain.StatusPending), sqlmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: pgUniqueViolation})

	_, err = repo.Enqueue(context.Background(), "doc-1")
	if !domain.IsKind(err, domain.ErrConflictActiveAnalysis) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestEnqueueMapsForeignKeyViolationToNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	repo := NewQueueRepository(db)
	mock.ExpectQuery("INSERT INTO ai_processing_queue").
		WillReturnError(&pgconn.PgError{Code: pgForeignKeyViolation})

	_, err = repo.Enqueue(context.Background(), "missing")
	if !domain.IsKind(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestEnqueueReturnsNextAttempt(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	repo := NewQueueRepository(db)
	mock.ExpectQuery("INSERT INTO ai_processing_queue").
		WillReturnRows(sqlmock.NewRows([]string{"attempt"}).AddRow(3))

	entry, err := repo.Enqueue(context.Background(), "doc-1")
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	if entry.Attempt != 3 || entry.Status != domain.StatusPending || entry.DocumentID != "doc-1" {
		t.Fatalf("unexpected entry: %+v", entry)
	}
}

func TestListByStatusAppliesLimit(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	repo := NewQueueRepository(db)
	ts := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"id", "document_id", "status", "result", "error", "attempt", "created_at", "updated_at"}).
		AddRow("q-1", "doc-1", "pending", nil, nil, 1, ts, ts)
	mock.ExpectQuery("LIMIT").WithArgs("pending", 5).WillReturnRows(rows)

	entries, err := repo.ListByStatus(context.Background(), domain.StatusPending, 5)
	if err != nil {
		t.Fatalf("ListByStatus() error = %v", err)
	}
	if len(entries) != 1 || entries[0].Result != nil || entries[0].Error != nil {
		t.Fatalf("unexpected entries: %+v", entries)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestQueueUpdateRejectsReactivationViaUniqueIndex(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	repo := NewQueueRepository(db)
	ts := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").WithArgs("q-1").WillReturnRows(
		sqlmock.NewRows([]string{"id", "document_id", "status", "result", "error", "attempt", "created_at", "updated_at"}).
			AddRow("q-1", "doc-1", "error", nil, "boom", 1, ts, ts),
	)
	mock.ExpectExec("UPDATE ai_processing_queue").WillReturnError(&pgconn.PgError{Code: pgUniqueViolation})
	mock.ExpectRollback()

	_, err = repo.Update(context.Background(), "q-1", domain.QueuePatch{Status: domain.StatusPtr(domain.StatusPending)})
	if !domain.IsKind(err, domain.ErrConflictActiveAnalysis) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
