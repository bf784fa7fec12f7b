package ports

import (
	"context"
	"io"
	"time"

	"github.com/kirillkom/docvault/internal/core/domain"
)

// DocumentRepository persists and reads document state.
type DocumentRepository interface {
	Create(ctx context.Context, doc *domain.Document) error
	GetByID(ctx context.Context, id string) (*domain.Document, error)
	List(ctx context.Context) ([]domain.Document, error)
	ListByCategory(ctx context.Context, category string) ([]domain.Document, error)
	ListRecent(ctx context.Context, limit int) ([]domain.Document, error)
	Update(ctx context.Context, id string, patch domain.DocumentPatch) (*domain.Document, error)
	// Delete removes the document and every queue entry that references it.
	Delete(ctx context.Context, id string) error
	Statistics(ctx context.Context) (*domain.Statistics, error)
}

// ProcessingQueue tracks analysis attempts. At most one entry per document
// may be pending or processing.
type ProcessingQueue interface {
	Enqueue(ctx context.Context, documentID string) (*domain.QueueEntry, error)
	List(ctx context.Context) ([]domain.QueueEntry, error)
	ListByStatus(ctx context.Context, status domain.QueueStatus, limit int) ([]domain.QueueEntry, error)
	ActiveForDocument(ctx context.Context, documentID string) (*domain.QueueEntry, error)
	Update(ctx context.Context, id string, patch domain.QueuePatch) (*domain.QueueEntry, error)
}

// CategoryStore serves the static category reference list.
type CategoryStore interface {
	SeedCategories(ctx context.Context, categories []domain.Category) error
	ListCategories(ctx context.Context) ([]domain.Category, error)
}

// ObjectStorage issues upload grants and reads stored documents back.
type ObjectStorage interface {
	IssueUploadURL(ctx context.Context) (domain.UploadTicket, error)
	NormalizePath(raw string) string
	Open(ctx context.Context, objectPath string) (io.ReadCloser, error)
	Delete(ctx context.Context, objectPath string) error
}

// UploadReceiver is implemented by storage backends that accept the signed
// PUT themselves instead of delegating to an external provider.
type UploadReceiver interface {
	ReceiveUpload(ctx context.Context, key, token string, body io.Reader) (string, error)
}

// AnalysisNotifier wakes background workers when a queue entry is created.
type AnalysisNotifier interface {
	PublishAnalysisRequested(ctx context.Context, documentID string) error
}

// AnalysisSubscriber delivers analysis wake-ups to a worker.
type AnalysisSubscriber interface {
	SubscribeAnalysisRequested(ctx context.Context, handler func(context.Context, string) error) error
}

// TextExtractor extracts plain text from non-image documents.
type TextExtractor interface {
	Extract(ctx context.Context, doc *domain.Document, body io.Reader) (string, error)
}

// DocumentAnalyzer is the AI engine. It never touches persisted state.
type DocumentAnalyzer interface {
	Analyze(ctx context.Context, in domain.AnalysisInput) (domain.AnalysisResult, error)
	ExtractText(ctx context.Context, image []byte, mimeType string) (string, error)
}

// AnalysisObserver receives per-attempt telemetry.
type AnalysisObserver interface {
	StartAnalysis(queueLag time.Duration)
	FinishAnalysis(duration time.Duration, err error)
}
