package ports

import (
	"context"

	"github.com/kirillkom/docvault/internal/core/domain"
)

// DocumentIngestor is the inbound contract for the upload and submission half
// of the pipeline.
type DocumentIngestor interface {
	IssueUploadURL(ctx context.Context) (domain.UploadTicket, error)
	Submit(ctx context.Context, meta domain.DocumentMetadata) (*domain.Document, error)
	Delete(ctx context.Context, documentID string) error
}

type AnalyzeOptions struct {
	// Force starts a new attempt even when the document is stuck in processing.
	Force bool
}

// DocumentAnalyzerService is the inbound contract for running one analysis attempt.
type DocumentAnalyzerService interface {
	Analyze(ctx context.Context, documentID string, opts AnalyzeOptions) (*domain.AnalysisResult, error)
}

// DocumentQueryService is the inbound read model for documents, queue and
// reference data.
type DocumentQueryService interface {
	GetByID(ctx context.Context, id string) (*domain.Document, error)
	List(ctx context.Context) ([]domain.Document, error)
	ListByCategory(ctx context.Context, category string) ([]domain.Document, error)
	ListRecent(ctx context.Context, limit int) ([]domain.Document, error)
	Statistics(ctx context.Context) (*domain.Statistics, error)
	QueueEntries(ctx context.Context) ([]domain.QueueEntry, error)
	ListCategories(ctx context.Context) ([]domain.Category, error)
}
