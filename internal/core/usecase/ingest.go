package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/docvault/internal/core/domain"
	"github.com/kirillkom/docvault/internal/core/ports"
)

var supportedMimeTypes = map[string]struct{}{
	"application/pdf":    {},
	"application/msword": {},
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": {},
	"application/vnd.ms-excel": {},
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": {},
	"application/json":         {},
	"application/octet-stream": {},
}

type IngestDocumentUseCase struct {
	repo     ports.DocumentRepository
	queue    ports.ProcessingQueue
	storage  ports.ObjectStorage
	notifier ports.AnalysisNotifier
	logger   *slog.Logger
	now      func() time.Time
}

func NewIngestDocumentUseCase(
	repo ports.DocumentRepository,
	queue ports.ProcessingQueue,
	storage ports.ObjectStorage,
	notifier ports.AnalysisNotifier,
) *IngestDocumentUseCase {
	return &IngestDocumentUseCase{
		repo:     repo,
		queue:    queue,
		storage:  storage,
		notifier: notifier,
		logger:   slog.Default(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (uc *IngestDocumentUseCase) IssueUploadURL(ctx context.Context) (domain.UploadTicket, error) {
	ticket, err := uc.storage.IssueUploadURL(ctx)
	if err != nil {
		return domain.UploadTicket{}, fmt.Errorf("issue upload url: %w", err)
	}
	return ticket, nil
}

// Submit records an uploaded object as a pending document and queues it for
// analysis.
func (uc *IngestDocumentUseCase) Submit(ctx context.Context, meta domain.DocumentMetadata) (*domain.Document, error) {
	meta, err := validateMetadata(meta)
	if err != nil {
		return nil, err
	}

	now := uc.now()
	doc := &domain.Document{
		ID:           uuid.NewString(),
		Name:         meta.Name,
		OriginalName: meta.OriginalName,
		MimeType:     meta.MimeType,
		Size:         meta.Size,
		ObjectPath:   uc.storage.NormalizePath(meta.ObjectPath),
		Status:       domain.StatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := uc.repo.Create(ctx, doc); err != nil {
		return nil, fmt.Errorf("create document metadata: %w", err)
	}

	entry, err := uc.queue.Enqueue(ctx, doc.ID)
	if err != nil {
		// The document must not outlive a failed enqueue: nothing would ever analyze it.
		if delErr := uc.repo.Delete(context.WithoutCancel(ctx), doc.ID); delErr != nil {
			uc.logger.Error("submit_rollback_failed", "document_id", doc.ID, "error", delErr)
		}
		return nil, fmt.Errorf("enqueue document: %w", err)
	}

	if uc.notifier != nil {
		if err := uc.notifier.PublishAnalysisRequested(ctx, doc.ID); err != nil {
			uc.logger.Warn("analysis_notify_failed", "document_id", doc.ID, "queue_entry_id", entry.ID, "error", err)
		}
	}

	uc.logger.Info("document_submitted",
		"document_id", doc.ID,
		"queue_entry_id", entry.ID,
		"mime_type", doc.MimeType,
		"object_path", doc.ObjectPath,
	)
	return doc, nil
}

// Delete removes the document and its queue entries regardless of state. The
// stored object is removed best-effort afterwards.
func (uc *IngestDocumentUseCase) Delete(ctx context.Context, documentID string) error {
	doc, err := uc.repo.GetByID(ctx, documentID)
	if err != nil {
		return fmt.Errorf("fetch document by id: %w", err)
	}
	if err := uc.repo.Delete(ctx, documentID); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if err := uc.storage.Delete(ctx, doc.ObjectPath); err != nil && !domain.IsKind(err, domain.ErrNotFound) {
		uc.logger.Warn("object_delete_failed", "document_id", documentID, "object_path", doc.ObjectPath, "error", err)
	}
	uc.logger.Info("document_deleted", "document_id", documentID)
	return nil
}

func validateMetadata(meta domain.DocumentMetadata) (domain.DocumentMetadata, error) {
	meta.Name = strings.TrimSpace(meta.Name)
	meta.OriginalName = strings.TrimSpace(meta.OriginalName)
	meta.MimeType = strings.ToLower(strings.TrimSpace(meta.MimeType))
	meta.ObjectPath = strings.TrimSpace(meta.ObjectPath)

	var problems []string
	if meta.OriginalName == "" {
		problems = append(problems, "originalName is required")
	}
	if meta.MimeType == "" {
		problems = append(problems, "mimeType is required")
	} else if !IsSupportedMimeType(meta.MimeType) {
		problems = append(problems, fmt.Sprintf("mimeType %q is not supported", meta.MimeType))
	}
	if meta.Size < 0 {
		problems = append(problems, "size must not be negative")
	}
	if meta.ObjectPath == "" {
		problems = append(problems, "objectPath is required")
	}
	if len(problems) > 0 {
		return meta, domain.WrapError(domain.ErrInvalidInput, "validate document", errors.New(strings.Join(problems, "; ")))
	}
	if meta.Name == "" {
		meta.Name = meta.OriginalName
	}
	return meta, nil
}

func IsSupportedMimeType(mimeType string) bool {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	if strings.HasPrefix(mimeType, "image/") || strings.HasPrefix(mimeType, "text/") {
		return true
	}
	_, ok := supportedMimeTypes[mimeType]
	return ok
}
