package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/kirillkom/docvault/internal/core/domain"
	"github.com/kirillkom/docvault/internal/core/ports"
)

const (
	defaultAnalysisTimeout = 2 * time.Minute
	failureWriteTimeout    = 10 * time.Second
	maxImageBytes          = 20 << 20
)

type AnalyzeDocumentUseCase struct {
	repo      ports.DocumentRepository
	queue     ports.ProcessingQueue
	storage   ports.ObjectStorage
	extractor ports.TextExtractor
	analyzer  ports.DocumentAnalyzer
	observer  ports.AnalysisObserver
	timeout   time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

func NewAnalyzeDocumentUseCase(
	repo ports.DocumentRepository,
	queue ports.ProcessingQueue,
	storage ports.ObjectStorage,
	extractor ports.TextExtractor,
	analyzer ports.DocumentAnalyzer,
) *AnalyzeDocumentUseCase {
	return &AnalyzeDocumentUseCase{
		repo:      repo,
		queue:     queue,
		storage:   storage,
		extractor: extractor,
		analyzer:  analyzer,
		timeout:   defaultAnalysisTimeout,
		logger:    slog.Default(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// WithTimeout bounds one analysis attempt, storage reads included.
func (uc *AnalyzeDocumentUseCase) WithTimeout(timeout time.Duration) *AnalyzeDocumentUseCase {
	if timeout > 0 {
		uc.timeout = timeout
	}
	return uc
}

func (uc *AnalyzeDocumentUseCase) WithObserver(observer ports.AnalysisObserver) *AnalyzeDocumentUseCase {
	uc.observer = observer
	return uc
}

// ProcessByID is the worker entry point. A document that is already being
// analyzed is skipped rather than treated as a failure.
func (uc *AnalyzeDocumentUseCase) ProcessByID(ctx context.Context, documentID string) error {
	_, err := uc.Analyze(ctx, documentID, ports.AnalyzeOptions{})
	if domain.IsKind(err, domain.ErrConflictActiveAnalysis) {
		uc.logger.Debug("analysis_skipped", "document_id", documentID, "reason", err.Error())
		return nil
	}
	return err
}

// Analyze runs one analysis attempt: pending|completed|error -> processing ->
// completed|error. Every failure after the processing transition is persisted
// before it is returned.
func (uc *AnalyzeDocumentUseCase) Analyze(ctx context.Context, documentID string, opts ports.AnalyzeOptions) (*domain.AnalysisResult, error) {
	doc, err := uc.repo.GetByID(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("fetch document by id: %w", err)
	}

	entry, err := uc.begin(ctx, doc, opts)
	if err != nil {
		return nil, err
	}

	started := uc.now()
	if uc.observer != nil {
		uc.observer.StartAnalysis(started.Sub(entry.CreatedAt))
	}
	logger := uc.logger.With("document_id", doc.ID, "queue_entry_id", entry.ID, "attempt", entry.Attempt)
	logger.Info("analysis_started", "mime_type", doc.MimeType)

	attemptCtx, cancel := context.WithTimeout(ctx, uc.timeout)
	result, err := uc.runPipeline(attemptCtx, doc)
	cancel()
	if err == nil {
		err = uc.complete(ctx, doc.ID, entry.ID, result)
	}

	if uc.observer != nil {
		uc.observer.FinishAnalysis(uc.now().Sub(started), err)
	}
	if err != nil {
		if failErr := uc.fail(ctx, doc.ID, entry.ID, err); failErr != nil {
			logger.Error("analysis_failure_not_recorded", "error", err, "record_error", failErr)
			return nil, fmt.Errorf("%w; mark error status: %v", err, failErr)
		}
		logger.Warn("analysis_failed", "error", err)
		return nil, err
	}

	logger.Info("analysis_completed", "category", result.Category, "confidence", result.Confidence)
	return &result, nil
}

// begin performs the compare-and-set into processing for both the document
// and its queue entry.
func (uc *AnalyzeDocumentUseCase) begin(ctx context.Context, doc *domain.Document, opts ports.AnalyzeOptions) (*domain.QueueEntry, error) {
	allowed := []domain.DocumentStatus{domain.StatusPending, domain.StatusCompleted, domain.StatusError}
	if opts.Force {
		allowed = append(allowed, domain.StatusProcessing)
	} else if doc.Status == domain.StatusProcessing {
		return nil, domain.WrapError(domain.ErrConflictActiveAnalysis, "begin analysis", fmt.Errorf("document %s is already processing", doc.ID))
	}

	if _, err := uc.repo.Update(ctx, doc.ID, domain.DocumentPatch{
		Status:         domain.StatusPtr(domain.StatusProcessing),
		ExpectedStatus: allowed,
	}); err != nil {
		return nil, fmt.Errorf("set status=processing: %w", err)
	}

	entry, err := uc.claimQueueEntry(ctx, doc.ID, opts.Force)
	if err != nil {
		if failErr := uc.failDocument(ctx, doc.ID); failErr != nil {
			return nil, fmt.Errorf("%w; mark error status: %v", err, failErr)
		}
		return nil, err
	}
	return entry, nil
}

// claimQueueEntry moves the document's active entry to processing, creating a
// new attempt when the previous one already reached a terminal state.
func (uc *AnalyzeDocumentUseCase) claimQueueEntry(ctx context.Context, documentID string, force bool) (*domain.QueueEntry, error) {
	active, err := uc.queue.ActiveForDocument(ctx, documentID)
	switch {
	case err == nil && active.Status == domain.StatusProcessing:
		if !force {
			return nil, domain.WrapError(domain.ErrConflictActiveAnalysis, "claim queue entry", fmt.Errorf("entry %s is already processing", active.ID))
		}
		if _, err := uc.queue.Update(ctx, active.ID, domain.QueuePatch{
			Status:         domain.StatusPtr(domain.StatusError),
			Error:          domain.StringPtr("superseded by forced re-analysis"),
			ExpectedStatus: []domain.QueueStatus{domain.StatusProcessing},
		}); err != nil {
			return nil, fmt.Errorf("close superseded queue entry: %w", err)
		}
	case err == nil:
		claimed, err := uc.queue.Update(ctx, active.ID, domain.QueuePatch{
			Status:         domain.StatusPtr(domain.StatusProcessing),
			ExpectedStatus: []domain.QueueStatus{domain.StatusPending},
		})
		if err != nil {
			return nil, fmt.Errorf("set queue status=processing: %w", err)
		}
		return claimed, nil
	case !domain.IsKind(err, domain.ErrNotFound):
		return nil, fmt.Errorf("find active queue entry: %w", err)
	}

	entry, err := uc.queue.Enqueue(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("enqueue analysis attempt: %w", err)
	}
	claimed, err := uc.queue.Update(ctx, entry.ID, domain.QueuePatch{
		Status:         domain.StatusPtr(domain.StatusProcessing),
		ExpectedStatus: []domain.QueueStatus{domain.StatusPending},
	})
	if err != nil {
		return nil, fmt.Errorf("set queue status=processing: %w", err)
	}
	return claimed, nil
}

func (uc *AnalyzeDocumentUseCase) runPipeline(ctx context.Context, doc *domain.Document) (domain.AnalysisResult, error) {
	if doc.IsImage() {
		return uc.analyzeImage(ctx, doc)
	}
	return uc.analyzeText(ctx, doc)
}

func (uc *AnalyzeDocumentUseCase) analyzeImage(ctx context.Context, doc *domain.Document) (domain.AnalysisResult, error) {
	image, err := uc.readObject(ctx, doc.ObjectPath)
	if err != nil {
		return domain.AnalysisResult{}, err
	}

	text, err := uc.analyzer.ExtractText(ctx, image, doc.MimeType)
	if err != nil {
		return domain.AnalysisResult{}, fmt.Errorf("extract image text: %w", err)
	}

	result, err := uc.analyzer.Analyze(ctx, domain.AnalysisInput{
		Text:          text,
		Image:         image,
		ImageMIMEType: doc.MimeType,
	})
	if err != nil {
		return domain.AnalysisResult{}, fmt.Errorf("analyze document: %w", err)
	}
	return result, nil
}

func (uc *AnalyzeDocumentUseCase) analyzeText(ctx context.Context, doc *domain.Document) (domain.AnalysisResult, error) {
	text := ""
	if uc.extractor != nil {
		reader, err := uc.storage.Open(ctx, doc.ObjectPath)
		if err != nil {
			return domain.AnalysisResult{}, sourceUnavailable(err)
		}
		extracted, err := uc.extractor.Extract(ctx, doc, reader)
		_ = reader.Close()
		if err != nil {
			uc.logger.Warn("text_extraction_failed", "document_id", doc.ID, "mime_type", doc.MimeType, "error", err)
		}
		text = strings.TrimSpace(extracted)
	}
	if text == "" {
		text = placeholderText(doc)
	}

	result, err := uc.analyzer.Analyze(ctx, domain.AnalysisInput{Text: text})
	if err != nil {
		return domain.AnalysisResult{}, fmt.Errorf("analyze document: %w", err)
	}
	return result, nil
}

func (uc *AnalyzeDocumentUseCase) readObject(ctx context.Context, objectPath string) ([]byte, error) {
	reader, err := uc.storage.Open(ctx, objectPath)
	if err != nil {
		return nil, sourceUnavailable(err)
	}
	defer reader.Close()

	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(reader, maxImageBytes+1))
	if err != nil {
		return nil, domain.WrapError(domain.ErrStorageFailure, "read source document", err)
	}
	if n > maxImageBytes {
		return nil, domain.WrapError(domain.ErrAnalysisFailed, "read source document", fmt.Errorf("image exceeds %d bytes", maxImageBytes))
	}
	if n == 0 {
		return nil, domain.WrapError(domain.ErrStorageFailure, "read source document", errors.New("object is empty"))
	}
	return buf.Bytes(), nil
}

// complete closes the attempt's queue entry before touching the document. An
// attempt superseded by a forced re-analysis no longer owns a processing
// entry, so its result never reaches the document.
func (uc *AnalyzeDocumentUseCase) complete(ctx context.Context, documentID, entryID string, result domain.AnalysisResult) error {
	category := domain.NormalizeCategory(result.Category)
	result.Category = category

	if _, err := uc.queue.Update(ctx, entryID, domain.QueuePatch{
		Status:         domain.StatusPtr(domain.StatusCompleted),
		Result:         &result,
		ExpectedStatus: []domain.QueueStatus{domain.StatusProcessing},
	}); err != nil {
		return fmt.Errorf("save queue result: %w", err)
	}

	if _, err := uc.repo.Update(ctx, documentID, domain.DocumentPatch{
		Status:         domain.StatusPtr(domain.StatusCompleted),
		Category:       &category,
		AIAnalysis:     &result,
		ExtractedData:  result.ExtractedData,
		ExpectedStatus: []domain.DocumentStatus{domain.StatusProcessing},
	}); err != nil {
		return fmt.Errorf("save analysis: %w", err)
	}
	return nil
}

// fail records the terminal error state. It runs on a context detached from
// the caller so that a cancelled request or an expired attempt still gets
// written. The document is marked only while this attempt still owns its
// queue entry; completed is accepted because complete closes the entry before
// the document write that may have failed.
func (uc *AnalyzeDocumentUseCase) fail(ctx context.Context, documentID, entryID string, cause error) error {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failureWriteTimeout)
	defer cancel()

	reason := strings.TrimSpace(cause.Error())
	if reason == "" {
		reason = "analysis failed"
	}

	_, err := uc.queue.Update(writeCtx, entryID, domain.QueuePatch{
		Status:         domain.StatusPtr(domain.StatusError),
		Error:          &reason,
		ExpectedStatus: []domain.QueueStatus{domain.StatusProcessing, domain.StatusCompleted},
	})
	switch {
	case domain.IsKind(err, domain.ErrConflictActiveAnalysis):
		uc.logger.Info("analysis_superseded", "document_id", documentID, "queue_entry_id", entryID)
		return nil
	case err != nil && !domain.IsKind(err, domain.ErrNotFound):
		return fmt.Errorf("set queue status=error: %w", err)
	}
	return uc.failDocument(writeCtx, documentID)
}

func (uc *AnalyzeDocumentUseCase) failDocument(ctx context.Context, documentID string) error {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failureWriteTimeout)
	defer cancel()

	_, err := uc.repo.Update(writeCtx, documentID, domain.DocumentPatch{
		Status:         domain.StatusPtr(domain.StatusError),
		ExpectedStatus: []domain.DocumentStatus{domain.StatusProcessing},
	})
	// A deleted document has nothing left to mark.
	if err != nil && !domain.IsKind(err, domain.ErrNotFound) {
		return fmt.Errorf("set status=error: %w", err)
	}
	return nil
}

// sourceUnavailable flattens the storage error so that a missing object is
// reported as a failed analysis of an existing document, not as a missing
// document.
func sourceUnavailable(err error) error {
	return domain.WrapError(domain.ErrStorageFailure, "open source document", errors.New(err.Error()))
}

func placeholderText(doc *domain.Document) string {
	return fmt.Sprintf(
		"The text content of this document is not available. File name: %s. Display name: %s. MIME type: %s. Size: %d bytes. Classify it from this metadata only.",
		doc.OriginalName, doc.Name, doc.MimeType, doc.Size,
	)
}
