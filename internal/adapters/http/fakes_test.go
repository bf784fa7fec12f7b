package httpadapter

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/kirillkom/docvault/internal/config"
	"github.com/kirillkom/docvault/internal/core/domain"
	"github.com/kirillkom/docvault/internal/core/ports"
)

var testTime = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

type ingestFake struct {
	err       error
	submitted []domain.DocumentMetadata
	deleted   []string
}

func (f *ingestFake) IssueUploadURL(context.Context) (domain.UploadTicket, error) {
	if f.err != nil {
		return domain.UploadTicket{}, f.err
	}
	return domain.UploadTicket{
		UploadURL:  "http://localhost:8080/uploads/uploads/k1?token=t",
		ObjectPath: "/objects/uploads/k1",
		ExpiresAt:  testTime.Add(15 * time.Minute),
	}, nil
}

func (f *ingestFake) Submit(_ context.Context, meta domain.DocumentMetadata) (*domain.Document, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.submitted = append(f.submitted, meta)
	return &domain.Document{
		ID:           "doc-1",
		Name:         meta.OriginalName,
		OriginalName: meta.OriginalName,
		MimeType:     meta.MimeType,
		Size:         meta.Size,
		ObjectPath:   meta.ObjectPath,
		Status:       domain.StatusPending,
		CreatedAt:    testTime,
		UpdatedAt:    testTime,
	}, nil
}

func (f *ingestFake) Delete(_ context.Context, id string) error {
	if f.err != nil {
		return f.err
	}
	f.deleted = append(f.deleted, id)
	return nil
}

type analyzerFake struct {
	err   error
	calls []ports.AnalyzeOptions
}

func (f *analyzerFake) Analyze(_ context.Context, _ string, opts ports.AnalyzeOptions) (*domain.AnalysisResult, error) {
	f.calls = append(f.calls, opts)
	if f.err != nil {
		return nil, f.err
	}
	return &domain.AnalysisResult{
		Category:       domain.CategoryInvoices,
		Confidence:     0.9,
		ExtractedData:  map[string]any{},
		KeyInformation: []string{},
		DocumentType:   "Invoice",
	}, nil
}

type queryFake struct {
	err          error
	docs         []domain.Document
	lastCategory string
	lastLimit    int
}

func (f *queryFake) GetByID(_ context.Context, id string) (*domain.Document, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &domain.Document{ID: id, Status: domain.StatusPending}, nil
}

func (f *queryFake) List(context.Context) ([]domain.Document, error) {
	return f.docs, f.err
}

func (f *queryFake) ListByCategory(_ context.Context, category string) ([]domain.Document, error) {
	f.lastCategory = category
	return f.docs, f.err
}

func (f *queryFake) ListRecent(_ context.Context, limit int) ([]domain.Document, error) {
	f.lastLimit = limit
	return f.docs, f.err
}

func (f *queryFake) Statistics(context.Context) (*domain.Statistics, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &domain.Statistics{TotalDocuments: 2, Categories: map[string]int{domain.CategoryInvoices: 1}}, nil
}

func (f *queryFake) QueueEntries(context.Context) ([]domain.QueueEntry, error) {
	return nil, f.err
}

func (f *queryFake) ListCategories(context.Context) ([]domain.Category, error) {
	return []domain.Category{{Name: domain.CategoryInvoices, Icon: "receipt", Color: "#3b82f6"}}, f.err
}

// objectsFake is external storage: it does not accept uploads itself.
type objectsFake struct {
	files map[string][]byte
}

func (f *objectsFake) IssueUploadURL(context.Context) (domain.UploadTicket, error) {
	return domain.UploadTicket{}, nil
}

func (f *objectsFake) NormalizePath(raw string) string { return raw }

func (f *objectsFake) Open(_ context.Context, objectPath string) (io.ReadCloser, error) {
	data, ok := f.files[objectPath]
	if !ok {
		return nil, domain.WrapError(domain.ErrNotFound, "open object", errors.New(objectPath))
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *objectsFake) Delete(context.Context, string) error { return nil }

type receivingObjectsFake struct {
	objectsFake
	err      error
	received map[string]string
}

func (f *receivingObjectsFake) ReceiveUpload(_ context.Context, key, token string, body io.Reader) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	raw, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	if f.received == nil {
		f.received = map[string]string{}
	}
	f.received[key] = token + ":" + string(raw)
	return "/objects/" + key, nil
}

func newTestHandler(cfg config.Config) http.Handler {
	return NewRouter(cfg, &ingestFake{}, &analyzerFake{}, &queryFake{}, &objectsFake{}).Handler()
}
