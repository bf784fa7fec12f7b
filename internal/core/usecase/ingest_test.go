package usecase

import (
	"context"
	"testing"

	"github.com/kirillkom/docvault/internal/core/domain"
)

type ingestFixture struct {
	state    *pipelineState
	repo     *docRepoFake
	queue    *queueFake
	storage  *storageFake
	notifier *notifierFake
	uc       *IngestDocumentUseCase
}

func newIngestFixture() *ingestFixture {
	state := newPipelineState()
	f := &ingestFixture{
		state:    state,
		repo:     &docRepoFake{state: state},
		queue:    &queueFake{state: state},
		storage:  &storageFake{objects: map[string]string{}},
		notifier: &notifierFake{},
	}
	f.uc = NewIngestDocumentUseCase(f.repo, f.queue, f.storage, f.notifier)
	return f
}

func pdfMetadata() domain.DocumentMetadata {
	return domain.DocumentMetadata{
		Name:         "Invoice March",
		OriginalName: "invoice-2025-03.pdf",
		MimeType:     "application/pdf",
		Size:         48213,
		ObjectPath:   "uploads/k1",
	}
}

func TestSubmitCreatesPendingDocumentAndQueueEntry(t *testing.T) {
	f := newIngestFixture()

	doc, err := f.uc.Submit(context.Background(), pdfMetadata())
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if doc.ID == "" {
		t.Fatalf("expected document id")
	}
	if doc.Status != domain.StatusPending {
		t.Fatalf("expected status pending, got %s", doc.Status)
	}
	if doc.ObjectPath != "/objects/uploads/k1" {
		t.Fatalf("expected normalized object path, got %s", doc.ObjectPath)
	}
	if doc.Category != nil || doc.AIAnalysis != nil || doc.ExtractedData != nil {
		t.Fatalf("expected no analysis fields on pending document: %+v", doc)
	}

	stored, err := f.repo.GetByID(context.Background(), doc.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if stored.Name != "Invoice March" || stored.Size != 48213 {
		t.Fatalf("unexpected stored document: %+v", stored)
	}

	entries := f.queue.forDocument(doc.ID)
	if len(entries) != 1 || entries[0].Status != domain.StatusPending {
		t.Fatalf("expected one pending queue entry, got %+v", entries)
	}
	if len(f.notifier.published) != 1 || f.notifier.published[0] != doc.ID {
		t.Fatalf("expected wake-up for %s, got %v", doc.ID, f.notifier.published)
	}
}

func TestSubmitDefaultsNameToOriginalName(t *testing.T) {
	f := newIngestFixture()
	meta := pdfMetadata()
	meta.Name = "   "

	doc, err := f.uc.Submit(context.Background(), meta)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if doc.Name != meta.OriginalName {
		t.Fatalf("expected name %q, got %q", meta.OriginalName, doc.Name)
	}
}

func TestSubmitRejectsInvalidMetadata(t *testing.T) {
	cases := map[string]func(*domain.DocumentMetadata){
		"missing original name": func(m *domain.DocumentMetadata) { m.OriginalName = "" },
		"missing mime type":     func(m *domain.DocumentMetadata) { m.MimeType = "" },
		"unsupported mime type": func(m *domain.DocumentMetadata) { m.MimeType = "application/x-msdownload" },
		"negative size":         func(m *domain.DocumentMetadata) { m.Size = -1 },
		"missing object path":   func(m *domain.DocumentMetadata) { m.ObjectPath = " " },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			f := newIngestFixture()
			meta := pdfMetadata()
			mutate(&meta)

			_, err := f.uc.Submit(context.Background(), meta)
			if !domain.IsKind(err, domain.ErrInvalidInput) {
				t.Fatalf("expected invalid input, got %v", err)
			}
			if len(f.state.docs) != 0 || len(f.state.entries) != 0 {
				t.Fatalf("expected nothing persisted")
			}
		})
	}
}

func TestSubmitRollsBackDocumentWhenEnqueueFails(t *testing.T) {
	f := newIngestFixture()
	f.queue.enqueueErr = errBoom

	if _, err := f.uc.Submit(context.Background(), pdfMetadata()); err == nil {
		t.Fatalf("expected error")
	}
	if len(f.state.docs) != 0 {
		t.Fatalf("expected document rollback, got %d documents", len(f.state.docs))
	}
	if len(f.notifier.published) != 0 {
		t.Fatalf("expected no wake-up")
	}
}

func TestSubmitSucceedsWhenNotificationFails(t *testing.T) {
	f := newIngestFixture()
	f.notifier.err = errBoom

	doc, err := f.uc.Submit(context.Background(), pdfMetadata())
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if len(f.queue.forDocument(doc.ID)) != 1 {
		t.Fatalf("expected queue entry to survive notification failure")
	}
}

func TestDeleteCascadesToQueueAndStorage(t *testing.T) {
	f := newIngestFixture()
	doc, err := f.uc.Submit(context.Background(), pdfMetadata())
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	if err := f.uc.Delete(context.Background(), doc.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := f.repo.GetByID(context.Background(), doc.ID); !domain.IsKind(err, domain.ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
	if entries := f.queue.forDocument(doc.ID); len(entries) != 0 {
		t.Fatalf("expected queue entries removed, got %+v", entries)
	}
	if len(f.storage.deleted) != 1 || f.storage.deleted[0] != doc.ObjectPath {
		t.Fatalf("expected object deletion, got %v", f.storage.deleted)
	}
}

func TestDeleteIgnoresObjectDeletionFailure(t *testing.T) {
	f := newIngestFixture()
	f.storage.deleteErr = errBoom
	doc, _ := f.uc.Submit(context.Background(), pdfMetadata())

	if err := f.uc.Delete(context.Background(), doc.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
}

func TestDeleteMissingDocument(t *testing.T) {
	f := newIngestFixture()

	err := f.uc.Delete(context.Background(), "missing")
	if !domain.IsKind(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestIsSupportedMimeType(t *testing.T) {
	for mimeType, want := range map[string]bool{
		"image/png":          true,
		"text/plain":         true,
		"application/pdf":    true,
		"APPLICATION/PDF":    true,
		"application/zip":    false,
		"video/mp4":          false,
		"application/msword": true,
	} {
		if got := IsSupportedMimeType(mimeType); got != want {
			t.Fatalf("IsSupportedMimeType(%q) = %v, want %v", mimeType, got, want)
		}
	}
}
