package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kirillkom/docvault/internal/core/domain"
)

type pipelineState struct {
	mu      sync.Mutex
	docs    map[string]domain.Document
	entries map[string]domain.QueueEntry
	seq     int
	clock   time.Time
}

func newPipelineState() *pipelineState {
	return &pipelineState{
		docs:    map[string]domain.Document{},
		entries: map[string]domain.QueueEntry{},
		clock:   time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC),
	}
}

func (s *pipelineState) tick() time.Time {
	s.clock = s.clock.Add(time.Second)
	return s.clock
}

type docRepoFake struct {
	state     *pipelineState
	createErr error
	deleteErr error
	// updateErrFor fails Update when the patch moves to the given status.
	updateErrFor map[domain.DocumentStatus]error
	updates      []domain.DocumentStatus
	deleted      []string
}

func (f *docRepoFake) Create(_ context.Context, doc *domain.Document) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.state.mu.Lock()
	defer f.state.mu.Unlock()
	f.state.docs[doc.ID] = *doc
	return nil
}

func (f *docRepoFake) GetByID(_ context.Context, id string) (*domain.Document, error) {
	f.state.mu.Lock()
	defer f.state.mu.Unlock()
	doc, ok := f.state.docs[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrNotFound, "get document", fmt.Errorf("document %s", id))
	}
	return &doc, nil
}

func (f *docRepoFake) List(context.Context) ([]domain.Document, error) {
	f.state.mu.Lock()
	defer f.state.mu.Unlock()
	out := make([]domain.Document, 0, len(f.state.docs))
	for _, doc := range f.state.docs {
		out = append(out, doc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (f *docRepoFake) ListByCategory(ctx context.Context, category string) ([]domain.Document, error) {
	all, _ := f.List(ctx)
	var out []domain.Document
	for _, doc := range all {
		if doc.Category != nil && *doc.Category == category {
			out = append(out, doc)
		}
	}
	return out, nil
}

func (f *docRepoFake) ListRecent(ctx context.Context, limit int) ([]domain.Document, error) {
	all, _ := f.List(ctx)
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (f *docRepoFake) Update(ctx context.Context, id string, patch domain.DocumentPatch) (*domain.Document, error) {
	if patch.Status != nil {
		f.updates = append(f.updates, *patch.Status)
		if err := f.updateErrFor[*patch.Status]; err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.state.mu.Lock()
	defer f.state.mu.Unlock()
	doc, ok := f.state.docs[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrNotFound, "update document", fmt.Errorf("document %s", id))
	}
	if !patch.Allows(doc.Status) {
		return nil, domain.WrapError(domain.ErrConflictActiveAnalysis, "update document", fmt.Errorf("status is %s", doc.Status))
	}
	patch.Apply(&doc, f.state.tick())
	f.state.docs[id] = doc
	return &doc, nil
}

func (f *docRepoFake) Delete(_ context.Context, id string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.state.mu.Lock()
	defer f.state.mu.Unlock()
	if _, ok := f.state.docs[id]; !ok {
		return domain.WrapError(domain.ErrNotFound, "delete document", fmt.Errorf("document %s", id))
	}
	delete(f.state.docs, id)
	for entryID, entry := range f.state.entries {
		if entry.DocumentID == id {
			delete(f.state.entries, entryID)
		}
	}
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *docRepoFake) Statistics(context.Context) (*domain.Statistics, error) {
	f.state.mu.Lock()
	defer f.state.mu.Unlock()
	stats := &domain.Statistics{TotalDocuments: len(f.state.docs), Categories: map[string]int{}}
	for _, doc := range f.state.docs {
		if doc.Category != nil {
			stats.Categories[*doc.Category]++
		}
	}
	for _, entry := range f.state.entries {
		if entry.Status.Active() {
			stats.PendingProcessing++
		}
	}
	return stats, nil
}

type queueFake struct {
	state      *pipelineState
	enqueueErr error
}

func (f *queueFake) Enqueue(_ context.Context, documentID string) (*domain.QueueEntry, error) {
	if f.enqueueErr != nil {
		return nil, f.enqueueErr
	}
	f.state.mu.Lock()
	defer f.state.mu.Unlock()
	attempt := 1
	for _, entry := range f.state.entries {
		if entry.DocumentID != documentID {
			continue
		}
		if entry.Status.Active() {
			return nil, domain.WrapError(domain.ErrConflictActiveAnalysis, "enqueue", fmt.Errorf("entry %s is active", entry.ID))
		}
		attempt++
	}
	f.state.seq++
	now := f.state.tick()
	entry := domain.QueueEntry{
		ID:         fmt.Sprintf("q-%d", f.state.seq),
		DocumentID: documentID,
		Status:     domain.StatusPending,
		Attempt:    attempt,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	f.state.entries[entry.ID] = entry
	return &entry, nil
}

func (f *queueFake) List(context.Context) ([]domain.QueueEntry, error) {
	f.state.mu.Lock()
	defer f.state.mu.Unlock()
	out := make([]domain.QueueEntry, 0, len(f.state.entries))
	for _, entry := range f.state.entries {
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (f *queueFake) ListByStatus(ctx context.Context, status domain.QueueStatus, limit int) ([]domain.QueueEntry, error) {
	all, _ := f.List(ctx)
	var out []domain.QueueEntry
	for _, entry := range all {
		if entry.Status == status && (limit <= 0 || len(out) < limit) {
			out = append(out, entry)
		}
	}
	return out, nil
}

func (f *queueFake) ActiveForDocument(_ context.Context, documentID string) (*domain.QueueEntry, error) {
	f.state.mu.Lock()
	defer f.state.mu.Unlock()
	for _, entry := range f.state.entries {
		if entry.DocumentID == documentID && entry.Status.Active() {
			return &entry, nil
		}
	}
	return nil, domain.WrapError(domain.ErrNotFound, "active queue entry", fmt.Errorf("document %s", documentID))
}

func (f *queueFake) Update(ctx context.Context, id string, patch domain.QueuePatch) (*domain.QueueEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.state.mu.Lock()
	defer f.state.mu.Unlock()
	entry, ok := f.state.entries[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrNotFound, "update queue entry", fmt.Errorf("entry %s", id))
	}
	if !patch.Allows(entry.Status) {
		return nil, domain.WrapError(domain.ErrConflictActiveAnalysis, "update queue entry", fmt.Errorf("status is %s", entry.Status))
	}
	patch.Apply(&entry, f.state.tick())
	f.state.entries[id] = entry
	return &entry, nil
}

func (f *queueFake) forDocument(documentID string) []domain.QueueEntry {
	all, _ := f.List(context.Background())
	var out []domain.QueueEntry
	for _, entry := range all {
		if entry.DocumentID == documentID {
			out = append(out, entry)
		}
	}
	return out
}

type storageFake struct {
	objects   map[string]string
	openErr   error
	deleteErr error
	deleted   []string
}

func (f *storageFake) IssueUploadURL(context.Context) (domain.UploadTicket, error) {
	return domain.UploadTicket{
		UploadURL:  "http://files.local/uploads/uploads/k1?token=t",
		ObjectPath: "/objects/uploads/k1",
		ExpiresAt:  time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
	}, nil
}

func (f *storageFake) NormalizePath(raw string) string {
	if strings.HasPrefix(raw, "/objects/") {
		return raw
	}
	return "/objects/" + strings.TrimPrefix(raw, "/")
}

func (f *storageFake) Open(_ context.Context, objectPath string) (io.ReadCloser, error) {
	if f.openErr != nil {
		return nil, f.openErr
	}
	body, ok := f.objects[objectPath]
	if !ok {
		return nil, domain.WrapError(domain.ErrNotFound, "open object", fmt.Errorf("object %s", objectPath))
	}
	return io.NopCloser(strings.NewReader(body)), nil
}

func (f *storageFake) Delete(_ context.Context, objectPath string) error {
	f.deleted = append(f.deleted, objectPath)
	return f.deleteErr
}

type notifierFake struct {
	published []string
	err       error
}

func (f *notifierFake) PublishAnalysisRequested(_ context.Context, documentID string) error {
	f.published = append(f.published, documentID)
	return f.err
}

type extractorFake struct {
	text string
	err  error
	seen string
}

func (f *extractorFake) Extract(_ context.Context, _ *domain.Document, body io.Reader) (string, error) {
	raw, _ := io.ReadAll(body)
	f.seen = string(raw)
	if f.err != nil {
		return "", f.err
	}
	return f.text, nil
}

type analyzerFake struct {
	result         domain.AnalysisResult
	err            error
	ocrText        string
	ocrErr         error
	inputs         []domain.AnalysisInput
	ocrCalls       int
	blockUntilDone bool
	onAnalyze      func()
}

func (f *analyzerFake) Analyze(ctx context.Context, in domain.AnalysisInput) (domain.AnalysisResult, error) {
	f.inputs = append(f.inputs, in)
	if f.onAnalyze != nil {
		f.onAnalyze()
	}
	if f.blockUntilDone {
		<-ctx.Done()
		return domain.AnalysisResult{}, domain.WrapError(domain.ErrAnalysisFailed, "analyze", ctx.Err())
	}
	if f.err != nil {
		return domain.AnalysisResult{}, f.err
	}
	return f.result, nil
}

func (f *analyzerFake) ExtractText(context.Context, []byte, string) (string, error) {
	f.ocrCalls++
	if f.ocrErr != nil {
		return "", f.ocrErr
	}
	return f.ocrText, nil
}

type observerFake struct {
	started  int
	finished int
	lastErr  error
}

func (f *observerFake) StartAnalysis(time.Duration) { f.started++ }

func (f *observerFake) FinishAnalysis(_ time.Duration, err error) {
	f.finished++
	f.lastErr = err
}

var errBoom = errors.New("boom")
