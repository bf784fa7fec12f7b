// Package memory keeps documents, queue entries and categories in process
// memory. It serves local runs without Postgres and shares the same
// invariants: one lock guards both tables, so cascade deletes and the
// single-active-entry rule are atomic.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/docvault/internal/core/domain"
)

type Store struct {
	mu         sync.RWMutex
	docs       map[string]domain.Document
	entries    map[string]domain.QueueEntry
	categories []domain.Category
	// order breaks timestamp ties by insertion sequence.
	order map[string]uint64
	seq   uint64
	now   func() time.Time
}

func NewStore() *Store {
	return &Store{
		docs:    make(map[string]domain.Document),
		entries: make(map[string]domain.QueueEntry),
		order:   make(map[string]uint64),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Documents returns the document repository view of the store.
func (s *Store) Documents() *DocumentRepository { return &DocumentRepository{store: s} }

// Queue returns the processing queue view of the store.
func (s *Store) Queue() *QueueRepository { return &QueueRepository{store: s} }

func (s *Store) SeedCategories(_ context.Context, categories []domain.Category) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.categories = append([]domain.Category(nil), categories...)
	return nil
}

func (s *Store) ListCategories(context.Context) ([]domain.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.Category(nil), s.categories...), nil
}

type DocumentRepository struct {
	store *Store
}

func (r *DocumentRepository) Create(_ context.Context, doc *domain.Document) error {
	if doc == nil || doc.ID == "" {
		return domain.WrapError(domain.ErrInvalidInput, "create document", fmt.Errorf("document id is required"))
	}
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.docs[doc.ID]; exists {
		return domain.WrapError(domain.ErrAlreadyExists, "create document", fmt.Errorf("document %s", doc.ID))
	}
	stored := cloneDocument(*doc)
	if stored.Status != domain.StatusCompleted {
		stored.Category = nil
		stored.AIAnalysis = nil
		stored.ExtractedData = nil
	}
	s.docs[doc.ID] = stored
	s.seq++
	s.order[doc.ID] = s.seq
	return nil
}

func (r *DocumentRepository) GetByID(_ context.Context, id string) (*domain.Document, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrNotFound, "get document", fmt.Errorf("document %s", id))
	}
	out := cloneDocument(doc)
	return &out, nil
}

func (r *DocumentRepository) List(context.Context) ([]domain.Document, error) {
	return r.filter(func(domain.Document) bool { return true }, 0), nil
}

func (r *DocumentRepository) ListByCategory(_ context.Context, category string) ([]domain.Document, error) {
	return r.filter(func(doc domain.Document) bool {
		return doc.Category != nil && *doc.Category == category
	}, 0), nil
}

func (r *DocumentRepository) ListRecent(_ context.Context, limit int) ([]domain.Document, error) {
	if limit <= 0 {
		return []domain.Document{}, nil
	}
	return r.filter(func(domain.Document) bool { return true }, limit), nil
}

func (r *DocumentRepository) filter(keep func(domain.Document) bool, limit int) []domain.Document {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Document, 0, len(s.docs))
	for _, doc := range s.docs {
		if keep(doc) {
			out = append(out, cloneDocument(doc))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return s.order[out[i].ID] > s.order[out[j].ID]
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (r *DocumentRepository) Update(_ context.Context, id string, patch domain.DocumentPatch) (*domain.Document, error) {
	if patch.Status != nil && !patch.Status.Valid() {
		return nil, domain.WrapError(domain.ErrInvalidInput, "update document", fmt.Errorf("unknown status %q", *patch.Status))
	}
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrNotFound, "update document", fmt.Errorf("document %s", id))
	}
	if !patch.Allows(doc.Status) {
		return nil, domain.WrapError(domain.ErrConflictActiveAnalysis, "update document", fmt.Errorf("document %s is %s", id, doc.Status))
	}
	patch.Apply(&doc, s.now())
	s.docs[id] = cloneDocument(doc)
	out := cloneDocument(doc)
	return &out, nil
}

func (r *DocumentRepository) Delete(_ context.Context, id string) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[id]; !ok {
		return domain.WrapError(domain.ErrNotFound, "delete document", fmt.Errorf("document %s", id))
	}
	delete(s.docs, id)
	delete(s.order, id)
	for entryID, entry := range s.entries {
		if entry.DocumentID == id {
			delete(s.entries, entryID)
			delete(s.order, entryID)
		}
	}
	return nil
}

func (r *DocumentRepository) Statistics(context.Context) (*domain.Statistics, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	stats := &domain.Statistics{
		TotalDocuments: len(s.docs),
		Categories:     make(map[string]int),
	}
	for _, doc := range s.docs {
		if doc.Status == domain.StatusCompleted && !doc.UpdatedAt.Before(dayStart) {
			stats.ProcessedToday++
		}
		if doc.Category != nil {
			stats.Categories[*doc.Category]++
		}
	}
	for _, entry := range s.entries {
		if entry.Status.Active() {
			stats.PendingProcessing++
		}
	}
	return stats, nil
}

type QueueRepository struct {
	store *Store
}

func (q *QueueRepository) Enqueue(_ context.Context, documentID string) (*domain.QueueEntry, error) {
	s := q.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[documentID]; !ok {
		return nil, domain.WrapError(domain.ErrNotFound, "enqueue analysis", fmt.Errorf("document %s", documentID))
	}

	attempt := 1
	for _, entry := range s.entries {
		if entry.DocumentID != documentID {
			continue
		}
		if entry.Status.Active() {
			return nil, domain.WrapError(domain.ErrConflictActiveAnalysis, "enqueue analysis", fmt.Errorf("entry %s is %s", entry.ID, entry.Status))
		}
		if entry.Attempt >= attempt {
			attempt = entry.Attempt + 1
		}
	}

	now := s.now()
	entry := domain.QueueEntry{
		ID:         uuid.NewString(),
		DocumentID: documentID,
		Status:     domain.StatusPending,
		Attempt:    attempt,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	s.entries[entry.ID] = entry
	s.seq++
	s.order[entry.ID] = s.seq
	out := cloneEntry(entry)
	return &out, nil
}

func (q *QueueRepository) List(context.Context) ([]domain.QueueEntry, error) {
	return q.filter(func(domain.QueueEntry) bool { return true }, 0), nil
}

func (q *QueueRepository) ListByStatus(_ context.Context, status domain.QueueStatus, limit int) ([]domain.QueueEntry, error) {
	return q.filter(func(entry domain.QueueEntry) bool { return entry.Status == status }, limit), nil
}

func (q *QueueRepository) filter(keep func(domain.QueueEntry) bool, limit int) []domain.QueueEntry {
	s := q.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.QueueEntry, 0, len(s.entries))
	for _, entry := range s.entries {
		if keep(entry) {
			out = append(out, cloneEntry(entry))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return s.order[out[i].ID] < s.order[out[j].ID]
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (q *QueueRepository) ActiveForDocument(_ context.Context, documentID string) (*domain.QueueEntry, error) {
	s := q.store
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, entry := range s.entries {
		if entry.DocumentID == documentID && entry.Status.Active() {
			out := cloneEntry(entry)
			return &out, nil
		}
	}
	return nil, domain.WrapError(domain.ErrNotFound, "find active queue entry", fmt.Errorf("document %s", documentID))
}

func (q *QueueRepository) Update(_ context.Context, id string, patch domain.QueuePatch) (*domain.QueueEntry, error) {
	if patch.Status != nil && !patch.Status.Valid() {
		return nil, domain.WrapError(domain.ErrInvalidInput, "update queue entry", fmt.Errorf("unknown status %q", *patch.Status))
	}
	s := q.store
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrNotFound, "update queue entry", fmt.Errorf("entry %s", id))
	}
	if !patch.Allows(entry.Status) {
		return nil, domain.WrapError(domain.ErrConflictActiveAnalysis, "update queue entry", fmt.Errorf("entry %s is %s", id, entry.Status))
	}
	if patch.Status != nil && patch.Status.Active() && !entry.Status.Active() {
		for _, other := range s.entries {
			if other.ID != id && other.DocumentID == entry.DocumentID && other.Status.Active() {
				return nil, domain.WrapError(domain.ErrConflictActiveAnalysis, "update queue entry", fmt.Errorf("entry %s is already active", other.ID))
			}
		}
	}
	patch.Apply(&entry, s.now())
	s.entries[id] = cloneEntry(entry)
	out := cloneEntry(entry)
	return &out, nil
}

func cloneDocument(doc domain.Document) domain.Document {
	if doc.Category != nil {
		category := *doc.Category
		doc.Category = &category
	}
	if doc.AIAnalysis != nil {
		analysis := cloneResult(*doc.AIAnalysis)
		doc.AIAnalysis = &analysis
	}
	if doc.ExtractedData != nil {
		doc.ExtractedData = cloneMap(doc.ExtractedData)
	}
	return doc
}

func cloneEntry(entry domain.QueueEntry) domain.QueueEntry {
	if entry.Result != nil {
		result := cloneResult(*entry.Result)
		entry.Result = &result
	}
	if entry.Error != nil {
		reason := *entry.Error
		entry.Error = &reason
	}
	return entry
}

func cloneResult(result domain.AnalysisResult) domain.AnalysisResult {
	result.ExtractedData = cloneMap(result.ExtractedData)
	if result.KeyInformation != nil {
		result.KeyInformation = append([]string{}, result.KeyInformation...)
	}
	return result
}

// cloneMap copies the top level only; nested values are treated as immutable.
func cloneMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
