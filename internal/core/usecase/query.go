package usecase

import (
	"context"
	"fmt"
	"strings"

	"github.com/kirillkom/docvault/internal/core/domain"
	"github.com/kirillkom/docvault/internal/core/ports"
)

const (
	DefaultRecentLimit = 5
	maxListLimit       = 100
)

// QueryUseCase serves the read side: documents, statistics, queue and
// categories.
type QueryUseCase struct {
	repo       ports.DocumentRepository
	queue      ports.ProcessingQueue
	categories ports.CategoryStore
}

func NewQueryUseCase(repo ports.DocumentRepository, queue ports.ProcessingQueue, categories ports.CategoryStore) *QueryUseCase {
	return &QueryUseCase{repo: repo, queue: queue, categories: categories}
}

func (uc *QueryUseCase) GetByID(ctx context.Context, id string) (*domain.Document, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "get document", fmt.Errorf("id is required"))
	}
	return uc.repo.GetByID(ctx, id)
}

func (uc *QueryUseCase) List(ctx context.Context) ([]domain.Document, error) {
	return uc.repo.List(ctx)
}

func (uc *QueryUseCase) ListByCategory(ctx context.Context, category string) ([]domain.Document, error) {
	name := strings.ToLower(strings.TrimSpace(category))
	if !domain.IsKnownCategory(name) {
		return nil, domain.WrapError(domain.ErrInvalidInput, "list documents by category", fmt.Errorf("unknown category %q", category))
	}
	return uc.repo.ListByCategory(ctx, name)
}

func (uc *QueryUseCase) ListRecent(ctx context.Context, limit int) ([]domain.Document, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return uc.repo.ListRecent(ctx, limit)
}

func (uc *QueryUseCase) Statistics(ctx context.Context) (*domain.Statistics, error) {
	return uc.repo.Statistics(ctx)
}

// QueueEntries lists every analysis attempt, oldest first.
func (uc *QueryUseCase) QueueEntries(ctx context.Context) ([]domain.QueueEntry, error) {
	return uc.queue.List(ctx)
}

func (uc *QueryUseCase) ListCategories(ctx context.Context) ([]domain.Category, error) {
	return uc.categories.ListCategories(ctx)
}
