package redis

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/kirillkom/docvault/internal/core/domain"
	"github.com/kirillkom/docvault/internal/core/ports"
)

const (
	statisticsKey        = "docvault:statistics"
	DefaultStatisticsTTL = 30 * time.Second
)

type keyValue interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

// StatisticsCache holds the cached statistics snapshot. Cache failures are
// logged and the caller falls through to the store.
type StatisticsCache struct {
	kv  keyValue
	ttl time.Duration
}

func NewStatisticsCache(kv keyValue, ttl time.Duration) *StatisticsCache {
	if ttl <= 0 {
		ttl = DefaultStatisticsTTL
	}
	return &StatisticsCache{kv: kv, ttl: ttl}
}

func (c *StatisticsCache) load(ctx context.Context, compute func(context.Context) (*domain.Statistics, error)) (*domain.Statistics, error) {
	raw, err := c.kv.Get(ctx, statisticsKey)
	switch {
	case err == nil:
		var stats domain.Statistics
		if jsonErr := json.Unmarshal([]byte(raw), &stats); jsonErr == nil {
			return &stats, nil
		}
		slog.Warn("statistics_cache_corrupt", "key", statisticsKey)
	case !errors.Is(err, ErrCacheMiss):
		slog.Warn("statistics_cache_get_failed", "error", err)
	}

	stats, err := compute(ctx)
	if err != nil {
		return nil, err
	}
	if payload, jsonErr := json.Marshal(stats); jsonErr == nil {
		if setErr := c.kv.Set(ctx, statisticsKey, string(payload), c.ttl); setErr != nil {
			slog.Warn("statistics_cache_set_failed", "error", setErr)
		}
	}
	return stats, nil
}

func (c *StatisticsCache) invalidate(ctx context.Context) {
	if err := c.kv.Del(context.WithoutCancel(ctx), statisticsKey); err != nil {
		slog.Warn("statistics_cache_invalidate_failed", "error", err)
	}
}

// DocumentRepository serves Statistics from the cache and invalidates it on
// every document mutation.
type DocumentRepository struct {
	ports.DocumentRepository
	cache *StatisticsCache
}

func WrapDocuments(repo ports.DocumentRepository, cache *StatisticsCache) *DocumentRepository {
	return &DocumentRepository{DocumentRepository: repo, cache: cache}
}

func (r *DocumentRepository) Create(ctx context.Context, doc *domain.Document) error {
	err := r.DocumentRepository.Create(ctx, doc)
	if err == nil {
		r.cache.invalidate(ctx)
	}
	return err
}

func (r *DocumentRepository) Update(ctx context.Context, id string, patch domain.DocumentPatch) (*domain.Document, error) {
	doc, err := r.DocumentRepository.Update(ctx, id, patch)
	if err == nil {
		r.cache.invalidate(ctx)
	}
	return doc, err
}

func (r *DocumentRepository) Delete(ctx context.Context, id string) error {
	err := r.DocumentRepository.Delete(ctx, id)
	if err == nil {
		r.cache.invalidate(ctx)
	}
	return err
}

func (r *DocumentRepository) Statistics(ctx context.Context) (*domain.Statistics, error) {
	return r.cache.load(ctx, r.DocumentRepository.Statistics)
}

// QueueRepository invalidates the statistics snapshot, whose pending count
// is derived from the queue.
type QueueRepository struct {
	ports.ProcessingQueue
	cache *StatisticsCache
}

func WrapQueue(queue ports.ProcessingQueue, cache *StatisticsCache) *QueueRepository {
	return &QueueRepository{ProcessingQueue: queue, cache: cache}
}

func (q *QueueRepository) Enqueue(ctx context.Context, documentID string) (*domain.QueueEntry, error) {
	entry, err := q.ProcessingQueue.Enqueue(ctx, documentID)
	if err == nil {
		q.cache.invalidate(ctx)
	}
	return entry, err
}

func (q *QueueRepository) Update(ctx context.Context, id string, patch domain.QueuePatch) (*domain.QueueEntry, error) {
	entry, err := q.ProcessingQueue.Update(ctx, id, patch)
	if err == nil {
		q.cache.invalidate(ctx)
	}
	return entry, err
}
