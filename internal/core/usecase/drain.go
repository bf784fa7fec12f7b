package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/docvault/internal/core/domain"
	"github.com/kirillkom/docvault/internal/core/ports"
)

type documentProcessor interface {
	ProcessByID(ctx context.Context, documentID string) error
}

// DrainQueueUseCase picks up pending queue entries that no notification
// delivered, e.g. after a worker restart.
type DrainQueueUseCase struct {
	queue       ports.ProcessingQueue
	processor   documentProcessor
	concurrency int
	logger      *slog.Logger
}

func NewDrainQueueUseCase(queue ports.ProcessingQueue, processor documentProcessor, concurrency int) *DrainQueueUseCase {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &DrainQueueUseCase{
		queue:       queue,
		processor:   processor,
		concurrency: concurrency,
		logger:      slog.Default(),
	}
}

// DrainPending analyzes up to limit pending entries, oldest first. Individual
// failures are already persisted by the processor, so they are counted and
// logged instead of aborting the sweep.
func (uc *DrainQueueUseCase) DrainPending(ctx context.Context, limit int) (int, error) {
	entries, err := uc.queue.ListByStatus(ctx, domain.StatusPending, limit)
	if err != nil {
		return 0, fmt.Errorf("list pending queue entries: %w", err)
	}
	if len(entries) == 0 {
		return 0, nil
	}

	seen := make(map[string]struct{}, len(entries))
	failures := make(chan string, len(entries))

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(uc.concurrency)
	for _, entry := range entries {
		if _, dup := seen[entry.DocumentID]; dup {
			continue
		}
		seen[entry.DocumentID] = struct{}{}

		documentID := entry.DocumentID
		group.Go(func() error {
			if groupCtx.Err() != nil {
				return groupCtx.Err()
			}
			if err := uc.processor.ProcessByID(groupCtx, documentID); err != nil {
				uc.logger.Warn("queue_drain_item_failed", "document_id", documentID, "error", err)
				failures <- documentID
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return 0, fmt.Errorf("drain pending queue: %w", err)
	}
	close(failures)

	failed := len(failures)
	processed := len(seen) - failed
	uc.logger.Info("queue_drained", "picked", len(seen), "succeeded", processed, "failed", failed)
	return processed, nil
}
