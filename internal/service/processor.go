package service

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/dispatch-queue/internal/domain"
	"github.com/kursadbilgin/dispatch-queue/internal/observability"
	"github.com/kursadbilgin/dispatch-queue/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultClaimLease = 5 * time.Minute
	defaultItemPause  = 2 * time.Second
)

type itemWorker interface {
	Process(ctx context.Context, d domain.Dispatch, maxRetries int) ItemOutcome
}

// TickSummary counts the item outcomes of one tick.
type TickSummary struct {
	Claimed   int
	Delivered int
	Retried   int
	Failed    int
	Skipped   int
	Released  int
}

// BatchProcessor claims a slice of eligible items and runs them one by one.
type BatchProcessor struct {
	items     repository.ItemRepository
	worker    itemWorker
	logger    *zap.Logger
	lease     time.Duration
	itemPause time.Duration
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error
}

func NewBatchProcessor(
	items repository.ItemRepository,
	worker itemWorker,
	lease time.Duration,
	itemPause time.Duration,
	logger *zap.Logger,
) (*BatchProcessor, error) {
	if items == nil {
		return nil, fmt.Errorf("item repository is required")
	}
	if worker == nil {
		return nil, fmt.Errorf("item worker is required")
	}
	if lease <= 0 {
		lease = defaultClaimLease
	}
	if itemPause < 0 {
		itemPause = defaultItemPause
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &BatchProcessor{
		items:     items,
		worker:    worker,
		logger:    logger,
		lease:     lease,
		itemPause: itemPause,
		now:       time.Now,
		sleep:     sleepWithContext,
	}, nil
}

// RunTick claims up to cfg.BatchSize items and processes them sequentially.
// Cancelling ctx interrupts only the pause between items: the item being
// sent always finishes, and the claims of the items not yet started are
// released.
func (p *BatchProcessor) RunTick(ctx context.Context, cfg domain.QueueConfig) (TickSummary, error) {
	var summary TickSummary
	logger := observability.WithContextLogger(p.logger, ctx)
	work := context.WithoutCancel(ctx)

	// The lease has to outlive the whole tick, pauses included.
	lease := p.lease + time.Duration(cfg.BatchSize)*p.itemPause
	dispatches, err := p.items.ClaimPending(work, repository.ClaimParams{
		MaxRetries: cfg.MaxRetries,
		Limit:      cfg.BatchSize,
		Lease:      lease,
		Now:        p.now().UTC(),
	})
	if err != nil {
		return summary, fmt.Errorf("failed to claim pending items: %w", err)
	}
	if len(dispatches) == 0 {
		logger.Debug("no eligible items to process")
		return summary, nil
	}
	summary.Claimed = len(dispatches)

	for i, d := range dispatches {
		if i > 0 {
			if err := p.sleep(ctx, p.itemPause); err != nil {
				remaining := dispatchIDs(dispatches[i:])
				if err := p.items.ReleaseClaims(work, remaining); err != nil {
					logger.Error("failed to release remaining claims", zap.Strings("itemIds", remaining), zap.Error(err))
				} else {
					summary.Released = len(remaining)
				}
				logger.Info("tick interrupted between items", zap.Int("released", len(remaining)))
				break
			}
		}

		switch p.worker.Process(work, d, cfg.MaxRetries) {
		case ItemDelivered:
			summary.Delivered++
		case ItemRetry:
			summary.Retried++
		case ItemFailed:
			summary.Failed++
		default:
			summary.Skipped++
		}
	}

	return summary, nil
}

func dispatchIDs(dispatches []domain.Dispatch) []string {
	ids := make([]string, 0, len(dispatches))
	for _, d := range dispatches {
		ids = append(ids, d.Item.ID)
	}
	return ids
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
