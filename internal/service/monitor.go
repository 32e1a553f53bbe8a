package service

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/dispatch-queue/internal/domain"
	"github.com/kursadbilgin/dispatch-queue/internal/events"
	"github.com/kursadbilgin/dispatch-queue/internal/observability"
	"github.com/kursadbilgin/dispatch-queue/internal/repository"
	"go.uber.org/zap"
)

const publishTimeout = 5 * time.Second

type itemCounter interface {
	CountByBatch(ctx context.Context, batchID string) (domain.ItemCounts, error)
}

// CompletionMonitor seals executing batches whose items are all terminal.
type CompletionMonitor struct {
	batches   repository.BatchRepository
	items     itemCounter
	publisher events.Publisher
	logger    *zap.Logger
	metrics   *observability.Metrics
	now       func() time.Time
}

func NewCompletionMonitor(
	batches repository.BatchRepository,
	items itemCounter,
	publisher events.Publisher,
	logger *zap.Logger,
) (*CompletionMonitor, error) {
	if batches == nil {
		return nil, fmt.Errorf("batch repository is required")
	}
	if items == nil {
		return nil, fmt.Errorf("item counter is required")
	}
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &CompletionMonitor{
		batches:   batches,
		items:     items,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}, nil
}

func (m *CompletionMonitor) SetMetrics(metrics *observability.Metrics) {
	if m == nil {
		return
	}
	m.metrics = metrics
}

// Sweep seals every exhausted executing batch and reports whether any batch
// is still executing afterwards. On error the caller should treat the queue
// as active.
func (m *CompletionMonitor) Sweep(ctx context.Context) (bool, error) {
	executing, err := m.batches.ListByStatus(ctx, domain.BatchStatusExecuting)
	if err != nil {
		return true, fmt.Errorf("failed to list executing batches: %w", err)
	}

	for _, batch := range executing {
		if err := m.checkBatch(ctx, batch); err != nil {
			m.logger.Error("batch completion check failed",
				zap.String("batchId", batch.ID),
				zap.Error(err),
			)
		}
	}

	remaining, err := m.batches.CountByStatus(ctx, domain.BatchStatusExecuting)
	if err != nil {
		return true, fmt.Errorf("failed to count executing batches: %w", err)
	}

	return remaining > 0, nil
}

func (m *CompletionMonitor) checkBatch(ctx context.Context, batch domain.Batch) error {
	counts, err := m.items.CountByBatch(ctx, batch.ID)
	if err != nil {
		return fmt.Errorf("failed to count items: %w", err)
	}

	if counts.Total == 0 {
		m.logger.Warn("executing batch has no items and will not complete",
			zap.String("batchId", batch.ID),
			zap.String("batchName", batch.Name),
		)
		return nil
	}
	if !counts.Exhausted() {
		return nil
	}

	result := counts.Result()
	at := m.now().UTC()
	sealed, err := m.batches.Seal(ctx, batch.ID, result, at)
	if err != nil {
		return fmt.Errorf("failed to seal batch: %w", err)
	}
	if !sealed {
		return nil
	}

	m.metrics.IncBatchCompleted()
	m.logger.Info("batch completed",
		zap.String("batchId", batch.ID),
		zap.Int("total", result.Total),
		zap.Int("sent", result.Sent),
		zap.Int("failed", result.Failed),
	)

	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	event := events.NewBatchCompletedEvent(batch, result, at)
	if err := m.publisher.PublishBatchCompleted(pubCtx, event); err != nil {
		m.logger.Warn("failed to publish batch completed event",
			zap.String("batchId", batch.ID),
			zap.Error(err),
		)
	}

	return nil
}
