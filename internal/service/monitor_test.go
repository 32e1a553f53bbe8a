package service

import (
	"context"
	"errors"
	"testing"

	"github.com/kursadbilgin/dispatch-queue/internal/domain"
	"github.com/kursadbilgin/dispatch-queue/internal/events"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestCompletionMonitorSealsExhaustedBatches(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	store.addBatch("done", "x", domain.BatchStatusExecuting)
	store.addItem("i1", "done", domain.TargetRecord{ID: "t1"})
	store.addItem("i2", "done", domain.TargetRecord{ID: "t2"})
	store.addBatch("open", "x", domain.BatchStatusExecuting)
	store.addItem("i3", "open", domain.TargetRecord{ID: "t3"})

	ctx := context.Background()
	_ = store.MarkDelivered(ctx, "i1", domain.Outcome{At: fixedClock()()})
	_ = store.MarkError(ctx, "i2", domain.Outcome{Message: "failed after 3 attempts (3/3): x", At: fixedClock()()})

	publisher := &fakePublisher{}
	monitor, err := NewCompletionMonitor(store, store, publisher, zap.NewNop())
	if err != nil {
		t.Fatalf("NewCompletionMonitor() error = %v", err)
	}
	monitor.now = fixedClock()

	active, err := monitor.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if !active {
		t.Fatalf("Sweep() active = false, want true while batch open has pending items")
	}

	done := store.batch("done")
	if done.Status != domain.BatchStatusDone || *done.Result != (domain.BatchResult{Total: 2, Sent: 1, Failed: 1}) {
		t.Fatalf("batch done = %+v", done)
	}
	if store.batch("open").Status != domain.BatchStatusExecuting {
		t.Fatalf("batch with pending items must stay executing")
	}

	if len(publisher.published) != 1 {
		t.Fatalf("published events = %d, want 1", len(publisher.published))
	}
	event := publisher.published[0]
	if event.BatchID != "done" || event.Total != 2 || event.Sent != 1 || event.Failed != 1 {
		t.Fatalf("event = %+v", event)
	}

	// A second sweep does not seal or publish again.
	if _, err := monitor.Sweep(ctx); err != nil {
		t.Fatalf("second Sweep() error = %v", err)
	}
	if len(publisher.published) != 1 {
		t.Fatalf("published events after second sweep = %d, want 1", len(publisher.published))
	}
}

func TestCompletionMonitorLeavesEmptyBatchExecuting(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.WarnLevel)
	store := newMemStore()
	store.addBatch("empty", "x", domain.BatchStatusExecuting)

	monitor, err := NewCompletionMonitor(store, store, nil, zap.New(core))
	if err != nil {
		t.Fatalf("NewCompletionMonitor() error = %v", err)
	}

	active, err := monitor.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if !active {
		t.Fatalf("Sweep() active = false, want true")
	}
	if store.batch("empty").Status != domain.BatchStatusExecuting {
		t.Fatalf("empty batch status = %s, want executing", store.batch("empty").Status)
	}
	if logs.FilterMessage("executing batch has no items and will not complete").Len() != 1 {
		t.Fatalf("expected a warning for the empty batch, got %v", logs.All())
	}
}

func TestCompletionMonitorReportsInactiveWithoutExecutingBatches(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	store.addBatch("created", "x", domain.BatchStatusCreated)

	monitor, err := NewCompletionMonitor(store, store, nil, nil)
	if err != nil {
		t.Fatalf("NewCompletionMonitor() error = %v", err)
	}

	active, err := monitor.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if active {
		t.Fatalf("Sweep() active = true, want false")
	}
}

func TestCompletionMonitorPublishFailureDoesNotBlockSealing(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	store.addBatch("b1", "x", domain.BatchStatusExecuting)
	store.addItem("i1", "b1", domain.TargetRecord{ID: "t1"})
	_ = store.MarkDelivered(context.Background(), "i1", domain.Outcome{At: fixedClock()()})

	publisher := &fakePublisher{
		publishFn: func(ctx context.Context, _ events.BatchCompletedEvent) error {
			return errors.New("channel closed")
		},
	}
	monitor, err := NewCompletionMonitor(store, store, publisher, zap.NewNop())
	if err != nil {
		t.Fatalf("NewCompletionMonitor() error = %v", err)
	}

	active, err := monitor.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if active {
		t.Fatalf("Sweep() active = true, want false")
	}
	if store.batch("b1").Status != domain.BatchStatusDone {
		t.Fatalf("batch status = %s, want done", store.batch("b1").Status)
	}
}

type failingBatchLister struct {
	*memStore
}

func (failingBatchLister) ListByStatus(ctx context.Context, status domain.BatchStatus) ([]domain.Batch, error) {
	return nil, errors.New("database is down")
}

func TestCompletionMonitorListErrorKeepsQueueActive(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	monitor, err := NewCompletionMonitor(failingBatchLister{store}, store, nil, nil)
	if err != nil {
		t.Fatalf("NewCompletionMonitor() error = %v", err)
	}

	active, err := monitor.Sweep(context.Background())
	if err == nil {
		t.Fatal("Sweep() expected error")
	}
	if !active {
		t.Fatalf("Sweep() active = false, want true on error")
	}
}
