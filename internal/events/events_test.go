package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kursadbilgin/dispatch-queue/internal/domain"
	amqp "github.com/rabbitmq/amqp091-go"
)

func TestNewBatchCompletedEvent(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.FixedZone("BRT", -3*3600))
	event := NewBatchCompletedEvent(
		domain.Batch{ID: "batch-1", Name: "march"},
		domain.BatchResult{Total: 3, Sent: 2, Failed: 1},
		at,
	)

	if err := event.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	payload, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("json.Marshal() error = %v", err)
	}
	want := `{"batchId":"batch-1","name":"march","total":3,"sent":2,"failed":1,"completedAt":"2026-03-01T15:00:00Z"}`
	if string(payload) != want {
		t.Fatalf("payload = %s, want %s", payload, want)
	}
}

func TestBatchCompletedEventValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		event BatchCompletedEvent
	}{
		{name: "missing batch id", event: BatchCompletedEvent{Total: 1, Sent: 1}},
		{name: "negative count", event: BatchCompletedEvent{BatchID: "b", Total: 1, Failed: -1}},
		{name: "more outcomes than items", event: BatchCompletedEvent{BatchID: "b", Total: 1, Sent: 1, Failed: 1}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if err := tt.event.Validate(); err == nil {
				t.Fatal("Validate() error = nil, want error")
			}
		})
	}
}

func TestRabbitMQPublisherRejectsInvalidEvent(t *testing.T) {
	t.Parallel()

	var uninitialized *RabbitMQPublisher
	if err := uninitialized.PublishBatchCompleted(context.Background(), BatchCompletedEvent{BatchID: "b"}); err == nil {
		t.Fatal("PublishBatchCompleted() on nil publisher error = nil")
	}
	if err := uninitialized.Close(); err != nil {
		t.Fatalf("Close() on nil publisher error = %v", err)
	}

	p := NewRabbitMQPublisher(&RabbitMQ{url: "amqp://unused"})
	if err := p.PublishBatchCompleted(context.Background(), BatchCompletedEvent{}); err == nil {
		t.Fatal("PublishBatchCompleted() with invalid event error = nil")
	}
}

func TestNopPublisher(t *testing.T) {
	t.Parallel()

	var p Publisher = NopPublisher{}
	if err := p.PublishBatchCompleted(context.Background(), BatchCompletedEvent{}); err != nil {
		t.Fatalf("PublishBatchCompleted() error = %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
}

func TestNextBackoffCaps(t *testing.T) {
	t.Parallel()

	wait := reconnectBackoff
	for i := 0; i < 10; i++ {
		wait = nextBackoff(wait)
	}
	if wait != maxBackoff {
		t.Fatalf("nextBackoff() = %v, want %v", wait, maxBackoff)
	}
	if got := nextBackoff(reconnectBackoff); got != 2*time.Second {
		t.Fatalf("nextBackoff(1s) = %v, want 2s", got)
	}
}

func TestNewRabbitMQRequiresURL(t *testing.T) {
	t.Parallel()

	if _, err := NewRabbitMQ("  "); err == nil {
		t.Fatal("NewRabbitMQ() error = nil, want error")
	}
}

func TestRabbitMQPublishAfterClose(t *testing.T) {
	t.Parallel()

	r, err := newRabbitMQ("amqp://unused", nil)
	if err != nil {
		t.Fatalf("newRabbitMQ() error = %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	err = r.Publish(context.Background(), RoutingBatchDone, amqp.Publishing{})
	if !errors.Is(err, errClosed) {
		t.Fatalf("Publish() error = %v, want %v", err, errClosed)
	}
}

func TestRabbitMQDialStopsWithContext(t *testing.T) {
	t.Parallel()

	var dials atomic.Int32
	r, err := newRabbitMQ("amqp://unreachable", func(string) (*amqp.Connection, error) {
		dials.Add(1)
		return nil, errors.New("connection refused")
	})
	if err != nil {
		t.Fatalf("newRabbitMQ() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err = r.Publish(ctx, RoutingBatchDone, amqp.Publishing{})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Publish() error = %v, want %v", err, context.DeadlineExceeded)
	}
	if dials.Load() != 1 {
		t.Fatalf("dial attempts = %d, want 1 before the first backoff", dials.Load())
	}
}
