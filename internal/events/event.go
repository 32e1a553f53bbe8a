// Package events publishes dispatch lifecycle events to a message broker.
package events

import (
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/dispatch-queue/internal/domain"
)

const (
	ExchangeName        = "dispatch.events"
	AuditQueueName      = "dispatch.batch-events"
	RoutingBatchDone    = "batch.done"
	batchRoutingPattern = "batch.#"
)

// BatchCompletedEvent is emitted once when a batch is sealed as done.
type BatchCompletedEvent struct {
	BatchID     string    `json:"batchId"`
	Name        string    `json:"name"`
	Total       int       `json:"total"`
	Sent        int       `json:"sent"`
	Failed      int       `json:"failed"`
	CompletedAt time.Time `json:"completedAt"`
}

func NewBatchCompletedEvent(batch domain.Batch, result domain.BatchResult, at time.Time) BatchCompletedEvent {
	return BatchCompletedEvent{
		BatchID:     batch.ID,
		Name:        batch.Name,
		Total:       result.Total,
		Sent:        result.Sent,
		Failed:      result.Failed,
		CompletedAt: at.UTC(),
	}
}

func (e BatchCompletedEvent) Validate() error {
	if strings.TrimSpace(e.BatchID) == "" {
		return fmt.Errorf("batchId is required")
	}
	if e.Total < 0 || e.Sent < 0 || e.Failed < 0 {
		return fmt.Errorf("counts must not be negative")
	}
	if e.Sent+e.Failed > e.Total {
		return fmt.Errorf("sent+failed exceeds total")
	}
	return nil
}
