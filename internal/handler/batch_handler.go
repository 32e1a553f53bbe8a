package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/dispatch-queue/internal/domain"
)

const timeLayout = time.RFC3339

type BatchStore interface {
	GetByID(ctx context.Context, id string) (*domain.Batch, error)
	MarkExecuting(ctx context.Context, id string) error
}

type QueueStarter interface {
	Start(ctx context.Context) error
}

type BatchHandler struct {
	batches BatchStore
	queue   QueueStarter
}

func NewBatchHandler(batches BatchStore, queue QueueStarter) (*BatchHandler, error) {
	if batches == nil {
		return nil, fmt.Errorf("batch store is required")
	}
	if queue == nil {
		return nil, fmt.Errorf("queue starter is required")
	}
	return &BatchHandler{batches: batches, queue: queue}, nil
}

func RegisterBatchRoutes(router fiber.Router, batches BatchStore, queue QueueStarter) error {
	h, err := NewBatchHandler(batches, queue)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Get("/batches/:id", h.GetBatch)
	v1.Post("/batches/:id/execute", h.ExecuteBatch)

	return nil
}

type batchResultResponse struct {
	Total  int `json:"total"`
	Sent   int `json:"sent"`
	Failed int `json:"failed"`
}

type batchResponse struct {
	ID          string               `json:"id"`
	Name        string               `json:"name"`
	Status      string               `json:"status"`
	Result      *batchResultResponse `json:"result,omitempty"`
	CreatedAt   string               `json:"createdAt"`
	UpdatedAt   string               `json:"updatedAt"`
	CompletedAt *string              `json:"completedAt,omitempty"`
}

type executeBatchResponse struct {
	Batch        batchResponse `json:"batch"`
	IsProcessing bool          `json:"isProcessing"`
	Warning      string        `json:"warning,omitempty"`
}

func (h *BatchHandler) GetBatch(c *fiber.Ctx) error {
	batch, err := h.batches.GetByID(c.UserContext(), strings.TrimSpace(c.Params("id")))
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusOK).JSON(toBatchResponse(batch))
}

// ExecuteBatch moves a created batch to executing and starts the queue. The
// batch stays executing when the queue cannot start; the response then
// carries a warning.
func (h *BatchHandler) ExecuteBatch(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	if err := h.batches.MarkExecuting(c.UserContext(), id); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return fmt.Errorf("batch %s is not in created status: %w", id, err)
		}
		return err
	}

	batch, err := h.batches.GetByID(c.UserContext(), id)
	if err != nil {
		return err
	}

	resp := executeBatchResponse{
		Batch:        toBatchResponse(batch),
		IsProcessing: true,
	}
	if err := h.queue.Start(c.UserContext()); err != nil {
		resp.IsProcessing = false
		resp.Warning = err.Error()
	}

	return c.Status(fiber.StatusAccepted).JSON(resp)
}

func toBatchResponse(b *domain.Batch) batchResponse {
	resp := batchResponse{
		ID:        b.ID,
		Name:      b.Name,
		Status:    b.Status.String(),
		CreatedAt: b.CreatedAt.UTC().Format(timeLayout),
		UpdatedAt: b.UpdatedAt.UTC().Format(timeLayout),
	}
	if b.Result != nil {
		resp.Result = &batchResultResponse{
			Total:  b.Result.Total,
			Sent:   b.Result.Sent,
			Failed: b.Result.Failed,
		}
	}
	if b.CompletedAt != nil {
		completedAt := b.CompletedAt.UTC().Format(timeLayout)
		resp.CompletedAt = &completedAt
	}
	return resp
}
