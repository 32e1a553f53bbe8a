package handler

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/dispatch-queue/internal/domain"
	"github.com/kursadbilgin/dispatch-queue/internal/service"
)

type QueueEngine interface {
	Start(ctx context.Context) error
	Stop()
	Status() service.Status
	UpdateConfig(ctx context.Context, patch domain.QueueConfigPatch) (domain.QueueConfig, error)
	QueueStats(ctx context.Context) ([]domain.BatchStats, error)
}

type QueueHandler struct {
	engine QueueEngine
}

func NewQueueHandler(engine QueueEngine) (*QueueHandler, error) {
	if engine == nil {
		return nil, fmt.Errorf("queue engine is required")
	}
	return &QueueHandler{engine: engine}, nil
}

func RegisterQueueRoutes(router fiber.Router, engine QueueEngine) error {
	h, err := NewQueueHandler(engine)
	if err != nil {
		return err
	}

	queue := router.Group("/v1/queue")
	queue.Post("/start", h.Start)
	queue.Post("/stop", h.Stop)
	queue.Get("/status", h.Status)
	queue.Get("/stats", h.Stats)
	queue.Put("/config", h.UpdateConfig)

	return nil
}

type updateConfigRequest struct {
	MinIntervalMS *int `json:"minIntervalMs"`
	MaxIntervalMS *int `json:"maxIntervalMs"`
	MaxRetries    *int `json:"maxRetries"`
	BatchSize     *int `json:"batchSize"`
}

type batchStatsResponse struct {
	BatchID   string `json:"batchId"`
	Name      string `json:"name"`
	Status    string `json:"status"`
	Total     int    `json:"total"`
	Pending   int    `json:"pending"`
	Delivered int    `json:"delivered"`
	Failed    int    `json:"failed"`
	CreatedAt string `json:"createdAt"`
}

func (h *QueueHandler) Start(c *fiber.Ctx) error {
	if err := h.engine.Start(c.UserContext()); err != nil {
		return err
	}
	return c.Status(fiber.StatusOK).JSON(h.engine.Status())
}

func (h *QueueHandler) Stop(c *fiber.Ctx) error {
	h.engine.Stop()
	return c.Status(fiber.StatusOK).JSON(h.engine.Status())
}

func (h *QueueHandler) Status(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(h.engine.Status())
}

func (h *QueueHandler) Stats(c *fiber.Ctx) error {
	stats, err := h.engine.QueueStats(c.UserContext())
	if err != nil {
		return err
	}

	data := make([]batchStatsResponse, 0, len(stats))
	for _, s := range stats {
		data = append(data, batchStatsResponse{
			BatchID:   s.BatchID,
			Name:      s.Name,
			Status:    s.Status.String(),
			Total:     s.Total,
			Pending:   s.Pending,
			Delivered: s.Delivered,
			Failed:    s.Failed,
			CreatedAt: s.CreatedAt.UTC().Format(timeLayout),
		})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"data": data,
	})
}

func (h *QueueHandler) UpdateConfig(c *fiber.Ctx) error {
	var req updateConfigRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	patch := domain.QueueConfigPatch{
		MinIntervalMS: req.MinIntervalMS,
		MaxIntervalMS: req.MaxIntervalMS,
		MaxRetries:    req.MaxRetries,
		BatchSize:     req.BatchSize,
	}
	if patch.IsEmpty() {
		return fmt.Errorf("%w: at least one config field is required", domain.ErrValidation)
	}

	if _, err := h.engine.UpdateConfig(c.UserContext(), patch); err != nil {
		return err
	}

	return c.Status(fiber.StatusOK).JSON(h.engine.Status())
}
