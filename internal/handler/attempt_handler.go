package handler

import (
	"context"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/dispatch-queue/internal/domain"
)

type AttemptLister interface {
	ListByItemID(ctx context.Context, itemID string) ([]domain.Attempt, error)
}

type AttemptHandler struct {
	attempts AttemptLister
}

func NewAttemptHandler(attempts AttemptLister) (*AttemptHandler, error) {
	if attempts == nil {
		return nil, fmt.Errorf("attempt lister is required")
	}
	return &AttemptHandler{attempts: attempts}, nil
}

func RegisterAttemptRoutes(router fiber.Router, attempts AttemptLister) error {
	h, err := NewAttemptHandler(attempts)
	if err != nil {
		return err
	}

	router.Get("/v1/items/:id/attempts", h.ListAttempts)
	return nil
}

type attemptResponse struct {
	AttemptNumber int     `json:"attemptNumber"`
	Success       bool    `json:"success"`
	StatusCode    *int    `json:"statusCode,omitempty"`
	Response      *string `json:"response,omitempty"`
	Error         *string `json:"error,omitempty"`
	CreatedAt     string  `json:"createdAt"`
}

// ListAttempts returns the provider call log of one item, oldest first.
func (h *AttemptHandler) ListAttempts(c *fiber.Ctx) error {
	itemID := strings.TrimSpace(c.Params("id"))
	if itemID == "" {
		return fmt.Errorf("%w: item id is required", domain.ErrValidation)
	}

	attempts, err := h.attempts.ListByItemID(c.UserContext(), itemID)
	if err != nil {
		return err
	}

	data := make([]attemptResponse, 0, len(attempts))
	for _, a := range attempts {
		data = append(data, attemptResponse{
			AttemptNumber: a.AttemptNumber,
			Success:       a.Success,
			StatusCode:    a.StatusCode,
			Response:      a.Response,
			Error:         a.Error,
			CreatedAt:     a.CreatedAt.UTC().Format(timeLayout),
		})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"data": data})
}
