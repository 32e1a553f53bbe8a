// Package queueconfig loads and persists the queue tuning parameters.
package queueconfig

import (
	"context"
	"errors"
	"fmt"

	"github.com/kursadbilgin/dispatch-queue/internal/domain"
	"go.uber.org/zap"
)

// Persistence is a durable medium for one QueueConfig document. Read returns
// domain.ErrNotFound when nothing was stored yet and wraps
// domain.ErrValidation when the stored data cannot be decoded.
type Persistence interface {
	Read(ctx context.Context) (*domain.QueueConfig, error)
	Write(ctx context.Context, cfg domain.QueueConfig) error
}

type Store struct {
	backend Persistence
	logger  *zap.Logger
}

func NewStore(backend Persistence, logger *zap.Logger) (*Store, error) {
	if backend == nil {
		return nil, fmt.Errorf("queue config persistence is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{backend: backend, logger: logger}, nil
}

// Load returns the stored config. Missing, undecodable or invalid data is
// replaced by the defaults, which are written back immediately.
func (s *Store) Load(ctx context.Context) (domain.QueueConfig, error) {
	stored, err := s.backend.Read(ctx)
	switch {
	case err == nil && stored != nil:
		verr := stored.Validate()
		if verr == nil {
			return *stored, nil
		}
		s.logger.Warn("stored queue config is invalid, falling back to defaults", zap.Error(verr))
	case err == nil || errors.Is(err, domain.ErrNotFound):
		s.logger.Info("no stored queue config, using defaults")
	case errors.Is(err, domain.ErrValidation):
		s.logger.Warn("stored queue config is corrupt, falling back to defaults", zap.Error(err))
	default:
		return domain.QueueConfig{}, fmt.Errorf("failed to load queue config: %w", err)
	}

	defaults := domain.DefaultQueueConfig()
	if err := s.backend.Write(ctx, defaults); err != nil {
		return domain.QueueConfig{}, fmt.Errorf("failed to persist default queue config: %w", err)
	}
	return defaults, nil
}

// Save overwrites the stored config with cfg.
func (s *Store) Save(ctx context.Context, cfg domain.QueueConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := s.backend.Write(ctx, cfg); err != nil {
		return fmt.Errorf("failed to save queue config: %w", err)
	}
	return nil
}
