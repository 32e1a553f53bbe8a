package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kursadbilgin/dispatch-queue/internal/domain"
	goredis "github.com/redis/go-redis/v9"
)

const queueConfigKey = "dispatch:queue-config"

// QueueConfigStore keeps the queue tuning document as JSON under one key.
type QueueConfigStore struct {
	client *goredis.Client
	key    string
}

func NewQueueConfigStore(client *goredis.Client) (*QueueConfigStore, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	return &QueueConfigStore{client: client, key: queueConfigKey}, nil
}

func (s *QueueConfigStore) Read(ctx context.Context) (*domain.QueueConfig, error) {
	raw, err := s.client.Get(ctx, s.key).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to read queue config: %w", err)
	}

	var cfg domain.QueueConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("%w: failed to decode queue config: %v", domain.ErrValidation, err)
	}

	return &cfg, nil
}

func (s *QueueConfigStore) Write(ctx context.Context, cfg domain.QueueConfig) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode queue config: %w", err)
	}
	if err := s.client.Set(ctx, s.key, raw, 0).Err(); err != nil {
		return fmt.Errorf("failed to write queue config: %w", err)
	}
	return nil
}
