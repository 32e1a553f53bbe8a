package queueconfig

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/kursadbilgin/dispatch-queue/internal/domain"
	"go.yaml.in/yaml/v3"
)

// FileBackend stores the queue config as a YAML document on local disk.
type FileBackend struct {
	path string
}

func NewFileBackend(path string) (*FileBackend, error) {
	if path == "" {
		return nil, fmt.Errorf("queue config path is required")
	}
	return &FileBackend{path: path}, nil
}

func (b *FileBackend) Read(_ context.Context) (*domain.QueueConfig, error) {
	raw, err := os.ReadFile(b.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to read queue config file: %w", err)
	}

	var cfg domain.QueueConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("%w: failed to decode queue config file: %v", domain.ErrValidation, err)
	}
	return &cfg, nil
}

// Write replaces the file atomically through a temp file in the same
// directory.
func (b *FileBackend) Write(_ context.Context, cfg domain.QueueConfig) error {
	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode queue config: %w", err)
	}

	dir := filepath.Dir(b.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create queue config dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".queue-config-*")
	if err != nil {
		return fmt.Errorf("failed to create temp queue config: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write temp queue config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp queue config: %w", err)
	}
	if err := os.Rename(tmpName, b.path); err != nil {
		return fmt.Errorf("failed to replace queue config file: %w", err)
	}
	return nil
}
