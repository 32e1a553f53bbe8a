package repository

import (
	"context"
	"errors"
	"time"

	"github.com/kursadbilgin/dispatch-queue/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const queueConfigRowID = 1

// GormQueueConfigRepo persists the queue config as a single table row.
type GormQueueConfigRepo struct {
	db *gorm.DB
}

func NewGormQueueConfigRepo(db *gorm.DB) *GormQueueConfigRepo {
	return &GormQueueConfigRepo{db: db}
}

func (r *GormQueueConfigRepo) Read(ctx context.Context) (*domain.QueueConfig, error) {
	var model QueueConfigModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", queueConfigRowID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return &domain.QueueConfig{
		MinIntervalMS: model.MinIntervalMS,
		MaxIntervalMS: model.MaxIntervalMS,
		MaxRetries:    model.MaxRetries,
		BatchSize:     model.BatchSize,
	}, nil
}

func (r *GormQueueConfigRepo) Write(ctx context.Context, cfg domain.QueueConfig) error {
	model := QueueConfigModel{
		ID:            queueConfigRowID,
		MinIntervalMS: cfg.MinIntervalMS,
		MaxIntervalMS: cfg.MaxIntervalMS,
		MaxRetries:    cfg.MaxRetries,
		BatchSize:     cfg.BatchSize,
		UpdatedAt:     time.Now().UTC(),
	}

	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"min_interval_ms", "max_interval_ms", "max_retries", "batch_size", "updated_at"}),
		}).
		Create(&model).Error
}
