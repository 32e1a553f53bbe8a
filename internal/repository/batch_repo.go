package repository

import (
	"context"
	"errors"
	"time"

	"github.com/kursadbilgin/dispatch-queue/internal/domain"
	"gorm.io/gorm"
)

type BatchRepository interface {
	Create(ctx context.Context, b *domain.Batch) error
	GetByID(ctx context.Context, id string) (*domain.Batch, error)
	ListByStatus(ctx context.Context, status domain.BatchStatus) ([]domain.Batch, error)
	CountByStatus(ctx context.Context, status domain.BatchStatus) (int64, error)
	MarkExecuting(ctx context.Context, id string) error
	Seal(ctx context.Context, id string, result domain.BatchResult, at time.Time) (bool, error)
	Stats(ctx context.Context, limit int) ([]domain.BatchStats, error)
}

type GormBatchRepo struct {
	db *gorm.DB
}

func NewGormBatchRepo(db *gorm.DB) *GormBatchRepo {
	return &GormBatchRepo{db: db}
}

func (r *GormBatchRepo) Create(ctx context.Context, b *domain.Batch) error {
	model := batchModelFromDomain(b)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if b != nil {
		*b = *batchModelToDomain(model)
	}
	return nil
}

func (r *GormBatchRepo) GetByID(ctx context.Context, id string) (*domain.Batch, error) {
	var model BatchModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return batchModelToDomain(&model), nil
}

func (r *GormBatchRepo) ListByStatus(ctx context.Context, status domain.BatchStatus) ([]domain.Batch, error) {
	var models []BatchModel
	err := r.db.WithContext(ctx).
		Where("status = ?", status).
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	batches := make([]domain.Batch, 0, len(models))
	for i := range models {
		batches = append(batches, *batchModelToDomain(&models[i]))
	}
	return batches, nil
}

func (r *GormBatchRepo) CountByStatus(ctx context.Context, status domain.BatchStatus) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&BatchModel{}).
		Where("status = ?", status).
		Count(&count).Error
	return count, err
}

// MarkExecuting moves a created batch to executing. Any other current status
// yields domain.ErrConflict.
func (r *GormBatchRepo) MarkExecuting(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).
		Model(&BatchModel{}).
		Where("id = ? AND status = ?", id, domain.BatchStatusCreated).
		Updates(map[string]any{
			"status":     domain.BatchStatusExecuting,
			"updated_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		return domain.ErrConflict
	}
	return nil
}

// Seal marks an executing batch done with its final result, provided no item
// of it is still pending. It reports whether the batch was sealed.
func (r *GormBatchRepo) Seal(ctx context.Context, id string, result domain.BatchResult, at time.Time) (bool, error) {
	pending := r.db.
		Model(&ItemModel{}).
		Select("1").
		Where("dispatch_items.batch_id = dispatch_batches.id AND dispatch_items.status = ?", domain.ItemStatusPending)

	res := r.db.WithContext(ctx).
		Model(&BatchModel{}).
		Where("id = ? AND status = ?", id, domain.BatchStatusExecuting).
		Where("NOT EXISTS (?)", pending).
		Updates(map[string]any{
			"status":        domain.BatchStatusDone,
			"result_total":  result.Total,
			"result_sent":   result.Sent,
			"result_failed": result.Failed,
			"completed_at":  at,
			"updated_at":    at,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

type batchStatsRow struct {
	ID        string             `gorm:"column:id"`
	Name      string             `gorm:"column:name"`
	Status    domain.BatchStatus `gorm:"column:status"`
	CreatedAt time.Time          `gorm:"column:created_at"`
	Total     int                `gorm:"column:total"`
	Pending   int                `gorm:"column:pending"`
	Delivered int                `gorm:"column:delivered"`
	Failed    int                `gorm:"column:failed"`
}

// Stats returns live item counts for the most recent batches, newest first.
func (r *GormBatchRepo) Stats(ctx context.Context, limit int) ([]domain.BatchStats, error) {
	if limit <= 0 {
		limit = 50
	}

	var rows []batchStatsRow
	err := r.db.WithContext(ctx).
		Model(&BatchModel{}).
		Select(`dispatch_batches.id, dispatch_batches.name, dispatch_batches.status, dispatch_batches.created_at,
			COUNT(dispatch_items.id) AS total,
			COALESCE(SUM(CASE WHEN dispatch_items.status = ? THEN 1 ELSE 0 END), 0) AS pending,
			COALESCE(SUM(CASE WHEN dispatch_items.status = ? THEN 1 ELSE 0 END), 0) AS delivered,
			COALESCE(SUM(CASE WHEN dispatch_items.status = ? THEN 1 ELSE 0 END), 0) AS failed`,
			domain.ItemStatusPending, domain.ItemStatusDelivered, domain.ItemStatusError).
		Joins("LEFT JOIN dispatch_items ON dispatch_items.batch_id = dispatch_batches.id").
		Group("dispatch_batches.id").
		Order("dispatch_batches.created_at DESC").
		Limit(limit).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	stats := make([]domain.BatchStats, 0, len(rows))
	for _, row := range rows {
		stats = append(stats, domain.BatchStats{
			BatchID:   row.ID,
			Name:      row.Name,
			Status:    row.Status,
			Total:     row.Total,
			Pending:   row.Pending,
			Delivered: row.Delivered,
			Failed:    row.Failed,
			CreatedAt: row.CreatedAt,
		})
	}
	return stats, nil
}
