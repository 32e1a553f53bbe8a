package repository

import (
	"context"
	"fmt"

	"github.com/kursadbilgin/dispatch-queue/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AttemptRepository is the append-only audit log of provider calls.
type AttemptRepository interface {
	Create(ctx context.Context, a *domain.Attempt) error
	ListByItemID(ctx context.Context, itemID string) ([]domain.Attempt, error)
}

type GormAttemptRepo struct {
	db *gorm.DB
}

func NewGormAttemptRepo(db *gorm.DB) *GormAttemptRepo {
	return &GormAttemptRepo{db: db}
}

// Create records one attempt. A second row for the same item and attempt
// number is ignored.
func (r *GormAttemptRepo) Create(ctx context.Context, a *domain.Attempt) error {
	if a == nil {
		return fmt.Errorf("%w: attempt is required", domain.ErrValidation)
	}

	model := attemptModelFromDomain(a)
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "item_id"}, {Name: "attempt_number"}},
			DoNothing: true,
		}).
		Create(model).Error
	if err != nil {
		return fmt.Errorf("failed to record attempt %d of item %s: %w", a.AttemptNumber, a.ItemID, err)
	}

	*a = *attemptModelToDomain(model)
	return nil
}

func (r *GormAttemptRepo) ListByItemID(ctx context.Context, itemID string) ([]domain.Attempt, error) {
	var models []AttemptModel
	err := r.db.WithContext(ctx).
		Where("item_id = ?", itemID).
		Order("attempt_number ASC").
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list attempts: %w", err)
	}

	attempts := make([]domain.Attempt, 0, len(models))
	for i := range models {
		attempts = append(attempts, *attemptModelToDomain(&models[i]))
	}
	return attempts, nil
}
