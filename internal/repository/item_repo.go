package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/dispatch-queue/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ClaimParams bounds one claim of eligible pending items.
type ClaimParams struct {
	MaxRetries int
	Limit      int
	Lease      time.Duration
	Now        time.Time
}

type ItemRepository interface {
	ClaimPending(ctx context.Context, params ClaimParams) ([]domain.Dispatch, error)
	ReleaseClaims(ctx context.Context, ids []string) error
	IncrementAttempt(ctx context.Context, id string) (int, error)
	MarkDelivered(ctx context.Context, id string, outcome domain.Outcome) error
	MarkError(ctx context.Context, id string, outcome domain.Outcome) error
	RecordRetry(ctx context.Context, id string, outcome domain.Outcome) error
	CountByBatch(ctx context.Context, batchID string) (domain.ItemCounts, error)
}

type GormItemRepo struct {
	db *gorm.DB
}

func NewGormItemRepo(db *gorm.DB) *GormItemRepo {
	return &GormItemRepo{db: db}
}

// ClaimPending locks up to params.Limit eligible items in creation order and
// leases them until Now+Lease. Rows locked by another transaction are
// skipped rather than waited on.
func (r *GormItemRepo) ClaimPending(ctx context.Context, params ClaimParams) ([]domain.Dispatch, error) {
	if params.Limit <= 0 {
		return nil, nil
	}

	var dispatches []domain.Dispatch
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var items []ItemModel
		err := tx.
			Model(&ItemModel{}).
			Select("dispatch_items.*").
			Joins("JOIN dispatch_batches ON dispatch_batches.id = dispatch_items.batch_id").
			Where("dispatch_items.status = ? AND dispatch_items.attempt_count < ?", domain.ItemStatusPending, params.MaxRetries).
			Where("dispatch_batches.status = ?", domain.BatchStatusExecuting).
			Where("(dispatch_items.claimed_until IS NULL OR dispatch_items.claimed_until < ?)", params.Now).
			Order("dispatch_items.created_at ASC").
			Limit(params.Limit).
			Clauses(clause.Locking{
				Strength: "UPDATE",
				Table:    clause.Table{Name: "dispatch_items"},
				Options:  "SKIP LOCKED",
			}).
			Find(&items).Error
		if err != nil {
			return fmt.Errorf("failed to select pending items: %w", err)
		}
		if len(items) == 0 {
			return nil
		}

		ids := make([]string, 0, len(items))
		targetIDs := make([]string, 0, len(items))
		batchIDs := make([]string, 0, len(items))
		for _, item := range items {
			ids = append(ids, item.ID)
			targetIDs = append(targetIDs, item.TargetRecordID)
			batchIDs = append(batchIDs, item.BatchID)
		}

		leaseUntil := params.Now.Add(params.Lease)
		err = tx.
			Model(&ItemModel{}).
			Where("id IN ?", ids).
			Updates(map[string]any{
				"claimed_until": leaseUntil,
				"updated_at":    params.Now,
			}).Error
		if err != nil {
			return fmt.Errorf("failed to lease pending items: %w", err)
		}

		var targets []TargetRecordModel
		if err := tx.Where("id IN ?", targetIDs).Find(&targets).Error; err != nil {
			return fmt.Errorf("failed to load target records: %w", err)
		}
		var batches []BatchModel
		if err := tx.Where("id IN ?", batchIDs).Find(&batches).Error; err != nil {
			return fmt.Errorf("failed to load batches: %w", err)
		}

		targetByID := make(map[string]*TargetRecordModel, len(targets))
		for i := range targets {
			targetByID[targets[i].ID] = &targets[i]
		}
		batchByID := make(map[string]*BatchModel, len(batches))
		for i := range batches {
			batchByID[batches[i].ID] = &batches[i]
		}

		dispatches = make([]domain.Dispatch, 0, len(items))
		for i := range items {
			item := itemModelToDomain(&items[i])
			item.ClaimedUntil = &leaseUntil

			d := domain.Dispatch{
				Item:   *item,
				Target: domain.TargetRecord{ID: item.TargetRecordID},
			}
			if b, ok := batchByID[item.BatchID]; ok {
				d.BatchName = b.Name
				d.Template = b.MessageTemplate
			}
			if t, ok := targetByID[item.TargetRecordID]; ok {
				target, err := targetModelToDomain(t)
				if err != nil {
					d.LoadErr = err
				} else {
					d.Target = *target
				}
			} else {
				d.LoadErr = fmt.Errorf("target record %s: %w", item.TargetRecordID, domain.ErrNotFound)
			}
			dispatches = append(dispatches, d)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return dispatches, nil
}

func (r *GormItemRepo) ReleaseClaims(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Model(&ItemModel{}).
		Where("id IN ? AND status = ?", ids, domain.ItemStatusPending).
		Updates(map[string]any{"claimed_until": nil}).Error
}

// IncrementAttempt bumps attempt_count of a pending item and returns the new
// value. A non-pending or unknown item yields domain.ErrConflict.
func (r *GormItemRepo) IncrementAttempt(ctx context.Context, id string) (int, error) {
	var model ItemModel
	result := r.db.WithContext(ctx).
		Model(&model).
		Clauses(clause.Returning{Columns: []clause.Column{{Name: "attempt_count"}}}).
		Where("id = ? AND status = ?", id, domain.ItemStatusPending).
		Updates(map[string]any{
			"attempt_count": gorm.Expr("attempt_count + 1"),
			"updated_at":    time.Now().UTC(),
		})
	if result.Error != nil {
		return 0, result.Error
	}
	if result.RowsAffected == 0 {
		return 0, domain.ErrConflict
	}
	return model.AttemptCount, nil
}

func (r *GormItemRepo) MarkDelivered(ctx context.Context, id string, outcome domain.Outcome) error {
	return r.finalize(ctx, id, domain.ItemStatusDelivered, map[string]any{
		"status":            domain.ItemStatusDelivered,
		"sent_at":           outcome.At,
		"provider_response": outcome.Response,
		"claimed_until":     nil,
		"updated_at":        outcome.At,
	})
}

func (r *GormItemRepo) MarkError(ctx context.Context, id string, outcome domain.Outcome) error {
	return r.finalize(ctx, id, domain.ItemStatusError, map[string]any{
		"status":            domain.ItemStatusError,
		"last_error":        outcome.Message,
		"provider_response": outcome.Response,
		"claimed_until":     nil,
		"updated_at":        outcome.At,
	})
}

// finalize moves a pending item to a terminal status and mirrors it onto the
// target record in the same transaction.
func (r *GormItemRepo) finalize(ctx context.Context, id string, status domain.ItemStatus, updates map[string]any) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.
			Model(&ItemModel{}).
			Where("id = ? AND status = ?", id, domain.ItemStatusPending).
			Updates(updates)
		if result.Error != nil {
			return fmt.Errorf("failed to mark item %s: %w", status, result.Error)
		}
		if result.RowsAffected == 0 {
			return domain.ErrConflict
		}

		err := tx.
			Model(&TargetRecordModel{}).
			Where("id = (?)", tx.Model(&ItemModel{}).Select("target_record_id").Where("id = ?", id)).
			Updates(map[string]any{
				"dispatch_status": status.String(),
				"updated_at":      updates["updated_at"],
			}).Error
		if err != nil {
			return fmt.Errorf("failed to mirror target status: %w", err)
		}
		return nil
	})
}

func (r *GormItemRepo) RecordRetry(ctx context.Context, id string, outcome domain.Outcome) error {
	result := r.db.WithContext(ctx).
		Model(&ItemModel{}).
		Where("id = ? AND status = ?", id, domain.ItemStatusPending).
		Updates(map[string]any{
			"last_error":        outcome.Message,
			"provider_response": outcome.Response,
			"claimed_until":     nil,
			"updated_at":        outcome.At,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrConflict
	}
	return nil
}

type statusCount struct {
	Status domain.ItemStatus `gorm:"column:status"`
	Count  int               `gorm:"column:count"`
}

func (r *GormItemRepo) CountByBatch(ctx context.Context, batchID string) (domain.ItemCounts, error) {
	var rows []statusCount
	err := r.db.WithContext(ctx).
		Model(&ItemModel{}).
		Select("status, COUNT(*) AS count").
		Where("batch_id = ?", batchID).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return domain.ItemCounts{}, err
	}

	var counts domain.ItemCounts
	for _, row := range rows {
		counts.Total += row.Count
		switch row.Status {
		case domain.ItemStatusPending:
			counts.Pending += row.Count
		case domain.ItemStatusDelivered:
			counts.Delivered += row.Count
		case domain.ItemStatusError:
			counts.Failed += row.Count
		}
	}
	return counts, nil
}
