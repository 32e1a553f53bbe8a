package repository

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/kursadbilgin/dispatch-queue/internal/domain"
)

// BatchModel is the persistence model for dispatch_batches.
type BatchModel struct {
	ID              string             `gorm:"type:uuid;primaryKey"`
	Name            string             `gorm:"type:varchar(255);not null"`
	MessageTemplate string             `gorm:"type:text;not null"`
	Status          domain.BatchStatus `gorm:"type:varchar(20);not null"`
	ResultTotal     *int               `gorm:"type:int"`
	ResultSent      *int               `gorm:"type:int"`
	ResultFailed    *int               `gorm:"type:int"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
	CompletedAt     *time.Time
}

func (BatchModel) TableName() string {
	return "dispatch_batches"
}

// ItemModel is the persistence model for dispatch_items.
type ItemModel struct {
	ID               string            `gorm:"type:uuid;primaryKey"`
	BatchID          string            `gorm:"type:uuid;not null"`
	TargetRecordID   string            `gorm:"type:uuid;not null"`
	AttemptCount     int               `gorm:"not null;default:0"`
	Status           domain.ItemStatus `gorm:"type:varchar(20);not null"`
	LastError        *string           `gorm:"type:text"`
	ProviderResponse *string           `gorm:"type:text"`
	SentAt           *time.Time
	ClaimedUntil     *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (ItemModel) TableName() string {
	return "dispatch_items"
}

// TargetRecordModel is the persistence model for target_records. Rows are
// owned by the back-office; the engine only updates dispatch_status.
type TargetRecordModel struct {
	ID             string  `gorm:"type:uuid;primaryKey"`
	Name           string  `gorm:"type:varchar(255);not null"`
	Phone          string  `gorm:"type:varchar(32);not null"`
	Fields         string  `gorm:"type:jsonb;not null;default:'{}'"`
	DispatchStatus *string `gorm:"type:varchar(20)"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (TargetRecordModel) TableName() string {
	return "target_records"
}

// AttemptModel is the persistence model for dispatch_attempts.
type AttemptModel struct {
	ID            string  `gorm:"type:uuid;primaryKey"`
	ItemID        string  `gorm:"type:uuid;not null"`
	AttemptNumber int     `gorm:"not null"`
	Success       bool    `gorm:"not null"`
	StatusCode    *int    `gorm:"type:int"`
	Response      *string `gorm:"type:text"`
	Error         *string `gorm:"type:text"`
	CreatedAt     time.Time
}

func (AttemptModel) TableName() string {
	return "dispatch_attempts"
}

// QueueConfigModel is the single-row persistence model for queue_configs.
type QueueConfigModel struct {
	ID            int `gorm:"primaryKey;autoIncrement:false"`
	MinIntervalMS int `gorm:"column:min_interval_ms;not null"`
	MaxIntervalMS int `gorm:"column:max_interval_ms;not null"`
	MaxRetries    int `gorm:"not null"`
	BatchSize     int `gorm:"not null"`
	UpdatedAt     time.Time
}

func (QueueConfigModel) TableName() string {
	return "queue_configs"
}

func batchModelFromDomain(b *domain.Batch) *BatchModel {
	if b == nil {
		return nil
	}

	model := &BatchModel{
		ID:              b.ID,
		Name:            b.Name,
		MessageTemplate: b.MessageTemplate,
		Status:          b.Status,
		CreatedAt:       b.CreatedAt,
		UpdatedAt:       b.UpdatedAt,
		CompletedAt:     b.CompletedAt,
	}
	if b.Result != nil {
		total, sent, failed := b.Result.Total, b.Result.Sent, b.Result.Failed
		model.ResultTotal = &total
		model.ResultSent = &sent
		model.ResultFailed = &failed
	}
	return model
}

func batchModelToDomain(m *BatchModel) *domain.Batch {
	if m == nil {
		return nil
	}

	b := &domain.Batch{
		ID:              m.ID,
		Name:            m.Name,
		MessageTemplate: m.MessageTemplate,
		Status:          m.Status,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
		CompletedAt:     m.CompletedAt,
	}
	if m.ResultTotal != nil {
		b.Result = &domain.BatchResult{
			Total:  *m.ResultTotal,
			Sent:   derefInt(m.ResultSent),
			Failed: derefInt(m.ResultFailed),
		}
	}
	return b
}

func itemModelToDomain(m *ItemModel) *domain.Item {
	if m == nil {
		return nil
	}

	return &domain.Item{
		ID:               m.ID,
		BatchID:          m.BatchID,
		TargetRecordID:   m.TargetRecordID,
		AttemptCount:     m.AttemptCount,
		Status:           m.Status,
		LastError:        m.LastError,
		ProviderResponse: m.ProviderResponse,
		SentAt:           m.SentAt,
		ClaimedUntil:     m.ClaimedUntil,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
}

func targetModelToDomain(m *TargetRecordModel) (*domain.TargetRecord, error) {
	if m == nil {
		return nil, nil
	}

	fields, err := decodeFields(m.Fields)
	if err != nil {
		return nil, fmt.Errorf("failed to decode fields of target %s: %w", m.ID, err)
	}

	t := &domain.TargetRecord{
		ID:     m.ID,
		Name:   m.Name,
		Phone:  m.Phone,
		Fields: fields,
	}
	if m.DispatchStatus != nil {
		t.DispatchStatus = *m.DispatchStatus
	}
	return t, nil
}

// decodeFields flattens the jsonb field map into string values. Nested
// objects and arrays keep their JSON text.
func decodeFields(raw string) (domain.Fields, error) {
	if raw == "" {
		return domain.Fields{}, nil
	}

	var values map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		return nil, err
	}

	fields := make(domain.Fields, len(values))
	for key, value := range values {
		fields[key] = fieldString(value)
	}
	return fields, nil
}

func fieldString(value json.RawMessage) string {
	var decoded any
	if err := json.Unmarshal(value, &decoded); err != nil {
		return string(value)
	}

	switch v := decoded.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return string(value)
	}
}

func attemptModelFromDomain(a *domain.Attempt) *AttemptModel {
	if a == nil {
		return nil
	}

	return &AttemptModel{
		ID:            a.ID,
		ItemID:        a.ItemID,
		AttemptNumber: a.AttemptNumber,
		Success:       a.Success,
		StatusCode:    a.StatusCode,
		Response:      a.Response,
		Error:         a.Error,
		CreatedAt:     a.CreatedAt,
	}
}

func attemptModelToDomain(m *AttemptModel) *domain.Attempt {
	if m == nil {
		return nil
	}

	return &domain.Attempt{
		ID:            m.ID,
		ItemID:        m.ItemID,
		AttemptNumber: m.AttemptNumber,
		Success:       m.Success,
		StatusCode:    m.StatusCode,
		Response:      m.Response,
		Error:         m.Error,
		CreatedAt:     m.CreatedAt,
	}
}

func derefInt(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}
