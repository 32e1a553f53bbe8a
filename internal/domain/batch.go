package domain

import (
	"fmt"
	"strings"
	"time"
)

// BatchStatus represents the lifecycle state of a dispatch batch.
type BatchStatus string

const (
	BatchStatusCreated   BatchStatus = "created"
	BatchStatusExecuting BatchStatus = "executing"
	BatchStatusDone      BatchStatus = "done"
)

func (s BatchStatus) String() string { return string(s) }

func (s BatchStatus) IsValid() bool {
	switch s {
	case BatchStatusCreated, BatchStatusExecuting, BatchStatusDone:
		return true
	}
	return false
}

func (s BatchStatus) IsTerminal() bool { return s == BatchStatusDone }

// CanTransitionTo reports whether moving from s to next keeps the lifecycle
// moving forward.
func (s BatchStatus) CanTransitionTo(next BatchStatus) bool {
	switch s {
	case BatchStatusCreated:
		return next == BatchStatusExecuting
	case BatchStatusExecuting:
		return next == BatchStatusDone
	}
	return false
}

func ParseBatchStatusFromString(s string) (BatchStatus, error) {
	st := BatchStatus(strings.ToLower(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid batch status %q", ErrValidation, s)
	}
	return st, nil
}

// BatchResult is the aggregate outcome persisted when a batch is sealed.
type BatchResult struct {
	Total  int
	Sent   int
	Failed int
}

// Batch groups the dispatch items of one outbound campaign.
type Batch struct {
	ID              string
	Name            string
	MessageTemplate string
	Status          BatchStatus
	Result          *BatchResult
	CreatedAt       time.Time
	UpdatedAt       time.Time
	CompletedAt     *time.Time
}

// BatchStats is the live per-batch view exposed to the admin surface.
type BatchStats struct {
	BatchID   string
	Name      string
	Status    BatchStatus
	Total     int
	Pending   int
	Delivered int
	Failed    int
	CreatedAt time.Time
}
