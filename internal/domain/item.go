package domain

import (
	"fmt"
	"strings"
	"time"
)

// ItemStatus represents the delivery state of a single dispatch item.
type ItemStatus string

const (
	ItemStatusPending   ItemStatus = "pending"
	ItemStatusDelivered ItemStatus = "delivered"
	ItemStatusError     ItemStatus = "error"
)

func (s ItemStatus) String() string { return string(s) }

func (s ItemStatus) IsValid() bool {
	switch s {
	case ItemStatusPending, ItemStatusDelivered, ItemStatusError:
		return true
	}
	return false
}

func (s ItemStatus) IsTerminal() bool {
	return s == ItemStatusDelivered || s == ItemStatusError
}

func ParseItemStatusFromString(s string) (ItemStatus, error) {
	st := ItemStatus(strings.ToLower(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid item status %q", ErrValidation, s)
	}
	return st, nil
}

// Item is one outbound message obligation. AttemptCount counts provider
// attempts, including the one that finally succeeded.
type Item struct {
	ID               string
	BatchID          string
	TargetRecordID   string
	AttemptCount     int
	Status           ItemStatus
	LastError        *string
	ProviderResponse *string
	SentAt           *time.Time
	ClaimedUntil     *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Dispatch is a claimed item together with everything needed to send it.
// LoadErr is set when the target data could not be loaded; such an item
// cannot be sent.
type Dispatch struct {
	Item      Item
	Target    TargetRecord
	BatchName string
	Template  string
	LoadErr   error
}

// Outcome is the result written back to an item after a provider call.
type Outcome struct {
	Message  string
	Response *string
	At       time.Time
}

// ItemCounts aggregates item statuses of one batch.
type ItemCounts struct {
	Total     int
	Pending   int
	Delivered int
	Failed    int
}

// Exhausted reports whether every item of a non-empty batch reached a
// terminal status.
func (c ItemCounts) Exhausted() bool {
	return c.Total > 0 && c.Pending == 0
}

// Result converts the counts into the persisted batch result.
func (c ItemCounts) Result() BatchResult {
	return BatchResult{
		Total:  c.Total,
		Sent:   c.Delivered,
		Failed: c.Failed,
	}
}

// Attempt records a single provider call for an item.
type Attempt struct {
	ID            string
	ItemID        string
	AttemptNumber int
	Success       bool
	StatusCode    *int
	Response      *string
	Error         *string
	CreatedAt     time.Time
}
