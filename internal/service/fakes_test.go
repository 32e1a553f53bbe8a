package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kursadbilgin/dispatch-queue/internal/domain"
	"github.com/kursadbilgin/dispatch-queue/internal/events"
	"github.com/kursadbilgin/dispatch-queue/internal/provider"
	"github.com/kursadbilgin/dispatch-queue/internal/repository"
)

// memStore is an in-memory stand-in for the item and batch repositories.
type memStore struct {
	mu      sync.Mutex
	batches map[string]*domain.Batch
	items   []*domain.Item
	targets map[string]*domain.TargetRecord

	claimErr error
}

func newMemStore() *memStore {
	return &memStore{
		batches: map[string]*domain.Batch{},
		targets: map[string]*domain.TargetRecord{},
	}
}

func (s *memStore) addBatch(id, template string, status domain.BatchStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches[id] = &domain.Batch{
		ID:              id,
		Name:            "batch " + id,
		MessageTemplate: template,
		Status:          status,
		CreatedAt:       time.Unix(1_700_000_000, 0).UTC(),
	}
}

func (s *memStore) addItem(id, batchID string, target domain.TargetRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := target
	s.targets[target.ID] = &t
	s.items = append(s.items, &domain.Item{
		ID:             id,
		BatchID:        batchID,
		TargetRecordID: target.ID,
		Status:         domain.ItemStatusPending,
		CreatedAt:      time.Unix(1_700_000_000+int64(len(s.items)), 0).UTC(),
	})
}

func (s *memStore) item(id string) domain.Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, item := range s.items {
		if item.ID == id {
			return *item
		}
	}
	return domain.Item{}
}

func (s *memStore) target(id string) domain.TargetRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.targets[id]
}

func (s *memStore) batch(id string) domain.Batch {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.batches[id]
}

func (s *memStore) findLocked(id string) *domain.Item {
	for _, item := range s.items {
		if item.ID == id {
			return item
		}
	}
	return nil
}

func (s *memStore) ClaimPending(ctx context.Context, params repository.ClaimParams) ([]domain.Dispatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.claimErr != nil {
		return nil, s.claimErr
	}

	var out []domain.Dispatch
	for _, item := range s.items {
		if len(out) >= params.Limit {
			break
		}
		batch := s.batches[item.BatchID]
		if item.Status != domain.ItemStatusPending || item.AttemptCount >= params.MaxRetries {
			continue
		}
		if batch == nil || batch.Status != domain.BatchStatusExecuting {
			continue
		}
		if item.ClaimedUntil != nil && !item.ClaimedUntil.Before(params.Now) {
			continue
		}

		until := params.Now.Add(params.Lease)
		item.ClaimedUntil = &until
		out = append(out, domain.Dispatch{
			Item:      *item,
			Target:    *s.targets[item.TargetRecordID],
			BatchName: batch.Name,
			Template:  batch.MessageTemplate,
		})
	}
	return out, nil
}

func (s *memStore) ReleaseClaims(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if item := s.findLocked(id); item != nil && item.Status == domain.ItemStatusPending {
			item.ClaimedUntil = nil
		}
	}
	return nil
}

func (s *memStore) IncrementAttempt(ctx context.Context, id string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item := s.findLocked(id)
	if item == nil || item.Status != domain.ItemStatusPending {
		return 0, domain.ErrConflict
	}
	item.AttemptCount++
	return item.AttemptCount, nil
}

func (s *memStore) MarkDelivered(ctx context.Context, id string, outcome domain.Outcome) error {
	return s.finalize(id, domain.ItemStatusDelivered, outcome)
}

func (s *memStore) MarkError(ctx context.Context, id string, outcome domain.Outcome) error {
	return s.finalize(id, domain.ItemStatusError, outcome)
}

func (s *memStore) finalize(id string, status domain.ItemStatus, outcome domain.Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item := s.findLocked(id)
	if item == nil || item.Status != domain.ItemStatusPending {
		return domain.ErrConflict
	}
	item.Status = status
	item.ClaimedUntil = nil
	item.ProviderResponse = outcome.Response
	if status == domain.ItemStatusDelivered {
		at := outcome.At
		item.SentAt = &at
	} else {
		msg := outcome.Message
		item.LastError = &msg
	}
	s.targets[item.TargetRecordID].DispatchStatus = status.String()
	return nil
}

func (s *memStore) RecordRetry(ctx context.Context, id string, outcome domain.Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item := s.findLocked(id)
	if item == nil || item.Status != domain.ItemStatusPending {
		return domain.ErrConflict
	}
	msg := outcome.Message
	item.LastError = &msg
	item.ClaimedUntil = nil
	return nil
}

func (s *memStore) CountByBatch(ctx context.Context, batchID string) (domain.ItemCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var counts domain.ItemCounts
	for _, item := range s.items {
		if item.BatchID != batchID {
			continue
		}
		counts.Total++
		switch item.Status {
		case domain.ItemStatusPending:
			counts.Pending++
		case domain.ItemStatusDelivered:
			counts.Delivered++
		case domain.ItemStatusError:
			counts.Failed++
		}
	}
	return counts, nil
}

func (s *memStore) Create(ctx context.Context, b *domain.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *b
	s.batches[b.ID] = &copied
	return nil
}

func (s *memStore) GetByID(ctx context.Context, id string) (*domain.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *b
	return &copied, nil
}

func (s *memStore) ListByStatus(ctx context.Context, status domain.BatchStatus) ([]domain.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Batch
	for _, b := range s.batches {
		if b.Status == status {
			out = append(out, *b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memStore) CountByStatus(ctx context.Context, status domain.BatchStatus) (int64, error) {
	batches, _ := s.ListByStatus(ctx, status)
	return int64(len(batches)), nil
}

func (s *memStore) MarkExecuting(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[id]
	if !ok {
		return domain.ErrNotFound
	}
	if !b.Status.CanTransitionTo(domain.BatchStatusExecuting) {
		return domain.ErrConflict
	}
	b.Status = domain.BatchStatusExecuting
	return nil
}

func (s *memStore) Seal(ctx context.Context, id string, result domain.BatchResult, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[id]
	if !ok || b.Status != domain.BatchStatusExecuting {
		return false, nil
	}
	for _, item := range s.items {
		if item.BatchID == id && item.Status == domain.ItemStatusPending {
			return false, nil
		}
	}
	r := result
	b.Status = domain.BatchStatusDone
	b.Result = &r
	b.CompletedAt = &at
	return true, nil
}

func (s *memStore) Stats(ctx context.Context, limit int) ([]domain.BatchStats, error) {
	batches, _ := s.ListByStatus(ctx, domain.BatchStatusExecuting)
	out := make([]domain.BatchStats, 0, len(batches))
	for _, b := range batches {
		counts, _ := s.CountByBatch(ctx, b.ID)
		out = append(out, domain.BatchStats{
			BatchID:   b.ID,
			Name:      b.Name,
			Status:    b.Status,
			Total:     counts.Total,
			Pending:   counts.Pending,
			Delivered: counts.Delivered,
			Failed:    counts.Failed,
		})
	}
	return out, nil
}

type memAttempts struct {
	mu       sync.Mutex
	attempts []domain.Attempt
	createFn func(ctx context.Context, a *domain.Attempt) error
}

func (m *memAttempts) Create(ctx context.Context, a *domain.Attempt) error {
	if m.createFn != nil {
		if err := m.createFn(ctx, a); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts = append(m.attempts, *a)
	return nil
}

func (m *memAttempts) ListByItemID(ctx context.Context, itemID string) ([]domain.Attempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Attempt
	for _, a := range m.attempts {
		if a.ItemID == itemID {
			out = append(out, a)
		}
	}
	return out, nil
}

type fakeProvider struct {
	mu     sync.Mutex
	calls  []provider.Variables
	testFn func(ctx context.Context) error
	sendFn func(ctx context.Context, phone string, vars provider.Variables) provider.Result
}

func (f *fakeProvider) TestConnection(ctx context.Context) error {
	if f.testFn != nil {
		return f.testFn(ctx)
	}
	return nil
}

func (f *fakeProvider) SendMessage(ctx context.Context, phone string, vars provider.Variables) provider.Result {
	f.mu.Lock()
	f.calls = append(f.calls, vars)
	f.mu.Unlock()
	if f.sendFn != nil {
		return f.sendFn(ctx, phone, vars)
	}
	return provider.Result{Success: true, StatusCode: 200, Response: `{"ok":true}`}
}

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeRateLimiter struct {
	waitFn func(ctx context.Context, bucket string) error
}

func (f *fakeRateLimiter) Allow(ctx context.Context, bucket string) (bool, error) {
	return true, nil
}

func (f *fakeRateLimiter) Wait(ctx context.Context, bucket string) error {
	if f.waitFn != nil {
		return f.waitFn(ctx, bucket)
	}
	return nil
}

type fakePublisher struct {
	mu        sync.Mutex
	published []events.BatchCompletedEvent
	publishFn func(ctx context.Context, event events.BatchCompletedEvent) error
}

func (f *fakePublisher) PublishBatchCompleted(ctx context.Context, event events.BatchCompletedEvent) error {
	f.mu.Lock()
	f.published = append(f.published, event)
	f.mu.Unlock()
	if f.publishFn != nil {
		return f.publishFn(ctx, event)
	}
	return nil
}

func (f *fakePublisher) Close() error { return nil }

func failingSend(message string) func(ctx context.Context, phone string, vars provider.Variables) provider.Result {
	return func(ctx context.Context, phone string, vars provider.Variables) provider.Result {
		return provider.Result{
			StatusCode: 500,
			Err:        &provider.ProviderError{StatusCode: 500, Message: message, Transient: true},
		}
	}
}

func fixedClock() func() time.Time {
	return func() time.Time { return time.Unix(1_700_000_100, 0) }
}
