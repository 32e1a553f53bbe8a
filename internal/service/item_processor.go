package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/dispatch-queue/internal/domain"
	"github.com/kursadbilgin/dispatch-queue/internal/observability"
	"github.com/kursadbilgin/dispatch-queue/internal/provider"
	"github.com/kursadbilgin/dispatch-queue/internal/ratelimit"
	"github.com/kursadbilgin/dispatch-queue/internal/render"
	"github.com/kursadbilgin/dispatch-queue/internal/repository"
	"go.uber.org/zap"
)

// ItemOutcome is what happened to one claimed item during a tick.
type ItemOutcome string

const (
	ItemDelivered ItemOutcome = "delivered"
	ItemRetry     ItemOutcome = "retry"
	ItemFailed    ItemOutcome = "failed"
	ItemSkipped   ItemOutcome = "skipped"
)

const failureReasonInternal = "internal"

// ItemProcessor performs one delivery attempt for a claimed item and records
// its outcome.
type ItemProcessor struct {
	items       repository.ItemRepository
	attempts    repository.AttemptRepository
	provider    provider.Client
	rateLimiter ratelimit.RateLimiter
	countryCode string
	logger      *zap.Logger
	metrics     *observability.Metrics
	now         func() time.Time
	newID       func() string
}

func NewItemProcessor(
	items repository.ItemRepository,
	attempts repository.AttemptRepository,
	client provider.Client,
	rateLimiter ratelimit.RateLimiter,
	countryCode string,
	logger *zap.Logger,
) (*ItemProcessor, error) {
	if items == nil {
		return nil, fmt.Errorf("item repository is required")
	}
	if attempts == nil {
		return nil, fmt.Errorf("attempt repository is required")
	}
	if client == nil {
		return nil, fmt.Errorf("provider client is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &ItemProcessor{
		items:       items,
		attempts:    attempts,
		provider:    client,
		rateLimiter: rateLimiter,
		countryCode: countryCode,
		logger:      logger,
		now:         time.Now,
		newID:       uuid.NewString,
	}, nil
}

func (p *ItemProcessor) SetMetrics(metrics *observability.Metrics) {
	if p == nil {
		return
	}
	p.metrics = metrics
}

// Process sends d and moves the item to delivered, error or back to pending
// for a later retry. The attempt counter is bumped before the provider call,
// so a first-try success is stored with attempt_count=1.
func (p *ItemProcessor) Process(ctx context.Context, d domain.Dispatch, maxRetries int) (outcome ItemOutcome) {
	ctx = observability.WithItem(ctx, d.Item.BatchID, d.Item.ID)
	logger := observability.WithContextLogger(p.logger, ctx)

	if p.rateLimiter != nil {
		if err := p.rateLimiter.Wait(ctx, ratelimit.BucketProvider); err != nil {
			logger.Warn("rate limiter wait failed, releasing item", zap.Error(err))
			p.release(ctx, logger, d.Item.ID)
			return ItemSkipped
		}
	}

	attempt, err := p.items.IncrementAttempt(ctx, d.Item.ID)
	if err != nil {
		if errors.Is(err, domain.ErrConflict) {
			logger.Info("item is no longer pending, skipping")
			return ItemSkipped
		}
		logger.Error("failed to increment attempt count", zap.Error(err))
		p.release(ctx, logger, d.Item.ID)
		return ItemSkipped
	}
	logger = logger.With(zap.Int("attempt", attempt), zap.Int("maxRetries", maxRetries))

	defer func() {
		if r := recover(); r != nil {
			outcome = p.failInternal(ctx, logger, d.Item.ID, fmt.Errorf("panic: %v", r))
		}
	}()

	if d.LoadErr != nil {
		return p.failInternal(ctx, logger, d.Item.ID, d.LoadErr)
	}

	phone, err := provider.FormatPhone(d.Target.Phone, p.countryCode)
	if err != nil {
		return p.failInternal(ctx, logger, d.Item.ID, err)
	}

	message := render.Render(d.Template, templateFields(d.Target))
	vars := provider.Variables{
		ID:        d.Item.ID,
		Message:   message,
		Name:      d.Target.Name,
		Phone:     phone,
		BatchName: d.BatchName,
	}

	sendStart := p.now()
	result := p.provider.SendMessage(ctx, phone, vars)
	p.metrics.ObserveProviderSend(p.now().Sub(sendStart))

	p.recordAttempt(ctx, logger, d.Item.ID, attempt, result)

	at := p.now().UTC()
	response := optionalString(result.Response)

	if result.Success {
		if err := p.items.MarkDelivered(ctx, d.Item.ID, domain.Outcome{Response: response, At: at}); err != nil {
			return p.failInternal(ctx, logger, d.Item.ID, fmt.Errorf("failed to mark item delivered: %w", err))
		}
		p.metrics.IncItemDelivered()
		logger.Info("item delivered", zap.Int("statusCode", result.StatusCode))
		return ItemDelivered
	}

	cause := result.ErrorMessage()
	if attempt >= maxRetries {
		lastError := fmt.Sprintf("failed after %d attempts (%d/%d): %s", attempt, attempt, maxRetries, cause)
		if err := p.items.MarkError(ctx, d.Item.ID, domain.Outcome{Message: lastError, Response: response, At: at}); err != nil {
			return p.failInternal(ctx, logger, d.Item.ID, fmt.Errorf("failed to mark item error: %w", err))
		}
		p.metrics.IncItemFailed(provider.FailureReason(result.Err))
		logger.Warn("item failed permanently", zap.String("cause", cause))
		return ItemFailed
	}

	lastError := fmt.Sprintf("attempt %d/%d: %s", attempt, maxRetries, cause)
	if err := p.items.RecordRetry(ctx, d.Item.ID, domain.Outcome{Message: lastError, Response: response, At: at}); err != nil {
		return p.failInternal(ctx, logger, d.Item.ID, fmt.Errorf("failed to record retry: %w", err))
	}
	p.metrics.IncItemRetry()
	logger.Info("item attempt failed, will retry", zap.String("cause", cause))
	return ItemRetry
}

// failInternal marks the item as error after a local failure. It is best
// effort: when the write fails the item stays pending.
func (p *ItemProcessor) failInternal(ctx context.Context, logger *zap.Logger, id string, cause error) ItemOutcome {
	logger.Error("item processing failed", zap.Error(cause))

	outcome := domain.Outcome{
		Message: "internal error: " + cause.Error(),
		At:      p.now().UTC(),
	}
	if err := p.items.MarkError(ctx, id, outcome); err != nil {
		logger.Error("failed to mark item as error", zap.Error(err))
		return ItemSkipped
	}

	p.metrics.IncItemFailed(failureReasonInternal)
	return ItemFailed
}

func (p *ItemProcessor) release(ctx context.Context, logger *zap.Logger, id string) {
	if err := p.items.ReleaseClaims(ctx, []string{id}); err != nil {
		logger.Error("failed to release item claim", zap.Error(err))
	}
}

func (p *ItemProcessor) recordAttempt(ctx context.Context, logger *zap.Logger, itemID string, number int, result provider.Result) {
	attempt := &domain.Attempt{
		ID:            p.newID(),
		ItemID:        itemID,
		AttemptNumber: number,
		Success:       result.Success,
		Response:      optionalString(result.Response),
		CreatedAt:     p.now().UTC(),
	}

	statusCode := result.StatusCode
	var providerErr *provider.ProviderError
	if statusCode == 0 && errors.As(result.Err, &providerErr) {
		statusCode = providerErr.StatusCode
	}
	if statusCode > 0 {
		attempt.StatusCode = &statusCode
	}
	if !result.Success {
		attempt.Error = optionalString(result.ErrorMessage())
	}

	if err := p.attempts.Create(ctx, attempt); err != nil {
		logger.Warn("failed to record attempt", zap.Error(err))
	}
}

// templateFields exposes the recipient's name and phone to templates unless
// the record already defines those keys.
func templateFields(target domain.TargetRecord) domain.Fields {
	fields := make(domain.Fields, len(target.Fields)+2)
	for k, v := range target.Fields {
		fields[k] = v
	}
	if _, ok := fields["name"]; !ok {
		fields["name"] = target.Name
	}
	if _, ok := fields["phone"]; !ok {
		fields["phone"] = target.Phone
	}
	return fields
}

func optionalString(value string) *string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return &value
}
