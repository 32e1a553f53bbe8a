package observability

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const serviceName = "dispatch-queue"

type logScopeKey struct{}

// logScope is the dispatch position a context is working on. Empty fields
// are left out of log entries.
type logScope struct {
	tickID  string
	batchID string
	itemID  string
}

func NewLogger(level string) (*zap.Logger, error) {
	parsedLevel, err := parseLevel(level)
	if err != nil {
		return nil, err
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(parsedLevel)
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.EncodeDuration = zapcore.MillisDurationEncoder
	cfg.DisableStacktrace = true
	// ticks log per item; keep every entry
	cfg.Sampling = nil
	cfg.InitialFields = map[string]any{"service": serviceName}

	logger, err := cfg.Build(zap.AddCaller())
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	return logger, nil
}

func parseLevel(level string) (zapcore.Level, error) {
	var parsed zapcore.Level
	normalized := strings.ToLower(strings.TrimSpace(level))
	if normalized == "" {
		normalized = "info"
	}

	if err := parsed.UnmarshalText([]byte(normalized)); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	return parsed, nil
}

func scopeFrom(ctx context.Context) logScope {
	if ctx == nil {
		return logScope{}
	}
	scope, _ := ctx.Value(logScopeKey{}).(logScope)
	return scope
}

// WithTickID tags ctx with the id of the processing tick it belongs to.
func WithTickID(ctx context.Context, tickID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}

	scope := scopeFrom(ctx)
	scope.tickID = tickID
	return context.WithValue(ctx, logScopeKey{}, scope)
}

// WithItem narrows ctx to one dispatch item, keeping any tick id already set.
func WithItem(ctx context.Context, batchID, itemID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}

	scope := scopeFrom(ctx)
	scope.batchID = batchID
	scope.itemID = itemID
	return context.WithValue(ctx, logScopeKey{}, scope)
}

func TickIDFromContext(ctx context.Context) (string, bool) {
	tickID := scopeFrom(ctx).tickID
	return tickID, tickID != ""
}

// WithContextLogger adds the tick, batch and item ids carried by ctx to logger.
func WithContextLogger(logger *zap.Logger, ctx context.Context) *zap.Logger {
	if logger == nil {
		return nil
	}

	scope := scopeFrom(ctx)
	fields := make([]zap.Field, 0, 3)
	if scope.tickID != "" {
		fields = append(fields, zap.String("tickId", scope.tickID))
	}
	if scope.batchID != "" {
		fields = append(fields, zap.String("batchId", scope.batchID))
	}
	if scope.itemID != "" {
		fields = append(fields, zap.String("itemId", scope.itemID))
	}
	if len(fields) == 0 {
		return logger
	}

	return logger.With(fields...)
}
