package service

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/dispatch-queue/internal/domain"
	"github.com/kursadbilgin/dispatch-queue/internal/observability"
	"github.com/patrickmn/go-cache"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const (
	defaultSweepInterval = 30 * time.Second
	defaultRestartPause  = time.Second
	statsCacheTTL        = 2 * time.Second
	statsCacheKey        = "queue-stats"

	tickOutcomeProcessed = "processed"
	tickOutcomeIdle      = "idle"
	tickOutcomeError     = "error"
	tickOutcomePanic     = "panic"
)

type ConnectionProber interface {
	TestConnection(ctx context.Context) error
}

type TickRunner interface {
	RunTick(ctx context.Context, cfg domain.QueueConfig) (TickSummary, error)
}

type Sweeper interface {
	Sweep(ctx context.Context) (bool, error)
}

type ConfigStore interface {
	Load(ctx context.Context) (domain.QueueConfig, error)
	Save(ctx context.Context, cfg domain.QueueConfig) error
}

type StatsSource interface {
	Stats(ctx context.Context, limit int) ([]domain.BatchStats, error)
}

type EngineOptions struct {
	SweepInterval time.Duration
	RestartPause  time.Duration
}

// Status is the externally visible engine state.
type Status struct {
	IsProcessing bool               `json:"isProcessing"`
	Config       domain.QueueConfig `json:"config"`
}

// Engine drives processing ticks at randomized intervals and stops itself
// once no batch is executing.
type Engine struct {
	prober  ConnectionProber
	runner  TickRunner
	sweeper Sweeper
	store   ConfigStore
	stats   StatsSource
	logger  *zap.Logger
	metrics *observability.Metrics

	sweepInterval time.Duration
	restartPause  time.Duration
	statsCache    *cache.Cache

	mu      sync.Mutex
	running bool
	gen     uint64
	cfg     domain.QueueConfig
	timer   *time.Timer
	cron    *cron.Cron
	runCtx  context.Context
	cancel  context.CancelFunc

	// tickMu keeps ticks of consecutive generations from overlapping.
	tickMu   sync.Mutex
	updateMu sync.Mutex

	randIntn  func(n int) int
	sleep     func(ctx context.Context, d time.Duration) error
	newTickID func() string
}

func NewEngine(
	prober ConnectionProber,
	runner TickRunner,
	sweeper Sweeper,
	store ConfigStore,
	stats StatsSource,
	opts EngineOptions,
	logger *zap.Logger,
) (*Engine, error) {
	if prober == nil {
		return nil, fmt.Errorf("connection prober is required")
	}
	if runner == nil {
		return nil, fmt.Errorf("tick runner is required")
	}
	if sweeper == nil {
		return nil, fmt.Errorf("sweeper is required")
	}
	if store == nil {
		return nil, fmt.Errorf("config store is required")
	}
	if stats == nil {
		return nil, fmt.Errorf("stats source is required")
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = defaultSweepInterval
	}
	if opts.RestartPause <= 0 {
		opts.RestartPause = defaultRestartPause
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Engine{
		prober:        prober,
		runner:        runner,
		sweeper:       sweeper,
		store:         store,
		stats:         stats,
		logger:        logger,
		sweepInterval: opts.SweepInterval,
		restartPause:  opts.RestartPause,
		statsCache:    cache.New(statsCacheTTL, 5*statsCacheTTL),
		cfg:           domain.DefaultQueueConfig(),
		randIntn:      rand.Intn,
		sleep:         sleepWithContext,
		newTickID:     uuid.NewString,
	}, nil
}

func (e *Engine) SetMetrics(metrics *observability.Metrics) {
	if e == nil {
		return
	}
	e.metrics = metrics
}

// LoadConfig replaces the in-memory config with the stored one.
func (e *Engine) LoadConfig(ctx context.Context) error {
	cfg, err := e.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load queue config: %w", err)
	}

	e.mu.Lock()
	e.cfg = cfg
	e.mu.Unlock()
	return nil
}

// Start probes the provider and begins ticking. Starting a running engine is
// a no-op.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	running := e.running
	e.mu.Unlock()
	if running {
		e.logger.Warn("engine already running")
		return nil
	}

	if err := e.prober.TestConnection(ctx); err != nil {
		e.logger.Error("provider connection test failed, engine not started", zap.Error(err))
		return fmt.Errorf("%w: %w", ErrProviderUnavailable, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return nil
	}

	e.gen++
	gen := e.gen
	e.running = true
	e.runCtx, e.cancel = context.WithCancel(context.WithoutCancel(ctx))

	cl := cronLogger{logger: e.logger.Sugar()}
	e.cron = cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	e.cron.Schedule(cron.Every(e.sweepInterval), cron.FuncJob(func() { e.sweep(gen) }))
	e.cron.Start()

	e.scheduleLocked(gen)
	e.metrics.SetEngineRunning(true)
	e.logger.Info("engine started",
		zap.Uint64("generation", gen),
		zap.Int("minIntervalMs", e.cfg.MinIntervalMS),
		zap.Int("maxIntervalMs", e.cfg.MaxIntervalMS),
	)

	go e.sweep(gen)
	return nil
}

// Stop halts ticking. A provider call already in flight is allowed to
// finish. Stopping a stopped engine is a no-op.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return
	}
	e.stopLocked()
}

func (e *Engine) stopGeneration(gen uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running || e.gen != gen {
		return
	}
	e.stopLocked()
}

func (e *Engine) stopLocked() {
	e.running = false
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	if e.cron != nil {
		e.cron.Stop()
		e.cron = nil
	}
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	e.metrics.SetEngineRunning(false)
	e.logger.Info("engine stopped", zap.Uint64("generation", e.gen))
}

func (e *Engine) scheduleLocked(gen uint64) {
	delay := e.nextDelay(e.cfg)
	e.timer = time.AfterFunc(delay, func() { e.tick(gen) })
	e.logger.Debug("next tick scheduled", zap.Duration("delay", delay))
}

// nextDelay draws a uniform delay in [MinIntervalMS, MaxIntervalMS].
func (e *Engine) nextDelay(cfg domain.QueueConfig) time.Duration {
	span := cfg.MaxIntervalMS - cfg.MinIntervalMS
	ms := cfg.MinIntervalMS
	if span > 0 {
		ms += e.randIntn(span + 1)
	}
	return time.Duration(ms) * time.Millisecond
}

func (e *Engine) tick(gen uint64) {
	e.tickMu.Lock()
	defer e.tickMu.Unlock()

	e.mu.Lock()
	if !e.running || e.gen != gen {
		e.mu.Unlock()
		return
	}
	cfg := e.cfg
	ctx := e.runCtx
	e.mu.Unlock()

	ctx = observability.WithTickID(ctx, e.newTickID())
	e.metrics.IncTick(e.runTick(ctx, cfg))

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running && e.gen == gen {
		e.scheduleLocked(gen)
	}
}

func (e *Engine) runTick(ctx context.Context, cfg domain.QueueConfig) (outcome string) {
	logger := observability.WithContextLogger(e.logger, ctx)
	defer func() {
		if r := recover(); r != nil {
			logger.Error("tick panicked", zap.Any("panic", r))
			outcome = tickOutcomePanic
		}
	}()

	summary, err := e.runner.RunTick(ctx, cfg)
	if err != nil {
		logger.Error("tick failed", zap.Error(err))
		return tickOutcomeError
	}
	if summary.Claimed == 0 {
		return tickOutcomeIdle
	}

	logger.Info("tick completed",
		zap.Int("claimed", summary.Claimed),
		zap.Int("delivered", summary.Delivered),
		zap.Int("retried", summary.Retried),
		zap.Int("failed", summary.Failed),
		zap.Int("skipped", summary.Skipped),
		zap.Int("released", summary.Released),
	)
	return tickOutcomeProcessed
}

func (e *Engine) sweep(gen uint64) {
	e.mu.Lock()
	if !e.running || e.gen != gen {
		e.mu.Unlock()
		return
	}
	ctx := context.WithoutCancel(e.runCtx)
	e.mu.Unlock()

	active, err := e.sweeper.Sweep(ctx)
	if err != nil {
		e.logger.Error("completion sweep failed", zap.Error(err))
		return
	}
	if !active {
		e.logger.Info("no executing batches left, stopping engine", zap.Uint64("generation", gen))
		e.stopGeneration(gen)
	}
}

// UpdateConfig merges patch into the current config, persists it and applies
// it. A running engine is restarted when an interval bound changes.
func (e *Engine) UpdateConfig(ctx context.Context, patch domain.QueueConfigPatch) (domain.QueueConfig, error) {
	e.updateMu.Lock()
	defer e.updateMu.Unlock()

	e.mu.Lock()
	current := e.cfg
	running := e.running
	e.mu.Unlock()

	next := current.Merge(patch)
	if err := next.Validate(); err != nil {
		return current, err
	}
	if err := e.store.Save(ctx, next); err != nil {
		return current, fmt.Errorf("failed to save queue config: %w", err)
	}

	e.mu.Lock()
	e.cfg = next
	e.mu.Unlock()
	e.logger.Info("queue config updated",
		zap.Int("minIntervalMs", next.MinIntervalMS),
		zap.Int("maxIntervalMs", next.MaxIntervalMS),
		zap.Int("maxRetries", next.MaxRetries),
		zap.Int("batchSize", next.BatchSize),
	)

	if !running || !next.IntervalsDiffer(current) {
		return next, nil
	}

	e.logger.Info("tick interval changed, restarting engine")
	e.Stop()
	_ = e.sleep(context.WithoutCancel(ctx), e.restartPause)
	if err := e.Start(ctx); err != nil {
		return next, fmt.Errorf("failed to restart engine: %w", err)
	}
	return next, nil
}

func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Status{IsProcessing: e.running, Config: e.cfg}
}

// QueueStats returns per-batch item counts, cached briefly.
func (e *Engine) QueueStats(ctx context.Context) ([]domain.BatchStats, error) {
	if cached, ok := e.statsCache.Get(statsCacheKey); ok {
		if stats, ok := cached.([]domain.BatchStats); ok {
			return stats, nil
		}
	}

	stats, err := e.stats.Stats(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to load queue stats: %w", err)
	}
	e.statsCache.SetDefault(statsCacheKey, stats)
	return stats, nil
}

// cronLogger routes cron's internal logging through zap.
type cronLogger struct {
	logger *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Errorw(msg, append(keysAndValues, "error", err)...)
}
