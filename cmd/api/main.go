package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/joho/godotenv"
	"github.com/kursadbilgin/dispatch-queue/internal/config"
	"github.com/kursadbilgin/dispatch-queue/internal/events"
	"github.com/kursadbilgin/dispatch-queue/internal/handler"
	"github.com/kursadbilgin/dispatch-queue/internal/infra/postgresql"
	"github.com/kursadbilgin/dispatch-queue/internal/infra/postgresql/migrations"
	infraredis "github.com/kursadbilgin/dispatch-queue/internal/infra/redis"
	"github.com/kursadbilgin/dispatch-queue/internal/observability"
	"github.com/kursadbilgin/dispatch-queue/internal/provider"
	"github.com/kursadbilgin/dispatch-queue/internal/queueconfig"
	"github.com/kursadbilgin/dispatch-queue/internal/ratelimit"
	"github.com/kursadbilgin/dispatch-queue/internal/repository"
	"github.com/kursadbilgin/dispatch-queue/internal/service"
	"github.com/kursadbilgin/dispatch-queue/internal/transport"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("failed to read .env file: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	db, err := postgresql.NewPostgres(cfg.DatabaseDSN, postgresql.DefaultPoolOptions())
	if err != nil {
		logger.Fatal("postgres initialization failed", zap.Error(err))
	}

	if err := migrations.Migrate(db); err != nil {
		logger.Fatal("database migrations failed", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal("postgres underlying db init failed", zap.Error(err))
	}
	defer sqlDB.Close()

	var rdb *goredis.Client
	if cfg.RedisURL != "" {
		rdb, err = infraredis.NewRedis(cfg.RedisURL)
		if err != nil {
			logger.Fatal("redis initialization failed", zap.Error(err))
		}
		defer rdb.Close()
	}

	metrics := observability.NewMetrics()

	client, err := provider.New(provider.Options{
		Kind:    cfg.ProviderKind,
		URL:     cfg.ProviderURL,
		Token:   cfg.ProviderToken,
		FlowID:  cfg.ProviderFlowID,
		Timeout: cfg.ProviderTimeout(),
	})
	if err != nil {
		logger.Fatal("provider initialization failed", zap.Error(err))
	}

	limiter, err := newRateLimiter(cfg, rdb)
	if err != nil {
		logger.Fatal("rate limiter initialization failed", zap.Error(err))
	}

	publisher, err := newPublisher(cfg)
	if err != nil {
		logger.Fatal("rabbitmq initialization failed", zap.Error(err))
	}
	defer publisher.Close()

	backend, err := newConfigBackend(cfg, db, rdb)
	if err != nil {
		logger.Fatal("queue config backend initialization failed", zap.Error(err))
	}
	configStore, err := queueconfig.NewStore(backend, logger)
	if err != nil {
		logger.Fatal("queue config store initialization failed", zap.Error(err))
	}

	itemRepo := repository.NewGormItemRepo(db)
	batchRepo := repository.NewGormBatchRepo(db)
	attemptRepo := repository.NewGormAttemptRepo(db)

	itemProcessor, err := service.NewItemProcessor(itemRepo, attemptRepo, client, limiter, cfg.PhoneCountryCode, logger)
	if err != nil {
		logger.Fatal("item processor initialization failed", zap.Error(err))
	}
	itemProcessor.SetMetrics(metrics)

	batchProcessor, err := service.NewBatchProcessor(itemRepo, itemProcessor, cfg.ClaimLease(), cfg.ItemPause(), logger)
	if err != nil {
		logger.Fatal("batch processor initialization failed", zap.Error(err))
	}

	monitor, err := service.NewCompletionMonitor(batchRepo, itemRepo, publisher, logger)
	if err != nil {
		logger.Fatal("completion monitor initialization failed", zap.Error(err))
	}
	monitor.SetMetrics(metrics)

	engine, err := service.NewEngine(
		client,
		batchProcessor,
		monitor,
		configStore,
		batchRepo,
		service.EngineOptions{SweepInterval: cfg.SweepInterval()},
		logger,
	)
	if err != nil {
		logger.Fatal("engine initialization failed", zap.Error(err))
	}
	engine.SetMetrics(metrics)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := engine.LoadConfig(ctx); err != nil {
		logger.Fatal("queue config load failed", zap.Error(err))
	}

	app := fiber.New(fiber.Config{
		ErrorHandler:          transport.ErrorHandler(logger),
		DisableStartupMessage: true,
	})
	app.Use(metrics.HTTPMiddleware(transport.StatusCode))
	handler.RegisterHealthRoutes(app, sqlDB, rdb)
	handler.RegisterMetricsRoute(app, metrics)
	if err := handler.RegisterQueueRoutes(app, engine); err != nil {
		logger.Fatal("queue routes registration failed", zap.Error(err))
	}
	if err := handler.RegisterBatchRoutes(app, batchRepo, engine); err != nil {
		logger.Fatal("batch routes registration failed", zap.Error(err))
	}
	if err := handler.RegisterAttemptRoutes(app, attemptRepo); err != nil {
		logger.Fatal("attempt routes registration failed", zap.Error(err))
	}

	if cfg.QueueAutoStart {
		if err := engine.Start(ctx); err != nil {
			logger.Warn("queue auto start failed", zap.Error(err))
		}
	}

	g, groupCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("dispatch-queue api started", zap.Int("port", cfg.APIPort))
		if err := app.Listen(fmt.Sprintf(":%d", cfg.APIPort)); err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutting down")

		engine.Stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return app.ShutdownWithContext(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("dispatch-queue api stopped with error", zap.Error(err))
		return
	}
	logger.Info("dispatch-queue api stopped")
}

// newRateLimiter shares the provider budget across replicas through Redis
// when it is configured.
func newRateLimiter(cfg *config.Config, rdb *goredis.Client) (ratelimit.RateLimiter, error) {
	if rdb == nil {
		return ratelimit.NewLocalLimiter(float64(cfg.RateLimitPerSec), 1), nil
	}
	return infraredis.NewRedisRateLimiter(rdb, cfg.RateLimitPerSec)
}

func newPublisher(cfg *config.Config) (events.Publisher, error) {
	if cfg.RabbitMQURL == "" {
		return events.NopPublisher{}, nil
	}
	client, err := events.NewRabbitMQ(cfg.RabbitMQURL)
	if err != nil {
		return nil, err
	}
	return events.NewRabbitMQPublisher(client), nil
}

func newConfigBackend(cfg *config.Config, db *gorm.DB, rdb *goredis.Client) (queueconfig.Persistence, error) {
	switch cfg.QueueConfigBackend {
	case config.ConfigBackendRedis:
		return infraredis.NewQueueConfigStore(rdb)
	case config.ConfigBackendFile:
		return queueconfig.NewFileBackend(cfg.QueueConfigPath)
	default:
		return repository.NewGormQueueConfigRepo(db), nil
	}
}
