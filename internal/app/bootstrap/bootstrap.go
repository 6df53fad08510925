package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	orderfulfillment "ordercore/contexts/commerce-core/order-fulfillment-service"
	notifyadapter "ordercore/contexts/commerce-core/order-fulfillment-service/adapters/notify"
	postgresadapter "ordercore/contexts/commerce-core/order-fulfillment-service/adapters/postgres"
	prometheusadapter "ordercore/contexts/commerce-core/order-fulfillment-service/adapters/prometheus"
	rabbitmqadapter "ordercore/contexts/commerce-core/order-fulfillment-service/adapters/rabbitmq"
	redisadapter "ordercore/contexts/commerce-core/order-fulfillment-service/adapters/redis"
	"ordercore/contexts/commerce-core/order-fulfillment-service/domain/services"
	"ordercore/internal/platform/cache"
	"ordercore/internal/platform/config"
	"ordercore/internal/platform/db"
	"ordercore/internal/platform/httpserver"
	"ordercore/internal/platform/logging"
	"ordercore/internal/platform/messaging"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

// Package bootstrap is the composition root.
// Keep construction/wiring here so module code stays framework-agnostic.

const (
	shutdownTimeout = 10 * time.Second
	markerTTL       = 7 * 24 * time.Hour
)

type APIApp struct {
	server   *httpserver.Server
	postgres *db.Postgres
	rabbit   *messaging.RabbitMQ
	log      *logging.Logger
	logger   *slog.Logger
}

type WorkerApp struct {
	module   orderfulfillment.Module
	ops      *httpserver.Server
	postgres *db.Postgres
	redis    *redis.Client
	rabbit   *messaging.RabbitMQ
	kafka    *messaging.Kafka
	cfg      config.Config
	log      *logging.Logger
	logger   *slog.Logger
}

func BuildAPI(ctx context.Context) (_ *APIApp, err error) {
	cfg, log, logger, err := loadProcess("api")
	if err != nil {
		return nil, err
	}
	app := &APIApp{log: log, logger: logger}
	defer func() {
		if err != nil {
			_ = app.Close()
		}
	}()

	app.postgres, err = db.Connect(cfg.PostgresDSN)
	if err != nil {
		return nil, err
	}
	app.rabbit, err = messaging.DialRabbitMQ(ctx, cfg.RabbitMQURL, logger)
	if err != nil {
		return nil, err
	}
	channel, err := app.rabbit.Channel()
	if err != nil {
		return nil, err
	}
	if err := rabbitmqadapter.DeclareTopology(channel); err != nil {
		return nil, err
	}
	metrics, err := prometheusadapter.NewMetrics(prometheus.DefaultRegisterer)
	if err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	repo := postgresadapter.NewRepository(app.postgres.DB, logger)
	module, err := orderfulfillment.NewModule(orderfulfillment.Dependencies{
		Ledger:            repo,
		Orders:            repo,
		Outbox:            repo,
		Transactions:      repo,
		Dedup:             repo,
		Scheduler:         rabbitmqadapter.NewScheduler(channel, logger),
		Clock:             postgresadapter.SystemClock{},
		IDGenerator:       postgresadapter.UUIDGenerator{},
		Metrics:           metrics,
		OrderExpiry:       cfg.OrderExpiry,
		LowStockThreshold: cfg.LowStockThreshold,
		Logger:            logger,
	})
	if err != nil {
		return nil, err
	}

	app.server = httpserver.New(module, logger, normalizeAddr(cfg.HTTPPort),
		httpserver.WithHealthCheck("postgres", app.postgres.Ping),
		httpserver.WithHealthCheck("rabbitmq", rabbitCheck(app.rabbit)),
	)
	return app, nil
}

func BuildWorker(ctx context.Context) (_ *WorkerApp, err error) {
	cfg, log, logger, err := loadProcess("worker")
	if err != nil {
		return nil, err
	}
	app := &WorkerApp{cfg: cfg, log: log, logger: logger}
	defer func() {
		if err != nil {
			_ = app.Close()
		}
	}()

	app.postgres, err = db.Connect(cfg.PostgresDSN)
	if err != nil {
		return nil, err
	}
	app.redis, err = cache.Connect(ctx, cache.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, logger)
	if err != nil {
		return nil, err
	}
	app.rabbit, err = messaging.DialRabbitMQ(ctx, cfg.RabbitMQURL, logger)
	if err != nil {
		return nil, err
	}
	consumeChannel, err := app.rabbit.Channel()
	if err != nil {
		return nil, err
	}
	if err := rabbitmqadapter.DeclareTopology(consumeChannel); err != nil {
		return nil, err
	}
	app.kafka, err = messaging.NewKafka(cfg.KafkaBrokers, logger)
	if err != nil {
		return nil, err
	}
	metrics, err := prometheusadapter.NewMetrics(prometheus.DefaultRegisterer)
	if err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	repo := postgresadapter.NewRepository(app.postgres.DB, logger)
	app.module, err = orderfulfillment.NewModule(orderfulfillment.Dependencies{
		Ledger:           repo,
		Orders:           repo,
		Outbox:           repo,
		Transactions:     repo,
		Dedup:            repo,
		Cache:            redisadapter.NewCacheInvalidator(app.redis, "", logger),
		Notifier:         notifyadapter.NewKafkaNotifier(app.kafka, cfg.KafkaNotificationTopic, logger),
		Statistics:       redisadapter.NewStatisticsRecorder(app.redis, "", markerTTL),
		Publisher:        app.kafka,
		ExpirationSource: rabbitmqadapter.NewConsumer(consumeChannel, logger),
		SweepLocker:      redisadapter.NewSweepLocker(app.redis),
		Clock:            postgresadapter.SystemClock{},
		IDGenerator:      postgresadapter.UUIDGenerator{},
		Metrics:          metrics,

		OrderExpiry:       cfg.OrderExpiry,
		EventsTopic:       cfg.KafkaEventsTopic,
		SourceService:     cfg.ServiceName,
		LowStockThreshold: cfg.LowStockThreshold,
		MarkerTTL:         markerTTL,

		Retry: services.RetryPolicy{
			Base:       cfg.OutboxRetryBase,
			Max:        cfg.OutboxRetryMax,
			MaxRetries: cfg.OutboxMaxRetries,
		},
		HandlerTimeout:  cfg.OutboxHandlerTimeout,
		PollInterval:    cfg.OutboxPollInterval,
		PendingBatch:    cfg.OutboxPendingBatch,
		RetryBatch:      cfg.OutboxRetryBatch,
		Concurrency:     cfg.OutboxConcurrency,
		StuckAfter:      cfg.OutboxStuckAfter,
		Retention:       cfg.OutboxRetention,
		CleanupInterval: cfg.OutboxCleanupInterval,

		SweepInterval: cfg.ExpirationSweepInterval,

		Logger: logger,
	})
	if err != nil {
		return nil, err
	}

	app.ops = httpserver.NewOps(logger, normalizeAddr(cfg.MetricsPort),
		httpserver.WithHealthCheck("postgres", app.postgres.Ping),
		httpserver.WithHealthCheck("redis", func(ctx context.Context) error { return app.redis.Ping(ctx).Err() }),
		httpserver.WithHealthCheck("rabbitmq", rabbitCheck(app.rabbit)),
	)
	return app, nil
}

// Run serves until ctx is done and then drains in-flight requests.
func (a *APIApp) Run(ctx context.Context) error {
	a.logger.Info("api app started",
		"event", "bootstrap_api_started",
		"module", "internal/app/bootstrap",
		"layer", "platform",
	)
	return serveUntilDone(ctx, a.server)
}

func (a *APIApp) Close() error {
	var errs []error
	if a.rabbit != nil {
		errs = append(errs, a.rabbit.Close())
	}
	if a.postgres != nil {
		errs = append(errs, a.postgres.Close())
	}
	if a.log != nil {
		_ = a.log.Sync()
	}
	return errors.Join(errs...)
}

// Run supervises the enabled workers. The first worker to fail cancels the
// rest; a clean shutdown returns nil.
func (w *WorkerApp) Run(ctx context.Context) error {
	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error { return serveUntilDone(ctx, w.ops) })
	if w.cfg.EnableOutboxProcessor {
		group.Go(func() error { return w.module.Processor.Run(ctx) })
	}
	if w.cfg.EnableExpirationConsumer {
		group.Go(func() error { return w.module.Consumer.Run(ctx) })
	}
	if w.cfg.EnableExpirationSweep {
		group.Go(func() error { return w.module.Sweeper.Run(ctx) })
	}

	w.logger.Info("worker app started",
		"event", "bootstrap_worker_started",
		"module", "internal/app/bootstrap",
		"layer", "platform",
		"outbox_processor", w.cfg.EnableOutboxProcessor,
		"expiration_consumer", w.cfg.EnableExpirationConsumer,
		"expiration_sweep", w.cfg.EnableExpirationSweep,
		"event_types", len(w.module.Registry.EventTypes()),
	)
	return group.Wait()
}

func (w *WorkerApp) Close() error {
	var errs []error
	if w.kafka != nil {
		errs = append(errs, w.kafka.Close())
	}
	if w.rabbit != nil {
		errs = append(errs, w.rabbit.Close())
	}
	if w.redis != nil {
		errs = append(errs, w.redis.Close())
	}
	if w.postgres != nil {
		errs = append(errs, w.postgres.Close())
	}
	if w.log != nil {
		_ = w.log.Sync()
	}
	return errors.Join(errs...)
}

// Migrate applies or rolls back the embedded schema.
func Migrate(direction db.MigrateDirection) error {
	cfg, log, logger, err := loadProcess("migrate")
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	pg, err := db.Connect(cfg.PostgresDSN)
	if err != nil {
		return err
	}
	defer func() { _ = pg.Close() }()

	if err := pg.Migrate(direction); err != nil {
		return err
	}
	logger.Info("migrations applied",
		"event", "bootstrap_migrations_applied",
		"module", "internal/app/bootstrap",
		"layer", "platform",
		"direction", string(direction),
	)
	return nil
}

func loadProcess(process string) (config.Config, *logging.Logger, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, nil, err
	}
	if strings.TrimSpace(cfg.PostgresDSN) == "" {
		return config.Config{}, nil, nil, errors.New("POSTGRES_DSN is required")
	}
	log, err := logging.New(cfg.LogLevel)
	if err != nil {
		return config.Config{}, nil, nil, err
	}
	slog.SetDefault(log.Logger)
	logger := log.With("service", cfg.ServiceName, "process", process)
	return cfg, log, logger, nil
}

func serveUntilDone(ctx context.Context, server *httpserver.Server) error {
	errs := make(chan error, 1)
	go func() { errs <- server.Start() }()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errs
}

func rabbitCheck(rabbit *messaging.RabbitMQ) httpserver.HealthCheck {
	return func(context.Context) error {
		if !rabbit.Healthy() {
			return errors.New("rabbitmq connection closed")
		}
		return nil
	}
}

func normalizeAddr(port string) string {
	value := strings.TrimSpace(port)
	if value == "" {
		return ":8080"
	}
	if strings.HasPrefix(value, ":") {
		return value
	}
	return ":" + value
}
