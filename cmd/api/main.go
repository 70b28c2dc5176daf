package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/kursadbilgin/calendar-push/internal/config"
	"github.com/kursadbilgin/calendar-push/internal/handler"
	"github.com/kursadbilgin/calendar-push/internal/infra/postgresql"
	"github.com/kursadbilgin/calendar-push/internal/infra/postgresql/migrations"
	infraredis "github.com/kursadbilgin/calendar-push/internal/infra/redis"
	"github.com/kursadbilgin/calendar-push/internal/observability"
	"github.com/kursadbilgin/calendar-push/internal/provider"
	"github.com/kursadbilgin/calendar-push/internal/queue"
	"github.com/kursadbilgin/calendar-push/internal/repository"
	"github.com/kursadbilgin/calendar-push/internal/service"
	"github.com/kursadbilgin/calendar-push/internal/transport"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	shutdownTimeout  = 10 * time.Second
	consumerPrefetch = 16
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config", zap.Error(err))
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatal("failed to initialize logger", zap.Error(err))
	}
	defer logger.Sync() //nolint:errcheck

	if err := run(cfg, logger); err != nil {
		logger.Fatal("calendar-push api stopped with error", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := postgresql.NewPostgres(cfg.DatabaseDSN, cfg.DatabaseMaxConns)
	if err != nil {
		return fmt.Errorf("postgres initialization failed: %w", err)
	}

	if err := migrations.Migrate(db); err != nil {
		return fmt.Errorf("database migrations failed: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("postgres underlying db init failed: %w", err)
	}
	defer sqlDB.Close()

	rdb, err := infraredis.NewRedis(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("redis initialization failed: %w", err)
	}
	defer rdb.Close()

	metrics := observability.NewMetrics()

	subscriptions := repository.NewGormSubscriptionRepo(db)

	store, err := infraredis.NewRedisBatchStore(rdb, cfg.BatchKeyPrefix)
	if err != nil {
		return err
	}

	limiter, err := infraredis.NewDeliveryLimiter(rdb, cfg.PushRateLimit)
	if err != nil {
		return err
	}

	sender, err := provider.NewWebPushProvider(subscriptions, provider.WebPushOptions{
		Timeout:     cfg.PushTimeout,
		Concurrency: cfg.PushConcurrency,
		Limiter:     limiter,
		Logger:      logger,
	})
	if err != nil {
		return err
	}
	sender.SetMetrics(metrics)

	coordinator, err := service.NewBatchCoordinator(store, sender, logger)
	if err != nil {
		return err
	}
	coordinator.SetMetrics(metrics)

	scanner, err := service.NewDrainScanner(coordinator, cfg.DrainScanInterval, logger)
	if err != nil {
		return err
	}

	subscriptionService, err := service.NewSubscriptionService(subscriptions, logger)
	if err != nil {
		return err
	}

	app := fiber.New(fiber.Config{
		AppName:               "calendar-push",
		DisableStartupMessage: true,
		ErrorHandler:          transport.ErrorHandler(logger),
	})
	app.Use(observability.RequestIDMiddleware())
	app.Use(metrics.HTTPMiddleware())

	handler.RegisterHealthRoutes(app, handler.PostgresCheck(sqlDB), handler.RedisCheck(rdb))
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	app.Use("/v1", handler.AdminAuth(cfg.AdminToken))
	if err := handler.RegisterBatchRoutes(app, coordinator); err != nil {
		return err
	}
	if err := handler.RegisterSubscriptionRoutes(app, subscriptionService); err != nil {
		return err
	}

	var intake *service.IntakeWorker
	if cfg.IntakeEnabled() {
		mq, err := queue.NewRabbitMQ(cfg.RabbitMQURL)
		if err != nil {
			return fmt.Errorf("rabbitmq initialization failed: %w", err)
		}
		consumer := queue.NewRabbitMQConsumer(mq, consumerPrefetch, logger)
		defer consumer.Close()

		intake, err = service.NewIntakeWorker(consumer, coordinator, cfg.IntakeConcurrency, logger)
		if err != nil {
			return err
		}
	} else {
		logger.Info("RABBITMQ_URL not set, calendar event intake is HTTP only")
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return scanner.Start(gctx)
	})

	if intake != nil {
		g.Go(func() error {
			return intake.Start(gctx)
		})
	}

	g.Go(func() error {
		addr := fmt.Sprintf(":%d", cfg.APIPort)
		logger.Info("calendar-push api started", zap.String("addr", addr))
		return app.Listen(addr)
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down calendar-push api")
		return app.ShutdownWithTimeout(shutdownTimeout)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
