package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/leasepulse/renewal-webhooks/internal/config"
	"github.com/leasepulse/renewal-webhooks/internal/deliverer"
	"github.com/leasepulse/renewal-webhooks/internal/handler"
	"github.com/leasepulse/renewal-webhooks/internal/infra/postgresql"
	"github.com/leasepulse/renewal-webhooks/internal/infra/postgresql/migrations"
	infraredis "github.com/leasepulse/renewal-webhooks/internal/infra/redis"
	"github.com/leasepulse/renewal-webhooks/internal/observability"
	"github.com/leasepulse/renewal-webhooks/internal/repository"
	"github.com/leasepulse/renewal-webhooks/internal/service"
	"github.com/leasepulse/renewal-webhooks/internal/transport"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config: ", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatal("failed to initialize logger: ", err)
	}
	defer logger.Sync() //nolint:errcheck

	db, err := postgresql.NewPostgres(cfg.DatabaseDSN)
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

	rdb, err := infraredis.NewRedis(cfg.RedisURL)
	if err != nil {
		logger.Fatal("redis initialization failed", zap.Error(err))
	}
	defer rdb.Close()

	rateLimiter, err := infraredis.NewRedisRateLimiter(rdb, cfg.TenantRatePerSec)
	if err != nil {
		logger.Fatal("rate limiter initialization failed", zap.Error(err))
	}

	eventRepo := repository.NewGormEventRepo(db)
	deadLetterRepo := repository.NewGormDeadLetterRepo(db)
	endpointRepo := repository.NewGormEndpointConfigRepo(db)

	dispatch, err := service.NewDispatchService(
		eventRepo,
		deadLetterRepo,
		endpointRepo,
		deliverer.NewHTTPDeliverer(cfg.DeliveryTimeout()),
		rateLimiter,
		service.NewRetryPolicy(cfg.MaxAttempts),
		cfg.IdempotencyWindow(),
		logger,
	)
	if err != nil {
		logger.Fatal("dispatch service initialization failed", zap.Error(err))
	}

	metrics := observability.NewMetrics()
	dispatch.SetMetrics(metrics)

	sweeper, err := service.NewRetrySweeper(
		eventRepo,
		dispatch,
		cfg.SweepInterval(),
		cfg.SweepBatchLimit,
		logger,
	)
	if err != nil {
		logger.Fatal("retry sweeper initialization failed", zap.Error(err))
	}

	app := fiber.New(fiber.Config{
		ErrorHandler: transport.ErrorHandler(logger),
	})
	app.Use(metrics.HTTPMiddleware())
	handler.RegisterHealthRoutes(app, sqlDB, rdb)
	if err := handler.RegisterEventRoutes(app, dispatch); err != nil {
		logger.Fatal("route registration failed", zap.Error(err))
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", metrics.Handler())
	metricsServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.MetricsPort),
		Handler: metricsMux,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, groupCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sweeper.Start(groupCtx)
	})
	g.Go(func() error {
		logger.Info("renewal-webhooks api started", zap.Int("port", cfg.APIPort))
		return app.Listen(fmt.Sprintf(":%d", cfg.APIPort))
	})
	g.Go(func() error {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-groupCtx.Done()
		_ = metricsServer.Close()
		return app.Shutdown()
	})

	if err := g.Wait(); err != nil {
		logger.Error("service terminated with error", zap.Error(err))
	}

	// In-flight delivery loops run to completion before the process exits;
	// a loop killed mid-attempt would leave its row in PROCESSING, which
	// only the next startup's stale-row requeue could recover.
	dispatch.Wait()
	logger.Info("shutdown complete")
}
