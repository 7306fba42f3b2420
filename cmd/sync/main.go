package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/ticket-bridge/internal/api/http"
	"github.com/spec-kit/ticket-bridge/internal/api/http/handlers"
	"github.com/spec-kit/ticket-bridge/internal/client"
	"github.com/spec-kit/ticket-bridge/internal/config"
	"github.com/spec-kit/ticket-bridge/internal/events"
	"github.com/spec-kit/ticket-bridge/internal/gateway"
	"github.com/spec-kit/ticket-bridge/internal/observability"
	"github.com/spec-kit/ticket-bridge/internal/persistence"
	"github.com/spec-kit/ticket-bridge/internal/stepmap"
	"github.com/spec-kit/ticket-bridge/internal/store"
	"github.com/spec-kit/ticket-bridge/internal/syncer"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics := observability.NewMetrics()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	if cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	redis := persistence.NewRedis(cfg.Redis, logger)
	defer redis.Close()

	graphStore := store.NewPostgresStore(pg.PoolHandle())
	if err := graphStore.EnsureProcess(ctx, cfg.Sync.ProcessName); err != nil {
		logger.Fatal("failed to prepare workflow process", zap.Error(err))
	}

	mapping, err := stepmap.New(
		cfg.Provider.StatusNew,
		cfg.Provider.StatusInProgress,
		cfg.Provider.StatusCompleted,
	)
	if err != nil {
		logger.Fatal("invalid step mapping", zap.Error(err))
	}

	apiClient, err := client.New(cfg.Provider, logger)
	if err != nil {
		logger.Fatal("failed to init provider client", zap.Error(err))
	}

	bus := events.NewInMemoryDispatcher(logger)
	engine := syncer.NewEngine(graphStore, mapping, cfg.Sync.ProcessName, logger, metrics)
	engine.RegisterHandlers(bus)

	var dedupe gateway.DedupeStore
	if err := redis.Ping(ctx); err != nil {
		logger.Warn("redis unavailable, using in-process dedupe", zap.Error(err))
		dedupe = gateway.NewMemoryDedupeStore(cfg.Sync.DedupeTTL())
	} else {
		dedupe = gateway.NewRedisDedupeStore(redis.Client, cfg.Sync.DedupeTTL())
	}
	hooks := gateway.New(cfg.Provider.WebhookSecret, cfg.Provider.HookUAPrefix, bus, dedupe, logger, metrics)

	go func() {
		if locations, err := apiClient.ListLocations(ctx); err != nil {
			logger.Warn("provider reachability check failed", zap.Error(err))
		} else {
			logger.Info("provider reachable", zap.Int("locations", len(locations)))
		}
	}()

	poller := syncer.NewPoller(apiClient, engine, cfg.Sync.PullInterval(), cfg.Sync.FailureBackoff(), logger)
	go poller.Run(ctx)

	app := fiber.New(fiber.Config{BodyLimit: cfg.App.BodyLimit()})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())

	healthHandler := handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, pg, redis, metrics)
	metricsHandler := handlers.NewMetricsHandler(metrics)

	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Webhook: hooks,
		Health:  healthHandler,
		Metrics: metricsHandler,
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	cancel()
	_ = app.Shutdown()
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
