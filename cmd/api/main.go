package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/presence-service/internal/api/http"
	"github.com/spec-kit/presence-service/internal/api/http/handlers"
	"github.com/spec-kit/presence-service/internal/auth"
	"github.com/spec-kit/presence-service/internal/clock"
	"github.com/spec-kit/presence-service/internal/config"
	"github.com/spec-kit/presence-service/internal/domain"
	"github.com/spec-kit/presence-service/internal/events"
	"github.com/spec-kit/presence-service/internal/observability"
	"github.com/spec-kit/presence-service/internal/persistence"
	"github.com/spec-kit/presence-service/internal/realtime"
	"github.com/spec-kit/presence-service/internal/repository"
	"github.com/spec-kit/presence-service/internal/service"
	"github.com/spec-kit/presence-service/internal/worker"
)

type stores struct {
	sessions repository.SessionRepository
	users    repository.UserRepository
	statuses repository.StatusRepository
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger, cfg.App)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, cfg.App.Name, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	if pg.Enabled() && cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	redis := persistence.NewRedis(ctx, cfg.Redis, cfg.App.Name, logger)
	defer redis.Close()

	repos := newStores(pg)
	metrics := observability.NewMetrics()
	clk := clock.Real()
	dispatcher := events.NewInMemoryDispatcher(logger)

	catalog := service.NewStatusCatalog(repos.statuses, logger)
	var seed []domain.StatusDefinition
	if cfg.Presence.SeedStatuses {
		seed = domain.DefaultStatuses()
	}
	if err := catalog.EnsureSeeded(ctx, seed); err != nil {
		logger.Fatal("failed to load status catalog", zap.Error(err))
	}
	if err := catalog.Require(ctx, cfg.Presence.DefaultStatusID); err != nil {
		logger.Fatal("default status unavailable", zap.Int("status_id", cfg.Presence.DefaultStatusID), zap.Error(err))
	}

	presenceService := service.NewPresenceService(service.PresenceDependencies{
		SessionRepo:     repos.sessions,
		Catalog:         catalog,
		Dispatcher:      dispatcher,
		Clock:           clk,
		Logger:          logger,
		DefaultStatusID: cfg.Presence.DefaultStatusID,
	})
	rosterService := service.NewRosterService(service.RosterDependencies{
		SessionRepo: repos.sessions,
		UserRepo:    repos.users,
		Catalog:     catalog,
		Clock:       clk,
		Logger:      logger,
	})
	hub := realtime.NewHub(realtime.HubConfig{
		PingInterval:     cfg.Presence.ObserverPingInterval(),
		HeartbeatTimeout: cfg.Presence.HeartbeatTimeout(),
	}, clk, logger, metrics)

	var relay *events.RedisRelay
	var forwarder service.EventForwarder
	if redis.Enabled() {
		relay = events.NewRedisRelay(redis.Client, cfg.Redis.Channel, uuid.NewString(), logger)
		forwarder = relay
	}
	broadcastService := service.NewBroadcastService(service.BroadcastDependencies{
		Dispatcher: dispatcher,
		Roster:     rosterService,
		Hub:        hub,
		Relay:      forwarder,
		Metrics:    metrics,
		Logger:     logger,
	})

	workers := worker.NewGroup(logger)
	workers.StartBroadcastWorker(ctx, broadcastService)
	workers.StartReaper(ctx, hub, cfg.Presence.ObserverPingInterval())
	workers.StartRelay(ctx, relay, broadcastService)

	authService := service.NewAuthService(*cfg, service.AuthDependencies{
		UserRepo: repos.users,
		Logger:   logger,
	})
	authMiddleware := auth.NewAuthMiddleware(authService.TokenManager(), repos.users)

	app := fiber.New(fiber.Config{
		AppName:      cfg.App.Name,
		ErrorHandler: httptransport.ErrorHandler,
	})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())

	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, pg, redis, hub, metrics),
		Auth:           handlers.NewAuthHandler(authService),
		Presence:       handlers.NewPresenceHandler(presenceService, rosterService, catalog),
		Hub:            handlers.NewHubHandler(hub, clk, logger, cfg.Presence.HeartbeatTimeout()),
		AuthMiddleware: authMiddleware,
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	cancel()
	hub.Close()
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	workers.Wait()
}

func newStores(pg *persistence.Postgres) stores {
	if !pg.Enabled() {
		return stores{
			sessions: repository.NewMemorySessionRepository(),
			users:    repository.NewMemoryUserRepository(),
			statuses: repository.NewMemoryStatusRepository(),
		}
	}
	pool := pg.PoolHandle()
	return stores{
		sessions: repository.NewSessionRepository(pool),
		users:    repository.NewUserRepository(pool),
		statuses: repository.NewStatusRepository(pool),
	}
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
