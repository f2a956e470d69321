package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	httptransport "github.com/spec-kit/assistant-gate/internal/api/http"
	"github.com/spec-kit/assistant-gate/internal/api/http/handlers"
	"github.com/spec-kit/assistant-gate/internal/auth"
	"github.com/spec-kit/assistant-gate/internal/config"
	"github.com/spec-kit/assistant-gate/internal/events"
	"github.com/spec-kit/assistant-gate/internal/gate"
	"github.com/spec-kit/assistant-gate/internal/observability"
	"github.com/spec-kit/assistant-gate/internal/persistence"
	"github.com/spec-kit/assistant-gate/internal/ratelimit"
	"github.com/spec-kit/assistant-gate/internal/repository"
	"github.com/spec-kit/assistant-gate/internal/service"
	"github.com/spec-kit/assistant-gate/internal/worker"
)

const shutdownTimeout = 10 * time.Second

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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		return err
	}
	defer pg.Close()

	if cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(pg.PoolHandle(), logger); err != nil {
			return err
		}
	}

	redis := persistence.NewRedis(ctx, cfg.Redis, logger)
	defer redis.Close()

	policy, err := cfg.RateLimit.QuotaPolicy()
	if err != nil {
		return err
	}
	codec, err := auth.NewTokenCodec(cfg.Auth.TokenSecret)
	if err != nil {
		return err
	}

	metrics := observability.NewMetrics()
	limiter := ratelimit.NewLimiter(ratelimit.NewRedisStore(redis.Client), policy, ratelimit.Options{
		KeyPrefix:      cfg.RateLimit.KeyPrefix,
		OnStoreFailure: cfg.RateLimit.OnStoreFailure,
	}, logger.Named("ratelimit"))

	var (
		revocationChecker auth.RevocationChecker
		revoker           service.TokenRevoker
	)
	if cfg.Auth.RevocationEnabled {
		revocations := auth.NewRedisRevocations(redis.Client)
		revocationChecker, revoker = revocations, revocations
	}

	sources := []auth.Source{
		auth.CookieTokenSource(cfg.Auth.SessionCookie, codec, revocationChecker),
		auth.BearerTokenSource(codec, revocationChecker),
	}
	pool := pg.PoolHandle()
	if pool != nil {
		sources = append(sources, auth.NewSessionSource(
			cfg.Auth.FrameworkSessionCookie,
			repository.NewSessionRepository(pool),
			cfg.Auth.SessionLookupTimeout,
		))
	} else {
		logger.Warn("framework session lookup disabled; no postgres configured")
	}
	readiness := map[string]handlers.Pinger{"redis": redis}
	if pool != nil {
		readiness["postgres"] = pg
	}
	resolver := auth.NewResolver(logger.Named("resolver"), sources...)
	g := gate.New(resolver, limiter, auth.NewCSRF(cfg.Auth.CSRFCookie, cfg.Auth.CSRFHeader), logger.Named("gate"))

	dispatcher := events.NewInMemoryDispatcher()
	worker.StartAuditWorker(service.NewAuditService(dispatcher, logger.Named("audit")))

	authService := service.NewAuthService(service.AuthDependencies{
		Users:      repository.NewUserRepository(pool),
		Codec:      codec,
		Throttle:   limiter,
		Revoker:    revoker,
		TokenTTL:   cfg.Auth.TokenTTL,
		BcryptCost: cfg.Auth.BcryptCost,
		Events:     dispatcher,
		Logger:     logger.Named("auth"),
	})

	routes := httptransport.RouteConfig{
		Auth: handlers.NewAuthHandler(authService, handlers.CookieConfig{
			SessionCookie: cfg.Auth.SessionCookie,
			CSRFCookie:    cfg.Auth.CSRFCookie,
			CSRFTTL:       cfg.Auth.CSRFTTL,
			Secure:        cfg.Auth.CookieSecure,
		}),
		Health:  handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, readiness),
		Metrics: handlers.NewMetricsHandler(metrics),
		Gate:    gate.NewMiddleware(g, metrics),
	}
	if cfg.App.UpstreamURL != "" {
		routes.Proxy, err = handlers.NewProxyHandler(cfg.App.UpstreamURL, logger.Named("proxy"))
		if err != nil {
			return err
		}
	} else {
		logger.Warn("UPSTREAM_URL not set; llm and conversation routes disabled")
	}

	app := fiber.New(fiber.Config{AppName: cfg.App.Name, DisableStartupMessage: true})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())
	httptransport.RegisterRoutes(app, routes)

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("listening", zap.String("addr", cfg.App.Addr()))
		return app.Listen(cfg.App.Addr())
	})
	group.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		return app.ShutdownWithTimeout(shutdownTimeout)
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
