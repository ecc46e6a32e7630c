package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/marketplace-kit/session-service/internal/api/http"
	"github.com/marketplace-kit/session-service/internal/api/http/handlers"
	"github.com/marketplace-kit/session-service/internal/auth"
	"github.com/marketplace-kit/session-service/internal/config"
	"github.com/marketplace-kit/session-service/internal/events"
	"github.com/marketplace-kit/session-service/internal/observability"
	"github.com/marketplace-kit/session-service/internal/persistence"
	"github.com/marketplace-kit/session-service/internal/repository"
	"github.com/marketplace-kit/session-service/internal/service"
	"github.com/marketplace-kit/session-service/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger, cfg.App.Name, cfg.App.Env)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

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

	redis, err := persistence.NewRedis(ctx, cfg.Redis, logger)
	if err != nil {
		logger.Fatal("failed to connect redis", zap.Error(err))
	}
	defer redis.Close()

	userRepo := repository.NewUserRepository(pg.PoolHandle())
	sessionRepo := repository.NewSessionRepository(redis.Client)
	otpRepo := repository.NewOTPRepository(redis.Client)

	dispatcher := events.NewInMemoryDispatcher()
	metrics := observability.NewMetrics()

	authService := service.NewAuthService(cfg.Auth, service.AuthDependencies{
		UserRepo:    userRepo,
		SessionRepo: sessionRepo,
		Dispatcher:  dispatcher,
	})
	verificationService := service.NewVerificationService(cfg.OTP, cfg.Delivery.VerifyLinkBase, service.VerificationDependencies{
		UserRepo:   userRepo,
		OTPRepo:    otpRepo,
		Tokens:     authService.TokenManager(),
		SMS:        service.NewLogSMSSender(logger, cfg.Delivery),
		Email:      service.NewLogEmailSender(logger, cfg.Delivery),
		Dispatcher: dispatcher,
	})

	auditService := service.NewAuditService(dispatcher, logger, metrics)
	auditService.RegisterHandlers()

	authMiddleware := auth.NewMiddleware(authService.TokenManager(), userRepo, sessionRepo, cfg.Auth.SessionTouchInterval)

	app := fiber.New()
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())

	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, pg, redis),
		Auth:           handlers.NewAuthHandler(authService),
		Sessions:       handlers.NewSessionsHandler(authService),
		Verification:   handlers.NewVerificationHandler(verificationService),
		AuthMiddleware: authMiddleware,
		RateLimiter:    httptransport.NewRateLimiter(cfg.RateLimit),
	})

	reaper := worker.NewSessionReaper(sessionRepo, dispatcher, logger, cfg.Reaper.Interval)
	go reaper.Run(ctx)

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
