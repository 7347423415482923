package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/qrdine/qrdine/internal/app"
	"github.com/qrdine/qrdine/internal/audit"
	"github.com/qrdine/qrdine/internal/auth"
	"github.com/qrdine/qrdine/internal/authz"
	"github.com/qrdine/qrdine/internal/observability"
	"github.com/qrdine/qrdine/internal/platform/cache"
	"github.com/qrdine/qrdine/internal/platform/db"
	"github.com/qrdine/qrdine/internal/ratelimit"
	"github.com/qrdine/qrdine/internal/rbac"
	"github.com/qrdine/qrdine/internal/session"
	"github.com/qrdine/qrdine/internal/token"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()

	auditStore := audit.NewPGStore(pool)
	recorder := audit.NewRecorder(auditStore, logger, cfg.AuditBuffer)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := recorder.Close(closeCtx); err != nil {
			logger.Warn("audit recorder close", slog.Any("error", err))
		}
	}()
	auditService := audit.NewService(auditStore)
	auditHandler := audit.NewHandler(logger, auditService)

	permCache := rbac.NewCache(cfg.PermCacheSize, cfg.PermCacheTTL, redisClient, logger)
	go permCache.Listen(ctx)

	rbacRepo := rbac.NewRepository(pool)
	rbacService := rbac.NewService(rbacRepo, permCache, logger)
	rbacHandler := rbac.NewHandler(logger, rbacService)

	sessionStore := session.NewPGStore(pool)
	sessionManager := session.NewManager(sessionStore, cfg.SessionTTL)
	tokenService := token.NewService(cfg.TokenSecret, cfg.TokenIssuer, cfg.TokenTTL)

	var upgrader *token.Upgrader
	if cfg.LegacyEnabled() {
		legacyVerifier := token.NewLegacyVerifier(cfg.LegacyTokenSecret)
		upgrader = token.NewUpgrader(legacyVerifier, tokenService, sessionManager, rbacService, logger)
	}

	limiter := ratelimit.NewRedisLimiter(redisClient)

	guard := authz.NewGuard(tokenService, upgrader, sessionManager, rbacService, limiter, recorder, metrics, logger).
		WithSecureCookies(cfg.IsProduction())

	authRepo := auth.NewRepository(pool)
	authService := auth.NewService(authRepo, sessionManager, tokenService, rbacService)
	authHandler := auth.NewHandler(logger, authService, limiter, recorder).
		WithSecureCookies(cfg.IsProduction())

	sessionHandler := session.NewHandler(logger, sessionManager, recorder)

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		Guard:          guard,
		AuthHandler:    authHandler,
		RBACHandler:    rbacHandler,
		SessionHandler: sessionHandler,
		AuditHandler:   auditHandler,
		Metrics:        metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("listening", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("serve", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", slog.Any("error", err))
	}
}
