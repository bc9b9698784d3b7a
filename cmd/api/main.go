package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"custody-ledger/config"
	httpHandler "custody-ledger/internal/adapter/http/handler"
	"custody-ledger/internal/adapter/http/middleware"
	"custody-ledger/internal/adapter/metrics"
	"custody-ledger/internal/adapter/storage/memory"
	pgStorage "custody-ledger/internal/adapter/storage/postgres"
	redisStorage "custody-ledger/internal/adapter/storage/redis"
	"custody-ledger/internal/core/domain"
	"custody-ledger/internal/core/ports"
	"custody-ledger/internal/service"
	"custody-ledger/pkg/clock"
	"custody-ledger/pkg/logger"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	// Load configuration
	cfg, err := config.Load(os.Getenv("CL_CONFIG_FILE"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(cfg.Log.Level, cfg.Log.Pretty)

	log.Info().
		Str("mode", cfg.Server.Mode).
		Str("storage", cfg.Storage.Driver).
		Int("port", cfg.Server.Port).
		Msg("Starting custody ledger")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clk := clock.RealClock{}
	var checkers []ports.HealthChecker

	// Storage
	var store ports.Store
	switch cfg.Storage.Driver {
	case "memory":
		store = memory.NewStore()
		checkers = append(checkers, memory.HealthCheck{})
		log.Warn().Msg("using in-memory storage; state is lost on restart")
	default:
		pool, err := pgStorage.NewPool(ctx, cfg.Database, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
		}
		defer pool.Close()
		store = pgStorage.NewStore(pool)
		checkers = append(checkers, pgStorage.NewHealthCheck(pool))
		log.Info().Msg("PostgreSQL connected")
	}

	// Redis: idempotency fast path and rate limiting
	var (
		cache   ports.IdempotencyCache
		limiter ports.RateLimiter
	)
	if cfg.Redis.Enabled {
		rdb, err := redisStorage.NewClient(ctx, cfg.Redis, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		defer rdb.Close()
		cache = redisStorage.NewIdempotencyCache(rdb)
		limiter = redisStorage.NewRateLimitStore(rdb, clk)
		checkers = append(checkers, redisStorage.NewHealthCheck(rdb))
		log.Info().Msg("Redis connected")
	}

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// Role tiers
	hierarchy, err := domain.NewRoleHierarchy(cfg.Authz.TierRoles...)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid authz.tier_roles")
	}
	holdStatuses := make([]domain.WithdrawalStatus, len(cfg.Withdrawals.HoldStatuses))
	for i, s := range cfg.Withdrawals.HoldStatuses {
		holdStatuses[i] = domain.WithdrawalStatus(s)
	}
	secrets := make(map[string]string, len(cfg.Providers))
	for name, p := range cfg.Providers {
		secrets[name] = p.Secret
	}
	if len(secrets) == 0 {
		log.Warn().Msg("no providers configured; every webhook will be rejected")
	}

	// Core services
	sigSvc := service.NewHMACSignatureService()
	tokenSvc := service.NewJWTTokenService(cfg.JWT.Secret, cfg.JWT.Expiry, cfg.JWT.Issuer)

	// Business services
	accountSvc := service.NewAccountService(store, clk, logger.Component(log, "accounts"))
	ledgerSvc := service.NewLedgerService(store, m, clk, logger.Component(log, "ledger"))
	orderSvc := service.NewOrderService(store, clk, logger.Component(log, "orders"))
	intentSvc := service.NewPaymentIntentService(store, accountSvc, ledgerSvc, orderSvc, cache,
		service.IntentOptions{
			DefaultTTL: cfg.Intents.DefaultTTL,
			CacheTTL:   cfg.Intents.IdempotencyCacheTTL,
		}, m, clk, logger.Component(log, "intents"))
	withdrawalSvc := service.NewWithdrawalService(store, ledgerSvc, orderSvc, cache,
		service.WithdrawalPolicy{
			Hierarchy:        hierarchy,
			ApprovalTier:     cfg.Authz.ApprovalTier,
			EscalationAmount: cfg.Authz.EscalationAmount,
			HoldStatuses:     holdStatuses,
			CacheTTL:         cfg.Intents.IdempotencyCacheTTL,
		}, m, clk, logger.Component(log, "withdrawals"))
	reconcilerSvc := service.NewReconcilerService(store, orderSvc, intentSvc, withdrawalSvc, sigSvc, secrets, m, clk, logger.Component(log, "reconciler"))

	// Background expiry of overdue deposit intents
	sweeper := service.NewExpirySweeper(intentSvc, cfg.Intents.ExpirySweepInterval, cfg.Intents.ExpiryBatchSize, clk, logger.Component(log, "expiry_sweeper"))
	go sweeper.Run(ctx)

	// Setup Gin router with all routes
	router := httpHandler.SetupRouter(httpHandler.RouterDeps{
		LedgerSvc:     ledgerSvc,
		IntentSvc:     intentSvc,
		WithdrawalSvc: withdrawalSvc,
		ReconcilerSvc: reconcilerSvc,
		TokenSvc:      tokenSvc,
		RateLimiter:   limiter,
		RateLimitRules: map[string]middleware.RateLimitRule{
			"webhooks": {Limit: cfg.RateLimit.WebhookLimit, Window: cfg.RateLimit.WebhookWindow},
		},
		AdminRoles:      hierarchy.Roles(),
		DefaultCurrency: cfg.Ledger.DefaultCurrency,
		HealthCheckers:  checkers,
		Gatherer:        reg,
		Mode:            cfg.Server.Mode,
		Logger:          log,
	})

	// HTTP Server with graceful shutdown
	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}
