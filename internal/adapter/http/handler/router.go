package handler

import (
	"custody-ledger/internal/adapter/http/middleware"
	"custody-ledger/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// RouterDeps holds all dependencies needed to set up routes.
type RouterDeps struct {
	LedgerSvc       ports.LedgerService
	IntentSvc       ports.PaymentIntentService
	WithdrawalSvc   ports.WithdrawalService
	ReconcilerSvc   ports.ReconcilerService
	TokenSvc        ports.TokenService
	RateLimiter     ports.RateLimiter // nil = rate limiting disabled
	RateLimitRules  map[string]middleware.RateLimitRule
	AdminRoles      []string
	DefaultCurrency string
	HealthCheckers  []ports.HealthChecker
	Gatherer        prometheus.Gatherer // nil = no /metrics
	Mode            string
	Logger          zerolog.Logger
}

// SetupRouter initialises the Gin engine with all routes and middleware.
func SetupRouter(deps RouterDeps) *gin.Engine {
	if deps.Mode != "" {
		gin.SetMode(deps.Mode)
	}
	r := gin.New()

	// Global middleware
	r.Use(middleware.RequestID())
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(middleware.MaxBodySize(1 << 20)) // 1 MB request body limit

	r.GET("/health", HealthCheck(deps.HealthCheckers...))
	if deps.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	rules := middleware.DefaultRateLimitRules()
	for group, rule := range deps.RateLimitRules {
		rules[group] = rule
	}

	// Helper: return rate limiter middleware if a limiter is available, else noop.
	rl := func(group string) gin.HandlerFunc {
		if deps.RateLimiter == nil {
			return func(c *gin.Context) { c.Next() }
		}
		rule, ok := rules[group]
		if !ok {
			return func(c *gin.Context) { c.Next() }
		}
		return middleware.RateLimiter(deps.RateLimiter, group, rule, deps.Logger)
	}

	v1 := r.Group("/api/v1")

	// --- Provider notifications (signed, no bearer token) ---
	webhookHandler := NewWebhookHandler(deps.ReconcilerSvc)
	v1.POST("/webhooks/:provider", rl("webhooks"), webhookHandler.Receive)

	// --- JWT-authenticated routes ---
	jwtAuth := middleware.JWTAuth(deps.TokenSvc, deps.Logger)
	depositHandler := NewDepositHandler(deps.IntentSvc, deps.DefaultCurrency)
	withdrawalHandler := NewWithdrawalHandler(deps.WithdrawalSvc, deps.DefaultCurrency)
	accountHandler := NewAccountHandler(deps.LedgerSvc)

	deposits := v1.Group("/deposits", jwtAuth, rl("deposits"))
	{
		deposits.POST("", depositHandler.Create)
		deposits.GET("/:id", depositHandler.Get)
		deposits.POST("/:id/handoff", depositHandler.HandOff)
	}

	withdrawals := v1.Group("/withdrawals", jwtAuth, rl("withdrawals"))
	{
		withdrawals.POST("", withdrawalHandler.Create)
		withdrawals.GET("/:id", withdrawalHandler.Get)
	}

	accounts := v1.Group("/accounts", jwtAuth, rl("accounts"))
	{
		accounts.GET("/:currency/balance", accountHandler.GetBalance)
		accounts.GET("/:currency/entries", accountHandler.ListEntries)
	}

	admin := v1.Group("/admin", jwtAuth, middleware.RequireAnyRole(deps.AdminRoles...), rl("admin"),
		middleware.AdminAudit(deps.Logger))
	{
		admin.POST("/withdrawals/:id/approve", withdrawalHandler.Approve)
		admin.POST("/withdrawals/:id/reject", withdrawalHandler.Reject)
		admin.POST("/withdrawals/:id/payout", withdrawalHandler.Payout)
	}

	return r
}
