package handler

import (
	"boltcard-service/internal/adapter/http/middleware"
	"boltcard-service/internal/core/ports"
	"boltcard-service/pkg/metrics"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// RouterDeps holds all dependencies needed to set up routes.
type RouterDeps struct {
	LedgerSvc       ports.LedgerService
	WithdrawSvc     ports.WithdrawService
	TopUpSvc        ports.TopUpService
	RegistrationSvc ports.RegistrationService
	HealthCheckers  []ports.HealthChecker
	BaseURL         string // public base URL used in LNURL callbacks
	Logger          zerolog.Logger
}

// SetupRouter initialises the Gin engine with all routes and middleware.
func SetupRouter(deps RouterDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestID())
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(middleware.MaxBodySize(1 << 20)) // 1 MB request body limit

	// Health check (deep — verifies PostgreSQL + Redis)
	r.GET("/health", HealthCheck(deps.HealthCheckers...))

	// Prometheus metrics
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	// --- LNURL surface (hit by wallets; LUD wire forms, always HTTP 200) ---
	withdrawHandler := NewWithdrawHandler(deps.WithdrawSvc, deps.BaseURL)
	payHandler := NewPayHandler(deps.TopUpSvc, deps.BaseURL)

	ln := r.Group("/ln")
	{
		ln.GET("/withdraw/:idHash", withdrawHandler.Request)
		ln.GET("/withdraw/:idHash/callback", withdrawHandler.Callback)
		ln.GET("/pay/:idHash", payHandler.Request)
		ln.GET("/pay/:idHash/callback", payHandler.Callback)
	}

	// --- Management API ---
	v1 := r.Group("/api/v1")

	registrationHandler := NewRegistrationHandler(deps.RegistrationSvc)
	registrations := v1.Group("/registrations")
	{
		registrations.POST("", registrationHandler.Create)
		registrations.GET("/:id/keys", registrationHandler.Keys)
		registrations.DELETE("/:id", registrationHandler.Cancel)
	}

	cardHandler := NewCardHandler(deps.LedgerSvc, deps.TopUpSvc, deps.RegistrationSvc)
	cards := v1.Group("/cards")
	{
		cards.GET("/:id", cardHandler.Get)
		cards.GET("/:id/balance", cardHandler.Balance)
		cards.POST("/:id/activate", cardHandler.Activate)
		cards.POST("/:id/disable", cardHandler.Disable)
		cards.POST("/:id/enable", cardHandler.Enable)
		cards.POST("/:id/wipe", cardHandler.Wipe)
		cards.GET("/:id/transactions", cardHandler.Transactions)
		cards.POST("/:id/topups/check", cardHandler.CheckTopUps)
	}

	return r
}
