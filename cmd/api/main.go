package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"boltcard-service/config"
	httpHandler "boltcard-service/internal/adapter/http/handler"
	"boltcard-service/internal/adapter/lnbits"
	"boltcard-service/internal/adapter/rates"
	pgStorage "boltcard-service/internal/adapter/storage/postgres"
	redisStorage "boltcard-service/internal/adapter/storage/redis"
	"boltcard-service/internal/core/ports"
	"boltcard-service/internal/service"
	"boltcard-service/pkg/logger"

	"github.com/shopspring/decimal"
)

func main() {
	// Load configuration
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(cfg.Log.Level, cfg.Log.Pretty)

	log.Info().
		Str("mode", cfg.Server.Mode).
		Int("port", cfg.Server.Port).
		Msg("Starting Boltcard service")

	ctx := context.Background()

	// Initialize PostgreSQL pool
	pool, err := pgStorage.NewPool(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()
	log.Info().Msg("PostgreSQL connected")

	// Initialize Redis client
	rdb, err := redisStorage.NewClient(ctx, cfg.Redis, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()
	log.Info().Msg("Redis connected")

	// Initialize repositories
	cardRepo := pgStorage.NewCardRepo(pool)
	txRepo := pgStorage.NewTransactionRepo(pool)
	keyRepo := pgStorage.NewIssuerKeyRepo(pool)
	regRepo := pgStorage.NewRegistrationRepo(pool)
	topupRepo := pgStorage.NewTopUpRepo(pool)
	transactor := pgStorage.NewTransactor(pool)

	// Initialize Redis stores
	topupCache := redisStorage.NewTopUpCache(rdb)

	// Initialize core services
	encSvc, err := service.NewAESEncryptionService(cfg.AES.Key)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize encryption service")
	}

	// Wallet backend and rate source
	wallet := lnbits.NewClient(cfg.Wallet.BaseURL, cfg.Wallet.Timeout, log)

	var rateProvider ports.RateProvider
	if cfg.Rates.URL != "" {
		rateProvider = rates.NewHTTPProvider(cfg.Rates.URL, cfg.Rates.Timeout, cfg.Rates.CacheTTL, log)
	} else {
		staticRate, err := decimal.NewFromString(cfg.Rates.StaticCentsPerSat)
		if err != nil {
			log.Fatal().Err(err).Msg("Invalid static rate")
		}
		rateProvider = rates.NewStaticProvider(staticRate)
	}

	// Initialize business services
	ledgerSvc := service.NewLedgerService(cardRepo, txRepo, keyRepo, encSvc, transactor, log)
	withdrawSvc := service.NewWithdrawService(ledgerSvc, wallet, rateProvider, encSvc, service.WithdrawConfig{
		DefaultDescription: cfg.Site.DefaultDescription,
		MinWithdrawSats:    cfg.Site.MinWithdrawSats,
	}, log)
	topUpSvc := service.NewTopUpService(ledgerSvc, topupRepo, topupCache, wallet, rateProvider, encSvc, log)
	regSvc := service.NewRegistrationService(regRepo, ledgerSvc, encSvc, service.RegistrationConfig{
		BaseURL: cfg.Site.BaseURL,
	}, log)

	// Initialize health checkers
	pgHealth := pgStorage.NewHealthCheck(pool)
	redisHealth := redisStorage.NewHealthCheck(rdb)

	// Setup Gin router with all routes
	router := httpHandler.SetupRouter(httpHandler.RouterDeps{
		LedgerSvc:       ledgerSvc,
		WithdrawSvc:     withdrawSvc,
		TopUpSvc:        topUpSvc,
		RegistrationSvc: regSvc,
		HealthCheckers:  []ports.HealthChecker{pgHealth, redisHealth},
		BaseURL:         cfg.Site.BaseURL,
		Logger:          log,
	})

	// HTTP Server with graceful shutdown
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}
