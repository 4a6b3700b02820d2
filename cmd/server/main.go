package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/fluxquant/fundarb/internal/cache"
	"github.com/fluxquant/fundarb/internal/config"
	"github.com/fluxquant/fundarb/internal/exchange"
	"github.com/fluxquant/fundarb/internal/handlers"
	"github.com/fluxquant/fundarb/internal/logging"
	"github.com/fluxquant/fundarb/internal/middleware"
	"github.com/fluxquant/fundarb/internal/models"
	"github.com/fluxquant/fundarb/internal/services"
)

// paperStartingMargin is the free margin each simulated venue starts with.
var paperStartingMargin = decimal.NewFromInt(100000)

func main() {
	// Load .env if present; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := logging.New(cfg.LogLevel, cfg.Environment)

	// Redis backs the opportunity read path. The engine runs without it.
	var opportunityCache *cache.RedisOpportunityCache
	redisClient := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		logger.WithError(err).Warn("Redis unavailable, opportunity cache disabled")
		redisClient = nil
	} else {
		ttl := 2 * cfg.Engine.ScanIntervalDuration()
		opportunityCache = cache.NewRedisOpportunityCache(redisClient, ttl, logger)
	}
	cancelPing()

	registry := buildRegistry(cfg, logger)
	notifier := buildNotifier(cfg, logger)

	ledger := services.NewPositionLedger(logger)
	monitor := services.NewPerformanceMonitor(logger)
	scheduler := services.NewExecutionScheduler(registry, ledger, notifier, monitor, services.SchedulerConfig{
		AdmissionWindow: cfg.Engine.AdmissionWindowDuration(),
		WatchInterval:   cfg.Engine.WatchIntervalDuration(),
		TargetLeverage:  decimal.NewFromInt(int64(cfg.Engine.TargetLeverage)),
	}, logger)
	classifier := services.NewClassifier(models.DefaultRuleSet(), services.NewProfitEstimator(), services.ClassifierConfig{}, logger)

	limits := models.DefaultRiskLimits()
	limits.MaxPositionSize = decimal.NewFromFloat(cfg.Risk.MaxPositionSize)
	limits.MaxOpenPositions = cfg.Risk.MaxOpenPositions
	limits.MaxDailyLoss = decimal.NewFromFloat(cfg.Risk.MaxDailyLoss)
	limits.MaxPortfolioRisk = decimal.NewFromFloat(cfg.Risk.MaxPortfolioRisk)

	var store services.OpportunityStore
	if opportunityCache != nil {
		store = opportunityCache
	}
	engine := services.NewOpportunityEngine(
		registry, classifier, services.NewRanker(), services.NewRiskGate(logger),
		scheduler, ledger, store, monitor, limits,
		services.EngineConfig{
			ScanInterval:   cfg.Engine.ScanIntervalDuration(),
			Symbols:        cfg.Engine.Symbols,
			BroadcastLimit: cfg.Engine.BroadcastLimit,
			ExecutionLimit: cfg.Engine.ExecutionLimit,
			MarginFraction: decimal.NewFromFloat(cfg.Engine.MarginFraction),
		},
		logger,
	)
	if err := engine.Start(); err != nil {
		logger.WithError(err).Fatal("Failed to start opportunity engine")
	}

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()

	var reader handlers.OpportunityReader
	if opportunityCache != nil {
		reader = opportunityCache
	}
	adminAuth := middleware.NewAdminMiddleware(cfg.Server.AdminAPIKey)
	if !adminAuth.Enabled() {
		logger.Warn("No admin API key configured, control endpoints are open")
	}
	handlers.NewEngineHandler(engine, reader).RegisterRoutes(router, adminAuth.RequireAdminAuth())

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.WithField("port", cfg.Server.Port).Info("Server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Failed to start server")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}

	// Engine stop waits for in-flight execution tasks to unwind.
	engine.Stop()
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close Redis client")
		}
	}
	logger.Info("Server exited")
}

// buildRegistry wires one connector per configured venue: sidecar-backed when
// the bridge is enabled, in-memory paper venues otherwise.
func buildRegistry(cfg *config.Config, logger *logrus.Logger) *exchange.Registry {
	ports := make([]exchange.Port, 0, len(cfg.Engine.Exchanges))
	for _, name := range cfg.Engine.Exchanges {
		if cfg.Bridge.Enabled {
			ports = append(ports, exchange.NewBridgeExchange(name, exchange.BridgeConfig{
				ServiceURL: cfg.Bridge.ServiceURL,
				Timeout:    time.Duration(cfg.Bridge.Timeout) * time.Second,
			}, logger))
		} else {
			ports = append(ports, exchange.NewPaperExchange(name, paperStartingMargin))
		}
	}
	fetchTimeout := cfg.Engine.ScanIntervalDuration() / 2
	return exchange.NewRegistry(ports, exchange.BreakerConfig{}, fetchTimeout, logger)
}

// buildNotifier prefers Telegram when a token is configured and falls back to
// structured logs.
func buildNotifier(cfg *config.Config, logger *logrus.Logger) services.Notifier {
	if cfg.Telegram.BotToken != "" && cfg.Telegram.ChatID != "" {
		return services.NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID, logger)
	}
	return services.NewLogNotifier(logger)
}
