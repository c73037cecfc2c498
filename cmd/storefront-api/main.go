package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/richxcame/storefront/internal/cachemanager"
	"github.com/richxcame/storefront/internal/exchangerates"
	"github.com/richxcame/storefront/pkg/common"
	"github.com/richxcame/storefront/pkg/config"
	"github.com/richxcame/storefront/pkg/health"
	"github.com/richxcame/storefront/pkg/logger"
	"github.com/richxcame/storefront/pkg/middleware"
	"github.com/richxcame/storefront/pkg/redis"
	"go.uber.org/zap"
)

const (
	serviceName = "storefront-api"

	sweepInterval   = 10 * time.Minute
	shutdownTimeout = 15 * time.Second
)

// Build-time variables (set via -ldflags).
var version = "dev"

func main() {
	cfg, err := config.Load(serviceName)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := logger.Init(cfg.Server.Environment); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	checks := make(map[string]func() error)

	var storage cachemanager.Storage
	if cfg.Redis.Enabled {
		redisClient, err := redis.NewRedisClient(&cfg.Redis)
		if err != nil {
			logger.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		defer redisClient.Close()
		storage = cachemanager.NewRedisStorage(redisClient)
		checks["redis"] = health.RedisChecker(redisClient)
		logger.Info("Connected to Redis", zap.String("addr", cfg.Redis.RedisAddr()))
	} else {
		storage = cachemanager.NewMemoryStorage(0)
		logger.Warn("Redis disabled, rate snapshots will not survive a restart")
	}

	snapshots := cachemanager.NewManager(storage, cfg.Cache.Namespace, cachemanager.WithLogger(logger.Get()))
	source := exchangerates.NewHTTPSource(cfg.ExchangeRates, exchangerates.WithSourceLogger(logger.Get()))
	rates := exchangerates.NewRateCache(source,
		exchangerates.WithFreshnessWindow(cfg.ExchangeRates.FreshnessWindow()),
		exchangerates.WithAdminKey(cfg.ExchangeRates.AdminKey),
		exchangerates.WithSnapshots(snapshots, cfg.Cache.SnapshotTTL()),
		exchangerates.WithLogger(logger.Get()),
	)
	defer rates.Close()

	if cfg.ExchangeRates.AdminKey == "" {
		logger.Warn("ADMIN_KEY is not set, manual rate overrides are disabled")
	}
	if rates.Restore(ctx) {
		logger.Info("Restored last live exchange rates from storage")
	}

	go sweep(ctx, snapshots, sweepInterval)

	router := setupRouter(cfg, rates, checks)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("Starting "+serviceName, zap.String("port", cfg.Server.Port), zap.String("version", version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}
	logger.Info("Server exited")
}

func setupRouter(cfg *config.Config, rates *exchangerates.RateCache, checks map[string]func() error) *gin.Engine {
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(middleware.CorrelationID())
	router.Use(middleware.RequestLogger("/healthz", "/health/ready", "/metrics"))
	router.Use(middleware.SecurityHeaders(cfg.Server.Environment))
	router.Use(middleware.Metrics(serviceName))
	router.Use(cors.New(corsConfig(cfg.Server.AllowedOrigins())))

	router.GET("/healthz", common.HealthCheck(serviceName, version))
	router.GET("/health/ready", common.HealthCheckWithDeps(serviceName, version, checks))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	exchangerates.NewHandler(rates).RegisterRoutes(api)

	return router
}

func corsConfig(origins []string) cors.Config {
	config := cors.DefaultConfig()
	if len(origins) == 0 || slices.Contains(origins, "*") {
		config.AllowAllOrigins = true
	} else {
		config.AllowOrigins = origins
	}
	config.AllowMethods = []string{http.MethodGet, http.MethodPost, http.MethodOptions}
	config.AllowHeaders = []string{"Origin", "Content-Type", middleware.CorrelationIDHeader}
	config.ExposeHeaders = []string{middleware.CorrelationIDHeader}
	return config
}

// sweep drops expired cache entries until ctx is done
func sweep(ctx context.Context, m *cachemanager.Manager, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.ClearExpired(ctx); n > 0 {
				logger.Debug("Swept expired cache entries", zap.Int("count", n))
			}
		}
	}
}
