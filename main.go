package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"tradingroad_backend/config"
	"tradingroad_backend/controllers"
	"tradingroad_backend/middleware"
	"tradingroad_backend/models"
	"tradingroad_backend/routes"
	"tradingroad_backend/scheduler"
	"tradingroad_backend/services/archive"
	"tradingroad_backend/services/marketdata"
	"tradingroad_backend/services/realtime"
	"tradingroad_backend/services/tracing"
)

const version = "1.0.0"

// app holds everything that must be released on shutdown
type app struct {
	log         *logrus.Logger
	db          *gorm.DB
	store       archive.Store
	redis       *marketdata.RedisPairCache
	broadcaster *realtime.Broadcaster
	jobs        *scheduler.Scheduler
	limiter     *middleware.RateLimiter
	cancel      context.CancelFunc
}

func main() {
	log := newLogger()
	log.Info("==============================================")
	log.Info("  TradingRoad Market Data API - Starting...")
	log.Info("==============================================")

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.WithError(err).Warn("Config load issue")
	}
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	}
	if cfg.IsProduction() {
		log.SetFormatter(&logrus.JSONFormatter{})
		gin.SetMode(gin.ReleaseMode)
	}

	if err := tracing.Init(tracing.Config{
		Enabled:        cfg.TracingEnabled,
		ServiceName:    "tradingroad-backend",
		ServiceVersion: version,
	}); err != nil {
		log.WithError(err).Warn("Tracing disabled")
	}

	appCtx, cancel := context.WithCancel(context.Background())
	a := &app{log: log, cancel: cancel}

	// Initialize database connection
	a.db, err = config.InitDB(cfg)
	if err != nil {
		log.WithError(err).Fatal("Database connection failed")
	}
	log.Info("Running database migrations...")
	if err := models.Migrate(a.db); err != nil {
		log.WithError(err).Fatal("Migration failed")
	}
	if err := models.SeedAdminUser(a.db, cfg.AdminUsername, cfg.AdminPasswordHash); err != nil {
		log.WithError(err).Warn("Could not seed admin user")
	} else if cfg.AdminPasswordHash == "" {
		log.Warn("ADMIN_PASSWORD_HASH not set, token endpoint has no configured admin")
	}

	accounts := models.NewExchangeAccountRepository(a.db)
	registry := marketdata.NewRegistry(log,
		marketdata.WithDefaultExchange(cfg.DefaultExchange),
		marketdata.WithHTTPClient(marketdata.NewHTTPClient()),
		marketdata.WithCredentials(loadCredentials(appCtx, cfg, accounts, log)),
	)

	serviceOpts := []marketdata.ServiceOption{marketdata.WithPairCache(a.pairCache(appCtx, cfg))}
	a.store = openArchive(appCtx, cfg, log)
	if a.store != nil {
		serviceOpts = append(serviceOpts, marketdata.WithArchive(a.store))
	}
	service := marketdata.NewService(registry, log, serviceOpts...)

	hub := realtime.NewRegistry(log)
	a.broadcaster = realtime.NewBroadcaster(hub, service, realtime.BroadcasterConfig{
		Interval:        cfg.BroadcastInterval,
		Timeframe:       cfg.BroadcastTimeframe,
		DefaultExchange: registry.DefaultID(),
	}, log)
	if cfg.BroadcastAutostart {
		if err := a.broadcaster.Start(appCtx); err != nil {
			log.WithError(err).Error("Could not start broadcaster")
		}
	}

	issuer := middleware.NewTokenIssuer(cfg.JWTSecret, cfg.TokenTTL)
	a.limiter = middleware.NewRateLimiter(5, 15*time.Minute, 30*time.Minute)
	a.limiter.StartCleanup(10 * time.Minute)

	// Create Gin router
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())
	router.Use(requestLogger(log))

	setupHealthEndpoints(router, a.db)
	routes.SetupRoutes(router, routes.Controllers{
		Market:          controllers.NewMarketController(service, a.store, log),
		Exchange:        controllers.NewExchangeController(service),
		Indicator:       controllers.NewIndicatorController(service, log),
		Realtime:        controllers.NewRealtimeController(appCtx, hub, realtime.NewHandler(hub, cfg.MaxWSClients, log), a.broadcaster, log),
		Auth:            controllers.NewAuthController(models.NewAdminUserRepository(a.db), issuer, a.limiter, log),
		ExchangeAccount: controllers.NewExchangeAccountController(accounts, registry, log),
		Issuer:          issuer,
		LoginLimiter:    a.limiter,
	})

	a.jobs = scheduler.NewScheduler(scheduler.Config{
		WarmExchanges: []string{registry.DefaultID()},
		Retention:     cfg.ArchiveRetention,
	}, service, a.store, a.broadcaster, log)
	if err := a.jobs.Start(); err != nil {
		log.WithError(err).Error("Scheduler failed to start")
	}

	server := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Port,
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MB
	}

	go func() {
		log.Infof("Server listening on 0.0.0.0:%s", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("Server error")
		}
	}()

	gracefulShutdown(server, a)
}

func newLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stdout)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return log
}

// loadCredentials merges configured credentials with active stored accounts, stored ones winning
func loadCredentials(ctx context.Context, cfg *config.Config, accounts *models.ExchangeAccountRepository, log logrus.FieldLogger) map[string]marketdata.Credentials {
	creds := make(map[string]marketdata.Credentials, len(cfg.Exchanges))
	for id, c := range cfg.Exchanges {
		creds[id] = marketdata.Credentials{APIKey: c.APIKey, Secret: c.Secret, Password: c.Password}
	}

	stored, err := accounts.ListActive(ctx)
	if err != nil {
		log.WithError(err).Warn("Could not load stored exchange accounts")
	}
	for _, acc := range stored {
		creds[acc.ExchangeID] = marketdata.Credentials{APIKey: acc.APIKey, Secret: acc.APISecret, Password: acc.Password}
	}

	ids := make([]string, 0, len(creds))
	for id := range creds {
		ids = append(ids, id)
	}
	log.WithField("exchanges", strings.Join(ids, ",")).Info("Exchange credentials loaded")
	return creds
}

// pairCache uses Redis when REDIS_URL is set, memory otherwise
func (a *app) pairCache(ctx context.Context, cfg *config.Config) marketdata.PairCache {
	if cfg.RedisURL != "" {
		cache, err := marketdata.NewRedisPairCache(ctx, cfg.RedisURL, marketdata.DefaultPairCacheTTL, a.log)
		if err == nil {
			a.redis = cache
			a.log.Info("Pair cache backed by Redis")
			return cache
		}
		a.log.WithError(err).Warn("Redis unavailable, using in-memory pair cache")
	}
	return marketdata.NewMemoryPairCache(marketdata.DefaultPairCacheTTL)
}

// openArchive connects MongoDB when MONGODB_URI is set, the SQLite archive otherwise
func openArchive(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) archive.Store {
	if cfg.MongoURI != "" {
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		store, err := archive.ConnectMongo(connectCtx, cfg.MongoURI, cfg.MongoDatabase)
		if err == nil {
			log.WithField("database", cfg.MongoDatabase).Info("Candle archive backed by MongoDB")
			return store
		}
		log.WithError(err).Warn("MongoDB unavailable, falling back to SQLite archive")
	}

	if cfg.ArchivePath == "" {
		log.Info("Candle archive disabled")
		return nil
	}
	store, err := archive.OpenSQLite(cfg.ArchivePath)
	if err != nil {
		log.WithError(err).Warn("Candle archive disabled")
		return nil
	}
	log.WithField("path", cfg.ArchivePath).Info("Candle archive backed by SQLite")
	return store
}

// setupHealthEndpoints sets up liveness and readiness probes
func setupHealthEndpoints(router *gin.Engine, db *gorm.DB) {
	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"message": "TradingRoad Market Data API",
			"version": version,
		})
	})

	// Liveness probe - always returns OK if server is running
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
		})
	})

	// Readiness probe - checks the database connection
	router.GET("/ready", func(c *gin.Context) {
		sqlDB, err := db.DB()
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "not_ready",
				"message": "Database connection error",
			})
			return
		}

		if err := sqlDB.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "not_ready",
				"message": "Database ping failed",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status": "ready",
		})
	})

	router.GET("/startup", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "started",
		})
	})
}

// corsMiddleware returns a CORS middleware handler
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Requested-With")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// requestLogger logs failed and slow requests
func requestLogger(log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		if path == "/health" || path == "/ready" || path == "/startup" || strings.HasPrefix(path, "/ws/klines") {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()
		duration := time.Since(start)

		if c.Writer.Status() >= 400 || duration > 1*time.Second {
			log.WithFields(logrus.Fields{
				"method":   c.Request.Method,
				"path":     path,
				"status":   c.Writer.Status(),
				"duration": duration.String(),
				"ip":       c.ClientIP(),
			}).Warn("request")
		}
	}
}

// gracefulShutdown waits for a signal and releases resources in dependency order
func gracefulShutdown(server *http.Server, a *app) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	a.log.Infof("Received signal %v, shutting down gracefully...", sig)

	a.jobs.Stop()
	a.broadcaster.Stop()
	a.cancel()
	a.limiter.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		a.log.WithError(err).Warn("Server forced to shutdown")
	}

	if a.store != nil {
		if err := a.store.Close(ctx); err != nil {
			a.log.WithError(err).Warn("Archive close failed")
		}
	}
	if a.redis != nil {
		a.redis.Close()
	}
	if err := tracing.Shutdown(ctx); err != nil {
		a.log.WithError(err).Warn("Tracing shutdown failed")
	}

	if sqlDB, err := a.db.DB(); err == nil {
		sqlDB.Close()
		a.log.Info("Database connection closed")
	}

	a.log.Info("Server shutdown completed")
}
