package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/maogitmao/billions-dollars/config"
	"github.com/maogitmao/billions-dollars/middleware"
	"github.com/maogitmao/billions-dollars/models"
	"github.com/maogitmao/billions-dollars/providers"
	"github.com/maogitmao/billions-dollars/routes"
	"github.com/maogitmao/billions-dollars/scheduler"
	"github.com/maogitmao/billions-dollars/services"
)

func main() {
	log.Println("==============================================")
	log.Println("  Billions Dollars Quote API - Starting...")
	log.Println("==============================================")

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Printf("Warning: Config load issue: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Set Gin mode based on environment
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Create Gin router
	router := gin.New()

	// Add middlewares
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())
	router.Use(requestLogger())

	// Optional Postgres for watch-list and alert rule persistence
	db, err := config.InitDB(cfg)
	if err != nil {
		log.Printf("ERROR: Database connection failed: %v", err)
		log.Println("Continuing without Postgres persistence")
		db = nil
	}
	if db != nil {
		log.Println("Running database migrations...")
		if err := models.MigrateWatchlistModels(db); err != nil {
			log.Printf("ERROR: Watch-list migration failed: %v", err)
		}
		if err := models.MigrateAlertModels(db); err != nil {
			log.Printf("ERROR: Alert migration failed: %v", err)
		}
	}

	// Core pipeline components
	registry := services.NewSymbolRegistry(cfg.MaxSymbols)
	cache := services.NewQuoteCache()
	bus := services.NewEventBus()

	// Seed the registry from the persisted watch-list
	store := services.NewWatchlistStore(cfg.WatchlistPath, db)
	for _, symbol := range store.Load() {
		if _, err := registry.Add(symbol); err != nil {
			log.Printf("Warning: Could not watch %s: %v", symbol, err)
		}
	}
	log.Printf("Watching %d symbols", registry.Len())

	provs, err := providers.FromNames(cfg.Providers, cfg.FetchTimeout)
	if err != nil {
		log.Fatalf("Invalid provider configuration: %v", err)
	}

	archive, err := services.NewArchiveService(cfg.ArchivePath)
	if err != nil {
		log.Fatalf("Could not open quote archive: %v", err)
	}

	mirror := services.NewMongoMirror(cfg.MongoURI)
	alerts := services.NewAlertService(db, bus)
	realtime := services.NewRealtimeService(cache)

	managerCfg := services.QuoteManagerConfig{
		PoolSize:      cfg.PoolSize,
		CycleInterval: cfg.CycleInterval,
		CycleDeadline: cfg.CycleDeadline,
		UnitSize:      cfg.UnitSize,
	}
	if cfg.TradingHoursOnly {
		managerCfg.Gate = scheduler.IsTradingSession
	}
	manager, err := services.NewQuoteManager(registry, cache, bus, provs, managerCfg)
	if err != nil {
		log.Fatalf("Could not build quote manager: %v", err)
	}

	// Wire event consumers. Delivery is synchronous in this order.
	bus.Subscribe(models.EventQuoteUpdated, archive.QuoteSubscriber())
	bus.Subscribe(models.EventQuoteUpdated, alerts.QuoteSubscriber())
	bus.Subscribe(models.EventQuoteUpdated, realtime.QuoteSubscriber())
	bus.Subscribe(models.EventCycleCompleted, archive.CycleSubscriber())
	bus.Subscribe(models.EventCycleCompleted, realtime.CycleSubscriber())
	bus.Subscribe(models.EventAlertTriggered, archive.AlertSubscriber())
	bus.Subscribe(models.EventAlertTriggered, realtime.AlertSubscriber())
	bus.Subscribe(models.EventWatchlistChanged, store.Subscriber(registry))

	limiter := middleware.NewLoginRateLimiter()
	limiter.StartCleanup()

	// Setup all API routes
	routes.SetupRoutes(router, routes.Deps{
		Config:   cfg,
		Registry: registry,
		Cache:    cache,
		Bus:      bus,
		Manager:  manager,
		Alerts:   alerts,
		Archive:  archive,
		Mirror:   mirror,
		Realtime: realtime,
		Limiter:  limiter,
	})

	// Start background services
	archive.Start()
	realtime.Start()
	if err := manager.Start(); err != nil {
		log.Fatalf("Could not start quote manager: %v", err)
	}

	jobScheduler := scheduler.NewScheduler(registry, cache, store, archive, mirror, cfg.ArchiveRetentionDays)
	jobScheduler.Start()

	// Create HTTP server
	// Bind to 0.0.0.0 explicitly for container networking
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
		log.Printf("Server listening on 0.0.0.0:%s", cfg.Port)
		log.Println("==============================================")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Graceful shutdown
	gracefulShutdown(server, manager, jobScheduler, realtime, archive, mirror, limiter, db)
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

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// requestLogger returns a request logging middleware
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Skip logging for health checks to reduce noise
		path := c.Request.URL.Path
		if path == "/health" || path == "/ready" {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()
		duration := time.Since(start)

		// Only log errors or slow requests
		if c.Writer.Status() >= 400 || duration > 1*time.Second {
			log.Printf("%s %s %d %v", c.Request.Method, path, c.Writer.Status(), duration)
		}
	}
}

// gracefulShutdown stops producers before consumers so in-flight quotes
// still reach the archive.
func gracefulShutdown(server *http.Server, manager *services.QuoteManager,
	jobScheduler *scheduler.Scheduler, realtime *services.RealtimeService,
	archive *services.ArchiveService, mirror *services.MongoMirror,
	limiter *middleware.RateLimiter, db *gorm.DB) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	// Wait for shutdown signal
	sig := <-quit
	log.Printf("Received signal %v, shutting down gracefully...", sig)

	jobScheduler.Stop()
	manager.Stop()
	realtime.Shutdown()

	// Create context with timeout for shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Shutdown HTTP server
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	archive.Stop()
	mirror.Close()
	limiter.Stop()

	// Close database connection
	if db != nil {
		sqlDB, err := db.DB()
		if err == nil {
			sqlDB.Close()
			log.Println("Database connection closed")
		}
	}

	log.Println("Server shutdown completed")
}
