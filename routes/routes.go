package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/maogitmao/billions-dollars/config"
	"github.com/maogitmao/billions-dollars/controllers"
	"github.com/maogitmao/billions-dollars/middleware"
	"github.com/maogitmao/billions-dollars/services"
)

// Deps bundles everything the HTTP layer needs. main wires it once.
type Deps struct {
	Config   *config.Config
	Registry *services.SymbolRegistry
	Cache    *services.QuoteCache
	Bus      *services.EventBus
	Manager  *services.QuoteManager
	Alerts   *services.AlertService
	Archive  *services.ArchiveService
	Mirror   *services.MongoMirror
	Realtime *services.RealtimeService
	Limiter  *middleware.RateLimiter
}

// SetupRoutes sets up all API routes
func SetupRoutes(router *gin.Engine, deps Deps) {
	// Initialize controllers
	watchlistController := controllers.NewWatchlistController(deps.Registry, deps.Bus)
	quoteController := controllers.NewQuoteController(deps.Registry, deps.Cache,
		deps.Manager, deps.Archive, deps.Mirror, deps.Realtime)
	alertController := controllers.NewAlertController(deps.Alerts)
	authController := controllers.NewAuthController(deps.Config, deps.Limiter)

	requireAuth := middleware.JWTAuthMiddleware(deps.Config.JWTSecret)

	// API v1 group
	api := router.Group("/api/v1")
	{
		// Auth routes
		auth := api.Group("/auth")
		auth.Use(middleware.LoginRateLimitMiddleware(deps.Limiter))
		{
			auth.POST("/login", authController.Login)
		}

		// Watch-list routes
		watchlist := api.Group("/watchlist")
		{
			watchlist.GET("", watchlistController.GetWatchlist)
			watchlist.POST("", requireAuth, watchlistController.AddSymbol)
			watchlist.DELETE("/:symbol", requireAuth, watchlistController.RemoveSymbol)
		}

		// Quote routes
		quotes := api.Group("/quotes")
		{
			quotes.GET("", quoteController.GetQuotes)
			quotes.GET("/:symbol", quoteController.GetQuote)
			quotes.GET("/:symbol/history", quoteController.GetQuoteHistory)
		}

		// Cycle report routes
		cycles := api.Group("/cycles")
		{
			cycles.GET("", quoteController.GetCycles)
			cycles.GET("/latest", quoteController.GetLatestCycle)
		}

		// Alert rule routes
		alerts := api.Group("/alerts")
		{
			alerts.GET("/rules", alertController.GetRules)
			alerts.POST("/rules", requireAuth, alertController.CreateRule)
			alerts.DELETE("/rules/:id", requireAuth, alertController.DeleteRule)
		}

		// Pipeline status
		api.GET("/status", quoteController.GetStatus)
	}

	// Realtime stream
	router.GET("/ws", func(c *gin.Context) {
		deps.Realtime.HandleWebSocket(c.Writer, c.Request)
	})

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "ok",
			"message": "Quote pipeline API is running",
		})
	})

	// Readiness: the pipeline must be running to serve fresh quotes
	router.GET("/ready", func(c *gin.Context) {
		if !deps.Manager.IsRunning() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
}
