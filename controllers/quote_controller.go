package controllers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/maogitmao/billions-dollars/models"
	"github.com/maogitmao/billions-dollars/providers"
	"github.com/maogitmao/billions-dollars/services"
)

// QuoteController handles quote and pipeline status requests
type QuoteController struct {
	registry *services.SymbolRegistry
	cache    *services.QuoteCache
	manager  *services.QuoteManager
	archive  *services.ArchiveService
	mirror   *services.MongoMirror
	realtime *services.RealtimeService
}

// NewQuoteController creates a new quote controller
func NewQuoteController(registry *services.SymbolRegistry, cache *services.QuoteCache,
	manager *services.QuoteManager, archive *services.ArchiveService,
	mirror *services.MongoMirror, realtime *services.RealtimeService) *QuoteController {
	return &QuoteController{
		registry: registry,
		cache:    cache,
		manager:  manager,
		archive:  archive,
		mirror:   mirror,
		realtime: realtime,
	}
}

// GetQuotes returns the latest quote for every watched symbol
// GET /api/v1/quotes
func (qc *QuoteController) GetQuotes(c *gin.Context) {
	symbols := qc.registry.Snapshot()
	quotes := make([]*models.Quote, 0, len(symbols))
	missing := make([]string, 0)

	for _, symbol := range symbols {
		q, ok := qc.cache.Get(symbol)
		if !ok {
			missing = append(missing, symbol)
			continue
		}
		quotes = append(quotes, q)
	}

	c.JSON(http.StatusOK, gin.H{
		"data":    quotes,
		"count":   len(quotes),
		"missing": missing,
	})
}

// GetQuote returns the latest quote for one symbol
// GET /api/v1/quotes/:symbol
func (qc *QuoteController) GetQuote(c *gin.Context) {
	symbol, ok := providers.NormalizeSymbol(c.Param("symbol"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid symbol format"})
		return
	}

	q, ok := qc.cache.Get(symbol)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no quote for symbol"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": q})
}

// GetQuoteHistory returns archived ticks for one symbol, newest first
// GET /api/v1/quotes/:symbol/history
func (qc *QuoteController) GetQuoteHistory(c *gin.Context) {
	symbol, ok := providers.NormalizeSymbol(c.Param("symbol"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid symbol format"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	quotes, err := qc.archive.QuoteHistory(symbol, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch quote history"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":  quotes,
		"count": len(quotes),
	})
}

// GetLatestCycle returns the most recent cycle report
// GET /api/v1/cycles/latest
func (qc *QuoteController) GetLatestCycle(c *gin.Context) {
	report := qc.manager.LastReport()
	if report == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no cycle has completed yet"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": report})
}

// GetCycles returns archived cycle reports, newest first
// GET /api/v1/cycles
func (qc *QuoteController) GetCycles(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	reports, err := qc.archive.RecentReports(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch cycle reports"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":  reports,
		"count": len(reports),
	})
}

// GetStatus returns a pipeline health summary
// GET /api/v1/status
func (qc *QuoteController) GetStatus(c *gin.Context) {
	status := gin.H{
		"running":           qc.manager.IsRunning(),
		"providers":         qc.manager.ProviderNames(),
		"watched_symbols":   qc.registry.Len(),
		"cached_quotes":     qc.cache.Len(),
		"websocket_clients": qc.realtime.GetClientCount(),
		"archive_dropped":   qc.archive.Dropped(),
		"mongo_mirror":      qc.mirror.Status(),
		"time":              time.Now().Format(time.RFC3339),
	}
	if report := qc.manager.LastReport(); report != nil {
		status["last_cycle"] = report
	}
	c.JSON(http.StatusOK, status)
}
