package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/maogitmao/billions-dollars/models"
	"github.com/maogitmao/billions-dollars/providers"
	"github.com/maogitmao/billions-dollars/services"
)

// WatchlistController handles watch-list requests
type WatchlistController struct {
	registry *services.SymbolRegistry
	bus      *services.EventBus
}

// NewWatchlistController creates a new watch-list controller
func NewWatchlistController(registry *services.SymbolRegistry, bus *services.EventBus) *WatchlistController {
	return &WatchlistController{registry: registry, bus: bus}
}

// GetWatchlist returns the watched symbols in insertion order
// GET /api/v1/watchlist
func (wc *WatchlistController) GetWatchlist(c *gin.Context) {
	symbols := wc.registry.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"data":  symbols,
		"count": len(symbols),
	})
}

// AddSymbol adds one symbol to the watch-list
// POST /api/v1/watchlist
func (wc *WatchlistController) AddSymbol(c *gin.Context) {
	var req struct {
		Symbol string `json:"symbol" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol is required"})
		return
	}

	symbol, ok := providers.NormalizeSymbol(req.Symbol)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid symbol format"})
		return
	}

	added, err := wc.registry.Add(symbol)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	count := wc.registry.Len()
	if !added {
		// Already watched, nothing changed
		c.JSON(http.StatusOK, gin.H{
			"data": gin.H{"symbol": symbol, "added": false, "count": count},
		})
		return
	}

	wc.bus.Publish(models.EventWatchlistChanged, models.WatchlistChange{
		Action: models.WatchlistAdded,
		Symbol: symbol,
		Count:  count,
	})
	c.JSON(http.StatusCreated, gin.H{
		"data": gin.H{"symbol": symbol, "added": true, "count": count},
	})
}

// RemoveSymbol removes one symbol from the watch-list
// DELETE /api/v1/watchlist/:symbol
func (wc *WatchlistController) RemoveSymbol(c *gin.Context) {
	symbol, ok := providers.NormalizeSymbol(c.Param("symbol"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid symbol format"})
		return
	}

	removed := wc.registry.Remove(symbol)
	count := wc.registry.Len()
	if removed {
		wc.bus.Publish(models.EventWatchlistChanged, models.WatchlistChange{
			Action: models.WatchlistRemoved,
			Symbol: symbol,
			Count:  count,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"data": gin.H{"symbol": symbol, "removed": removed, "count": count},
	})
}
