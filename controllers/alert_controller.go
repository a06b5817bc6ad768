package controllers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/maogitmao/billions-dollars/models"
	"github.com/maogitmao/billions-dollars/providers"
	"github.com/maogitmao/billions-dollars/services"
)

// AlertController handles alert rule requests
type AlertController struct {
	alerts *services.AlertService
}

// NewAlertController creates a new alert controller
func NewAlertController(alerts *services.AlertService) *AlertController {
	return &AlertController{alerts: alerts}
}

// GetRules returns all alert rules
// GET /api/v1/alerts/rules
func (ac *AlertController) GetRules(c *gin.Context) {
	rules := ac.alerts.Rules()
	c.JSON(http.StatusOK, gin.H{
		"data":  rules,
		"count": len(rules),
	})
}

// CreateRule adds a new alert rule
// POST /api/v1/alerts/rules
func (ac *AlertController) CreateRule(c *gin.Context) {
	var req struct {
		Symbol    string          `json:"symbol" binding:"required"`
		Kind      string          `json:"kind" binding:"required"`
		Threshold decimal.Decimal `json:"threshold"`
		Note      string          `json:"note"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol and kind are required"})
		return
	}

	symbol, ok := providers.NormalizeSymbol(req.Symbol)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid symbol format"})
		return
	}

	rule, err := ac.alerts.AddRule(models.AlertRule{
		Symbol:    symbol,
		Kind:      models.AlertKind(req.Kind),
		Threshold: req.Threshold,
		Note:      req.Note,
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": rule})
}

// DeleteRule removes an alert rule
// DELETE /api/v1/alerts/rules/:id
func (ac *AlertController) DeleteRule(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid rule id"})
		return
	}

	if !ac.alerts.DeleteRule(uint(id)) {
		c.JSON(http.StatusNotFound, gin.H{"error": "rule not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"id": id, "deleted": true}})
}
