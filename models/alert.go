package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// AlertKind identifies the condition an alert rule watches.
type AlertKind string

const (
	AlertPriceAbove    AlertKind = "price_above"
	AlertPriceBelow    AlertKind = "price_below"
	AlertChangePercent AlertKind = "change_pct"
)

// Valid reports whether the kind is one of the supported conditions.
func (k AlertKind) Valid() bool {
	switch k {
	case AlertPriceAbove, AlertPriceBelow, AlertChangePercent:
		return true
	}
	return false
}

// AlertRule is a user-configured price alert for one symbol.
type AlertRule struct {
	ID        uint            `gorm:"primaryKey" json:"id"`
	Symbol    string          `gorm:"index;not null" json:"symbol"`
	Kind      AlertKind       `gorm:"not null" json:"kind"`
	Threshold decimal.Decimal `gorm:"type:decimal(15,4)" json:"threshold"`
	Enabled   bool            `gorm:"default:true" json:"enabled"`
	Note      string          `json:"note"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// AlertEvent is published when a rule fires. Not persisted by the bus;
// consumers (websocket hub, archiver) decide what to keep.
type AlertEvent struct {
	RuleID        uint            `json:"rule_id"`
	Symbol        string          `json:"symbol"`
	Kind          AlertKind       `json:"kind"`
	Threshold     decimal.Decimal `json:"threshold"`
	Price         decimal.Decimal `json:"price"`
	ChangePercent decimal.Decimal `json:"change_percent"`
	Message       string          `json:"message"`
	TriggeredAt   time.Time       `json:"triggered_at"`
}

// MigrateAlertModels runs database migrations for alert models.
func MigrateAlertModels(db *gorm.DB) error {
	return db.AutoMigrate(&AlertRule{})
}
