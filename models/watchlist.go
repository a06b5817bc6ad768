package models

import (
	"time"

	"gorm.io/gorm"
)

// WatchlistEntry is one watched symbol persisted in Postgres.
// Position preserves the user's insertion order across restarts.
type WatchlistEntry struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Symbol    string    `gorm:"uniqueIndex;not null" json:"symbol"`
	Position  int       `gorm:"not null" json:"position"`
	CreatedAt time.Time `json:"created_at"`
}

// MigrateWatchlistModels runs database migrations for watch-list models.
func MigrateWatchlistModels(db *gorm.DB) error {
	return db.AutoMigrate(&WatchlistEntry{})
}
