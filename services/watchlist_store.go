package services

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/maogitmao/billions-dollars/models"
)

// DefaultWatchlistPath is where the JSON snapshot lives when no path is
// configured.
const DefaultWatchlistPath = "data/watchlist.json"

// watchlistFile is the on-disk snapshot format.
type watchlistFile struct {
	UpdatedAt time.Time `json:"updated_at"`
	Count     int       `json:"count"`
	Symbols   []string  `json:"symbols"`
}

// WatchlistStore persists the watched-symbol set. Postgres is the
// primary store when configured; the JSON file is always written so the
// watch-list survives without a database.
type WatchlistStore struct {
	path string
	db   *gorm.DB
	mu   sync.Mutex
}

// NewWatchlistStore creates a store. db may be nil for file-only mode.
func NewWatchlistStore(path string, db *gorm.DB) *WatchlistStore {
	if path == "" {
		path = DefaultWatchlistPath
	}
	return &WatchlistStore{path: path, db: db}
}

// DefaultWatchlist returns the seed symbols used on first start, with
// the Shanghai Composite index pinned first.
func DefaultWatchlist() []string {
	return []string{"sh000001", "sh600036", "sh600519", "sh601318", "sz000001", "sz000858", "sz300750"}
}

// Load returns the persisted watch-list in saved order, falling back to
// the default seed when nothing usable is stored.
func (s *WatchlistStore) Load() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		var entries []models.WatchlistEntry
		if err := s.db.Order("position asc").Find(&entries).Error; err != nil {
			log.Printf("[WatchlistStore] database load failed: %v", err)
		} else if len(entries) > 0 {
			symbols := make([]string, 0, len(entries))
			for _, e := range entries {
				symbols = append(symbols, e.Symbol)
			}
			log.Printf("[WatchlistStore] loaded %d symbols from database", len(symbols))
			return symbols
		}
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("[WatchlistStore] read %s failed: %v", s.path, err)
		}
		log.Println("[WatchlistStore] no saved watch-list, seeding defaults")
		return DefaultWatchlist()
	}

	var file watchlistFile
	if err := json.Unmarshal(data, &file); err != nil {
		log.Printf("[WatchlistStore] parse %s failed: %v, seeding defaults", s.path, err)
		return DefaultWatchlist()
	}
	if len(file.Symbols) == 0 {
		return DefaultWatchlist()
	}

	log.Printf("[WatchlistStore] loaded %d symbols from %s", len(file.Symbols), s.path)
	return file.Symbols
}

// Save writes the watch-list to every configured store.
func (s *WatchlistStore) Save(symbols []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		err := s.db.Transaction(func(tx *gorm.DB) error {
			if err := tx.Where("1 = 1").Delete(&models.WatchlistEntry{}).Error; err != nil {
				return err
			}
			for i, sym := range symbols {
				entry := models.WatchlistEntry{Symbol: sym, Position: i}
				if err := tx.Create(&entry).Error; err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			log.Printf("[WatchlistStore] database save failed: %v", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("create watch-list directory: %w", err)
	}
	data, err := json.MarshalIndent(watchlistFile{
		UpdatedAt: time.Now(),
		Count:     len(symbols),
		Symbols:   symbols,
	}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0644)
}

// Subscriber returns a bus handler that snapshots the registry whenever
// the watch-list changes.
func (s *WatchlistStore) Subscriber(registry *SymbolRegistry) EventHandler {
	return func(kind models.EventKind, payload interface{}) {
		if err := s.Save(registry.Snapshot()); err != nil {
			log.Printf("[WatchlistStore] save failed: %v", err)
		}
	}
}
