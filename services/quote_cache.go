package services

import (
	"sort"
	"sync"
	"time"

	"github.com/maogitmao/billions-dollars/models"
)

// cacheEntry pairs the latest accepted quote with the wall-clock time
// the cache accepted it.
type cacheEntry struct {
	quote     *models.Quote
	updatedAt time.Time
}

// QuoteCache holds the last-known quote per symbol. Reads never block on
// an in-flight fetch; callers get the best currently-known value and
// decide for themselves whether it is fresh enough. Writes apply only
// when the incoming quote's fetch timestamp is strictly newer than the
// stored one, so late results from a slow provider can never overwrite
// a fresher quote.
type QuoteCache struct {
	mu      sync.RWMutex
	entries map[string]*cacheEntry
}

// NewQuoteCache creates an empty cache.
func NewQuoteCache() *QuoteCache {
	return &QuoteCache{
		entries: make(map[string]*cacheEntry),
	}
}

// Get returns the last-known quote for a symbol, or false when the
// symbol has never been fetched successfully.
func (c *QuoteCache) Get(symbol string) (*models.Quote, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[symbol]
	if !ok {
		return nil, false
	}
	return entry.quote, true
}

// Update stores a quote if it is newer than the cached one. Returns
// whether the quote was accepted; stale or duplicate results are
// silently ignored.
func (c *QuoteCache) Update(q *models.Quote) bool {
	if q == nil {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if cur, ok := c.entries[q.Symbol]; ok && !q.FetchedAt.After(cur.quote.FetchedAt) {
		return false
	}
	c.entries[q.Symbol] = &cacheEntry{quote: q, updatedAt: time.Now()}
	return true
}

// UpdatedAt returns when the cache last accepted a quote for the symbol.
func (c *QuoteCache) UpdatedAt(symbol string) (time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[symbol]
	if !ok {
		return time.Time{}, false
	}
	return entry.updatedAt, true
}

// Len returns the number of cached symbols.
func (c *QuoteCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Snapshot returns all cached quotes sorted by symbol.
func (c *QuoteCache) Snapshot() []*models.Quote {
	c.mu.RLock()
	quotes := make([]*models.Quote, 0, len(c.entries))
	for _, entry := range c.entries {
		quotes = append(quotes, entry.quote)
	}
	c.mu.RUnlock()

	sort.Slice(quotes, func(i, j int) bool {
		return quotes[i].Symbol < quotes[j].Symbol
	})
	return quotes
}
