package services

import (
	"fmt"
	"sync"
)

// MaxWatchedSymbols caps the watch-list size.
const MaxWatchedSymbols = 200

// SymbolRegistry tracks the watched-symbol set. Membership mutations and
// snapshots are serialized by one mutex; Snapshot returns a copy so a
// fetch cycle sees a consistent set even while the registry mutates.
type SymbolRegistry struct {
	mu      sync.Mutex
	order   []string
	members map[string]struct{}
	limit   int
}

// NewSymbolRegistry creates an empty registry. A non-positive limit
// falls back to MaxWatchedSymbols.
func NewSymbolRegistry(limit int) *SymbolRegistry {
	if limit <= 0 {
		limit = MaxWatchedSymbols
	}
	return &SymbolRegistry{
		members: make(map[string]struct{}),
		limit:   limit,
	}
}

// Add inserts a symbol if absent. Returns false when the symbol was
// already watched; adding an existing symbol is a no-op.
func (r *SymbolRegistry) Add(symbol string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.members[symbol]; ok {
		return false, nil
	}
	if len(r.order) >= r.limit {
		return false, fmt.Errorf("watch-list is full (limit %d)", r.limit)
	}

	r.members[symbol] = struct{}{}
	r.order = append(r.order, symbol)
	return true, nil
}

// Remove deletes a symbol if present. Removing an absent symbol is a no-op.
func (r *SymbolRegistry) Remove(symbol string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.members[symbol]; !ok {
		return false
	}
	delete(r.members, symbol)
	for i, s := range r.order {
		if s == symbol {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// Has reports whether a symbol is currently watched.
func (r *SymbolRegistry) Has(symbol string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.members[symbol]
	return ok
}

// Len returns the current watch-list size.
func (r *SymbolRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.order)
}

// Snapshot returns the watched symbols in insertion order. The returned
// slice is a copy, never a live view.
func (r *SymbolRegistry) Snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}
