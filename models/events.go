package models

// EventKind identifies a category of pipeline event.
type EventKind string

const (
	// EventQuoteUpdated carries a *Quote accepted into the cache.
	EventQuoteUpdated EventKind = "quote_updated"
	// EventCycleCompleted carries a *CycleReport.
	EventCycleCompleted EventKind = "cycle_completed"
	// EventSymbolFailed carries a SymbolFailure after all providers exhaust.
	EventSymbolFailed EventKind = "symbol_failed"
	// EventWatchlistChanged carries a WatchlistChange.
	EventWatchlistChanged EventKind = "watchlist_changed"
	// EventAlertTriggered carries an AlertEvent.
	EventAlertTriggered EventKind = "alert_triggered"
)

// Watchlist change actions
const (
	WatchlistAdded   = "added"
	WatchlistRemoved = "removed"
)

// WatchlistChange describes one mutation of the watched-symbol set.
type WatchlistChange struct {
	Action string `json:"action"` // added, removed
	Symbol string `json:"symbol"`
	Count  int    `json:"count"` // watch-list size after the change
}
