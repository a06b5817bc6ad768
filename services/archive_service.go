package services

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/maogitmao/billions-dollars/models"
)

// DefaultArchivePath is where the SQLite archive lives when no path is
// configured.
const DefaultArchivePath = "data/market.db"

const (
	archiveQuoteBuffer  = 1024
	archiveReportBuffer = 64
	archiveAlertBuffer  = 64
)

const archiveSchema = `
CREATE TABLE IF NOT EXISTS quote_ticks (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	symbol TEXT NOT NULL,
	name TEXT,
	price TEXT NOT NULL,
	change TEXT,
	change_percent TEXT,
	open TEXT,
	high TEXT,
	low TEXT,
	prev_close TEXT,
	volume INTEGER,
	turnover TEXT,
	provider TEXT,
	fetched_at TIMESTAMP NOT NULL,
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_quote_ticks_symbol_time ON quote_ticks(symbol, fetched_at);

CREATE TABLE IF NOT EXISTS cycle_reports (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	cycle INTEGER NOT NULL,
	started_at TIMESTAMP NOT NULL,
	attempted INTEGER NOT NULL,
	succeeded INTEGER NOT NULL,
	failed INTEGER NOT NULL,
	abandoned INTEGER NOT NULL,
	duration_ms INTEGER NOT NULL,
	worst_latency_ms INTEGER NOT NULL,
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_cycle_reports_started ON cycle_reports(started_at);

CREATE TABLE IF NOT EXISTS alerts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	rule_id INTEGER NOT NULL,
	symbol TEXT NOT NULL,
	kind TEXT NOT NULL,
	threshold TEXT,
	price TEXT,
	change_percent TEXT,
	message TEXT,
	triggered_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_alerts_symbol_time ON alerts(symbol, triggered_at);
`

// ArchiveService writes quote ticks, cycle reports and triggered alerts
// to a local SQLite database. Bus handlers only enqueue; a single
// writer goroutine owns all inserts so event delivery never waits on
// disk. When a buffer is full the item is dropped and counted.
type ArchiveService struct {
	db *sql.DB

	quoteCh  chan *models.Quote
	reportCh chan *models.CycleReport
	alertCh  chan models.AlertEvent

	stopChan chan struct{}
	doneChan chan struct{}
	dropped  atomic.Int64

	mu        sync.Mutex
	isRunning bool
}

// NewArchiveService opens (creating if needed) the archive database and
// ensures the schema exists.
func NewArchiveService(path string) (*ArchiveService, error) {
	if path == "" {
		path = DefaultArchivePath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create archive directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open archive database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping archive database: %w", err)
	}
	if _, err := db.Exec(archiveSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create archive schema: %w", err)
	}

	log.Printf("[Archive] database ready at %s", path)
	return &ArchiveService{
		db:       db,
		quoteCh:  make(chan *models.Quote, archiveQuoteBuffer),
		reportCh: make(chan *models.CycleReport, archiveReportBuffer),
		alertCh:  make(chan models.AlertEvent, archiveAlertBuffer),
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}, nil
}

// Start launches the writer goroutine.
func (a *ArchiveService) Start() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.isRunning {
		log.Println("[Archive] already running")
		return
	}
	a.isRunning = true
	go a.writer()
	log.Println("[Archive] writer started")
}

// Stop flushes pending items and closes the database.
func (a *ArchiveService) Stop() {
	a.mu.Lock()
	if !a.isRunning {
		a.mu.Unlock()
		return
	}
	a.isRunning = false
	a.mu.Unlock()

	close(a.stopChan)
	<-a.doneChan
	if err := a.db.Close(); err != nil {
		log.Printf("[Archive] close failed: %v", err)
	}
	log.Println("[Archive] stopped")
}

// Dropped reports how many items were discarded because a buffer was
// full.
func (a *ArchiveService) Dropped() int64 {
	return a.dropped.Load()
}

// QuoteSubscriber returns a bus handler that archives accepted quotes.
func (a *ArchiveService) QuoteSubscriber() EventHandler {
	return func(kind models.EventKind, payload interface{}) {
		q, ok := payload.(*models.Quote)
		if !ok {
			return
		}
		select {
		case a.quoteCh <- q:
		default:
			a.dropped.Add(1)
		}
	}
}

// CycleSubscriber returns a bus handler that archives cycle reports.
func (a *ArchiveService) CycleSubscriber() EventHandler {
	return func(kind models.EventKind, payload interface{}) {
		r, ok := payload.(*models.CycleReport)
		if !ok {
			return
		}
		select {
		case a.reportCh <- r:
		default:
			a.dropped.Add(1)
		}
	}
}

// AlertSubscriber returns a bus handler that archives triggered alerts.
func (a *ArchiveService) AlertSubscriber() EventHandler {
	return func(kind models.EventKind, payload interface{}) {
		ev, ok := payload.(models.AlertEvent)
		if !ok {
			return
		}
		select {
		case a.alertCh <- ev:
		default:
			a.dropped.Add(1)
		}
	}
}

func (a *ArchiveService) writer() {
	defer close(a.doneChan)
	for {
		select {
		case <-a.stopChan:
			a.drain()
			return
		case q := <-a.quoteCh:
			a.insertQuote(q)
		case r := <-a.reportCh:
			a.insertReport(r)
		case ev := <-a.alertCh:
			a.insertAlert(ev)
		}
	}
}

func (a *ArchiveService) drain() {
	for {
		select {
		case q := <-a.quoteCh:
			a.insertQuote(q)
		case r := <-a.reportCh:
			a.insertReport(r)
		case ev := <-a.alertCh:
			a.insertAlert(ev)
		default:
			return
		}
	}
}

func (a *ArchiveService) insertQuote(q *models.Quote) {
	_, err := a.db.Exec(`INSERT INTO quote_ticks
		(symbol, name, price, change, change_percent, open, high, low, prev_close, volume, turnover, provider, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		q.Symbol, q.Name,
		q.LastPrice.String(), q.Change.String(), q.ChangePercent.String(),
		q.Open.String(), q.High.String(), q.Low.String(), q.PrevClose.String(),
		q.Volume, q.Turnover.String(), q.Provider, q.FetchedAt)
	if err != nil {
		log.Printf("[Archive] insert quote %s failed: %v", q.Symbol, err)
	}
}

func (a *ArchiveService) insertReport(r *models.CycleReport) {
	_, err := a.db.Exec(`INSERT INTO cycle_reports
		(cycle, started_at, attempted, succeeded, failed, abandoned, duration_ms, worst_latency_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.Cycle, r.StartedAt, r.Attempted, r.Succeeded, r.Failed, r.Abandoned,
		r.Duration.Milliseconds(), r.WorstLatency.Milliseconds())
	if err != nil {
		log.Printf("[Archive] insert cycle report %d failed: %v", r.Cycle, err)
	}
}

func (a *ArchiveService) insertAlert(ev models.AlertEvent) {
	_, err := a.db.Exec(`INSERT INTO alerts
		(rule_id, symbol, kind, threshold, price, change_percent, message, triggered_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.RuleID, ev.Symbol, string(ev.Kind),
		ev.Threshold.String(), ev.Price.String(), ev.ChangePercent.String(),
		ev.Message, ev.TriggeredAt)
	if err != nil {
		log.Printf("[Archive] insert alert for %s failed: %v", ev.Symbol, err)
	}
}

// RecentReports returns the latest cycle reports, newest first.
func (a *ArchiveService) RecentReports(limit int) ([]models.CycleReport, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := a.db.Query(`SELECT cycle, started_at, attempted, succeeded, failed, abandoned, duration_ms, worst_latency_ms
		FROM cycle_reports ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query cycle reports: %w", err)
	}
	defer rows.Close()

	var reports []models.CycleReport
	for rows.Next() {
		var r models.CycleReport
		var durationMs, worstMs int64
		if err := rows.Scan(&r.Cycle, &r.StartedAt, &r.Attempted, &r.Succeeded, &r.Failed, &r.Abandoned, &durationMs, &worstMs); err != nil {
			return nil, fmt.Errorf("scan cycle report: %w", err)
		}
		r.Duration = time.Duration(durationMs) * time.Millisecond
		r.WorstLatency = time.Duration(worstMs) * time.Millisecond
		reports = append(reports, r)
	}
	return reports, rows.Err()
}

// QuoteHistory returns archived ticks for one symbol, newest first.
func (a *ArchiveService) QuoteHistory(symbol string, limit int) ([]models.Quote, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := a.db.Query(`SELECT symbol, name, price, change, change_percent, open, high, low, prev_close, volume, turnover, provider, fetched_at
		FROM quote_ticks WHERE symbol = ? ORDER BY id DESC LIMIT ?`, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("query quote history: %w", err)
	}
	defer rows.Close()

	var quotes []models.Quote
	for rows.Next() {
		var q models.Quote
		var price, change, changePct, open, high, low, prevClose, turnover string
		if err := rows.Scan(&q.Symbol, &q.Name, &price, &change, &changePct, &open, &high, &low, &prevClose, &q.Volume, &turnover, &q.Provider, &q.FetchedAt); err != nil {
			return nil, fmt.Errorf("scan quote tick: %w", err)
		}
		q.LastPrice = parseArchiveDecimal(price)
		q.Change = parseArchiveDecimal(change)
		q.ChangePercent = parseArchiveDecimal(changePct)
		q.Open = parseArchiveDecimal(open)
		q.High = parseArchiveDecimal(high)
		q.Low = parseArchiveDecimal(low)
		q.PrevClose = parseArchiveDecimal(prevClose)
		q.Turnover = parseArchiveDecimal(turnover)
		quotes = append(quotes, q)
	}
	return quotes, rows.Err()
}

// PruneBefore deletes archived rows older than the cutoff and returns
// how many were removed.
func (a *ArchiveService) PruneBefore(cutoff time.Time) (int64, error) {
	var total int64
	for _, stmt := range []string{
		"DELETE FROM quote_ticks WHERE fetched_at < ?",
		"DELETE FROM cycle_reports WHERE started_at < ?",
		"DELETE FROM alerts WHERE triggered_at < ?",
	} {
		res, err := a.db.Exec(stmt, cutoff)
		if err != nil {
			return total, fmt.Errorf("prune archive: %w", err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

// Vacuum reclaims file space after large prunes. SQLite does not shrink
// the database file on DELETE alone.
func (a *ArchiveService) Vacuum() error {
	if _, err := a.db.Exec("VACUUM"); err != nil {
		return fmt.Errorf("vacuum archive: %w", err)
	}
	return nil
}

func parseArchiveDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
