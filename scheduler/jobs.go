package scheduler

import (
	"log"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/maogitmao/billions-dollars/models"
	"github.com/maogitmao/billions-dollars/services"
)

// Scheduler manages scheduled maintenance jobs
type Scheduler struct {
	cron          *gocron.Scheduler
	registry      *services.SymbolRegistry
	cache         *services.QuoteCache
	store         *services.WatchlistStore
	archive       *services.ArchiveService
	mirror        *services.MongoMirror
	retentionDays int
}

// NewScheduler creates a new scheduler instance
func NewScheduler(registry *services.SymbolRegistry, cache *services.QuoteCache,
	store *services.WatchlistStore, archive *services.ArchiveService,
	mirror *services.MongoMirror, retentionDays int) *Scheduler {
	return &Scheduler{
		cron:          gocron.NewScheduler(shanghaiTZ),
		registry:      registry,
		cache:         cache,
		store:         store,
		archive:       archive,
		mirror:        mirror,
		retentionDays: retentionDays,
	}
}

// Start starts all scheduled jobs
func (s *Scheduler) Start() {
	log.Println("Starting scheduler...")

	// Snapshot the watch-list every 5 minutes as a safety net beside
	// the event-driven saves
	s.cron.Every(5).Minutes().Do(func() {
		s.snapshotWatchlist()
	})

	// Mirror the latest quotes to MongoDB every 10 minutes
	s.cron.Every(10).Minutes().Do(func() {
		s.syncMirror()
	})

	// Prune the archive daily at 16:30, after market close
	s.cron.Every(1).Day().At("16:30").Do(func() {
		s.pruneArchive()
	})

	s.cron.StartAsync()
	log.Println("Scheduler started successfully")
}

// Stop stops the scheduler
func (s *Scheduler) Stop() {
	s.cron.Stop()
	log.Println("Scheduler stopped")
}

// snapshotWatchlist persists the current watch-list
func (s *Scheduler) snapshotWatchlist() {
	if err := s.store.Save(s.registry.Snapshot()); err != nil {
		log.Printf("Error snapshotting watch-list: %v", err)
	}
}

// syncMirror pushes the watch-list and latest quotes to MongoDB
func (s *Scheduler) syncMirror() {
	if !s.mirror.Enabled() {
		return
	}

	symbols := s.registry.Snapshot()
	quotes := make([]*models.Quote, 0, len(symbols))
	for _, symbol := range symbols {
		if q, ok := s.cache.Get(symbol); ok {
			quotes = append(quotes, q)
		}
	}

	if err := s.mirror.Sync(symbols, quotes); err != nil {
		log.Printf("Error syncing mirror: %v", err)
		return
	}
	log.Printf("Mirrored %d quotes for %d symbols", len(quotes), len(symbols))
}

// pruneArchive removes archived rows past the retention window
func (s *Scheduler) pruneArchive() {
	cutoff := time.Now().AddDate(0, 0, -s.retentionDays)
	n, err := s.archive.PruneBefore(cutoff)
	if err != nil {
		log.Printf("Error pruning archive: %v", err)
		return
	}
	log.Printf("Pruned %d archived rows older than %s", n, cutoff.Format("2006-01-02"))

	if n > 0 {
		if err := s.archive.Vacuum(); err != nil {
			log.Printf("Error vacuuming archive: %v", err)
		}
	}
}

var shanghaiTZ = loadShanghaiTZ()

func loadShanghaiTZ() *time.Location {
	loc, err := time.LoadLocation("Asia/Shanghai")
	if err != nil {
		return time.FixedZone("CST", 8*3600)
	}
	return loc
}

// IsTradingSession checks if t falls inside a Shanghai trading session.
// Sessions run weekdays 09:15-11:30 and 13:00-15:00 local time; the
// morning window includes the 09:15 call auction.
func IsTradingSession(t time.Time) bool {
	local := t.In(shanghaiTZ)

	// Check if weekend
	if local.Weekday() == time.Saturday || local.Weekday() == time.Sunday {
		return false
	}

	minutes := local.Hour()*60 + local.Minute()
	morning := minutes >= 9*60+15 && minutes <= 11*60+30
	afternoon := minutes >= 13*60 && minutes <= 15*60
	return morning || afternoon
}
