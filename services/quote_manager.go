package services

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/maogitmao/billions-dollars/models"
	"github.com/maogitmao/billions-dollars/providers"
)

// Default tuning for the fetch pipeline
const (
	DefaultPoolSize      = 30
	DefaultCycleInterval = 3 * time.Second
	DefaultCycleDeadline = 10 * time.Second
	DefaultUnitSize      = 20
)

// CycleGate decides whether a cycle scheduled at the given time should
// run. Used to idle the pipeline outside trading hours.
type CycleGate func(time.Time) bool

// QuoteManagerConfig holds the explicit tuning for a QuoteManager.
// Zero values fall back to the package defaults.
type QuoteManagerConfig struct {
	// PoolSize bounds how many dispatch units fetch concurrently,
	// across cycle boundaries.
	PoolSize int
	// CycleInterval is the fixed spacing between cycle starts.
	CycleInterval time.Duration
	// CycleDeadline caps a cycle's wall time; units still in
	// flight when it elapses are abandoned and counted as failed.
	CycleDeadline time.Duration
	// UnitSize is how many symbols one dispatch unit carries.
	UnitSize int
	// Gate, when set, can skip cycles (trading-hours gating).
	Gate CycleGate
}

func (c QuoteManagerConfig) withDefaults() QuoteManagerConfig {
	if c.PoolSize == 0 {
		c.PoolSize = DefaultPoolSize
	}
	if c.CycleInterval == 0 {
		c.CycleInterval = DefaultCycleInterval
	}
	if c.CycleDeadline == 0 {
		c.CycleDeadline = DefaultCycleDeadline
	}
	if c.UnitSize == 0 {
		c.UnitSize = DefaultUnitSize
	}
	return c
}

// unitOutcome summarizes one dispatch unit after all failover attempts.
type unitOutcome struct {
	succeeded    int
	failed       int
	worstLatency time.Duration
}

// QuoteManager drives the refresh pipeline. Every cycle it snapshots
// the registry, partitions the symbols into dispatch units and runs
// them on a bounded worker pool. Each unit tries the providers in
// priority order; symbols that fail one provider flow to the next
// within the same cycle. Successes stream into the cache and onto the
// bus as they resolve, so fast symbols never wait for slow ones.
type QuoteManager struct {
	registry  *SymbolRegistry
	cache     *QuoteCache
	bus       *EventBus
	providers []providers.Provider

	poolSize      int
	cycleInterval time.Duration
	cycleDeadline time.Duration
	unitSize      int
	gate          CycleGate

	// sem bounds in-flight units; it outlives single cycles so units
	// abandoned at a deadline still hold their slot until they finish.
	sem chan struct{}

	mu         sync.RWMutex
	isRunning  bool
	stopChan   chan struct{}
	lastReport *models.CycleReport

	// touched only by the run goroutine
	cycleSeq int64
	idle     bool
}

// NewQuoteManager validates the configuration and builds a manager.
// An empty provider chain or negative tuning is a configuration error.
func NewQuoteManager(registry *SymbolRegistry, cache *QuoteCache, bus *EventBus, provs []providers.Provider, cfg QuoteManagerConfig) (*QuoteManager, error) {
	if registry == nil || cache == nil || bus == nil {
		return nil, fmt.Errorf("registry, cache and bus are required")
	}
	if len(provs) == 0 {
		return nil, fmt.Errorf("at least one quote provider is required")
	}

	cfg = cfg.withDefaults()
	if cfg.PoolSize < 0 || cfg.UnitSize < 0 {
		return nil, fmt.Errorf("pool size and unit size must be positive")
	}
	if cfg.CycleInterval < 0 || cfg.CycleDeadline < 0 {
		return nil, fmt.Errorf("cycle interval and deadline must be positive")
	}

	return &QuoteManager{
		registry:      registry,
		cache:         cache,
		bus:           bus,
		providers:     provs,
		poolSize:      cfg.PoolSize,
		cycleInterval: cfg.CycleInterval,
		cycleDeadline: cfg.CycleDeadline,
		unitSize:      cfg.UnitSize,
		gate:          cfg.Gate,
		sem:           make(chan struct{}, cfg.PoolSize),
	}, nil
}

// Start launches the cycle loop. Returns an error if already running.
func (m *QuoteManager) Start() error {
	m.mu.Lock()
	if m.isRunning {
		m.mu.Unlock()
		return fmt.Errorf("quote manager already running")
	}
	m.isRunning = true
	m.stopChan = make(chan struct{})
	stop := m.stopChan
	m.mu.Unlock()

	go m.run(stop)

	log.Printf("[QuoteManager] started: %d providers, pool %d, interval %v, deadline %v",
		len(m.providers), m.poolSize, m.cycleInterval, m.cycleDeadline)
	return nil
}

// Stop ends the cycle loop. In-flight units finish in the background;
// their late results are screened by the cache's timestamp rule.
func (m *QuoteManager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.isRunning {
		return
	}
	close(m.stopChan)
	m.isRunning = false
	log.Println("[QuoteManager] stopped")
}

// IsRunning reports whether the cycle loop is active.
func (m *QuoteManager) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.isRunning
}

// LastReport returns the most recent cycle report, or nil before the
// first completed cycle.
func (m *QuoteManager) LastReport() *models.CycleReport {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastReport
}

// ProviderNames returns the configured failover chain in priority order.
func (m *QuoteManager) ProviderNames() []string {
	names := make([]string, 0, len(m.providers))
	for _, p := range m.providers {
		names = append(names, p.Name())
	}
	return names
}

// run fires cycles on a fixed interval anchored to cycle starts. A
// cycle that overruns the interval drops the missed ticks instead of
// stacking further cycles behind it.
func (m *QuoteManager) run(stop chan struct{}) {
	ticker := time.NewTicker(m.cycleInterval)
	defer ticker.Stop()

	m.runCycle(stop)
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.runCycle(stop)
		}
	}
}

// runCycle executes one refresh cycle and emits its report.
func (m *QuoteManager) runCycle(stop chan struct{}) {
	start := time.Now()
	if m.gate != nil && !m.gate(start) {
		if !m.idle {
			m.idle = true
			log.Println("[QuoteManager] outside trading hours, cycles idle")
		}
		return
	}
	if m.idle {
		m.idle = false
		log.Println("[QuoteManager] trading session open, cycles resumed")
	}

	symbols := m.registry.Snapshot()
	if len(symbols) == 0 {
		return
	}

	m.cycleSeq++
	cycle := m.cycleSeq

	units := partitionSymbols(symbols, m.unitSize)
	done := make(chan unitOutcome, len(units))
	for _, unit := range units {
		go m.runUnit(cycle, unit, done)
	}

	report := &models.CycleReport{
		Cycle:     cycle,
		StartedAt: start,
		Attempted: len(symbols),
	}

	deadline := time.NewTimer(m.cycleDeadline)
	defer deadline.Stop()

	resolved := 0
wait:
	for resolved < len(units) {
		select {
		case out := <-done:
			resolved++
			report.Succeeded += out.succeeded
			report.Failed += out.failed
			if out.worstLatency > report.WorstLatency {
				report.WorstLatency = out.worstLatency
			}
		case <-deadline.C:
			break wait
		case <-stop:
			return
		}
	}

	if abandoned := report.Attempted - report.Succeeded - report.Failed; abandoned > 0 {
		report.Abandoned = abandoned
		report.Failed += abandoned
	}
	report.Duration = time.Since(start)

	m.mu.Lock()
	m.lastReport = report
	m.mu.Unlock()

	log.Printf("[QuoteManager] cycle %d: %d/%d quotes in %v (failed %d, worst latency %v)",
		report.Cycle, report.Succeeded, report.Attempted,
		report.Duration.Round(time.Millisecond), report.Failed,
		report.WorstLatency.Round(time.Millisecond))

	m.bus.Publish(models.EventCycleCompleted, report)
}

// runUnit fetches one dispatch unit with per-symbol failover. Adapter
// attempts for a symbol are strictly sequential; symbols that fail a
// provider are retried with the next one until the chain exhausts.
func (m *QuoteManager) runUnit(cycle int64, unit []string, done chan<- unitOutcome) {
	m.sem <- struct{}{}
	defer func() { <-m.sem }()

	var out unitOutcome
	lastErr := make(map[string]*models.FetchError, len(unit))
	remaining := unit

	for _, prov := range m.providers {
		fetchStart := time.Now()
		results := prov.Fetch(context.Background(), remaining)
		if lat := time.Since(fetchStart); lat > out.worstLatency {
			out.worstLatency = lat
		}

		bySymbol := make(map[string]models.FetchResult, len(results))
		for _, res := range results {
			bySymbol[res.Symbol] = res
		}

		var failed []string
		for _, sym := range remaining {
			res, ok := bySymbol[sym]
			if !ok {
				lastErr[sym] = &models.FetchError{
					Provider: prov.Name(),
					Kind:     models.FailNoData,
					Err:      fmt.Errorf("provider returned no result"),
				}
				failed = append(failed, sym)
				continue
			}
			if !res.OK() {
				lastErr[sym] = res.Err
				failed = append(failed, sym)
				continue
			}

			out.succeeded++
			if m.cache.Update(res.Quote) {
				m.bus.Publish(models.EventQuoteUpdated, res.Quote)
			}
		}

		remaining = failed
		if len(remaining) == 0 {
			break
		}
	}

	for _, sym := range remaining {
		out.failed++
		failure := models.SymbolFailure{Symbol: sym, Cycle: cycle}
		if fe := lastErr[sym]; fe != nil {
			failure.Provider = fe.Provider
			failure.Kind = fe.Kind
			log.Printf("[QuoteManager] %s failed after %d providers: %v", sym, len(m.providers), fe)
		}
		m.bus.Publish(models.EventSymbolFailed, failure)
	}

	done <- out
}

// partitionSymbols splits a snapshot into dispatch units.
func partitionSymbols(symbols []string, unitSize int) [][]string {
	if unitSize <= 0 {
		unitSize = DefaultUnitSize
	}
	units := make([][]string, 0, (len(symbols)+unitSize-1)/unitSize)
	for start := 0; start < len(symbols); start += unitSize {
		end := start + unitSize
		if end > len(symbols) {
			end = len(symbols)
		}
		units = append(units, symbols[start:end])
	}
	return units
}
