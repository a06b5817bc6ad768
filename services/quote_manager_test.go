package services_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/maogitmao/billions-dollars/models"
	"github.com/maogitmao/billions-dollars/providers"
	"github.com/maogitmao/billions-dollars/services"
)

// stubProvider answers fetches from a per-symbol handler, records every
// batch it receives and tracks how many fetches ran concurrently.
type stubProvider struct {
	name   string
	delay  time.Duration
	handle func(symbol string) models.FetchResult

	mu      sync.Mutex
	calls   [][]string
	active  atomic.Int32
	maxSeen atomic.Int32
}

func (p *stubProvider) Name() string { return p.name }

func (p *stubProvider) Fetch(ctx context.Context, symbols []string) []models.FetchResult {
	cur := p.active.Add(1)
	defer p.active.Add(-1)
	for {
		seen := p.maxSeen.Load()
		if cur <= seen || p.maxSeen.CompareAndSwap(seen, cur) {
			break
		}
	}

	p.mu.Lock()
	p.calls = append(p.calls, append([]string(nil), symbols...))
	p.mu.Unlock()

	if p.delay > 0 {
		time.Sleep(p.delay)
	}

	results := make([]models.FetchResult, 0, len(symbols))
	for _, sym := range symbols {
		results = append(results, p.handle(sym))
	}
	return results
}

func (p *stubProvider) batches() [][]string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([][]string, len(p.calls))
	copy(out, p.calls)
	return out
}

func okAll(provider string) func(string) models.FetchResult {
	return func(sym string) models.FetchResult {
		return models.Success(&models.Quote{
			Symbol:    sym,
			LastPrice: decimal.NewFromInt(10),
			FetchedAt: time.Now(),
			Provider:  provider,
		})
	}
}

func failAll(provider string, kind models.FailureKind) func(string) models.FetchResult {
	return func(sym string) models.FetchResult {
		return models.Failure(sym, provider, kind, fmt.Errorf("stubbed %s", kind))
	}
}

func seedRegistry(t *testing.T, reg *services.SymbolRegistry, symbols ...string) {
	t.Helper()
	for _, sym := range symbols {
		_, err := reg.Add(sym)
		require.NoError(t, err)
	}
}

func subscribeReports(bus *services.EventBus) <-chan *models.CycleReport {
	ch := make(chan *models.CycleReport, 64)
	bus.Subscribe(models.EventCycleCompleted, func(kind models.EventKind, payload interface{}) {
		ch <- payload.(*models.CycleReport)
	})
	return ch
}

func awaitReport(t *testing.T, ch <-chan *models.CycleReport) *models.CycleReport {
	t.Helper()
	select {
	case report := <-ch:
		return report
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a cycle report")
		return nil
	}
}

func TestQuoteManagerRejectsBadConfig(t *testing.T) {
	t.Parallel()

	reg := services.NewSymbolRegistry(0)
	cache := services.NewQuoteCache()
	bus := services.NewEventBus()
	provs := []providers.Provider{&stubProvider{name: "sina", handle: okAll("sina")}}

	_, err := services.NewQuoteManager(nil, cache, bus, provs, services.QuoteManagerConfig{})
	require.Error(t, err)

	_, err = services.NewQuoteManager(reg, cache, bus, nil, services.QuoteManagerConfig{})
	require.Error(t, err)

	_, err = services.NewQuoteManager(reg, cache, bus, provs, services.QuoteManagerConfig{PoolSize: -1})
	require.Error(t, err)

	_, err = services.NewQuoteManager(reg, cache, bus, provs, services.QuoteManagerConfig{CycleInterval: -time.Second})
	require.Error(t, err)
}

func TestQuoteManagerStartStop(t *testing.T) {
	t.Parallel()

	reg := services.NewSymbolRegistry(0)
	prov := &stubProvider{name: "sina", handle: okAll("sina")}
	mgr, err := services.NewQuoteManager(reg, services.NewQuoteCache(), services.NewEventBus(),
		[]providers.Provider{prov}, services.QuoteManagerConfig{CycleInterval: time.Hour})
	require.NoError(t, err)

	require.Equal(t, []string{"sina"}, mgr.ProviderNames())
	require.False(t, mgr.IsRunning())
	require.Nil(t, mgr.LastReport())

	require.NoError(t, mgr.Start())
	require.True(t, mgr.IsRunning())
	require.Error(t, mgr.Start(), "double start must fail")

	mgr.Stop()
	require.False(t, mgr.IsRunning())
	mgr.Stop()
}

func TestQuoteManagerEmptyWatchlistProducesNoReports(t *testing.T) {
	t.Parallel()

	reg := services.NewSymbolRegistry(0)
	bus := services.NewEventBus()
	reportCh := subscribeReports(bus)

	prov := &stubProvider{name: "sina", handle: okAll("sina")}
	mgr, err := services.NewQuoteManager(reg, services.NewQuoteCache(), bus,
		[]providers.Provider{prov}, services.QuoteManagerConfig{CycleInterval: 20 * time.Millisecond})
	require.NoError(t, err)
	require.NoError(t, mgr.Start())
	defer mgr.Stop()

	select {
	case <-reportCh:
		t.Fatal("no cycles should report for an empty watch-list")
	case <-time.After(120 * time.Millisecond):
	}
	require.Nil(t, mgr.LastReport())
	require.Empty(t, prov.batches())
}

func TestQuoteManagerCycleFetchesWatchedSymbols(t *testing.T) {
	t.Parallel()

	reg := services.NewSymbolRegistry(0)
	seedRegistry(t, reg, "sh600519", "sz000001")
	cache := services.NewQuoteCache()
	bus := services.NewEventBus()
	reportCh := subscribeReports(bus)

	quoteCh := make(chan *models.Quote, 4)
	bus.Subscribe(models.EventQuoteUpdated, func(kind models.EventKind, payload interface{}) {
		quoteCh <- payload.(*models.Quote)
	})

	prov := &stubProvider{name: "sina", handle: okAll("sina")}
	mgr, err := services.NewQuoteManager(reg, cache, bus, []providers.Provider{prov},
		services.QuoteManagerConfig{CycleInterval: time.Hour})
	require.NoError(t, err)
	require.NoError(t, mgr.Start())
	defer mgr.Stop()

	report := awaitReport(t, reportCh)
	require.Equal(t, int64(1), report.Cycle)
	require.Equal(t, 2, report.Attempted)
	require.Equal(t, 2, report.Succeeded)
	require.Equal(t, 0, report.Failed)
	require.Equal(t, 0, report.Abandoned)

	// Two symbols fit one dispatch unit, so the provider saw one batch.
	require.Equal(t, [][]string{{"sh600519", "sz000001"}}, prov.batches())

	for _, sym := range []string{"sh600519", "sz000001"} {
		q, ok := cache.Get(sym)
		require.True(t, ok, "quote for %s should be cached", sym)
		require.Equal(t, "sina", q.Provider)
	}
	require.Len(t, quoteCh, 2)
	require.Equal(t, report, mgr.LastReport())
}

func TestQuoteManagerFailsOverInProviderOrder(t *testing.T) {
	t.Parallel()

	primary := &stubProvider{name: "sina", handle: failAll("sina", models.FailBadStatus)}
	backup := &stubProvider{name: "netease", handle: okAll("netease")}
	last := &stubProvider{name: "tencent", handle: okAll("tencent")}

	reg := services.NewSymbolRegistry(0)
	seedRegistry(t, reg, "sh600519")
	cache := services.NewQuoteCache()
	bus := services.NewEventBus()
	reportCh := subscribeReports(bus)

	mgr, err := services.NewQuoteManager(reg, cache, bus,
		[]providers.Provider{primary, backup, last},
		services.QuoteManagerConfig{CycleInterval: time.Hour})
	require.NoError(t, err)
	require.NoError(t, mgr.Start())
	defer mgr.Stop()

	report := awaitReport(t, reportCh)
	require.Equal(t, 1, report.Succeeded)
	require.Equal(t, 0, report.Failed)

	require.Len(t, primary.batches(), 1)
	require.Len(t, backup.batches(), 1)
	require.Empty(t, last.batches(), "failover must stop at the first provider that succeeds")

	q, ok := cache.Get("sh600519")
	require.True(t, ok)
	require.Equal(t, "netease", q.Provider)
}

func TestQuoteManagerRetriesOnlyFailedSymbols(t *testing.T) {
	t.Parallel()

	primary := &stubProvider{name: "sina", handle: func(sym string) models.FetchResult {
		if sym == "sz000001" {
			return models.Failure(sym, "sina", models.FailParse, fmt.Errorf("malformed record"))
		}
		return okAll("sina")(sym)
	}}
	backup := &stubProvider{name: "netease", handle: okAll("netease")}

	reg := services.NewSymbolRegistry(0)
	seedRegistry(t, reg, "sh600519", "sz000001")
	cache := services.NewQuoteCache()
	bus := services.NewEventBus()
	reportCh := subscribeReports(bus)

	mgr, err := services.NewQuoteManager(reg, cache, bus,
		[]providers.Provider{primary, backup},
		services.QuoteManagerConfig{CycleInterval: time.Hour})
	require.NoError(t, err)
	require.NoError(t, mgr.Start())
	defer mgr.Stop()

	report := awaitReport(t, reportCh)
	require.Equal(t, 2, report.Succeeded)
	require.Equal(t, 0, report.Failed)

	// The backup provider only sees the symbol the primary failed.
	require.Equal(t, [][]string{{"sh600519", "sz000001"}}, primary.batches())
	require.Equal(t, [][]string{{"sz000001"}}, backup.batches())

	kept, _ := cache.Get("sh600519")
	require.Equal(t, "sina", kept.Provider)
	retried, _ := cache.Get("sz000001")
	require.Equal(t, "netease", retried.Provider)
}

func TestQuoteManagerPublishesExhaustedSymbols(t *testing.T) {
	t.Parallel()

	primary := &stubProvider{name: "sina", handle: failAll("sina", models.FailTimeout)}
	backup := &stubProvider{name: "netease", handle: failAll("netease", models.FailConnection)}

	reg := services.NewSymbolRegistry(0)
	seedRegistry(t, reg, "sh600519")
	cache := services.NewQuoteCache()
	bus := services.NewEventBus()
	reportCh := subscribeReports(bus)

	failCh := make(chan models.SymbolFailure, 1)
	bus.Subscribe(models.EventSymbolFailed, func(kind models.EventKind, payload interface{}) {
		failCh <- payload.(models.SymbolFailure)
	})

	mgr, err := services.NewQuoteManager(reg, cache, bus,
		[]providers.Provider{primary, backup},
		services.QuoteManagerConfig{CycleInterval: time.Hour})
	require.NoError(t, err)
	require.NoError(t, mgr.Start())
	defer mgr.Stop()

	report := awaitReport(t, reportCh)
	require.Equal(t, 0, report.Succeeded)
	require.Equal(t, 1, report.Failed)
	require.Equal(t, 0, report.Abandoned)

	select {
	case failure := <-failCh:
		require.Equal(t, "sh600519", failure.Symbol)
		require.Equal(t, "netease", failure.Provider, "failure must carry the last provider tried")
		require.Equal(t, models.FailConnection, failure.Kind)
		require.Equal(t, int64(1), failure.Cycle)
	default:
		t.Fatal("expected a symbol-failed event")
	}
	require.Equal(t, 0, cache.Len())
}

func TestQuoteManagerBoundsUnitConcurrency(t *testing.T) {
	t.Parallel()

	prov := &stubProvider{name: "sina", delay: 40 * time.Millisecond, handle: okAll("sina")}

	reg := services.NewSymbolRegistry(0)
	seedRegistry(t, reg, "sh600000", "sh600001", "sh600002", "sh600003", "sh600004", "sh600005")
	bus := services.NewEventBus()
	reportCh := subscribeReports(bus)

	mgr, err := services.NewQuoteManager(reg, services.NewQuoteCache(), bus,
		[]providers.Provider{prov},
		services.QuoteManagerConfig{CycleInterval: time.Hour, PoolSize: 2, UnitSize: 1})
	require.NoError(t, err)
	require.NoError(t, mgr.Start())
	defer mgr.Stop()

	report := awaitReport(t, reportCh)
	require.Equal(t, 6, report.Succeeded)
	require.Len(t, prov.batches(), 6)
	require.LessOrEqual(t, prov.maxSeen.Load(), int32(2),
		"no more than PoolSize units may fetch at once")
}

func TestQuoteManagerAbandonsUnitsAtDeadline(t *testing.T) {
	t.Parallel()

	prov := &stubProvider{name: "sina", delay: 2 * time.Second, handle: okAll("sina")}

	reg := services.NewSymbolRegistry(0)
	seedRegistry(t, reg, "sh600519", "sz000001")
	bus := services.NewEventBus()
	reportCh := subscribeReports(bus)

	mgr, err := services.NewQuoteManager(reg, services.NewQuoteCache(), bus,
		[]providers.Provider{prov},
		services.QuoteManagerConfig{
			CycleInterval: time.Hour,
			CycleDeadline: 100 * time.Millisecond,
			UnitSize:      1,
		})
	require.NoError(t, err)

	start := time.Now()
	require.NoError(t, mgr.Start())
	defer mgr.Stop()

	report := awaitReport(t, reportCh)
	require.Less(t, time.Since(start), time.Second, "the report must not wait for slow units")
	require.Equal(t, 2, report.Attempted)
	require.Equal(t, 0, report.Succeeded)
	require.Equal(t, 2, report.Abandoned)
	require.Equal(t, 2, report.Failed, "abandoned units count as failed")
}

func TestQuoteManagerStreamsResultsAsUnitsResolve(t *testing.T) {
	t.Parallel()

	slow := make(chan struct{})
	prov := &stubProvider{name: "sina", handle: func(sym string) models.FetchResult {
		if sym == "sz000001" {
			<-slow
		}
		return okAll("sina")(sym)
	}}

	reg := services.NewSymbolRegistry(0)
	seedRegistry(t, reg, "sh600519", "sz000001")
	bus := services.NewEventBus()
	reportCh := subscribeReports(bus)

	quoteCh := make(chan *models.Quote, 4)
	bus.Subscribe(models.EventQuoteUpdated, func(kind models.EventKind, payload interface{}) {
		quoteCh <- payload.(*models.Quote)
	})

	mgr, err := services.NewQuoteManager(reg, services.NewQuoteCache(), bus,
		[]providers.Provider{prov},
		services.QuoteManagerConfig{
			CycleInterval: time.Hour,
			CycleDeadline: time.Minute,
			UnitSize:      1,
		})
	require.NoError(t, err)
	require.NoError(t, mgr.Start())
	defer mgr.Stop()

	// The fast unit's quote must arrive while the slow unit still blocks.
	var quote *models.Quote
	select {
	case quote = <-quoteCh:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the fast symbol's quote event")
	}
	require.Equal(t, "sh600519", quote.Symbol)

	select {
	case <-reportCh:
		t.Fatal("cycle report must wait for the slow unit")
	default:
	}

	close(slow)
	report := awaitReport(t, reportCh)
	require.Equal(t, 2, report.Succeeded)
}

func TestQuoteManagerExhaustsChainUntilSuccess(t *testing.T) {
	t.Parallel()

	first := &stubProvider{name: "sina", handle: failAll("sina", models.FailTimeout)}
	second := &stubProvider{name: "netease", handle: failAll("netease", models.FailBadStatus)}
	third := &stubProvider{name: "tencent", handle: okAll("tencent")}

	reg := services.NewSymbolRegistry(0)
	seedRegistry(t, reg, "sh600519")
	cache := services.NewQuoteCache()
	bus := services.NewEventBus()
	reportCh := subscribeReports(bus)

	mgr, err := services.NewQuoteManager(reg, cache, bus,
		[]providers.Provider{first, second, third},
		services.QuoteManagerConfig{CycleInterval: time.Hour})
	require.NoError(t, err)
	require.NoError(t, mgr.Start())
	defer mgr.Stop()

	report := awaitReport(t, reportCh)
	require.Equal(t, 1, report.Succeeded)
	require.Equal(t, 0, report.Failed)

	// Exactly one attempt per provider for the symbol, in priority order.
	require.Equal(t, [][]string{{"sh600519"}}, first.batches())
	require.Equal(t, [][]string{{"sh600519"}}, second.batches())
	require.Equal(t, [][]string{{"sh600519"}}, third.batches())

	q, ok := cache.Get("sh600519")
	require.True(t, ok)
	require.Equal(t, "tencent", q.Provider)
}

func TestQuoteManagerRunsCyclesOnInterval(t *testing.T) {
	t.Parallel()

	prov := &stubProvider{name: "sina", handle: okAll("sina")}

	reg := services.NewSymbolRegistry(0)
	seedRegistry(t, reg, "sh600519")
	bus := services.NewEventBus()
	reportCh := subscribeReports(bus)

	mgr, err := services.NewQuoteManager(reg, services.NewQuoteCache(), bus,
		[]providers.Provider{prov},
		services.QuoteManagerConfig{CycleInterval: 25 * time.Millisecond})
	require.NoError(t, err)
	require.NoError(t, mgr.Start())
	defer mgr.Stop()

	for want := int64(1); want <= 3; want++ {
		report := awaitReport(t, reportCh)
		require.Equal(t, want, report.Cycle, "cycles must number sequentially on the ticker")
		require.Equal(t, 1, report.Succeeded)
	}
}

func TestQuoteManagerScreensLateResults(t *testing.T) {
	t.Parallel()

	stale := time.Now().Add(-time.Hour)
	blocked := make(chan struct{})
	prov := &stubProvider{name: "sina", handle: func(sym string) models.FetchResult {
		<-blocked
		return models.Success(&models.Quote{
			Symbol:    sym,
			LastPrice: decimal.NewFromInt(9),
			FetchedAt: stale,
			Provider:  "sina",
		})
	}}

	reg := services.NewSymbolRegistry(0)
	seedRegistry(t, reg, "sh600519")
	cache := services.NewQuoteCache()
	bus := services.NewEventBus()
	reportCh := subscribeReports(bus)

	quoteCh := make(chan *models.Quote, 4)
	bus.Subscribe(models.EventQuoteUpdated, func(kind models.EventKind, payload interface{}) {
		quoteCh <- payload.(*models.Quote)
	})

	mgr, err := services.NewQuoteManager(reg, cache, bus,
		[]providers.Provider{prov},
		services.QuoteManagerConfig{
			CycleInterval: time.Hour,
			CycleDeadline: 80 * time.Millisecond,
		})
	require.NoError(t, err)
	require.NoError(t, mgr.Start())
	defer mgr.Stop()

	report := awaitReport(t, reportCh)
	require.Equal(t, 1, report.Abandoned)

	// A fresher result lands before the abandoned unit resolves.
	fresh := &models.Quote{
		Symbol:    "sh600519",
		LastPrice: decimal.NewFromInt(11),
		FetchedAt: time.Now(),
		Provider:  "netease",
	}
	require.True(t, cache.Update(fresh))

	// Release the stuck fetch and give its unit time to finish.
	close(blocked)
	time.Sleep(100 * time.Millisecond)

	got, ok := cache.Get("sh600519")
	require.True(t, ok)
	require.Equal(t, "netease", got.Provider, "the stale late result must not displace the fresher quote")
	require.True(t, got.LastPrice.Equal(decimal.NewFromInt(11)))
	require.Len(t, quoteCh, 0, "a rejected late result must not publish a quote event")
}

func TestQuoteManagerGateIdlesCycles(t *testing.T) {
	t.Parallel()

	var open atomic.Bool
	prov := &stubProvider{name: "sina", handle: okAll("sina")}

	reg := services.NewSymbolRegistry(0)
	seedRegistry(t, reg, "sh600519")
	bus := services.NewEventBus()
	reportCh := subscribeReports(bus)

	mgr, err := services.NewQuoteManager(reg, services.NewQuoteCache(), bus,
		[]providers.Provider{prov},
		services.QuoteManagerConfig{
			CycleInterval: 20 * time.Millisecond,
			Gate:          func(time.Time) bool { return open.Load() },
		})
	require.NoError(t, err)
	require.NoError(t, mgr.Start())
	defer mgr.Stop()

	select {
	case <-reportCh:
		t.Fatal("no cycle should run while the gate is closed")
	case <-time.After(150 * time.Millisecond):
	}
	require.Nil(t, mgr.LastReport())

	open.Store(true)
	report := awaitReport(t, reportCh)
	require.Equal(t, int64(1), report.Cycle, "gated ticks must not consume cycle numbers")
	require.Equal(t, 1, report.Succeeded)
}
