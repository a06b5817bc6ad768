package services_test

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/maogitmao/billions-dollars/models"
	"github.com/maogitmao/billions-dollars/services"
)

func cachedQuote(symbol string, price string, fetchedAt time.Time) *models.Quote {
	return &models.Quote{
		Symbol:    symbol,
		Name:      "测试",
		LastPrice: decimal.RequireFromString(price),
		FetchedAt: fetchedAt,
		Provider:  "sina",
	}
}

func TestQuoteCacheMiss(t *testing.T) {
	t.Parallel()

	cache := services.NewQuoteCache()

	q, ok := cache.Get("sh600519")
	require.False(t, ok)
	require.Nil(t, q)

	_, ok = cache.UpdatedAt("sh600519")
	require.False(t, ok)
	require.Equal(t, 0, cache.Len())
}

func TestQuoteCacheUpdateAndGet(t *testing.T) {
	t.Parallel()

	cache := services.NewQuoteCache()
	quote := cachedQuote("sh600519", "1700.50", time.Now())

	require.True(t, cache.Update(quote))

	got, ok := cache.Get("sh600519")
	require.True(t, ok)
	require.Equal(t, quote, got)

	_, ok = cache.UpdatedAt("sh600519")
	require.True(t, ok)
	require.Equal(t, 1, cache.Len())
}

func TestQuoteCacheRejectsStaleQuotes(t *testing.T) {
	t.Parallel()

	cache := services.NewQuoteCache()
	now := time.Now()

	require.True(t, cache.Update(cachedQuote("sh600519", "1700.50", now)))

	// An older fetch must never overwrite a fresher quote.
	require.False(t, cache.Update(cachedQuote("sh600519", "1690.00", now.Add(-time.Second))))

	// The same fetch timestamp is a duplicate, not an update.
	require.False(t, cache.Update(cachedQuote("sh600519", "1695.00", now)))

	got, ok := cache.Get("sh600519")
	require.True(t, ok)
	require.True(t, got.LastPrice.Equal(decimal.RequireFromString("1700.50")))

	// A strictly newer fetch wins.
	require.True(t, cache.Update(cachedQuote("sh600519", "1710.00", now.Add(time.Second))))

	got, _ = cache.Get("sh600519")
	require.True(t, got.LastPrice.Equal(decimal.RequireFromString("1710.00")))
	require.Equal(t, 1, cache.Len())
}

func TestQuoteCacheIgnoresNil(t *testing.T) {
	t.Parallel()

	cache := services.NewQuoteCache()
	require.False(t, cache.Update(nil))
	require.Equal(t, 0, cache.Len())
}

func TestQuoteCacheSnapshotSortedBySymbol(t *testing.T) {
	t.Parallel()

	cache := services.NewQuoteCache()
	now := time.Now()
	for _, sym := range []string{"sz000858", "sh600519", "sh600036"} {
		require.True(t, cache.Update(cachedQuote(sym, "10.00", now)))
	}

	snap := cache.Snapshot()
	require.Len(t, snap, 3)
	require.Equal(t, "sh600036", snap[0].Symbol)
	require.Equal(t, "sh600519", snap[1].Symbol)
	require.Equal(t, "sz000858", snap[2].Symbol)
}

func TestQuoteCacheConcurrentUpdatesKeepNewest(t *testing.T) {
	t.Parallel()

	cache := services.NewQuoteCache()
	base := time.Now()
	newest := base.Add(49 * time.Millisecond)

	// Interleaved writers with distinct timestamps must converge on the
	// newest fetch no matter how the scheduler orders them.
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			at := base.Add(time.Duration(i) * time.Millisecond)
			cache.Update(cachedQuote("sh600519", fmt.Sprintf("%d.00", 100+i), at))
		}(i)
	}
	wg.Wait()

	got, ok := cache.Get("sh600519")
	require.True(t, ok)
	require.True(t, got.FetchedAt.Equal(newest))
	require.True(t, got.LastPrice.Equal(decimal.RequireFromString("149.00")))
	require.Equal(t, 1, cache.Len())
}
