package services_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/maogitmao/billions-dollars/models"
	"github.com/maogitmao/billions-dollars/services"
)

func archiveQuote(symbol, price string, fetchedAt time.Time) *models.Quote {
	return &models.Quote{
		Symbol:    symbol,
		Name:      "贵州茅台",
		LastPrice: decimal.RequireFromString(price),
		Change:    decimal.RequireFromString("10.5"),
		PrevClose: decimal.RequireFromString("1690"),
		Volume:    3123456,
		Turnover:  decimal.RequireFromString("5312345678"),
		FetchedAt: fetchedAt,
		Provider:  "sina",
	}
}

func TestArchiveServiceRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "market.db")
	svc, err := services.NewArchiveService(path)
	require.NoError(t, err)
	svc.Start()

	base := time.Now().Add(-time.Hour).Truncate(time.Second)
	quotes := svc.QuoteSubscriber()
	quotes(models.EventQuoteUpdated, archiveQuote("sh600519", "1700.00", base))
	quotes(models.EventQuoteUpdated, archiveQuote("sh600519", "1701.50", base.Add(3*time.Second)))
	quotes(models.EventQuoteUpdated, archiveQuote("sz000001", "10.55", base.Add(3*time.Second)))
	quotes(models.EventQuoteUpdated, "not a quote")

	svc.CycleSubscriber()(models.EventCycleCompleted, &models.CycleReport{
		Cycle:        7,
		StartedAt:    base,
		Attempted:    2,
		Succeeded:    1,
		Failed:       1,
		Abandoned:    1,
		Duration:     1200 * time.Millisecond,
		WorstLatency: 800 * time.Millisecond,
	})

	svc.AlertSubscriber()(models.EventAlertTriggered, models.AlertEvent{
		RuleID:      3,
		Symbol:      "sh600519",
		Kind:        models.AlertPriceAbove,
		Threshold:   decimal.RequireFromString("1700"),
		Price:       decimal.RequireFromString("1701.50"),
		Message:     "sh600519 price 1701.50 reached 1700",
		TriggeredAt: base.Add(3 * time.Second),
	})

	// Stop flushes every pending insert before closing the database.
	svc.Stop()
	require.Zero(t, svc.Dropped())

	reopened, err := services.NewArchiveService(path)
	require.NoError(t, err)
	reopened.Start()
	defer reopened.Stop()

	history, err := reopened.QuoteHistory("sh600519", 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	// Newest first.
	require.True(t, history[0].LastPrice.Equal(decimal.RequireFromString("1701.50")))
	require.True(t, history[1].LastPrice.Equal(decimal.RequireFromString("1700.00")))
	require.Equal(t, "贵州茅台", history[0].Name)
	require.Equal(t, int64(3123456), history[0].Volume)
	require.Equal(t, "sina", history[0].Provider)

	limited, err := reopened.QuoteHistory("sh600519", 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)

	reports, err := reopened.RecentReports(5)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	require.Equal(t, int64(7), reports[0].Cycle)
	require.Equal(t, 2, reports[0].Attempted)
	require.Equal(t, 1, reports[0].Abandoned)
	require.Equal(t, 1200*time.Millisecond, reports[0].Duration)
	require.Equal(t, 800*time.Millisecond, reports[0].WorstLatency)
}

func TestArchiveServicePruneBefore(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "market.db")
	svc, err := services.NewArchiveService(path)
	require.NoError(t, err)
	svc.Start()

	old := time.Now().AddDate(0, 0, -40)
	fresh := time.Now().Add(-time.Minute)
	quotes := svc.QuoteSubscriber()
	quotes(models.EventQuoteUpdated, archiveQuote("sh600519", "1650.00", old))
	quotes(models.EventQuoteUpdated, archiveQuote("sh600519", "1700.00", fresh))
	svc.Stop()

	reopened, err := services.NewArchiveService(path)
	require.NoError(t, err)
	reopened.Start()
	defer reopened.Stop()

	removed, err := reopened.PruneBefore(time.Now().AddDate(0, 0, -30))
	require.NoError(t, err)
	require.Equal(t, int64(1), removed)
	require.NoError(t, reopened.Vacuum())

	history, err := reopened.QuoteHistory("sh600519", 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.True(t, history[0].LastPrice.Equal(decimal.RequireFromString("1700.00")))
}

func TestArchiveServiceDropsWhenSaturated(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "market.db")
	svc, err := services.NewArchiveService(path)
	require.NoError(t, err)

	// The writer is not running, so the alert buffer fills and the
	// overflow is counted instead of blocking the bus.
	alerts := svc.AlertSubscriber()
	for i := 0; i < 70; i++ {
		alerts(models.EventAlertTriggered, models.AlertEvent{
			RuleID:      1,
			Symbol:      "sh600519",
			Kind:        models.AlertPriceAbove,
			TriggeredAt: time.Now(),
		})
	}
	require.Equal(t, int64(6), svc.Dropped())

	svc.Start()
	svc.Stop()
}
