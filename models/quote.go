package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Quote is an immutable snapshot of one security's realtime state.
// A new Quote supersedes the previous one; fields are never mutated
// after the provider builds it.
type Quote struct {
	Symbol        string          `json:"symbol"`
	Name          string          `json:"name"`
	LastPrice     decimal.Decimal `json:"last_price"`
	Change        decimal.Decimal `json:"change"`
	ChangePercent decimal.Decimal `json:"change_percent"`
	Open          decimal.Decimal `json:"open"`
	High          decimal.Decimal `json:"high"`
	Low           decimal.Decimal `json:"low"`
	PrevClose     decimal.Decimal `json:"prev_close"`
	Volume        int64           `json:"volume"`
	Turnover      decimal.Decimal `json:"turnover"`
	FetchedAt     time.Time       `json:"fetched_at"`
	Provider      string          `json:"provider"`
}

// Amplitude returns the intraday swing as a percent of the previous close.
func (q *Quote) Amplitude() decimal.Decimal {
	if q.PrevClose.IsZero() {
		return decimal.Zero
	}
	return q.High.Sub(q.Low).Div(q.PrevClose).Mul(decimal.NewFromInt(100))
}

// FailureKind classifies why a fetch attempt failed.
type FailureKind string

const (
	FailTimeout    FailureKind = "timeout"
	FailConnection FailureKind = "connection"
	FailBadStatus  FailureKind = "bad_status"
	FailParse      FailureKind = "parse"
	FailNoData     FailureKind = "no_data"
)

// FetchError describes a failed quote fetch from one provider.
type FetchError struct {
	Provider string
	Kind     FailureKind
	Err      error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Provider, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Kind)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// FetchResult is the outcome of one fetch attempt for one symbol.
// Exactly one of Quote or Err is set.
type FetchResult struct {
	Symbol string
	Quote  *Quote
	Err    *FetchError
}

// Success wraps a quote in a successful result.
func Success(q *Quote) FetchResult {
	return FetchResult{Symbol: q.Symbol, Quote: q}
}

// Failure builds a failed result for a symbol.
func Failure(symbol, provider string, kind FailureKind, err error) FetchResult {
	return FetchResult{
		Symbol: symbol,
		Err:    &FetchError{Provider: provider, Kind: kind, Err: err},
	}
}

// OK reports whether the result carries a quote.
func (r FetchResult) OK() bool {
	return r.Err == nil && r.Quote != nil
}

// SymbolFailure is published when a symbol exhausts every provider in a cycle.
// It carries the last provider's failure only.
type SymbolFailure struct {
	Symbol   string      `json:"symbol"`
	Provider string      `json:"provider"`
	Kind     FailureKind `json:"kind"`
	Cycle    int64       `json:"cycle"`
}

// CycleReport summarizes one refresh cycle. Emitted once per cycle and
// not retained by the pipeline itself.
type CycleReport struct {
	Cycle        int64         `json:"cycle"`
	StartedAt    time.Time     `json:"started_at"`
	Attempted    int           `json:"attempted"`
	Succeeded    int           `json:"succeeded"`
	Failed       int           `json:"failed"`
	Abandoned    int           `json:"abandoned"`
	Duration     time.Duration `json:"duration"`
	WorstLatency time.Duration `json:"worst_latency"`
}
