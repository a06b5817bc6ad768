package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/maogitmao/billions-dollars/models"
)

const (
	neteaseQuoteURL   = "https://api.money.126.net/data/feed/"
	neteaseProviderID = "netease"
)

// neteaseQuote mirrors one entry of the NetEase feed response. Numeric
// fields are decoded as json.Number so prices keep their exact form.
type neteaseQuote struct {
	Name      string      `json:"name"`
	Price     json.Number `json:"price"`
	YestClose json.Number `json:"yestclose"`
	Open      json.Number `json:"open"`
	High      json.Number `json:"high"`
	Low       json.Number `json:"low"`
	UpDown    json.Number `json:"updown"`
	Percent   json.Number `json:"percent"`
	Volume    json.Number `json:"volume"`
	Turnover  json.Number `json:"turnover"`
	Time      string      `json:"time"`
}

// NetEaseProvider fetches quotes from the NetEase money feed. Responses
// are JSONP wrapping a JSON object keyed by the NetEase symbol form,
// where the exchange prefix is a digit: sh -> 0, sz -> 1.
type NetEaseProvider struct {
	client  *http.Client
	timeout time.Duration
	baseURL string
}

// NewNetEaseProvider creates a NetEase quote provider with a per-call timeout.
func NewNetEaseProvider(timeout time.Duration) *NetEaseProvider {
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	return &NetEaseProvider{
		client:  &http.Client{Timeout: timeout},
		timeout: timeout,
		baseURL: neteaseQuoteURL,
	}
}

// Name returns the provider identifier.
func (p *NetEaseProvider) Name() string {
	return neteaseProviderID
}

// Fetch retrieves quotes for all symbols in one batched request.
func (p *NetEaseProvider) Fetch(ctx context.Context, symbols []string) []models.FetchResult {
	if len(symbols) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	codes := make([]string, 0, len(symbols))
	for _, sym := range symbols {
		codes = append(codes, neteaseCode(sym))
	}

	url := p.baseURL + strings.Join(codes, ",")
	body, ferr := fetchBody(ctx, p.client, url, nil)
	if ferr != nil {
		return failAll(symbols, p.Name(), ferr.Kind, ferr.Err)
	}

	payload, err := stripJSONP(string(body))
	if err != nil {
		return failAll(symbols, p.Name(), models.FailParse, err)
	}

	dec := json.NewDecoder(strings.NewReader(payload))
	dec.UseNumber()
	var feed map[string]neteaseQuote
	if err := dec.Decode(&feed); err != nil {
		return failAll(symbols, p.Name(), models.FailParse, fmt.Errorf("decode feed: %w", err))
	}

	now := time.Now()
	results := make([]models.FetchResult, 0, len(symbols))
	for _, sym := range symbols {
		raw, ok := feed[neteaseCode(sym)]
		if !ok {
			results = append(results, models.Failure(sym, p.Name(), models.FailNoData, fmt.Errorf("no record in feed")))
			continue
		}
		quote, err := p.parseQuote(sym, raw, now)
		if err != nil {
			results = append(results, models.Failure(sym, p.Name(), models.FailParse, err))
			continue
		}
		results = append(results, models.Success(quote))
	}
	return results
}

func (p *NetEaseProvider) parseQuote(symbol string, raw neteaseQuote, fetchedAt time.Time) (*models.Quote, error) {
	price, err := numberDecimal(raw.Price, "price")
	if err != nil {
		return nil, err
	}
	prevClose, err := numberDecimal(raw.YestClose, "yestclose")
	if err != nil {
		return nil, err
	}
	open, err := numberDecimal(raw.Open, "open")
	if err != nil {
		return nil, err
	}
	high, err := numberDecimal(raw.High, "high")
	if err != nil {
		return nil, err
	}
	low, err := numberDecimal(raw.Low, "low")
	if err != nil {
		return nil, err
	}
	change, err := numberDecimal(raw.UpDown, "updown")
	if err != nil {
		return nil, err
	}
	percent, err := numberDecimal(raw.Percent, "percent")
	if err != nil {
		return nil, err
	}
	volume, err := numberDecimal(raw.Volume, "volume")
	if err != nil {
		return nil, err
	}
	turnover, err := numberDecimal(raw.Turnover, "turnover")
	if err != nil {
		return nil, err
	}

	return &models.Quote{
		Symbol:    symbol,
		Name:      strings.TrimSpace(raw.Name),
		LastPrice: price,
		Change:    change,
		// NetEase reports percent as a fraction (0.0123 = 1.23%)
		ChangePercent: percent.Mul(decimal.NewFromInt(100)).Round(2),
		Open:          open,
		High:          high,
		Low:           low,
		PrevClose:     prevClose,
		Volume:        volume.IntPart(),
		Turnover:      turnover,
		FetchedAt:     fetchedAt,
		Provider:      p.Name(),
	}, nil
}

// neteaseCode converts sh600000 -> 0600000 and sz000001 -> 1000001.
func neteaseCode(symbol string) string {
	switch {
	case strings.HasPrefix(symbol, "sh"):
		return "0" + symbol[2:]
	case strings.HasPrefix(symbol, "sz"):
		return "1" + symbol[2:]
	}
	return symbol
}

// stripJSONP unwraps _ntes_quote_callback({...}); to its JSON body.
func stripJSONP(body string) (string, error) {
	start := strings.Index(body, "(")
	end := strings.LastIndex(body, ")")
	if start < 0 || end <= start {
		return "", fmt.Errorf("response is not a JSONP callback")
	}
	return body[start+1 : end], nil
}

// numberDecimal converts a json.Number field, treating absence as an error.
func numberDecimal(n json.Number, field string) (decimal.Decimal, error) {
	if n.String() == "" {
		return decimal.Zero, fmt.Errorf("missing field %s", field)
	}
	d, err := decimal.NewFromString(n.String())
	if err != nil {
		return decimal.Zero, fmt.Errorf("field %s: %w", field, err)
	}
	return d, nil
}
