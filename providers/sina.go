package providers

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/transform"

	"github.com/maogitmao/billions-dollars/models"
)

const (
	sinaQuoteURL   = "https://hq.sinajs.cn/list="
	sinaReferer    = "https://finance.sina.com.cn"
	sinaMinFields  = 32
	sinaProviderID = "sina"
)

// SinaProvider fetches quotes from the Sina HQ service. Responses are
// GBK-encoded Javascript assignments, one line per symbol.
type SinaProvider struct {
	client  *http.Client
	timeout time.Duration
	baseURL string
}

// NewSinaProvider creates a Sina quote provider with a per-call timeout.
func NewSinaProvider(timeout time.Duration) *SinaProvider {
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	return &SinaProvider{
		client:  &http.Client{Timeout: timeout},
		timeout: timeout,
		baseURL: sinaQuoteURL,
	}
}

// Name returns the provider identifier.
func (p *SinaProvider) Name() string {
	return sinaProviderID
}

// Fetch retrieves quotes for all symbols in one batched request.
func (p *SinaProvider) Fetch(ctx context.Context, symbols []string) []models.FetchResult {
	if len(symbols) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	url := p.baseURL + strings.Join(symbols, ",")
	body, ferr := fetchBody(ctx, p.client, url, map[string]string{"Referer": sinaReferer})
	if ferr != nil {
		return failAll(symbols, p.Name(), ferr.Kind, ferr.Err)
	}

	decoded, err := io.ReadAll(transform.NewReader(bytes.NewReader(body), simplifiedchinese.GBK.NewDecoder()))
	if err != nil {
		return failAll(symbols, p.Name(), models.FailParse, fmt.Errorf("gbk decode: %w", err))
	}

	return p.parse(symbols, string(decoded))
}

// parse splits the response into per-symbol payloads and converts each
// one independently, so one malformed record cannot fail the batch.
func (p *SinaProvider) parse(symbols []string, body string) []models.FetchResult {
	payloads := make(map[string]string, len(symbols))
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		// var hq_str_sh600000="...";
		start := strings.Index(line, "hq_str_")
		if start < 0 {
			continue
		}
		rest := line[start+len("hq_str_"):]
		eq := strings.Index(rest, "=")
		if eq < 0 {
			continue
		}
		payload := strings.TrimSuffix(strings.TrimSpace(rest[eq+1:]), ";")
		payloads[rest[:eq]] = strings.Trim(payload, `"`)
	}

	now := time.Now()
	results := make([]models.FetchResult, 0, len(symbols))
	for _, sym := range symbols {
		payload, ok := payloads[sym]
		if !ok {
			results = append(results, models.Failure(sym, p.Name(), models.FailNoData, fmt.Errorf("no record in response")))
			continue
		}
		quote, kind, err := p.parseQuote(sym, payload, now)
		if err != nil {
			results = append(results, models.Failure(sym, p.Name(), kind, err))
			continue
		}
		results = append(results, models.Success(quote))
	}
	return results
}

func (p *SinaProvider) parseQuote(symbol, payload string, fetchedAt time.Time) (*models.Quote, models.FailureKind, error) {
	if payload == "" {
		return nil, models.FailNoData, fmt.Errorf("empty payload, symbol may be invalid or delisted")
	}

	fields := strings.Split(payload, ",")
	if len(fields) < sinaMinFields {
		return nil, models.FailParse, fmt.Errorf("expected at least %d fields, got %d", sinaMinFields, len(fields))
	}

	// 0 name, 1 open, 2 prev close, 3 price, 4 high, 5 low,
	// 8 volume (shares), 9 turnover (yuan)
	open, err := fieldDecimal(fields, 1)
	if err != nil {
		return nil, models.FailParse, err
	}
	prevClose, err := fieldDecimal(fields, 2)
	if err != nil {
		return nil, models.FailParse, err
	}
	price, err := fieldDecimal(fields, 3)
	if err != nil {
		return nil, models.FailParse, err
	}
	high, err := fieldDecimal(fields, 4)
	if err != nil {
		return nil, models.FailParse, err
	}
	low, err := fieldDecimal(fields, 5)
	if err != nil {
		return nil, models.FailParse, err
	}
	volume, err := fieldDecimal(fields, 8)
	if err != nil {
		return nil, models.FailParse, err
	}
	turnover, err := fieldDecimal(fields, 9)
	if err != nil {
		return nil, models.FailParse, err
	}

	if price.IsZero() {
		return nil, models.FailNoData, fmt.Errorf("zero price, symbol may be suspended")
	}

	change := price.Sub(prevClose)
	changePercent := decimal.Zero
	if !prevClose.IsZero() {
		changePercent = change.Div(prevClose).Mul(decimal.NewFromInt(100)).Round(2)
	}

	return &models.Quote{
		Symbol:        symbol,
		Name:          strings.TrimSpace(fields[0]),
		LastPrice:     price,
		Change:        change,
		ChangePercent: changePercent,
		Open:          open,
		High:          high,
		Low:           low,
		PrevClose:     prevClose,
		Volume:        volume.IntPart(),
		Turnover:      turnover,
		FetchedAt:     fetchedAt,
		Provider:      p.Name(),
	}, "", nil
}

// fieldDecimal parses one delimited field as a decimal.
func fieldDecimal(fields []string, idx int) (decimal.Decimal, error) {
	if idx >= len(fields) {
		return decimal.Zero, fmt.Errorf("missing field %d", idx)
	}
	d, err := decimal.NewFromString(strings.TrimSpace(fields[idx]))
	if err != nil {
		return decimal.Zero, fmt.Errorf("field %d: %w", idx, err)
	}
	return d, nil
}
