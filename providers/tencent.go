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
	tencentQuoteURL   = "https://qt.gtimg.cn/q="
	tencentMinFields  = 48
	tencentProviderID = "tencent"
)

// TencentProvider fetches quotes from the Tencent gtimg service.
// Responses are GBK-encoded assignments with tilde-separated fields.
type TencentProvider struct {
	client  *http.Client
	timeout time.Duration
	baseURL string
}

// NewTencentProvider creates a Tencent quote provider with a per-call timeout.
func NewTencentProvider(timeout time.Duration) *TencentProvider {
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	return &TencentProvider{
		client:  &http.Client{Timeout: timeout},
		timeout: timeout,
		baseURL: tencentQuoteURL,
	}
}

// Name returns the provider identifier.
func (p *TencentProvider) Name() string {
	return tencentProviderID
}

// Fetch retrieves quotes for all symbols in one batched request.
func (p *TencentProvider) Fetch(ctx context.Context, symbols []string) []models.FetchResult {
	if len(symbols) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	url := p.baseURL + strings.Join(symbols, ",")
	body, ferr := fetchBody(ctx, p.client, url, nil)
	if ferr != nil {
		return failAll(symbols, p.Name(), ferr.Kind, ferr.Err)
	}

	decoded, err := io.ReadAll(transform.NewReader(bytes.NewReader(body), simplifiedchinese.GBK.NewDecoder()))
	if err != nil {
		return failAll(symbols, p.Name(), models.FailParse, fmt.Errorf("gbk decode: %w", err))
	}

	return p.parse(symbols, string(decoded))
}

func (p *TencentProvider) parse(symbols []string, body string) []models.FetchResult {
	payloads := make(map[string]string, len(symbols))
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		// v_sh600000="1~...~";
		start := strings.Index(line, "v_")
		if start < 0 {
			continue
		}
		rest := line[start+len("v_"):]
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

func (p *TencentProvider) parseQuote(symbol, payload string, fetchedAt time.Time) (*models.Quote, models.FailureKind, error) {
	if payload == "" {
		return nil, models.FailNoData, fmt.Errorf("empty payload, symbol may be invalid or delisted")
	}

	fields := strings.Split(payload, "~")
	if len(fields) < tencentMinFields {
		return nil, models.FailParse, fmt.Errorf("expected at least %d fields, got %d", tencentMinFields, len(fields))
	}

	// 1 name, 3 price, 4 prev close, 5 open, 6 volume (lots),
	// 31 change, 32 change percent, 33 high, 34 low, 37 turnover (wan yuan)
	price, err := fieldDecimal(fields, 3)
	if err != nil {
		return nil, models.FailParse, err
	}
	prevClose, err := fieldDecimal(fields, 4)
	if err != nil {
		return nil, models.FailParse, err
	}
	open, err := fieldDecimal(fields, 5)
	if err != nil {
		return nil, models.FailParse, err
	}
	lots, err := fieldDecimal(fields, 6)
	if err != nil {
		return nil, models.FailParse, err
	}
	change, err := fieldDecimal(fields, 31)
	if err != nil {
		return nil, models.FailParse, err
	}
	changePercent, err := fieldDecimal(fields, 32)
	if err != nil {
		return nil, models.FailParse, err
	}
	high, err := fieldDecimal(fields, 33)
	if err != nil {
		return nil, models.FailParse, err
	}
	low, err := fieldDecimal(fields, 34)
	if err != nil {
		return nil, models.FailParse, err
	}
	turnoverWan, err := fieldDecimal(fields, 37)
	if err != nil {
		return nil, models.FailParse, err
	}

	if price.IsZero() {
		return nil, models.FailNoData, fmt.Errorf("zero price, symbol may be suspended")
	}

	return &models.Quote{
		Symbol:        symbol,
		Name:          strings.TrimSpace(fields[1]),
		LastPrice:     price,
		Change:        change,
		ChangePercent: changePercent,
		Open:          open,
		High:          high,
		Low:           low,
		PrevClose:     prevClose,
		// Tencent reports volume in lots of 100 shares and turnover in
		// units of 10k yuan
		Volume:    lots.Mul(decimal.NewFromInt(100)).IntPart(),
		Turnover:  turnoverWan.Mul(decimal.NewFromInt(10000)),
		FetchedAt: fetchedAt,
		Provider:  p.Name(),
	}, "", nil
}
