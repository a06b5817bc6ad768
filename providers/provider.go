// Package providers implements quote retrieval from the upstream market
// data services. Each provider speaks one upstream's wire format and
// reports per-symbol outcomes as FetchResult values; a provider never
// panics and never returns a Go error for a single bad record.
package providers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/maogitmao/billions-dollars/models"
)

// DefaultFetchTimeout bounds one upstream call when no timeout is configured.
const DefaultFetchTimeout = 5 * time.Second

const userAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Provider fetches realtime quotes from one upstream source.
type Provider interface {
	// Name returns the provider identifier used in results and logs.
	Name() string
	// Fetch retrieves quotes for the given symbols in one upstream call.
	// It returns one FetchResult per requested symbol; failures are
	// values in the slice, never a panic or partial slice.
	Fetch(ctx context.Context, symbols []string) []models.FetchResult
}

// FromNames builds the provider failover chain for a priority list.
// Unknown names are a configuration error.
func FromNames(names []string, timeout time.Duration) ([]Provider, error) {
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("at least one quote provider is required")
	}

	provs := make([]Provider, 0, len(names))
	for _, name := range names {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "sina":
			provs = append(provs, NewSinaProvider(timeout))
		case "netease":
			provs = append(provs, NewNetEaseProvider(timeout))
		case "tencent":
			provs = append(provs, NewTencentProvider(timeout))
		default:
			return nil, fmt.Errorf("unknown quote provider %q", name)
		}
	}
	return provs, nil
}

// failAll marks every requested symbol failed with the same cause,
// used when the whole upstream call fails before parsing.
func failAll(symbols []string, provider string, kind models.FailureKind, err error) []models.FetchResult {
	results := make([]models.FetchResult, 0, len(symbols))
	for _, sym := range symbols {
		results = append(results, models.Failure(sym, provider, kind, err))
	}
	return results
}

// classifyError maps a transport error to a failure kind.
func classifyError(err error) models.FailureKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return models.FailTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return models.FailTimeout
	}
	return models.FailConnection
}

// fetchBody performs one GET against an upstream quote endpoint and
// returns the raw response body. The context carries the per-call timeout.
func fetchBody(ctx context.Context, client *http.Client, url string, headers map[string]string) ([]byte, *models.FetchError) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &models.FetchError{Kind: models.FailConnection, Err: err}
	}
	req.Header.Set("User-Agent", userAgent)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, &models.FetchError{Kind: classifyError(err), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &models.FetchError{
			Kind: models.FailBadStatus,
			Err:  fmt.Errorf("upstream returned status %d", resp.StatusCode),
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &models.FetchError{Kind: classifyError(err), Err: err}
	}
	return body, nil
}
