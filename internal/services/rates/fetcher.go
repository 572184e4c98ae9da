package rates

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"

	svcerr "github.com/paystream-labs/walletcore/internal/errors"
	"github.com/paystream-labs/walletcore/pkg/logger"
)

// Fetcher retrieves fiat rates for a set of symbols in one currency.
type Fetcher interface {
	Fetch(ctx context.Context, symbols []string, currency string) (map[string]float64, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, symbols []string, currency string) (map[string]float64, error)

func (f FetcherFunc) Fetch(ctx context.Context, symbols []string, currency string) (map[string]float64, error) {
	if f == nil {
		return nil, nil
	}
	return f(ctx, symbols, currency)
}

// HTTPFetcher queries the rate service's current-rates endpoint:
//
//	GET {base}/rates/current/?symbols=ETH&currency=USD
//	-> { "success": true, "rates": { "ETH": 3500.12 }, "currency": "USD" }
type HTTPFetcher struct {
	client   *http.Client
	endpoint string
	apiKey   string
	log      *logger.Logger
}

var _ Fetcher = (*HTTPFetcher)(nil)

// NewHTTPFetcher creates a fetcher for the rate service at base.
func NewHTTPFetcher(client *http.Client, base, apiKey string, log *logger.Logger) (*HTTPFetcher, error) {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if base == "" {
		return nil, fmt.Errorf("rate service base URL required")
	}
	if client == nil {
		client = http.DefaultClient
	}
	if log == nil {
		log = logger.NewDefault("rates-fetcher")
	}
	return &HTTPFetcher{
		client:   client,
		endpoint: base + "/rates/current/",
		apiKey:   apiKey,
		log:      log,
	}, nil
}

func (f *HTTPFetcher) Fetch(ctx context.Context, symbols []string, currency string) (map[string]float64, error) {
	query := url.Values{}
	query.Set("symbols", strings.Join(symbols, ","))
	query.Set("currency", currency)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.endpoint+"?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if f.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+f.apiKey)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, svcerr.Network("rate service unreachable", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, svcerr.Network("read rate response", err)
	}
	if resp.StatusCode >= 400 {
		return nil, svcerr.Network(fmt.Sprintf("rate service returned status %d", resp.StatusCode), nil)
	}
	if !gjson.GetBytes(body, "success").Bool() {
		return nil, svcerr.Network("rate service reported failure", nil)
	}

	parsed := gjson.GetBytes(body, "rates")
	if !parsed.IsObject() {
		return nil, svcerr.Network("malformed rate response", nil)
	}

	result := make(map[string]float64)
	parsed.ForEach(func(key, value gjson.Result) bool {
		result[strings.ToUpper(key.String())] = value.Float()
		return true
	})
	return result, nil
}
