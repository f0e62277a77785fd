package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
)

// HTTPAggregator fetches prices from the public simple-price endpoint.
type HTTPAggregator struct {
	BaseURL string
	Client  *http.Client
}

// NewHTTPAggregator builds an AggregatorProvider backed by real HTTP calls.
func NewHTTPAggregator(baseURL string) *AggregatorProvider {
	a := &HTTPAggregator{BaseURL: baseURL, Client: &http.Client{Timeout: 10 * time.Second}}
	return &AggregatorProvider{Fetch: a.fetch}
}

func (a *HTTPAggregator) fetch(ctx context.Context, slug, quote string) (decimal.Decimal, error) {
	u := fmt.Sprintf("%s/simple/price?ids=%s&vs_currencies=%s", a.BaseURL, url.QueryEscape(slug), url.QueryEscape(quote))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return decimal.Decimal{}, err
	}
	resp, err := a.Client.Do(req)
	if err != nil {
		return decimal.Decimal{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return decimal.Decimal{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return decimal.Decimal{}, fmt.Errorf("aggregator returned status %d", resp.StatusCode)
	}

	var raw map[string]map[string]decimal.Decimal
	if err := json.Unmarshal(body, &raw); err != nil {
		return decimal.Decimal{}, fmt.Errorf("decode aggregator response: %w", err)
	}
	quotes, ok := raw[slug]
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("aggregator has no entry for %s", slug)
	}
	price, ok := quotes[quote]
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("aggregator has no %s quote for %s", quote, slug)
	}
	return price, nil
}
