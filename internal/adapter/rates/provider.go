// Package rates supplies the cents-per-sat exchange rate used to run USD
// card ledgers against sat-denominated invoices.
package rates

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	defaultTimeout  = 10 * time.Second
	defaultCacheTTL = time.Minute

	satsPerBTC = 100_000_000
)

// StaticProvider returns a fixed rate; used for BTC-only deployments and in
// tests.
type StaticProvider struct {
	rate decimal.Decimal
}

// NewStaticProvider creates a provider pinned to the given cents-per-sat.
func NewStaticProvider(centsPerSat decimal.Decimal) *StaticProvider {
	return &StaticProvider{rate: centsPerSat}
}

// CentsPerSat returns the pinned rate.
func (p *StaticProvider) CentsPerSat(_ context.Context) (decimal.Decimal, error) {
	if !p.rate.IsPositive() {
		return decimal.Zero, fmt.Errorf("rates: no rate configured")
	}
	return p.rate, nil
}

// HTTPProvider polls a price endpoint returning the USD price of one BTC as
// {"price": "65000.00"}. Responses are cached briefly so a burst of taps
// does not hammer the source.
type HTTPProvider struct {
	url      string
	http     *http.Client
	cacheTTL time.Duration
	log      zerolog.Logger

	mu        sync.Mutex
	cached    decimal.Decimal
	fetchedAt time.Time
}

// NewHTTPProvider creates a polling rate provider.
func NewHTTPProvider(url string, timeout, cacheTTL time.Duration, log zerolog.Logger) *HTTPProvider {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if cacheTTL <= 0 {
		cacheTTL = defaultCacheTTL
	}
	return &HTTPProvider{
		url:      url,
		http:     &http.Client{Timeout: timeout},
		cacheTTL: cacheTTL,
		log:      log,
	}
}

// CentsPerSat returns the cached rate, refreshing it when stale. A failed
// refresh falls back to the last good value rather than blocking spending.
func (p *HTTPProvider) CentsPerSat(ctx context.Context) (decimal.Decimal, error) {
	p.mu.Lock()
	fresh := time.Since(p.fetchedAt) < p.cacheTTL && p.cached.IsPositive()
	cached := p.cached
	p.mu.Unlock()
	if fresh {
		return cached, nil
	}

	rate, err := p.fetch(ctx)
	if err != nil {
		if cached.IsPositive() {
			p.log.Warn().Err(err).Msg("rate refresh failed, using last good value")
			return cached, nil
		}
		return decimal.Zero, err
	}

	p.mu.Lock()
	p.cached = rate
	p.fetchedAt = time.Now()
	p.mu.Unlock()
	return rate, nil
}

func (p *HTTPProvider) fetch(ctx context.Context) (decimal.Decimal, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("rates: building request: %w", err)
	}

	resp, err := p.http.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("rates: fetching price: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("rates: price source returned %d", resp.StatusCode)
	}

	var body struct {
		Price decimal.Decimal `json:"price"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return decimal.Zero, fmt.Errorf("rates: decoding price: %w", err)
	}
	if !body.Price.IsPositive() {
		return decimal.Zero, fmt.Errorf("rates: non-positive price %s", body.Price)
	}

	// USD/BTC -> cents/sat
	return body.Price.Mul(decimal.NewFromInt(100)).Div(decimal.NewFromInt(satsPerBTC)), nil
}
