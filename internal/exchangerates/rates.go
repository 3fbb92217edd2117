// Package exchangerates consumes an external exchange-rate service,
// exposing a map of ISO currency code to USD rate. Rates are treated
// as an external collaborator's responsibility; this package only
// fetches and caches them for the pricing formula's
// effectiveVendorRate resolution.
package exchangerates

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
)

const cacheTTL = 5 * time.Minute

// Client fetches ISO-currency-to-USD rates and caches them in memory,
// since the sync loop calls RateToUSD once per offer.
type Client struct {
	http *resty.Client

	mu        sync.RWMutex
	rates     map[string]decimal.Decimal
	fetchedAt time.Time
}

func NewClient(baseURL string) *Client {
	return &Client{
		http:  resty.New().SetBaseURL(baseURL).SetTimeout(10 * time.Second),
		rates: make(map[string]decimal.Decimal),
	}
}

// RateToUSD implements the adapter.RateSource contract: rate is the
// number of currency units per 1 USD, so an amount in currency divided
// by rate is its USD value.
func (c *Client) RateToUSD(currency string) (decimal.Decimal, bool) {
	c.mu.RLock()
	rate, ok := c.rates[strings.ToUpper(currency)]
	c.mu.RUnlock()
	return rate, ok
}

// Refresh re-fetches the rate table if the cache has expired. Callers
// (typically the sync scheduler, once per run) should call this before
// relying on RateToUSD for fresh data.
func (c *Client) Refresh(ctx context.Context) error {
	c.mu.RLock()
	stale := time.Since(c.fetchedAt) > cacheTTL
	c.mu.RUnlock()
	if !stale {
		return nil
	}

	var raw map[string]float64
	resp, err := c.http.R().SetContext(ctx).SetResult(&raw).Get("/exchange-rates")
	if err != nil {
		return fmt.Errorf("failed to fetch exchange rates: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("exchange rate service returned status=%d", resp.StatusCode())
	}

	rates := make(map[string]decimal.Decimal, len(raw))
	for iso, v := range raw {
		rates[strings.ToUpper(iso)] = decimal.NewFromFloat(v)
	}

	c.mu.Lock()
	c.rates = rates
	c.fetchedAt = time.Now()
	c.mu.Unlock()
	return nil
}
