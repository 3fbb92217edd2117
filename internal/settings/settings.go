// Package settings consumes an external system-settings service,
// exposing the USD-to-points conversion factor applied at the end of
// the pricing formula.
package settings

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
)

const cacheTTL = time.Minute

// Client fetches and caches the system settings document.
type Client struct {
	http *resty.Client

	mu         sync.RWMutex
	pointsRate float64
	fetchedAt  time.Time
}

func NewClient(baseURL string) *Client {
	return &Client{http: resty.New().SetBaseURL(baseURL).SetTimeout(10 * time.Second)}
}

// PointsRate returns the cached conversion rate, refreshing it first
// if stale.
func (c *Client) PointsRate(ctx context.Context) (float64, error) {
	c.mu.RLock()
	stale := time.Since(c.fetchedAt) > cacheTTL
	rate := c.pointsRate
	c.mu.RUnlock()
	if !stale {
		return rate, nil
	}
	return c.refresh(ctx)
}

func (c *Client) refresh(ctx context.Context) (float64, error) {
	var out struct {
		PointsRate float64 `json:"pointsRate"`
	}
	resp, err := c.http.R().SetContext(ctx).SetResult(&out).Get("/settings")
	if err != nil {
		return 0, fmt.Errorf("failed to fetch system settings: %w", err)
	}
	if resp.IsError() {
		return 0, fmt.Errorf("settings service returned status=%d", resp.StatusCode())
	}

	c.mu.Lock()
	c.pointsRate = out.PointsRate
	c.fetchedAt = time.Now()
	c.mu.Unlock()
	return out.PointsRate, nil
}
