// cache.go implements the active-vendor read-through cache: a 30s-TTL entry in the shared kv store, with an in-process
// go-cache fallback when kv is unavailable, serving stale data rather
// than failing when the database is down.
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/nexnum/provider-core/internal/platform/kv"
	"github.com/nexnum/provider-core/internal/store"
)

const activeVendorCacheKey = "router:active-vendors"

// activeVendorStaleKey holds the last loaded list with no expiry; it
// survives Invalidate so readStale has something to serve.
const activeVendorStaleKey = activeVendorCacheKey + ":stale"

// VendorSource fetches the authoritative active-vendor list, ordered
// by priority ascending.
type VendorSource interface {
	ActiveVendors(ctx context.Context) ([]store.Vendor, error)
}

// ActiveVendorCache is a TTL-bounded read-through cache over the
// active vendor list, serving stale data if the backing store fails.
type ActiveVendorCache struct {
	store    kv.Store
	source   VendorSource
	ttl      time.Duration
	fallback *gocache.Cache
}

func NewActiveVendorCache(store kv.Store, source VendorSource, ttl time.Duration) *ActiveVendorCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &ActiveVendorCache{
		store:    store,
		source:   source,
		ttl:      ttl,
		fallback: gocache.New(ttl, 2*ttl),
	}
}

// Get returns the active-vendor list, refreshing from the database
// when the cache entry is absent or expired. On a database failure it
// serves the last known (possibly stale) value instead of failing.
func (c *ActiveVendorCache) Get(ctx context.Context) ([]store.Vendor, error) {
	if cached, ok := c.readCache(ctx); ok {
		return cached, nil
	}

	vendors, err := c.source.ActiveVendors(ctx)
	if err != nil {
		if stale, ok := c.readStale(); ok {
			return stale, nil
		}
		return nil, fmt.Errorf("failed to load active vendors and no cached fallback exists: %w", err)
	}

	c.write(ctx, vendors)
	return vendors, nil
}

// Invalidate busts the cache key; admin mutations call this so the
// next Get re-reads the database.
func (c *ActiveVendorCache) Invalidate(ctx context.Context) {
	_ = c.store.Del(ctx, activeVendorCacheKey)
	c.fallback.Delete(activeVendorCacheKey)
}

func (c *ActiveVendorCache) readCache(ctx context.Context) ([]store.Vendor, bool) {
	raw, ok, err := c.store.Get(ctx, activeVendorCacheKey)
	if err != nil || !ok {
		if v, ok := c.fallback.Get(activeVendorCacheKey); ok {
			return v.([]store.Vendor), true
		}
		return nil, false
	}
	var vendors []store.Vendor
	if err := json.Unmarshal([]byte(raw), &vendors); err != nil {
		return nil, false
	}
	return vendors, true
}

// readStale ignores TTL and returns whatever the in-process fallback
// last held, for DB-failure resilience.
func (c *ActiveVendorCache) readStale() ([]store.Vendor, bool) {
	if v, ok := c.fallback.Get(activeVendorStaleKey); ok {
		return v.([]store.Vendor), true
	}
	return nil, false
}

func (c *ActiveVendorCache) write(ctx context.Context, vendors []store.Vendor) {
	payload, err := json.Marshal(vendors)
	if err == nil {
		_ = c.store.Set(ctx, activeVendorCacheKey, string(payload), c.ttl)
	}
	c.fallback.Set(activeVendorCacheKey, vendors, gocache.DefaultExpiration)
	c.fallback.Set(activeVendorStaleKey, vendors, gocache.NoExpiration)
}
