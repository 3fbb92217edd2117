package router

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nexnum/provider-core/internal/platform/kv"
	"github.com/nexnum/provider-core/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeVendorSource struct {
	vendors []store.Vendor
	err     error
	calls   int
}

func (f *fakeVendorSource) ActiveVendors(_ context.Context) ([]store.Vendor, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.vendors, nil
}

func TestActiveVendorCacheReadsThroughOnMiss(t *testing.T) {
	source := &fakeVendorSource{vendors: []store.Vendor{{Name: "acme"}}}
	cache := NewActiveVendorCache(kv.NewMemoryStore(), source, time.Minute)

	vendors, err := cache.Get(context.Background())
	require.NoError(t, err)
	require.Len(t, vendors, 1)
	assert.Equal(t, "acme", vendors[0].Name)
	assert.Equal(t, 1, source.calls)

	// second call within TTL should not re-hit the source
	_, err = cache.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, source.calls)
}

func TestActiveVendorCacheInvalidateForcesRefresh(t *testing.T) {
	source := &fakeVendorSource{vendors: []store.Vendor{{Name: "acme"}}}
	cache := NewActiveVendorCache(kv.NewMemoryStore(), source, time.Minute)

	_, err := cache.Get(context.Background())
	require.NoError(t, err)

	cache.Invalidate(context.Background())

	_, err = cache.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, source.calls)
}

func TestActiveVendorCacheServesStaleOnDBFailure(t *testing.T) {
	source := &fakeVendorSource{vendors: []store.Vendor{{Name: "acme"}}}
	cache := NewActiveVendorCache(kv.NewMemoryStore(), source, time.Minute)

	_, err := cache.Get(context.Background())
	require.NoError(t, err)

	cache.Invalidate(context.Background())
	source.err = errors.New("database unreachable")

	vendors, err := cache.Get(context.Background())
	require.NoError(t, err, "stale in-process fallback should be served instead of erroring")
	require.Len(t, vendors, 1)
	assert.Equal(t, "acme", vendors[0].Name)
}

func TestActiveVendorCacheFailsWithNoFallbackAvailable(t *testing.T) {
	source := &fakeVendorSource{err: errors.New("database unreachable")}
	cache := NewActiveVendorCache(kv.NewMemoryStore(), source, time.Minute)

	_, err := cache.Get(context.Background())
	assert.Error(t, err)
}
