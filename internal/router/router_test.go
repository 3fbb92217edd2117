package router

import (
	"testing"

	"github.com/nexnum/provider-core/internal/health"
	"github.com/nexnum/provider-core/internal/searchindex"
	"github.com/nexnum/provider-core/internal/store"
	"github.com/nexnum/provider-core/internal/vendorerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildAndParseActivationIDRoundTrip(t *testing.T) {
	id := BuildActivationID("acme-vendor", "xyz-123")
	assert.Equal(t, "acme-vendor:xyz-123", id)

	vendor, vendorID, err := ParseActivationID(id)
	require.NoError(t, err)
	assert.Equal(t, "acme-vendor", vendor)
	assert.Equal(t, "xyz-123", vendorID)
}

func TestParseActivationIDRejectsMissingPrefix(t *testing.T) {
	_, _, err := ParseActivationID("no-colon-here")
	assert.Error(t, err)
}

func TestScoreVendorPrefersHigherStockAndLowerPriority(t *testing.T) {
	healthy := health.ProviderHealth{SuccessRate: 0.9, HasSamples: true, AvgDeliveryMs: 2000}

	highStock := &searchindex.Offer{Price: 1.0, Stock: 100}
	lowStock := &searchindex.Offer{Price: 1.0, Stock: 1}

	v := store.Vendor{Priority: 1, Weight: 1, PriceMultiplier: 1}

	highScore := scoreVendor(v, healthy, highStock)
	lowScore := scoreVendor(v, healthy, lowStock)
	assert.Greater(t, highScore, lowScore)

	lowPriority := store.Vendor{Priority: 2, Weight: 1, PriceMultiplier: 1}
	assert.Greater(t, highScore, scoreVendor(lowPriority, healthy, highStock))
}

func TestScoreVendorUnknownHealthDefaultsToHalf(t *testing.T) {
	v := store.Vendor{Priority: 1, Weight: 1, PriceMultiplier: 1}
	offer := &searchindex.Offer{Price: 1.0, Stock: 10}

	unknown := health.ProviderHealth{HasSamples: false, AvgDeliveryMs: 2000}
	known := health.ProviderHealth{HasSamples: true, SuccessRate: 0.5, AvgDeliveryMs: 2000}

	assert.Equal(t, scoreVendor(v, known, offer), scoreVendor(v, unknown, offer))
}

func TestScoreVendorPenalizesZeroStock(t *testing.T) {
	v := store.Vendor{Priority: 1, Weight: 1, PriceMultiplier: 1}
	h := health.ProviderHealth{SuccessRate: 0.9, HasSamples: true, AvgDeliveryMs: 2000}

	withStock := scoreVendor(v, h, &searchindex.Offer{Price: 1.0, Stock: 5})
	noOffer := scoreVendor(v, h, nil)
	assert.Greater(t, withStock, noOffer)
}

func TestLowestPricePerVendorIgnoresZeroStock(t *testing.T) {
	offers := []searchindex.Offer{
		{Vendor: "a", Price: 2.0, Stock: 5},
		{Vendor: "a", Price: 1.0, Stock: 0},
		{Vendor: "b", Price: 3.0, Stock: 2},
	}
	best := lowestPricePerVendor(offers)
	require.Contains(t, best, "a")
	assert.Equal(t, 2.0, best["a"].Price) // the zero-stock cheaper offer is excluded
	require.Contains(t, best, "b")
}

func TestFailoverErrorAllNoStock(t *testing.T) {
	allNoStock := &FailoverError{
		Attempts: map[string]string{"a": "no stock", "b": "no stock"},
		Kinds:    map[string]vendorerr.Kind{"a": vendorerr.NoStock, "b": vendorerr.NoStock},
	}
	assert.True(t, allNoStock.AllNoStock())

	mixed := &FailoverError{
		Attempts: map[string]string{"a": "no stock", "b": "bad credentials"},
		Kinds:    map[string]vendorerr.Kind{"a": vendorerr.NoStock, "b": vendorerr.BadCredentials},
	}
	assert.False(t, mixed.AllNoStock())

	empty := &FailoverError{Attempts: map[string]string{}, Kinds: map[string]vendorerr.Kind{}}
	assert.False(t, empty.AllNoStock())
}
