package searchindex

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOfferIDStripsInvalidCharactersAndLowercases(t *testing.T) {
	id := OfferID("Vendor-One", "US", "wha.tsapp", "MTN #1")
	assert.Equal(t, "vendorone_us_whatsapp_mtn1", id)
}

func TestOfferIDIsDeterministic(t *testing.T) {
	a := OfferID("acme", "us", "tg", "mtn")
	b := OfferID("acme", "us", "tg", "mtn")
	assert.Equal(t, a, b)
}

func TestMemoryIndexDeleteByVendorOnlyAffectsThatVendor(t *testing.T) {
	idx := NewMemoryIndex()
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, []Offer{
		{ID: "a1", Vendor: "vendorA", ProviderCountryCode: "us", ProviderServiceCode: "tg"},
		{ID: "b1", Vendor: "vendorB", ProviderCountryCode: "us", ProviderServiceCode: "tg"},
	}))

	require.NoError(t, idx.DeleteByVendor(ctx, "vendorA"))

	remaining := idx.All()
	require.Len(t, remaining, 1)
	assert.Equal(t, "vendorB", remaining[0].Vendor)
}

func TestMemoryIndexQueryFiltersByCountryAndService(t *testing.T) {
	idx := NewMemoryIndex()
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, []Offer{
		{ID: "1", Vendor: "a", ProviderCountryCode: "us", ProviderServiceCode: "tg"},
		{ID: "2", Vendor: "a", ProviderCountryCode: "gb", ProviderServiceCode: "tg"},
	}))

	results, err := idx.Query(ctx, "us", "tg")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "1", results[0].ID)
}
