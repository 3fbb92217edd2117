package sync

import (
	"context"
	"testing"
	"time"

	"github.com/nexnum/provider-core/internal/adapter"
	"github.com/nexnum/provider-core/internal/platform/logging"
	"github.com/nexnum/provider-core/internal/searchindex"
	"github.com/nexnum/provider-core/internal/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRates struct {
	rates map[string]float64
}

func (f *fakeRates) RateToUSD(currency string) (decimal.Decimal, bool) {
	v, ok := f.rates[currency]
	if !ok {
		return decimal.Zero, false
	}
	return decimal.NewFromFloat(v), true
}

func (f *fakeRates) Refresh(_ context.Context) error { return nil }

func newTestSynchronizer(rates *fakeRates) *Synchronizer {
	return &Synchronizer{rates: rates, log: logging.New("provider-core-test", logging.Config{})}
}

func TestIsMetadataFreshRequiresStoredRowsAndRecentSync(t *testing.T) {
	now := time.Now()
	fresh := now.Add(-1 * time.Hour)

	assert.False(t, isMetadataFresh(store.Vendor{}, nil), "no stored rows is never fresh")

	v := store.Vendor{LastMetadataSyncAt: &fresh}
	rows := []store.ProviderCountry{{CanonicalName: "United States"}}
	assert.True(t, isMetadataFresh(v, rows))

	stale := now.Add(-48 * time.Hour)
	v.LastMetadataSyncAt = &stale
	assert.False(t, isMetadataFresh(v, rows), "sync older than 24h is stale")

	v.LastMetadataSyncAt = &fresh
	placeholder := []store.ProviderCountry{{CanonicalName: ""}}
	assert.False(t, isMetadataFresh(v, placeholder), "a placeholder name forces refetch")
}

func TestFilterVendorReturnsOnlyNamedVendor(t *testing.T) {
	vendors := []store.Vendor{{Name: "acme"}, {Name: "globex"}}
	filtered := filterVendor(vendors, "globex")
	require.Len(t, filtered, 1)
	assert.Equal(t, "globex", filtered[0].Name)

	assert.Nil(t, filterVendor(vendors, "nonexistent"))
}

func TestToPriceRowsMapsExternalCountryIDToCanonicalCode(t *testing.T) {
	s := newTestSynchronizer(&fakeRates{})
	countries := []store.ProviderCountry{{ExternalID: "1", CanonicalCode: "us"}}
	rows := s.toPriceRows([]adapter.Price{
		{CountryExternalID: "1", ServiceExternalID: "10", Operator: "mtn", RawPrice: 1.5, Count: 5},
	}, countries)

	require.Len(t, rows, 1)
	assert.Equal(t, "us", rows[0].countryCode)
	assert.Equal(t, "10", rows[0].serviceExternalID)
}

func TestBuildOffersDropsZeroStockAndComputesSellPrice(t *testing.T) {
	s := newTestSynchronizer(&fakeRates{rates: map[string]float64{"USD": 1.0}})
	v := store.Vendor{Name: "acme", Currency: "USD", PriceMultiplier: 2, FixedMarkup: 0.1, NormalizationMode: store.NormalizationAuto}

	countries := []store.ProviderCountry{{ID: 1, ExternalID: "1", CanonicalCode: "us", CanonicalName: "United States"}}
	services := []store.ProviderService{{ID: 2, ExternalID: "10", CanonicalCode: "telegram", CanonicalName: "Telegram"}}
	prices := []priceRow{
		{countryCode: "us", serviceExternalID: "10", operator: "mtn", rawPrice: 1.0, count: 5},
		{countryCode: "us", serviceExternalID: "10", operator: "mtn", rawPrice: 1.0, count: 0}, // dropped upstream already, defensive check
	}

	offers, err := s.buildOffers(v, countries, services, prices, 1.0)
	require.NoError(t, err)
	require.Len(t, offers, 1)

	offer := offers[0]
	assert.Equal(t, searchindex.OfferID("acme", "us", "telegram", "mtn"), offer.ID)
	assert.InDelta(t, 2.1, offer.Price, 0.0001) // baseUSD(1.0) * multiplier(2) + markup(0.1), pointsRate 1.0
	assert.Equal(t, 5, offer.Stock)
}

func TestBuildOffersSkipsOffersWithUnresolvedRate(t *testing.T) {
	s := newTestSynchronizer(&fakeRates{}) // no rates configured
	v := store.Vendor{Name: "acme", Currency: "EUR"}
	countries := []store.ProviderCountry{{ExternalID: "1", CanonicalCode: "us"}}
	services := []store.ProviderService{{ExternalID: "10", CanonicalCode: "telegram"}}
	prices := []priceRow{{countryCode: "us", serviceExternalID: "10", operator: "mtn", rawPrice: 1.0, count: 5}}

	offers, err := s.buildOffers(v, countries, services, prices, 1.0)
	require.NoError(t, err)
	assert.Empty(t, offers)
}
