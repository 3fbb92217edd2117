package adapter

import (
	"testing"

	"github.com/nexnum/provider-core/internal/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRates struct {
	rates map[string]decimal.Decimal
}

func (f *fakeRates) RateToUSD(currency string) (decimal.Decimal, bool) {
	r, ok := f.rates[currency]
	return r, ok
}

func TestComputePriceAutoModeUsesCurrencyRate(t *testing.T) {
	v := store.Vendor{Name: "acme", Currency: "EUR", PriceMultiplier: 2, FixedMarkup: 0.5, NormalizationMode: store.NormalizationAuto}
	rates := &fakeRates{rates: map[string]decimal.Decimal{"EUR": decimal.NewFromFloat(0.5)}}

	result, err := ComputePrice(v, 1.0, 1.0, rates)
	require.NoError(t, err)

	// baseUSD = 1.0 / 0.5 = 2.0; sellPoints = 2.0*1.0*2 + 0.5*1.0 = 4.5
	assert.True(t, result.BaseUSD.Equal(decimal.NewFromFloat(2.0)))
	assert.True(t, result.SellPoints.Equal(decimal.NewFromFloat(4.5)), "got %s", result.SellPoints)
}

func TestComputePriceAutoModeFailsWithoutRate(t *testing.T) {
	v := store.Vendor{Name: "acme", Currency: "XYZ", PriceMultiplier: 1}
	rates := &fakeRates{rates: map[string]decimal.Decimal{}}

	_, err := ComputePrice(v, 1.0, 1.0, rates)
	assert.Error(t, err)
}

func TestComputePriceManualModeUsesFixedRate(t *testing.T) {
	rate := 0.25
	v := store.Vendor{Name: "acme", PriceMultiplier: 1, NormalizationMode: store.NormalizationManual, NormalizationRate: &rate}

	result, err := ComputePrice(v, 1.0, 1.0, &fakeRates{})
	require.NoError(t, err)
	assert.True(t, result.BaseUSD.Equal(decimal.NewFromFloat(4.0)))
}

func TestComputePriceManualModeRequiresRate(t *testing.T) {
	v := store.Vendor{Name: "acme", NormalizationMode: store.NormalizationManual}
	_, err := ComputePrice(v, 1.0, 1.0, &fakeRates{})
	assert.Error(t, err)
}

func TestComputePriceSmartAutoUsesDepositRatio(t *testing.T) {
	spent := 100.0
	received := 50.0
	v := store.Vendor{
		Name: "acme", PriceMultiplier: 1,
		NormalizationMode: store.NormalizationSmartAuto,
		DepositCurrency:   "EUR",
		DepositSpent:      &spent,
		DepositReceived:   &received,
	}
	rates := &fakeRates{rates: map[string]decimal.Decimal{"EUR": decimal.NewFromFloat(1.0)}}

	result, err := ComputePrice(v, 1.0, 1.0, rates)
	require.NoError(t, err)
	// spentUSD = 100/1 = 100; effRate = 50/100 = 0.5; baseUSD = 1/0.5 = 2.0
	assert.True(t, result.BaseUSD.Equal(decimal.NewFromFloat(2.0)))
}

func TestComputePriceSmartAutoFallsBackToAutoWhenDepositsUnset(t *testing.T) {
	v := store.Vendor{Name: "acme", Currency: "USD", PriceMultiplier: 1, NormalizationMode: store.NormalizationSmartAuto}
	rates := &fakeRates{rates: map[string]decimal.Decimal{"USD": decimal.NewFromFloat(1.0)}}

	result, err := ComputePrice(v, 1.0, 1.0, rates)
	require.NoError(t, err)
	assert.True(t, result.BaseUSD.Equal(decimal.NewFromFloat(1.0)))
}
