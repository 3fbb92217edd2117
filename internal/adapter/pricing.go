// pricing.go implements the §4.1 pricing computation using
// shopspring/decimal so the two/four/six-decimal rounding rules are
// exact rather than float64-approximate.
package adapter

import (
	"fmt"

	"github.com/nexnum/provider-core/internal/store"
	"github.com/shopspring/decimal"
)

// RateSource resolves an ISO currency code to its USD rate, backing
// the internal contract getExchangeRates().
type RateSource interface {
	RateToUSD(currency string) (decimal.Decimal, bool)
}

// PriceResult carries all the precision tiers this computation retains
// for audit.
type PriceResult struct {
	SellPoints decimal.Decimal // rounded to 2 decimals
	BaseUSD    decimal.Decimal // 4 decimals
	RawCost    decimal.Decimal // 6 decimals, in vendor currency
}

// ComputePrice applies the pricing formula:
//
//	baseUsd = rawVendorPrice / effectiveVendorRate
//	sellPoints = baseUsd * pointsRate * priceMultiplier + fixedMarkup * pointsRate
//
// effectiveVendorRate is resolved per v.NormalizationMode.
func ComputePrice(v store.Vendor, rawPrice float64, pointsRate float64, rates RateSource) (PriceResult, error) {
	raw := decimal.NewFromFloat(rawPrice)
	pr := decimal.NewFromFloat(pointsRate)

	effRate, err := effectiveVendorRate(v, rates)
	if err != nil {
		return PriceResult{}, err
	}
	if effRate.IsZero() {
		return PriceResult{}, fmt.Errorf("effective vendor rate for %s resolved to zero", v.Name)
	}

	baseUSD := raw.Div(effRate)
	multiplier := decimal.NewFromFloat(v.PriceMultiplier)
	markup := decimal.NewFromFloat(v.FixedMarkup)

	sellPoints := baseUSD.Mul(pr).Mul(multiplier).Add(markup.Mul(pr))

	return PriceResult{
		SellPoints: sellPoints.Round(2),
		BaseUSD:    baseUSD.Round(4),
		RawCost:    raw.Round(6),
	}, nil
}

// effectiveVendorRate implements the three NormalizationMode branches.
func effectiveVendorRate(v store.Vendor, rates RateSource) (decimal.Decimal, error) {
	switch v.NormalizationMode {
	case store.NormalizationManual:
		if v.NormalizationRate == nil {
			return decimal.Zero, fmt.Errorf("vendor %s is MANUAL mode but has no normalizationRate", v.Name)
		}
		return decimal.NewFromFloat(*v.NormalizationRate), nil

	case store.NormalizationSmartAuto:
		if v.DepositSpent != nil && v.DepositReceived != nil && *v.DepositSpent != 0 {
			depositCurrencyRate, ok := rates.RateToUSD(v.DepositCurrency)
			if !ok || depositCurrencyRate.IsZero() {
				return decimal.Zero, fmt.Errorf("no USD rate for deposit currency %s", v.DepositCurrency)
			}
			spentUSD := decimal.NewFromFloat(*v.DepositSpent).Div(depositCurrencyRate)
			if spentUSD.IsZero() {
				return decimal.Zero, fmt.Errorf("vendor %s deposit spent resolves to zero USD", v.Name)
			}
			return decimal.NewFromFloat(*v.DepositReceived).Div(spentUSD), nil
		}
		fallthrough // both deposits unset: behave like AUTO

	default: // AUTO
		rate, ok := rates.RateToUSD(v.Currency)
		if !ok {
			return decimal.Zero, fmt.Errorf("no USD rate for currency %s", v.Currency)
		}
		return rate, nil
	}
}
