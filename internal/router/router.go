// Package router implements the Smart Router: vendor ranking,
// quote composition, purchase dispatch with failover, and
// activation-ID-based post-purchase routing.
package router

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/nexnum/provider-core/internal/adapter"
	"github.com/nexnum/provider-core/internal/health"
	"github.com/nexnum/provider-core/internal/platform/audit"
	"github.com/nexnum/provider-core/internal/platform/logging"
	"github.com/nexnum/provider-core/internal/searchindex"
	"github.com/nexnum/provider-core/internal/store"
	"github.com/nexnum/provider-core/internal/vendorerr"
)

const quoteCacheTTL = 15 * time.Second

// AdapterFactory builds a vendor-bound adapter; shared shape with the
// synchronizer's factory so both sides can be wired to the same
// constructor in cmd/core.
type AdapterFactory func(store.Vendor) *adapter.Adapter

// Purchase is the router's normalized purchase result.
type Purchase struct {
	ActivationID string  `json:"activationId"`
	PhoneNumber  string  `json:"phoneNumber"`
	SellPrice    float64 `json:"sellPrice"`
	Vendor       string  `json:"vendor"`
}

// RankedProvider is the public quote projection: no adminWeight or
// priceMultiplier leak.
type RankedProvider struct {
	DisplayName       string  `json:"displayName"`
	Rank              int     `json:"rank"`
	Reliability       string  `json:"reliability"` // High|Medium
	EstimatedLatency  float64 `json:"estimatedLatencyMs"`
	Stock             int     `json:"stock"`
	Price             float64 `json:"price"`
}

// FailoverError is returned when every attempted vendor failed; it
// names each one so the caller can distinguish "no stock anywhere"
// from "every vendor errored".
type FailoverError struct {
	Attempts map[string]string        // vendor -> error message
	Kinds    map[string]vendorerr.Kind // vendor -> error kind, when known
}

func (e *FailoverError) Error() string {
	var b strings.Builder
	b.WriteString("no vendor could fulfil the request: ")
	first := true
	for vendor, msg := range e.Attempts {
		if !first {
			b.WriteString("; ")
		}
		first = false
		fmt.Fprintf(&b, "%s: %s", vendor, msg)
	}
	return b.String()
}

// AllNoStock reports whether every attempted vendor failed specifically
// with NO_STOCK, distinct from a generic "all providers failed".
func (e *FailoverError) AllNoStock() bool {
	for vendor := range e.Attempts {
		if e.Kinds[vendor] != vendorerr.NoStock {
			return false
		}
	}
	return len(e.Attempts) > 0
}

// Router is the Smart Router.
type Router struct {
	vendors    *ActiveVendorCache
	health     *health.Monitor
	index      searchindex.Index
	newAdapter AdapterFactory
	auditLog   audit.Logger
	log        *logging.Logger
	quoteCache *gocache.Cache
}

func New(vendors *ActiveVendorCache, h *health.Monitor, index searchindex.Index, newAdapter AdapterFactory, auditLog audit.Logger, log *logging.Logger) *Router {
	return &Router{
		vendors:    vendors,
		health:     h,
		index:      index,
		newAdapter: newAdapter,
		auditLog:   auditLog,
		log:        log,
		quoteCache: gocache.New(quoteCacheTTL, 2*quoteCacheTTL),
	}
}

// BuildActivationID joins a vendor slug and its native activation ID
// into the one externally visible activation ID format.
func BuildActivationID(vendorSlug, vendorActivationID string) string {
	return vendorSlug + ":" + vendorActivationID
}

// ParseActivationID splits an activation ID into its vendor slug and
// vendor-native ID.
func ParseActivationID(activationID string) (vendor, vendorActivationID string, err error) {
	idx := strings.Index(activationID, ":")
	if idx <= 0 {
		return "", "", fmt.Errorf("malformed activation id %q", activationID)
	}
	return activationID[:idx], activationID[idx+1:], nil
}

type scoredVendor struct {
	vendor store.Vendor
	offer  *searchindex.Offer
	score  float64
}

// scoreVendor blends success rate, priority, and stock into one
// ranking score.
func scoreVendor(v store.Vendor, h health.ProviderHealth, offer *searchindex.Offer) float64 {
	successRate := h.SuccessRate
	if !h.HasSamples {
		successRate = 0.5
	}

	priority := v.Priority
	if priority < 1 {
		priority = 1
	}
	priorityBoost := 1.0 / float64(priority)

	stock := 0
	if offer != nil {
		stock = offer.Stock
	}
	stockFactor := 0.1
	if stock > 0 {
		stockFactor = math.Log10(float64(stock + 10))
	}

	normalizedDeliveryTime := math.Max(h.AvgDeliveryMs, 2000) / 10000

	priceFactor := v.PriceMultiplier
	if offer != nil {
		priceFactor = offer.Price * v.PriceMultiplier
	}
	if priceFactor == 0 {
		priceFactor = v.PriceMultiplier
	}
	if priceFactor == 0 {
		priceFactor = 1
	}

	return (successRate * v.Weight * priorityBoost * stockFactor) / (normalizedDeliveryTime * priceFactor)
}

// rankEligible builds the scored, tie-broken vendor order for
// (countryCode, serviceCode): active vendors whose circuit is not
// open, each paired with its lowest-price offer if one exists.
func (r *Router) rankEligible(ctx context.Context, countryCode, serviceCode string) ([]scoredVendor, error) {
	vendors, err := r.vendors.Get(ctx)
	if err != nil {
		return nil, err
	}

	offers, err := r.index.Query(ctx, countryCode, serviceCode)
	if err != nil {
		r.log.WithError(err).SyncEventLogger("*", "offer-query-failed", nil)
		offers = nil
	}
	bestOfferByVendor := lowestPricePerVendor(offers)

	scored := make([]scoredVendor, 0, len(vendors))
	for _, v := range vendors {
		available, err := r.health.IsAvailable(ctx, v.Name)
		if err != nil || !available {
			continue
		}
		h, err := r.health.Health(ctx, v.Name, countryCode)
		if err != nil {
			continue
		}
		offer := bestOfferByVendor[v.Name]
		scored = append(scored, scoredVendor{vendor: v, offer: offer, score: scoreVendor(v, h, offer)})
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].score != scored[j].score {
			return scored[i].score > scored[j].score
		}
		if scored[i].vendor.Priority != scored[j].vendor.Priority {
			return scored[i].vendor.Priority < scored[j].vendor.Priority
		}
		return scored[i].vendor.Name < scored[j].vendor.Name
	})
	return scored, nil
}

func lowestPricePerVendor(offers []searchindex.Offer) map[string]*searchindex.Offer {
	best := make(map[string]*searchindex.Offer)
	for i := range offers {
		o := offers[i]
		if o.Stock <= 0 {
			continue
		}
		if cur, ok := best[o.Vendor]; !ok || o.Price < cur.Price {
			oCopy := o
			best[o.Vendor] = &oCopy
		}
	}
	return best
}

// GetRankedProviders implements the public quote path.
func (r *Router) GetRankedProviders(ctx context.Context, countryCode, serviceCode string) ([]RankedProvider, error) {
	cacheKey := "quote:" + countryCode + ":" + serviceCode
	if cached, ok := r.quoteCache.Get(cacheKey); ok {
		return cached.([]RankedProvider), nil
	}

	scored, err := r.rankEligible(ctx, countryCode, serviceCode)
	if err != nil {
		return nil, err
	}

	out := make([]RankedProvider, 0, len(scored))
	rank := 0
	for _, sv := range scored {
		if sv.offer == nil || sv.offer.Stock <= 0 {
			continue
		}
		rank++
		h, _ := r.health.Health(ctx, sv.vendor.Name, countryCode)
		reliability := "Medium"
		if h.SuccessRate > 0.8 {
			reliability = "High"
		}
		out = append(out, RankedProvider{
			DisplayName:      displayName(sv.vendor),
			Rank:             rank,
			Reliability:      reliability,
			EstimatedLatency: h.AvgDeliveryMs,
			Stock:            sv.offer.Stock,
			Price:            sv.offer.Price,
		})
	}

	r.quoteCache.Set(cacheKey, out, quoteCacheTTL)
	return out, nil
}

func displayName(v store.Vendor) string {
	if v.DisplayName != "" {
		return v.DisplayName
	}
	return v.Name
}

// BuyOptions carries the caller's purchase request.
type BuyOptions struct {
	CountryCode  string
	ServiceCode  string
	PinnedVendor string
	Opts         map[string]string
}

// Buy implements the purchase path: pinned vendor gets
// exactly one attempt; otherwise the scored order is tried in
// sequence until one succeeds or the list is exhausted.
func (r *Router) Buy(ctx context.Context, req BuyOptions) (Purchase, error) {
	if req.PinnedVendor != "" {
		return r.buyPinned(ctx, req)
	}

	scored, err := r.rankEligible(ctx, req.CountryCode, req.ServiceCode)
	if err != nil {
		return Purchase{}, err
	}
	if len(scored) == 0 {
		return Purchase{}, &FailoverError{Attempts: map[string]string{}}
	}

	attempts := make(map[string]string)
	kinds := make(map[string]vendorerr.Kind)
	for _, sv := range scored {
		purchase, err := r.attempt(ctx, sv.vendor, sv.offer, req)
		if err == nil {
			return purchase, nil
		}
		attempts[sv.vendor.Name] = err.Error()
		kind, _ := vendorerr.Of(err)
		kinds[sv.vendor.Name] = kind
	}
	return Purchase{}, &FailoverError{Attempts: attempts, Kinds: kinds}
}

func (r *Router) buyPinned(ctx context.Context, req BuyOptions) (Purchase, error) {
	vendors, err := r.vendors.Get(ctx)
	if err != nil {
		return Purchase{}, err
	}
	var target *store.Vendor
	for i := range vendors {
		if vendors[i].Name == req.PinnedVendor {
			target = &vendors[i]
			break
		}
	}
	if target == nil {
		return Purchase{}, &FailoverError{Attempts: map[string]string{req.PinnedVendor: "vendor not found or not active"}}
	}

	available, err := r.health.IsAvailable(ctx, target.Name)
	if err != nil {
		return Purchase{}, err
	}
	if !available {
		return Purchase{}, &FailoverError{Attempts: map[string]string{target.Name: "circuit open"}}
	}

	offers, err := r.index.Query(ctx, req.CountryCode, req.ServiceCode)
	if err != nil {
		offers = nil
	}
	offer := lowestPricePerVendor(offers)[target.Name]

	purchase, err := r.attempt(ctx, *target, offer, req)
	if err != nil {
		kind, _ := vendorerr.Of(err)
		return Purchase{}, &FailoverError{
			Attempts: map[string]string{target.Name: err.Error()},
			Kinds:    map[string]vendorerr.Kind{target.Name: kind},
		}
	}
	return purchase, nil
}

func (r *Router) attempt(ctx context.Context, v store.Vendor, offer *searchindex.Offer, req BuyOptions) (Purchase, error) {
	a := r.newAdapter(v)
	start := time.Now()

	countryExternalID := req.CountryCode
	serviceExternalID := req.ServiceCode
	if offer != nil {
		countryExternalID = fmt.Sprintf("%d", offer.CountryID)
		serviceExternalID = fmt.Sprintf("%d", offer.ServiceID)
	}

	result, err := a.Buy(ctx, countryExternalID, serviceExternalID, req.Opts)
	latency := time.Since(start)

	kind, _ := vendorerr.Of(err)
	_ = r.health.RecordOutcome(ctx, v.Name, req.CountryCode, kind, latency)

	if err != nil {
		return Purchase{}, err
	}

	sellPrice := result.RawCost
	if offer != nil {
		sellPrice = offer.Price
	}

	activationID := BuildActivationID(v.Name, result.VendorActivationID)
	r.auditLog.Log("purchase.succeeded", map[string]interface{}{
		"vendor": v.Name, "activationId": activationID, "price": sellPrice,
	})

	return Purchase{
		ActivationID: activationID,
		PhoneNumber:  result.PhoneNumber,
		SellPrice:    sellPrice,
		Vendor:       v.Name,
	}, nil
}

// dispatch resolves an activation ID to its adapter, falling back to
// probing all active vendors in order when the ID carries no
// recognizable vendor prefix.
func (r *Router) dispatch(ctx context.Context, activationID string, op func(a *adapter.Adapter, vendorActivationID string) error) error {
	vendorSlug, vendorActivationID, err := ParseActivationID(activationID)
	if err == nil {
		vendors, err := r.vendors.Get(ctx)
		if err != nil {
			return err
		}
		for _, v := range vendors {
			if v.Name == vendorSlug {
				return op(r.newAdapter(v), vendorActivationID)
			}
		}
		return &FailoverError{Attempts: map[string]string{vendorSlug: "vendor not found"}}
	}

	vendors, vErr := r.vendors.Get(ctx)
	if vErr != nil {
		return vErr
	}
	attempts := make(map[string]string)
	kinds := make(map[string]vendorerr.Kind)
	for _, v := range vendors {
		if opErr := op(r.newAdapter(v), activationID); opErr == nil {
			return nil
		} else {
			attempts[v.Name] = opErr.Error()
			kind, _ := vendorerr.Of(opErr)
			kinds[v.Name] = kind
		}
	}
	return &FailoverError{Attempts: attempts, Kinds: kinds}
}

func (r *Router) Status(ctx context.Context, activationID string) (adapter.ActivationStatus, error) {
	var status adapter.ActivationStatus
	err := r.dispatch(ctx, activationID, func(a *adapter.Adapter, id string) error {
		s, err := a.Status(ctx, id)
		status = s
		return err
	})
	return status, err
}

func (r *Router) Cancel(ctx context.Context, activationID string) error {
	return r.dispatch(ctx, activationID, func(a *adapter.Adapter, id string) error { return a.Cancel(ctx, id) })
}

func (r *Router) Resend(ctx context.Context, activationID string) error {
	return r.dispatch(ctx, activationID, func(a *adapter.Adapter, id string) error { return a.Resend(ctx, id) })
}

func (r *Router) Complete(ctx context.Context, activationID string) error {
	return r.dispatch(ctx, activationID, func(a *adapter.Adapter, id string) error { return a.Complete(ctx, id) })
}

// TotalBalance sums getBalance() across active vendors; a per-vendor
// failure contributes 0.
func (r *Router) TotalBalance(ctx context.Context) (float64, error) {
	vendors, err := r.vendors.Get(ctx)
	if err != nil {
		return 0, err
	}
	var total float64
	for _, v := range vendors {
		a := r.newAdapter(v)
		balance, err := a.GetBalance(ctx)
		if err != nil {
			r.log.WithVendor(v.Name).WithError(err).SyncEventLogger(v.Name, "balance-query-failed", nil)
			continue
		}
		total += balance
	}
	return total, nil
}

// LowBalanceVendors implements the balance-check endpoint: vendors whose last known balance is below their configured
// threshold.
func (r *Router) LowBalanceVendors(ctx context.Context) ([]store.Vendor, error) {
	vendors, err := r.vendors.Get(ctx)
	if err != nil {
		return nil, err
	}
	low := make([]store.Vendor, 0)
	for _, v := range vendors {
		if v.LastBalance < v.LowBalanceThreshold {
			low = append(low, v)
		}
	}
	return low, nil
}
