package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nexnum/provider-core/internal/adapter"
	"github.com/nexnum/provider-core/internal/health"
	"github.com/nexnum/provider-core/internal/platform/audit"
	"github.com/nexnum/provider-core/internal/platform/kv"
	"github.com/nexnum/provider-core/internal/platform/logging"
	"github.com/nexnum/provider-core/internal/router"
	"github.com/nexnum/provider-core/internal/searchindex"
	"github.com/nexnum/provider-core/internal/store"
	"github.com/nexnum/provider-core/internal/sync"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSynchronizer struct {
	allResult []sync.Summary
	allErr    error
}

func (f *fakeSynchronizer) SyncAll(_ context.Context) ([]sync.Summary, error) {
	return f.allResult, f.allErr
}

func (f *fakeSynchronizer) SyncVendor(_ context.Context, v store.Vendor) sync.Summary {
	return sync.Summary{Vendor: v.Name, Countries: 1, Services: 1, Prices: 1}
}

type fakeVendorLookup struct {
	vendors map[string]*store.Vendor
}

func (f *fakeVendorLookup) VendorByName(_ context.Context, name string) (*store.Vendor, error) {
	v, ok := f.vendors[name]
	if !ok {
		return nil, nil
	}
	return v, nil
}

type fakeVendorSourceAPI struct {
	vendors []store.Vendor
}

func (f *fakeVendorSourceAPI) ActiveVendors(_ context.Context) ([]store.Vendor, error) {
	return f.vendors, nil
}

func newTestServer(t *testing.T, vendors []store.Vendor, secret string) (*Server, *searchindex.MemoryIndex) {
	t.Helper()
	log := logging.New("provider-core-test", logging.Config{})
	kvStore := kv.NewMemoryStore()
	hMon := health.New(kvStore, health.Config{}, prometheus.NewRegistry())
	index := searchindex.NewMemoryIndex()
	vendorCache := router.NewActiveVendorCache(kvStore, &fakeVendorSourceAPI{vendors: vendors}, 0)
	newAdapter := func(v store.Vendor) *adapter.Adapter { return adapter.New(v, log) }
	r := router.New(vendorCache, hMon, index, newAdapter, audit.NewLogOnly(log), log)

	lookup := make(map[string]*store.Vendor, len(vendors))
	for i := range vendors {
		lookup[vendors[i].Name] = &vendors[i]
	}

	s := New(&fakeSynchronizer{allResult: []sync.Summary{{Vendor: "acme", Countries: 2}}}, &fakeVendorLookup{vendors: lookup}, r, log, secret)
	return s, index
}

func TestHealthCheckReturnsOK(t *testing.T) {
	s, _ := newTestServer(t, nil, "")
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	s.Engine().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestTriggerSyncWithEmptyBodySyncsAll(t *testing.T) {
	s, _ := newTestServer(t, nil, "")
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sync", nil)
	s.Engine().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var summaries []sync.Summary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summaries))
	require.Len(t, summaries, 1)
	assert.Equal(t, "acme", summaries[0].Vendor)
}

func TestTriggerSyncWithNamedVendorRequiresKnownVendor(t *testing.T) {
	s, _ := newTestServer(t, nil, "")
	body, _ := json.Marshal(map[string]string{"vendor": "unknown"})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sync", bytes.NewReader(body))
	s.Engine().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminEndpointsRejectMissingBearerTokenWhenSecretConfigured(t *testing.T) {
	s, _ := newTestServer(t, nil, "super-secret")
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sync", nil)
	s.Engine().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGetQuotesRequiresCountryAndService(t *testing.T) {
	s, _ := newTestServer(t, nil, "")
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/quotes", nil)
	s.Engine().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetQuotesReturnsEmptyListWhenNoOffersIndexed(t *testing.T) {
	s, _ := newTestServer(t, []store.Vendor{{Name: "acme", IsActive: true, Priority: 1, Weight: 1, PriceMultiplier: 1}}, "")
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/quotes?country=us&service=telegram", nil)
	s.Engine().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var providers []router.RankedProvider
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &providers))
	assert.Empty(t, providers)
}

func TestPurchaseWithNoEligibleVendorsReturnsFailover(t *testing.T) {
	s, _ := newTestServer(t, nil, "")
	body, _ := json.Marshal(map[string]string{"countryCode": "us", "serviceCode": "telegram"})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/purchases", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	s.Engine().ServeHTTP(rec, req)

	assert.True(t, rec.Code == http.StatusConflict || rec.Code == http.StatusBadGateway)
}

func TestPurchaseRejectsMissingFields(t *testing.T) {
	s, _ := newTestServer(t, nil, "")
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/purchases", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Content-Type", "application/json")
	s.Engine().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
