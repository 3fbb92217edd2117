// Package sync implements the Catalog Synchronizer: per-vendor catalog
// and price refresh, offer construction, and search-index publishing
//, run on a schedule or on demand.
package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/nexnum/provider-core/internal/adapter"
	"github.com/nexnum/provider-core/internal/config"
	"github.com/nexnum/provider-core/internal/platform/audit"
	"github.com/nexnum/provider-core/internal/platform/logging"
	"github.com/nexnum/provider-core/internal/platform/workerbus"
	"github.com/nexnum/provider-core/internal/registry"
	"github.com/nexnum/provider-core/internal/searchindex"
	"github.com/nexnum/provider-core/internal/store"
)

const metadataFreshness = 24 * time.Hour

// Summary is the on-demand sync endpoint's response shape.
type Summary struct {
	Vendor     string `json:"vendor"`
	Countries  int    `json:"countries"`
	Services   int    `json:"services"`
	Prices     int    `json:"prices"`
	DurationMs int64  `json:"durationMs"`
	Error      string `json:"error,omitempty"`
}

// AdapterFactory builds a vendor-bound Adapter; injected so tests can
// substitute a fake transport.
type AdapterFactory func(store.Vendor) *adapter.Adapter

// rateSource is the subset of exchangerates.Client the synchronizer
// needs, narrowed so tests can fake it without an HTTP dependency.
type rateSource interface {
	adapter.RateSource
	Refresh(ctx context.Context) error
}

// pointsRateSource is the subset of settings.Client the synchronizer
// needs.
type pointsRateSource interface {
	PointsRate(ctx context.Context) (float64, error)
}

// Synchronizer orchestrates per-vendor syncs.
type Synchronizer struct {
	repo       *store.Repository
	registry   *registry.Registry
	index      searchindex.Index
	rates      rateSource
	settings   pointsRateSource
	bus        workerbus.Bus
	auditLog   audit.Logger
	icons      *IconReconciler
	newAdapter AdapterFactory
	log        *logging.Logger
	cfg        config.SyncConfig
}

func New(
	repo *store.Repository,
	reg *registry.Registry,
	index searchindex.Index,
	rates rateSource,
	sys pointsRateSource,
	bus workerbus.Bus,
	auditLog audit.Logger,
	icons *IconReconciler,
	newAdapter AdapterFactory,
	log *logging.Logger,
	cfg config.SyncConfig,
) *Synchronizer {
	return &Synchronizer{
		repo:       repo,
		registry:   reg,
		index:      index,
		rates:      rates,
		settings:   sys,
		bus:        bus,
		auditLog:   auditLog,
		icons:      icons,
		newAdapter: newAdapter,
		log:        log,
		cfg:        cfg,
	}
}

// SyncAll runs a full sync: refreshes exchange rates once, then syncs
// every active vendor (or only cfg.OnlyVendor, per SYNC_PROVIDER) in
// its own isolated worker, in parallel.
func (s *Synchronizer) SyncAll(ctx context.Context) ([]Summary, error) {
	if err := s.rates.Refresh(ctx); err != nil {
		s.log.WithError(err).SyncEventLogger("*", "rates-refresh-failed", nil)
	}

	vendors, err := s.repo.ActiveVendors(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list active vendors for sync: %w", err)
	}
	if s.cfg.OnlyVendor != "" {
		vendors = filterVendor(vendors, s.cfg.OnlyVendor)
	}

	results := make(chan Summary, len(vendors))
	for _, v := range vendors {
		go func(v store.Vendor) {
			results <- runIsolated(ctx, v.Name, func() Summary {
				return s.SyncVendor(ctx, v)
			})
		}(v)
	}

	summaries := make([]Summary, 0, len(vendors))
	for range vendors {
		summaries = append(summaries, <-results)
	}
	return summaries, nil
}

func filterVendor(vendors []store.Vendor, name string) []store.Vendor {
	for _, v := range vendors {
		if v.Name == name {
			return []store.Vendor{v}
		}
	}
	return nil
}

// runIsolated recovers from a panic in fn so one vendor's crash cannot
// take the scheduler down.
func runIsolated(ctx context.Context, vendor string, fn func() Summary) (summary Summary) {
	defer func() {
		if r := recover(); r != nil {
			summary = Summary{Vendor: vendor, Error: fmt.Sprintf("panic: %v", r)}
		}
	}()
	return fn()
}

// SyncVendor runs the strict per-vendor pipeline: metadata upsert ->
// offer emission -> index delete-then-add -> status flip.
func (s *Synchronizer) SyncVendor(ctx context.Context, v store.Vendor) Summary {
	start := time.Now()
	s.publish(v.Name, "started", Summary{Vendor: v.Name})

	run := &store.SyncRun{VendorID: v.ID, VendorName: v.Name, StartedAt: start, Status: store.SyncSyncing}
	_ = s.repo.RecordSyncRun(ctx, run)

	if err := s.repo.UpdateVendorSyncStatus(ctx, v.ID, store.SyncSyncing); err != nil {
		return s.fail(ctx, v, run, start, err)
	}

	a := s.newAdapter(v)

	s.refreshBalance(ctx, a, v)

	countries, services, metadataTouched, err := s.syncMetadata(ctx, a, v)
	if err != nil {
		return s.fail(ctx, v, run, start, err)
	}
	s.publish(v.Name, "metadata", Summary{Vendor: v.Name, Countries: len(countries), Services: len(services)})

	prices, err := s.syncPrices(ctx, a, v, countries)
	if err != nil {
		return s.fail(ctx, v, run, start, err)
	}
	s.publish(v.Name, "prices", Summary{Vendor: v.Name, Prices: len(prices)})

	pointsRate, err := s.settings.PointsRate(ctx)
	if err != nil {
		return s.fail(ctx, v, run, start, err)
	}

	offers, err := s.buildOffers(v, countries, services, prices, pointsRate)
	if err != nil {
		return s.fail(ctx, v, run, start, err)
	}

	select {
	case <-ctx.Done():
		// Cancellation mid-publish must abort before the delete step
		// to avoid leaving the index empty.
		return s.fail(ctx, v, run, start, ctx.Err())
	default:
	}

	s.publish(v.Name, "publishing", Summary{Vendor: v.Name})
	if err := s.index.DeleteByVendor(ctx, v.Name); err != nil {
		return s.fail(ctx, v, run, start, err)
	}
	if err := s.index.Upsert(ctx, offers); err != nil {
		return s.fail(ctx, v, run, start, err)
	}

	if err := s.repo.MarkVendorSynced(ctx, v.ID, metadataTouched); err != nil {
		return s.fail(ctx, v, run, start, err)
	}

	now := time.Now()
	run.FinishedAt = &now
	run.Countries, run.Services, run.Prices = len(countries), len(services), len(prices)
	run.Status = store.SyncSuccess
	_ = s.repo.FinishSyncRun(ctx, run)

	s.auditLog.Log("sync.completed", map[string]interface{}{
		"vendor": v.Name, "countries": len(countries), "services": len(services), "prices": len(prices),
	})

	summary := Summary{
		Vendor: v.Name, Countries: len(countries), Services: len(services),
		Prices: len(prices), DurationMs: time.Since(start).Milliseconds(),
	}
	s.publish(v.Name, "done", summary)
	return summary
}

func (s *Synchronizer) refreshBalance(ctx context.Context, a *adapter.Adapter, v store.Vendor) {
	balance, err := a.GetBalance(ctx)
	if err != nil {
		s.log.WithVendor(v.Name).WithError(err).SyncEventLogger(v.Name, "balance-check-failed", nil)
		return
	}
	_ = s.repo.UpdateVendorBalance(ctx, v.ID, balance)
}

// syncMetadata implements the metadata-freshness rule: reuse the stored catalog when fresh, otherwise re-fetch.
func (s *Synchronizer) syncMetadata(ctx context.Context, a *adapter.Adapter, v store.Vendor) ([]store.ProviderCountry, []store.ProviderService, bool, error) {
	stored, err := s.repo.ProviderCountriesByVendor(ctx, v.ID)
	if err != nil {
		return nil, nil, false, err
	}

	if isMetadataFresh(v, stored) {
		services, err := s.repo.ProviderServicesByVendor(ctx, v.ID)
		if err != nil {
			return nil, nil, false, err
		}
		return stored, services, false, nil
	}

	countries, err := a.ListCountries(ctx)
	if err != nil {
		return nil, nil, false, fmt.Errorf("failed to list countries for %s: %w", v.Name, err)
	}

	countryRows := make([]store.ProviderCountry, 0, len(countries))
	countryCodes := make([]string, 0, len(countries))
	for _, c := range countries {
		entry, err := adapter.NormalizeCountry(ctx, s.registry, s.icons, c.ExternalID, c.Name, c.IconURL)
		if err != nil {
			s.log.WithVendor(v.Name).WithError(err).SyncEventLogger(v.Name, "country-normalize-failed", map[string]interface{}{"externalId": c.ExternalID})
			continue
		}
		if s.icons != nil {
			_ = s.icons.Reconcile(ctx, entry.CanonicalCode, c.IconURL)
		}
		row := &store.ProviderCountry{
			VendorID: v.ID, ExternalID: c.ExternalID,
			CanonicalCode: entry.CanonicalCode, CanonicalName: entry.CanonicalName,
			IconURL: entry.IconURL, IsActive: true,
		}
		if _, err := s.repo.UpsertProviderCountry(ctx, row); err != nil {
			s.log.WithVendor(v.Name).WithError(err).SyncEventLogger(v.Name, "country-upsert-failed", nil)
			continue
		}
		countryRows = append(countryRows, *row)
		countryCodes = append(countryCodes, entry.CanonicalCode)
	}

	services, err := a.ListServices(ctx, "", countryCodes)
	if err != nil {
		return countryRows, nil, true, fmt.Errorf("failed to list services for %s: %w", v.Name, err)
	}

	serviceRows := make([]store.ProviderService, 0, len(services))
	for _, sv := range services {
		entry, err := adapter.NormalizeService(ctx, s.registry, s.icons, sv.ExternalID, sv.Name, nil, sv.IconURL)
		if err != nil {
			s.log.WithVendor(v.Name).WithError(err).SyncEventLogger(v.Name, "service-normalize-failed", map[string]interface{}{"externalId": sv.ExternalID})
			continue
		}
		if s.icons != nil {
			_ = s.icons.Reconcile(ctx, entry.CanonicalCode, sv.IconURL)
		}
		row := &store.ProviderService{
			VendorID: v.ID, ExternalID: sv.ExternalID,
			CanonicalCode: entry.CanonicalCode, CanonicalName: entry.CanonicalName,
			IconURL: entry.IconURL, IsActive: true,
		}
		if _, err := s.repo.UpsertProviderService(ctx, row); err != nil {
			s.log.WithVendor(v.Name).WithError(err).SyncEventLogger(v.Name, "service-upsert-failed", nil)
			continue
		}
		serviceRows = append(serviceRows, *row)
	}

	return countryRows, serviceRows, true, nil
}

func isMetadataFresh(v store.Vendor, stored []store.ProviderCountry) bool {
	if len(stored) == 0 || v.LastMetadataSyncAt == nil {
		return false
	}
	if time.Since(*v.LastMetadataSyncAt) >= metadataFreshness {
		return false
	}
	for _, row := range stored {
		if row.CanonicalName == "" {
			return false
		}
	}
	return true
}

// priceRow is one canonical-resolved price ready for offer emission.
// countryCode is already canonical; serviceExternalID is still the
// vendor's raw service identifier, resolved against serviceByExternal
// in buildOffers.
type priceRow struct {
	countryCode      string
	serviceExternalID string
	operator         string
	rawPrice         float64
	count            int
}

// syncPrices fetches prices either globally or fanned out per country,
// bounded by config.SyncConfig's concurrency and per-minute knobs.
func (s *Synchronizer) syncPrices(ctx context.Context, a *adapter.Adapter, v store.Vendor, countries []store.ProviderCountry) ([]priceRow, error) {
	if v.UseGlobalSync {
		rows, err := a.ListPrices(ctx, "")
		if err != nil {
			return nil, fmt.Errorf("failed to list global prices for %s: %w", v.Name, err)
		}
		return s.toPriceRows(rows, countries), nil
	}

	maxInFlight := s.cfg.MaxInFlight
	if maxInFlight <= 0 {
		maxInFlight = 50
	}
	perMinuteCap := s.cfg.PerMinuteCap
	if perMinuteCap <= 0 {
		perMinuteCap = 180
	}
	lim := newLimiter(maxInFlight, perMinuteCap)
	defer lim.Close()

	type result struct {
		rows []adapter.Price
		err  error
	}
	resultsCh := make(chan result, len(countries))

	for _, c := range countries {
		c := c
		go func() {
			if err := lim.Acquire(ctx); err != nil {
				resultsCh <- result{err: err}
				return
			}
			defer lim.Release()
			rows, err := a.ListPrices(ctx, c.CanonicalCode)
			if err != nil {
				s.log.WithVendor(v.Name).WithError(err).SyncEventLogger(v.Name, "price-fetch-failed", map[string]interface{}{"country": c.CanonicalCode})
				resultsCh <- result{}
				return
			}
			resultsCh <- result{rows: rows}
		}()
	}

	var all []adapter.Price
	for range countries {
		r := <-resultsCh
		if r.err != nil && r.err == context.Canceled {
			return nil, r.err
		}
		all = append(all, r.rows...)
	}
	return s.toPriceRows(all, countries), nil
}

func (s *Synchronizer) toPriceRows(rows []adapter.Price, countries []store.ProviderCountry) []priceRow {
	countryByExternal := make(map[string]string, len(countries))
	for _, c := range countries {
		countryByExternal[c.ExternalID] = c.CanonicalCode
	}
	out := make([]priceRow, 0, len(rows))
	for _, r := range rows {
		countryCode := countryByExternal[r.CountryExternalID]
		out = append(out, priceRow{
			countryCode:       countryCode,
			serviceExternalID: r.ServiceExternalID,
			operator:          r.Operator,
			rawPrice:          r.RawPrice,
			count:             r.Count,
		})
	}
	return out
}

// buildOffers computes sell price per priced row with count>0 and
// emits one offer document each.
func (s *Synchronizer) buildOffers(v store.Vendor, countries []store.ProviderCountry, services []store.ProviderService, prices []priceRow, pointsRate float64) ([]searchindex.Offer, error) {
	countryByCode := make(map[string]store.ProviderCountry, len(countries))
	for _, c := range countries {
		countryByCode[c.CanonicalCode] = c
	}
	serviceByExternal := make(map[string]store.ProviderService, len(services))
	for _, sv := range services {
		serviceByExternal[sv.ExternalID] = sv
	}

	offers := make([]searchindex.Offer, 0, len(prices))
	for _, p := range prices {
		if p.count <= 0 {
			continue
		}
		country, ok := countryByCode[p.countryCode]
		if !ok {
			continue
		}
		service, ok := serviceByExternal[p.serviceExternalID]
		if !ok {
			continue
		}

		result, err := adapter.ComputePrice(v, p.rawPrice, pointsRate, s.rates)
		if err != nil {
			// A single unresolved rate should not fail the whole sync;
			// skip this offer and keep going.
			s.log.WithVendor(v.Name).WithError(err).SyncEventLogger(v.Name, "price-compute-failed", map[string]interface{}{"operator": p.operator})
			continue
		}

		sell, _ := result.SellPoints.Float64()
		raw, _ := result.RawCost.Float64()

		offers = append(offers, searchindex.Offer{
			ID:                  searchindex.OfferID(v.Name, country.CanonicalCode, service.CanonicalCode, p.operator),
			Vendor:              v.Name,
			ProviderCountryCode: country.CanonicalCode,
			CountryID:           country.ID,
			CountryName:         country.CanonicalName,
			CountryIcon:         country.IconURL,
			ProviderServiceCode: service.CanonicalCode,
			ServiceID:           service.ID,
			ServiceName:         service.CanonicalName,
			ServiceIcon:         service.IconURL,
			Operator:            p.operator,
			Price:               sell,
			RawPrice:            raw,
			Stock:               p.count,
			LastSyncedAt:        time.Now().UTC(),
			IsActive:            true,
		})
	}
	return offers, nil
}

func (s *Synchronizer) fail(ctx context.Context, v store.Vendor, run *store.SyncRun, start time.Time, err error) Summary {
	_ = s.repo.UpdateVendorSyncStatus(ctx, v.ID, store.SyncFailed)

	now := time.Now()
	run.FinishedAt = &now
	run.Status = store.SyncFailed
	run.Error = err.Error()
	_ = s.repo.FinishSyncRun(ctx, run)

	s.log.WithVendor(v.Name).WithError(err).SyncEventLogger(v.Name, "sync-failed", nil)
	s.auditLog.Log("sync.failed", map[string]interface{}{"vendor": v.Name, "error": err.Error()})

	summary := Summary{Vendor: v.Name, DurationMs: time.Since(start).Milliseconds(), Error: err.Error()}
	s.publish(v.Name, "failed", summary)
	return summary
}

func (s *Synchronizer) publish(vendor, phase string, summary Summary) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(workerbus.Status{
		Vendor: vendor, Phase: phase,
		Countries: summary.Countries, Services: summary.Services, Prices: summary.Prices,
		Error: summary.Error,
	})
}
