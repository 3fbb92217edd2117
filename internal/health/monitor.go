// Package health implements the per-vendor circuit breaker and
// time-decayed success-rate tracking. State lives in the shared kv
// store (sliding-window samples, circuit state) so multiple process
// instances observe the same vendor health.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/nexnum/provider-core/internal/platform/kv"
	"github.com/nexnum/provider-core/internal/vendorerr"
	"github.com/prometheus/client_golang/prometheus"
)

// CircuitState is the admission gate for one vendor.
type CircuitState string

const (
	Closed   CircuitState = "closed"
	Open     CircuitState = "open"
	HalfOpen CircuitState = "half-open"
)

const (
	defaultWindow           = 60 * time.Second
	defaultFailureThreshold = 5
	defaultHalfOpenRequests = 3
	defaultBaseOpenDuration = 60 * time.Second
	maxBackoffMultiplier    = 10
	deliverySampleCap       = 50
	smsCountSampleCap       = 100
	lruTTL                  = 5 * time.Second
)

// ProviderHealth is the composed, read-facing health summary for one
// (vendor, country) facet.
type ProviderHealth struct {
	Vendor        string
	Country       string
	SuccessRate   float64
	HasSamples    bool
	AvgDeliveryMs float64
	AvgSmsCount   float64
	CircuitState  CircuitState
	IsAvailable   bool
}

// Config tunes the monitor's thresholds; zero values fall back to
// package defaults.
type Config struct {
	Window           time.Duration
	FailureThreshold int
	HalfOpenRequests int
	BaseOpenDuration time.Duration
}

// Monitor is the Health Monitor component.
type Monitor struct {
	store  kv.Store
	cfg    Config
	lru    *gocache.Cache
	lruMu  sync.Mutex
	gauges *gauges
}

type gauges struct {
	successRate *prometheus.GaugeVec
	status      *prometheus.GaugeVec
	avgLatency  *prometheus.GaugeVec
}

func newGauges() *gauges {
	return &gauges{
		successRate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "provider_core_vendor_success_rate",
			Help: "Decayed success rate per vendor/country facet.",
		}, []string{"vendor", "country"}),
		status: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "provider_core_vendor_circuit_status",
			Help: "Circuit status per vendor: 0=open 1=half-open 2=closed.",
		}, []string{"vendor"}),
		avgLatency: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "provider_core_vendor_avg_latency_ms",
			Help: "Average delivery latency per vendor/country facet.",
		}, []string{"vendor", "country"}),
	}
}

// New builds a Monitor and registers its gauges with reg (pass
// prometheus.DefaultRegisterer in production, a fresh registry in
// tests).
func New(store kv.Store, cfg Config, reg prometheus.Registerer) *Monitor {
	if cfg.Window == 0 {
		cfg.Window = defaultWindow
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = defaultFailureThreshold
	}
	if cfg.HalfOpenRequests == 0 {
		cfg.HalfOpenRequests = defaultHalfOpenRequests
	}
	if cfg.BaseOpenDuration == 0 {
		cfg.BaseOpenDuration = defaultBaseOpenDuration
	}

	g := newGauges()
	if reg != nil {
		reg.MustRegister(g.successRate, g.status, g.avgLatency)
	}

	return &Monitor{
		store:  store,
		cfg:    cfg,
		lru:    gocache.New(lruTTL, 2*lruTTL),
		gauges: g,
	}
}

type sample struct {
	TimestampUnixMs int64 `json:"t"`
	Success         bool  `json:"s"`
	LatencyMs       int64 `json:"l"`
}

type circuitRecord struct {
	State             CircuitState `json:"state"`
	ConsecutiveFails  int          `json:"consecutiveFails"`
	RecentTripCount   int          `json:"recentTripCount"`
	OpenUntilUnixMs   int64        `json:"openUntilMs"`
	HalfOpenSuccesses int          `json:"halfOpenSuccesses"`
	ForcedState       CircuitState `json:"forcedState,omitempty"`
}

func sampleKey(vendor, country string) string {
	if country == "" {
		return "health:samples:" + vendor
	}
	return "health:samples:" + vendor + ":" + country
}

func deliveryKey(vendor string) string { return "health:delivery:" + vendor }
func smsCountKey(vendor string) string { return "health:smscount:" + vendor }
func circuitKey(vendor string) string  { return "health:circuit:" + vendor }

// RecordOutcome records one request outcome for vendor (and optional
// country facet) into the sliding window, and evaluates the circuit
// transition rules. LIFECYCLE_TERMINAL outcomes count as success for
// health purposes even though they raised upstream.
func (m *Monitor) RecordOutcome(ctx context.Context, vendor, country string, kind vendorerr.Kind, latency time.Duration) error {
	success := kind == "" || kind.CountsAsSuccess()

	s := sample{TimestampUnixMs: nowMs(), Success: success, LatencyMs: latency.Milliseconds()}
	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal health sample: %w", err)
	}
	windowCapacity := int64(m.cfg.Window/time.Second) * 20 // generous upper bound on samples/sec
	if err := m.store.RPushTrim(ctx, sampleKey(vendor, country), string(payload), windowCapacity, m.cfg.Window*2); err != nil {
		return fmt.Errorf("failed to append health sample: %w", err)
	}

	m.invalidateLRU(vendor, country)

	return m.evaluateCircuit(ctx, vendor, success, kind)
}

// RecordDelivery appends a delivery-time sample (first SMS receipt
// minus purchase time) for a vendor's rolling window of at most 50.
func (m *Monitor) RecordDelivery(ctx context.Context, vendor string, delivery time.Duration) error {
	return m.store.RPushTrim(ctx, deliveryKey(vendor), fmt.Sprintf("%d", delivery.Milliseconds()), deliverySampleCap, 0)
}

// RecordSmsCount appends an sms-count sample for a vendor's rolling
// window of at most 100.
func (m *Monitor) RecordSmsCount(ctx context.Context, vendor string, count int) error {
	return m.store.RPushTrim(ctx, smsCountKey(vendor), fmt.Sprintf("%d", count), smsCountSampleCap, 0)
}

func (m *Monitor) evaluateCircuit(ctx context.Context, vendor string, success bool, kind vendorerr.Kind) error {
	rec, err := m.resolveCircuit(ctx, vendor)
	if err != nil {
		return err
	}

	if rec.ForcedState != "" {
		return nil // manual override in effect; automatic transitions suspended
	}

	switch rec.State {
	case "", Closed:
		if success {
			rec.ConsecutiveFails = 0
		} else {
			rec.ConsecutiveFails++
		}
		if rec.ConsecutiveFails >= m.cfg.FailureThreshold || (!success && kind.Systemic()) {
			m.trip(&rec)
		}

	case Open:
		// still within the open TTL; resolveCircuit already flips to
		// HalfOpen once it expires, so no action is needed here.

	case HalfOpen:
		if success {
			rec.HalfOpenSuccesses++
			if rec.HalfOpenSuccesses >= m.cfg.HalfOpenRequests {
				rec.State = Closed
				rec.ConsecutiveFails = 0
				rec.HalfOpenSuccesses = 0
			}
		} else {
			m.trip(&rec)
		}
	}

	m.updateStatusGauge(vendor, rec.State)
	return m.saveCircuit(ctx, vendor, rec)
}

// trip opens the circuit with exponential backoff capped at 10x the
// base duration.
func (m *Monitor) trip(rec *circuitRecord) {
	rec.RecentTripCount++
	multiplier := math.Min(maxBackoffMultiplier, math.Pow(2, float64(rec.RecentTripCount-1)))
	rec.State = Open
	rec.OpenUntilUnixMs = nowMs() + int64(float64(m.cfg.BaseOpenDuration.Milliseconds())*multiplier)
	rec.ConsecutiveFails = 0
	rec.HalfOpenSuccesses = 0
}

// ForceOpen and ForceClosed implement an operator manual override.
// Forced-closed clears counters.
func (m *Monitor) ForceOpen(ctx context.Context, vendor string) error {
	rec, err := m.loadCircuit(ctx, vendor)
	if err != nil {
		return err
	}
	rec.ForcedState = Open
	rec.State = Open
	rec.OpenUntilUnixMs = nowMs() + m.cfg.BaseOpenDuration.Milliseconds()*maxBackoffMultiplier
	m.updateStatusGauge(vendor, Open)
	return m.saveCircuit(ctx, vendor, rec)
}

func (m *Monitor) ForceClosed(ctx context.Context, vendor string) error {
	rec := circuitRecord{State: Closed, ForcedState: Closed}
	m.updateStatusGauge(vendor, Closed)
	return m.saveCircuit(ctx, vendor, rec)
}

func (m *Monitor) ClearOverride(ctx context.Context, vendor string) error {
	rec, err := m.loadCircuit(ctx, vendor)
	if err != nil {
		return err
	}
	rec.ForcedState = ""
	return m.saveCircuit(ctx, vendor, rec)
}

func (m *Monitor) loadCircuit(ctx context.Context, vendor string) (circuitRecord, error) {
	v, ok, err := m.store.Get(ctx, circuitKey(vendor))
	if err != nil {
		return circuitRecord{}, fmt.Errorf("failed to load circuit state: %w", err)
	}
	if !ok {
		return circuitRecord{State: Closed}, nil
	}
	var rec circuitRecord
	if err := json.Unmarshal([]byte(v), &rec); err != nil {
		return circuitRecord{State: Closed}, nil
	}
	return rec, nil
}

func (m *Monitor) saveCircuit(ctx context.Context, vendor string, rec circuitRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return m.store.Set(ctx, circuitKey(vendor), string(payload), 0)
}

// resolveCircuit loads the stored circuit record and lazily flips an
// expired Open circuit to HalfOpen before returning it. This transition
// must not wait for a new outcome to be recorded: a vendor nobody
// attempts again would otherwise stay Open forever once its TTL passes.
func (m *Monitor) resolveCircuit(ctx context.Context, vendor string) (circuitRecord, error) {
	rec, err := m.loadCircuit(ctx, vendor)
	if err != nil {
		return circuitRecord{}, err
	}
	if rec.ForcedState == "" && rec.State == Open && nowMs() >= rec.OpenUntilUnixMs {
		rec.State = HalfOpen
		rec.HalfOpenSuccesses = 0
		if err := m.saveCircuit(ctx, vendor, rec); err != nil {
			return rec, err
		}
		m.updateStatusGauge(vendor, rec.State)
	}
	return rec, nil
}

// IsAvailable reports whether vendor may be selected for purchase: its
// circuit must not be open.
func (m *Monitor) IsAvailable(ctx context.Context, vendor string) (bool, error) {
	rec, err := m.resolveCircuit(ctx, vendor)
	if err != nil {
		return false, err
	}
	return rec.State != Open, nil
}

func (m *Monitor) CircuitState(ctx context.Context, vendor string) (CircuitState, error) {
	rec, err := m.resolveCircuit(ctx, vendor)
	if err != nil {
		return "", err
	}
	if rec.State == "" {
		return Closed, nil
	}
	return rec.State, nil
}

// Health returns the composed ProviderHealth for (vendor, country),
// serving from the 5s-TTL LRU cache when possible.
func (m *Monitor) Health(ctx context.Context, vendor, country string) (ProviderHealth, error) {
	cacheKey := vendor + "|" + country
	if cached, ok := m.lru.Get(cacheKey); ok {
		return cached.(ProviderHealth), nil
	}

	samples, err := m.loadSamples(ctx, vendor, country)
	if err != nil {
		return ProviderHealth{}, err
	}

	successRate := decayedSuccessRate(samples, m.cfg.Window)

	deliveries, err := m.store.Range(ctx, deliveryKey(vendor), deliverySampleCap)
	if err != nil {
		return ProviderHealth{}, err
	}
	avgDelivery := averageInts(deliveries)

	smsCounts, err := m.store.Range(ctx, smsCountKey(vendor), smsCountSampleCap)
	if err != nil {
		return ProviderHealth{}, err
	}
	avgSms := averageInts(smsCounts)

	state, err := m.CircuitState(ctx, vendor)
	if err != nil {
		return ProviderHealth{}, err
	}

	health := ProviderHealth{
		Vendor:        vendor,
		Country:       country,
		SuccessRate:   successRate,
		HasSamples:    len(samples) > 0,
		AvgDeliveryMs: avgDelivery,
		AvgSmsCount:   avgSms,
		CircuitState:  state,
		IsAvailable:   state != Open,
	}

	m.gauges.successRate.WithLabelValues(vendor, country).Set(successRate)
	m.gauges.avgLatency.WithLabelValues(vendor, country).Set(avgDelivery)

	m.lru.Set(cacheKey, health, lruTTL)
	return health, nil
}

func (m *Monitor) invalidateLRU(vendor, country string) {
	m.lruMu.Lock()
	defer m.lruMu.Unlock()
	m.lru.Delete(vendor + "|" + country)
	m.lru.Delete(vendor + "|")
}

func (m *Monitor) updateStatusGauge(vendor string, state CircuitState) {
	var v float64
	switch state {
	case Open:
		v = 0
	case HalfOpen:
		v = 1
	default:
		v = 2
	}
	m.gauges.status.WithLabelValues(vendor).Set(v)
}

func (m *Monitor) loadSamples(ctx context.Context, vendor, country string) ([]sample, error) {
	raw, err := m.store.Range(ctx, sampleKey(vendor, country), 10000)
	if err != nil {
		return nil, fmt.Errorf("failed to load health samples: %w", err)
	}
	cutoff := nowMs() - m.cfg.Window.Milliseconds()
	samples := make([]sample, 0, len(raw))
	for _, r := range raw {
		var s sample
		if err := json.Unmarshal([]byte(r), &s); err != nil {
			continue
		}
		if s.TimestampUnixMs >= cutoff {
			samples = append(samples, s)
		}
	}
	return samples, nil
}

// decayedSuccessRate weights each sample by 0.5^(age/(window/4)) and
// returns the ratio of weighted successes to weighted total. Unknown
// (no samples) defaults to 1.0, though callers scoring purchases
// substitute their own eligibility default instead.
func decayedSuccessRate(samples []sample, window time.Duration) float64 {
	if len(samples) == 0 {
		return 1.0
	}
	now := nowMs()
	halfLife := float64(window.Milliseconds()) / 4
	if halfLife <= 0 {
		halfLife = 1
	}

	var weightedSuccess, weightedTotal float64
	for _, s := range samples {
		age := float64(now - s.TimestampUnixMs)
		if age < 0 {
			age = 0
		}
		weight := math.Pow(0.5, age/halfLife)
		weightedTotal += weight
		if s.Success {
			weightedSuccess += weight
		}
	}
	if weightedTotal == 0 {
		return 1.0
	}
	return weightedSuccess / weightedTotal
}

func averageInts(values []string) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	var n float64
	for _, v := range values {
		var f float64
		if _, err := fmt.Sscanf(v, "%f", &f); err == nil {
			sum += f
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / n
}

func nowMs() int64 { return time.Now().UnixMilli() }
