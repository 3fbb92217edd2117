package health

import (
	"context"
	"testing"
	"time"

	"github.com/nexnum/provider-core/internal/platform/kv"
	"github.com/nexnum/provider-core/internal/vendorerr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMonitor(t *testing.T) (*Monitor, kv.Store) {
	t.Helper()
	store := kv.NewMemoryStore()
	reg := prometheus.NewRegistry()
	m := New(store, Config{
		Window:           time.Minute,
		FailureThreshold: 3,
		HalfOpenRequests: 2,
		BaseOpenDuration: time.Millisecond, // fast transitions for tests
	}, reg)
	return m, store
}

func TestRecordOutcomeTripsCircuitOnConsecutiveFailures(t *testing.T) {
	m, _ := newTestMonitor(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		err := m.RecordOutcome(ctx, "vendorA", "", vendorerr.ServerError, 10*time.Millisecond)
		require.NoError(t, err)
	}

	state, err := m.CircuitState(ctx, "vendorA")
	require.NoError(t, err)
	assert.Equal(t, Open, state)

	available, err := m.IsAvailable(ctx, "vendorA")
	require.NoError(t, err)
	assert.False(t, available)
}

func TestRecordOutcomeSystemicErrorTripsImmediately(t *testing.T) {
	m, _ := newTestMonitor(t)
	ctx := context.Background()

	err := m.RecordOutcome(ctx, "vendorB", "", vendorerr.BadCredentials, 5*time.Millisecond)
	require.NoError(t, err)

	state, err := m.CircuitState(ctx, "vendorB")
	require.NoError(t, err)
	assert.Equal(t, Open, state)
}

func TestCircuitHalfOpenClosesAfterConsecutiveSuccesses(t *testing.T) {
	m, _ := newTestMonitor(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, m.RecordOutcome(ctx, "vendorC", "", vendorerr.ServerError, time.Millisecond))
	}
	state, _ := m.CircuitState(ctx, "vendorC")
	require.Equal(t, Open, state)

	time.Sleep(2 * time.Millisecond) // let the (fast) backoff window expire

	require.NoError(t, m.RecordOutcome(ctx, "vendorC", "", "", time.Millisecond))
	state, _ = m.CircuitState(ctx, "vendorC")
	assert.Equal(t, HalfOpen, state)

	require.NoError(t, m.RecordOutcome(ctx, "vendorC", "", "", time.Millisecond))
	state, _ = m.CircuitState(ctx, "vendorC")
	assert.Equal(t, Closed, state)
}

func TestCircuitHalfOpenFailureReopens(t *testing.T) {
	m, _ := newTestMonitor(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, m.RecordOutcome(ctx, "vendorD", "", vendorerr.ServerError, time.Millisecond))
	}
	time.Sleep(2 * time.Millisecond)

	require.NoError(t, m.RecordOutcome(ctx, "vendorD", "", vendorerr.ServerError, time.Millisecond))
	state, _ := m.CircuitState(ctx, "vendorD")
	assert.Equal(t, Open, state)
}

func TestLifecycleTerminalCountsAsSuccess(t *testing.T) {
	m, _ := newTestMonitor(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, m.RecordOutcome(ctx, "vendorE", "", vendorerr.LifecycleTerminal, time.Millisecond))
	}

	health, err := m.Health(ctx, "vendorE", "")
	require.NoError(t, err)
	assert.InDelta(t, 1.0, health.SuccessRate, 0.0001)
	assert.Equal(t, Closed, health.CircuitState)
}

func TestHealthDefaultsToFullSuccessWithNoSamples(t *testing.T) {
	m, _ := newTestMonitor(t)
	ctx := context.Background()

	health, err := m.Health(ctx, "freshVendor", "us")
	require.NoError(t, err)
	assert.Equal(t, 1.0, health.SuccessRate)
	assert.True(t, health.IsAvailable)
}

func TestForceOpenAndClearOverride(t *testing.T) {
	m, _ := newTestMonitor(t)
	ctx := context.Background()

	require.NoError(t, m.ForceOpen(ctx, "vendorF"))
	available, err := m.IsAvailable(ctx, "vendorF")
	require.NoError(t, err)
	assert.False(t, available)

	// Automatic recovery is suspended while the override holds, even
	// after the backoff window would normally have expired.
	time.Sleep(2 * time.Millisecond)
	require.NoError(t, m.RecordOutcome(ctx, "vendorF", "", "", time.Millisecond))
	state, _ := m.CircuitState(ctx, "vendorF")
	assert.Equal(t, Open, state)

	require.NoError(t, m.ClearOverride(ctx, "vendorF"))
}

func TestDecayedSuccessRateWeightsRecentSamplesMore(t *testing.T) {
	window := time.Minute
	now := time.Now().UnixMilli()
	samples := []sample{
		{TimestampUnixMs: now, Success: true, LatencyMs: 10},
		{TimestampUnixMs: now - window.Milliseconds(), Success: false, LatencyMs: 10},
	}
	rate := decayedSuccessRate(samples, window)
	assert.Greater(t, rate, 0.5)
}
