package dispatch

import (
	"os"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/bandit-router/bandit-router/bandit"
)

func TestMain(m *testing.M) {
	if os.Getenv("DEBUG_TESTS") == "" {
		logrus.SetLevel(logrus.ErrorLevel)
	}
	os.Exit(m.Run())
}

func newTestDispatcher(shadows []string) (*Dispatcher, *bandit.TenantRouters) {
	rng := bandit.NewPartitionedRNG(bandit.NewEngineKey(21))
	registry := bandit.NewTenantRouters(bandit.RegistryOptions{RNG: rng})
	d := New(Config{
		ActivePolicy:   "thompson",
		ShadowPolicies: shadows,
		Params:         bandit.PolicyParams{Dim: 3, Sigma: bandit.DefaultLinTSSigma},
	}, registry, rng)
	return d, registry
}

// TestDispatcher_ActiveDecidesAndRecords verifies the production decision
// comes from the active policy and feeds the selection counters.
func TestDispatcher_ActiveDecidesAndRecords(t *testing.T) {
	d, registry := newTestDispatcher(nil)
	candidates := []string{"a", "b"}

	decision := d.Decide("t", "w", []float64{1, 0, 1}, candidates)
	require.Contains(t, candidates, decision.ArmID)
	require.Equal(t, int64(1), registry.SelectionCount("t", "w", decision.ArmID))
}

// TestDispatcher_OutcomeUpdatesActive verifies the normalized reward lands
// in the tenant router's posterior.
func TestDispatcher_OutcomeUpdatesActive(t *testing.T) {
	d, registry := newTestDispatcher(nil)
	ctx := []float64{1, 0, 1}

	reward := d.RecordOutcome("t", "w", "served", ctx, []string{"served", "other"}, 1.0, 100, 1.0)
	require.InDelta(t, 0.85, reward, 1e-12, "fresh normalizer identity")

	st := registry.Router("t", "w").State("served")
	require.NotNil(t, st)
	require.InDelta(t, 1.85, st.Alpha, 1e-12)
}

// TestDispatcher_ShadowObservedNotServed verifies shadow policies see every
// outcome but never influence the production decision, and that their
// evaluation reaches the regret tracker.
func TestDispatcher_ShadowObservedNotServed(t *testing.T) {
	d, registry := newTestDispatcher([]string{"lints"})
	ctx := []float64{1, 0.5, 1}
	candidates := []string{"a", "b"}

	for i := 0; i < 50; i++ {
		decision := d.Decide("t", "w", ctx, candidates)
		d.RecordOutcome("t", "w", decision.ArmID, ctx, candidates, 0.8, 200, 1.0)
	}

	summary := d.Tracker().Summary()
	require.Equal(t, int64(50), summary.BaselinePulls)
	require.Len(t, summary.Policies, 1)
	require.Equal(t, "lints", summary.Policies[0].Policy)
	require.Equal(t, int64(50), summary.Policies[0].Pulls)
	// Shadow reuses the production reward stream, so it sits at parity.
	require.InDelta(t, 1.0, summary.Policies[0].PerformanceRatio, 1e-9)

	// The production posterior only contains arms production served.
	for _, arm := range registry.Router("t", "w").Arms() {
		require.Contains(t, candidates, arm)
	}
}

// TestDispatcher_ShadowPanicContained verifies a misbehaving shadow policy
// cannot break outcome recording. A 3-dim lints shadow fed a 2-dim context
// panics internally; the baseline must still advance.
func TestDispatcher_ShadowPanicContained(t *testing.T) {
	d, _ := newTestDispatcher([]string{"lints"})
	badCtx := []float64{1, 0}

	require.NotPanics(t, func() {
		d.RecordOutcome("t", "w", "a", badCtx, []string{"a"}, 0.9, 100, 1.0)
	})
	require.Equal(t, int64(1), d.Tracker().Summary().BaselinePulls)
}

// TestDispatcher_ContextualActive verifies a lints active policy is
// process-wide and honors the context dimension.
func TestDispatcher_ContextualActive(t *testing.T) {
	rng := bandit.NewPartitionedRNG(bandit.NewEngineKey(5))
	registry := bandit.NewTenantRouters(bandit.RegistryOptions{RNG: rng})
	d := New(Config{
		ActivePolicy: "lints",
		Params:       bandit.PolicyParams{Dim: 3, Sigma: bandit.DefaultLinTSSigma},
	}, registry, rng)

	decision := d.Decide("t", "w", []float64{1, 0, 1}, []string{"a", "b"})
	require.NotEmpty(t, decision.ArmID)

	reward := d.RecordOutcome("t", "w", decision.ArmID, []float64{1, 0, 1}, []string{"a", "b"}, 0.9, 150, 0.5)
	require.Greater(t, reward, 0.0)
}

// TestDispatcher_UnknownPolicyPanics verifies the closed policy set is
// enforced at construction, not at first use.
func TestDispatcher_UnknownPolicyPanics(t *testing.T) {
	rng := bandit.NewPartitionedRNG(bandit.NewEngineKey(1))
	registry := bandit.NewTenantRouters(bandit.RegistryOptions{RNG: rng})
	require.Panics(t, func() {
		New(Config{ActivePolicy: "ucb"}, registry, rng)
	})
}
