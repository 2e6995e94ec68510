package bandit

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestLinTS(dim int, seed int64) *LinTSPolicy {
	return NewLinTSPolicy(dim, DefaultLinTSSigma, rand.New(rand.NewSource(seed)))
}

// TestLinTS_DimensionMismatchPanics verifies a wrong-length context is a
// hard failure on both the recommend and update paths.
func TestLinTS_DimensionMismatchPanics(t *testing.T) {
	policy := newTestLinTS(4, 1)

	require.Panics(t, func() {
		policy.Recommend([]float64{1, 2}, []string{"a"})
	})
	require.Panics(t, func() {
		policy.Update("a", 0.5, []float64{1, 2, 3, 4, 5})
	})
}

// TestLinTS_DisabledArmNeverReturned runs repeated adversarial sampling and
// checks disabled arms never surface.
func TestLinTS_DisabledArmNeverReturned(t *testing.T) {
	policy := newTestLinTS(3, 2)
	ctx := []float64{1, 0.5, 0.2}

	// Give the disabled arm by far the best weights first.
	for i := 0; i < 50; i++ {
		policy.Update("banned", 1.0, ctx)
		policy.Update("ok-1", 0.1, ctx)
		policy.Update("ok-2", 0.1, ctx)
	}
	policy.Disable("banned")

	candidates := []string{"banned", "ok-1", "ok-2"}
	for i := 0; i < 200; i++ {
		d := policy.Recommend(ctx, candidates)
		require.NotEqual(t, "banned", d.ArmID)
		require.NotEmpty(t, d.ArmID)
	}

	policy.Enable("banned")
	seen := false
	for i := 0; i < 200; i++ {
		if policy.Recommend(ctx, candidates).ArmID == "banned" {
			seen = true
			break
		}
	}
	require.True(t, seen, "re-enabled arm with dominant weights should win again")
}

// TestLinTS_AllDisabledReturnsEmpty verifies a fully disabled candidate set
// yields no arm rather than leaking one.
func TestLinTS_AllDisabledReturnsEmpty(t *testing.T) {
	policy := newTestLinTS(2, 1)
	policy.Disable("a")
	policy.Disable("b")
	d := policy.Recommend([]float64{1, 1}, []string{"a", "b"})
	require.Empty(t, d.ArmID)
}

// TestLinTS_UpdateDiagnostics verifies count and running average track
// independently of the linear parameters.
func TestLinTS_UpdateDiagnostics(t *testing.T) {
	policy := newTestLinTS(2, 1)
	ctx := []float64{1, 0}

	policy.Update("a", 1.0, ctx)
	policy.Update("a", 0.0, ctx)
	policy.Update("a", 0.5, ctx)

	st := policy.State("a")
	require.NotNil(t, st)
	require.Equal(t, int64(3), st.Count)
	require.InDelta(t, 0.5, st.RunningAvg, 1e-12)
}

// TestLinTS_PrecisionAccumulates verifies the ridge-style update only moves
// dimensions the context touches and tightens their covariance.
func TestLinTS_PrecisionAccumulates(t *testing.T) {
	policy := newTestLinTS(3, 1)
	ctx := []float64{1, 0, 0}

	for i := 0; i < 20; i++ {
		policy.Update("a", 1.0, ctx)
	}

	st := policy.State("a")
	require.NotNil(t, st)
	require.Greater(t, st.Precision[0], 1.0)
	require.Equal(t, 1.0, st.Precision[1], "untouched dimension keeps prior precision")
	require.Equal(t, 0.0, st.Weights[1], "untouched dimension keeps zero weight")
	require.Greater(t, st.Weights[0], 0.5, "rewarded dimension should learn a positive weight")
}

// TestLinTS_StateRoundTripDeterministic verifies that a fresh instance
// loaded from a StateDict produces the identical recommendation stream for
// the same contexts and random seed.
func TestLinTS_StateRoundTripDeterministic(t *testing.T) {
	trained := newTestLinTS(3, 5)
	rewards := rand.New(rand.NewSource(99))
	for i := 0; i < 100; i++ {
		ctx := []float64{rewards.Float64(), rewards.Float64(), 1}
		arm := []string{"a", "b", "c"}[i%3]
		trained.Update(arm, rewards.Float64(), ctx)
	}
	snapshot := trained.StateDict()

	first := newTestLinTS(3, 42)
	require.NoError(t, first.LoadState(snapshot))
	second := newTestLinTS(3, 42)
	require.NoError(t, second.LoadState(snapshot))

	candidates := []string{"a", "b", "c"}
	probe := rand.New(rand.NewSource(7))
	for i := 0; i < 50; i++ {
		ctx := []float64{probe.Float64(), probe.Float64(), 1}
		d1 := first.Recommend(ctx, candidates)
		d2 := second.Recommend(ctx, candidates)
		require.Equal(t, d1.ArmID, d2.ArmID, "trial %d diverged", i)
		require.InDelta(t, d1.Confidence, d2.Confidence, 1e-12)
	}
}

// TestLinTS_LoadStateDimMismatch verifies weights trained against another
// feature layout are rejected.
func TestLinTS_LoadStateDimMismatch(t *testing.T) {
	policy := newTestLinTS(3, 1)
	err := policy.LoadState(PolicyState{Policy: "lints", Dim: 7})
	require.Error(t, err)
}

// TestLinTS_UnseenArmPureNoise verifies an unseen arm can still win: with
// zero weights and identity covariance its draws are pure exploration noise.
func TestLinTS_UnseenArmPureNoise(t *testing.T) {
	policy := newTestLinTS(2, 9)
	ctx := []float64{1, 1}

	wins := 0
	for i := 0; i < 500; i++ {
		if policy.Recommend(ctx, []string{"seen", "unseen"}).ArmID == "unseen" {
			wins++
		}
	}
	// Both arms are at the prior, so the split should be near even.
	require.Greater(t, wins, 100, "unseen arm should win a substantial share at the prior")
	require.Less(t, wins, 400)
}

// TestLinTS_ObserveRequiresContext verifies the shadow path is advisory:
// malformed metadata is dropped without panicking.
func TestLinTS_ObserveRequiresContext(t *testing.T) {
	policy := newTestLinTS(2, 1)

	policy.Observe(1, 0.5, map[string]string{"arm": "a"})             // no context
	policy.Observe(2, 0.5, map[string]string{"arm": "a", "context": "1"}) // wrong dim
	require.Nil(t, policy.State("a"))

	policy.Observe(3, 1.0, map[string]string{"arm": "a", "context": EncodeContext([]float64{1, 0})})
	st := policy.State("a")
	require.NotNil(t, st)
	require.Equal(t, int64(1), st.Count)
}

// TestNewPolicy_UnknownNamePanics verifies the closed policy set.
func TestNewPolicy_UnknownNamePanics(t *testing.T) {
	rng := NewPartitionedRNG(NewEngineKey(1))
	require.Panics(t, func() {
		NewPolicy("ucb", PolicyParams{}, rng)
	})
	require.Equal(t, "thompson", NewPolicy("", PolicyParams{}, rng).Name())
	require.Equal(t, "lints", NewPolicy("lints", PolicyParams{Dim: 4}, rng).Name())
}
