package bandit

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"
)

// DefaultLinTSSigma is the exploration scale for sampled weight perturbation.
const DefaultLinTSSigma = 0.5

// linArm holds one arm's linear model under a diagonal covariance
// approximation. precision[i] is the accumulated x_i^2 mass plus the unit
// ridge prior; covariance is its reciprocal.
type linArm struct {
	weights   []float64
	precision []float64
	count     int64
	runningAvg float64
	disabled  bool
}

// LinTSPolicy is a contextual linear bandit with Thompson-style exploration:
// per arm, weights are perturbed by N(0, sigma^2 / precision) per dimension
// and the arm with the highest perturbed score context·w wins.
//
// Unseen arms carry zero weights and identity covariance, so their first
// draws are pure noise — maximal exploration until evidence accumulates.
//
// The context dimension is fixed at construction. A mismatched context is a
// wiring bug in the caller's feature extraction and panics immediately;
// silent truncation would corrupt every weight it touches.
type LinTSPolicy struct {
	dim   int
	sigma float64
	arms  map[string]*linArm
	rng   *rand.Rand
}

// NewLinTSPolicy creates a LinTS policy for dim-length contexts.
// Panics if dim <= 0 or sigma <= 0.
func NewLinTSPolicy(dim int, sigma float64, rng *rand.Rand) *LinTSPolicy {
	if dim <= 0 {
		panic(fmt.Sprintf("NewLinTSPolicy: dim must be positive, got %d", dim))
	}
	if sigma <= 0 || math.IsNaN(sigma) || math.IsInf(sigma, 0) {
		panic(fmt.Sprintf("NewLinTSPolicy: sigma must be positive, got %v", sigma))
	}
	return &LinTSPolicy{
		dim:   dim,
		sigma: sigma,
		arms:  make(map[string]*linArm),
		rng:   rng,
	}
}

// Name implements Policy.
func (l *LinTSPolicy) Name() string { return "lints" }

// Dim returns the fixed context dimension.
func (l *LinTSPolicy) Dim() int { return l.dim }

func (l *LinTSPolicy) checkDim(context []float64) {
	if len(context) != l.dim {
		panic(fmt.Sprintf("lints: context dimension %d != configured %d", len(context), l.dim))
	}
}

// Disable removes an arm from recommendation eligibility without touching
// its learned weights. Used by the routing facade when health drops below
// the operating threshold.
func (l *LinTSPolicy) Disable(armID string) {
	l.armFor(armID).disabled = true
}

// Enable restores a previously disabled arm.
func (l *LinTSPolicy) Enable(armID string) {
	if arm := l.arms[armID]; arm != nil {
		arm.disabled = false
	}
}

// Disabled reports whether an arm is currently excluded from routing.
func (l *LinTSPolicy) Disabled(armID string) bool {
	arm := l.arms[armID]
	return arm != nil && arm.disabled
}

// Recommend implements Policy. Disabled arms are skipped before sampling,
// so no sequence of draws can ever surface one.
func (l *LinTSPolicy) Recommend(context []float64, candidates []string) Decision {
	if len(candidates) == 0 {
		panic("LinTSPolicy.Recommend: empty candidates")
	}
	l.checkDim(context)

	bestScore := math.Inf(-1)
	bestArm := ""
	sampled := make([]float64, l.dim)
	eligible := 0

	for _, id := range candidates {
		arm := l.arms[id]
		if arm != nil && arm.disabled {
			continue
		}
		eligible++

		for i := 0; i < l.dim; i++ {
			mean, prec := 0.0, 1.0
			if arm != nil {
				mean, prec = arm.weights[i], arm.precision[i]
			}
			sampled[i] = mean + l.sigma*l.rng.NormFloat64()/math.Sqrt(prec)
		}
		score := floats.Dot(context, sampled)
		if score > bestScore {
			bestScore = score
			bestArm = id
		}
	}

	if eligible == 0 {
		logrus.Warnf("lints: all %d candidates disabled, no arm served", len(candidates))
		return Decision{Reason: "all candidates disabled"}
	}

	return Decision{
		ArmID:      bestArm,
		Confidence: scoreConfidence(bestScore),
		Reason:     fmt.Sprintf("lints (score=%.3f)", bestScore),
	}
}

// Update implements Policy: an online ridge-regression-style step under the
// diagonal approximation. Each dimension accumulates precision x_i^2 and the
// weight moves toward closing the prediction residual, scaled by 1/precision.
// Count and running average are pure diagnostics, independent of the linear
// parameters.
func (l *LinTSPolicy) Update(armID string, reward float64, context []float64) {
	l.checkDim(context)
	r := clampReward(reward)
	arm := l.armFor(armID)

	residual := r - floats.Dot(context, arm.weights)
	for i := 0; i < l.dim; i++ {
		x := context[i]
		if x == 0 {
			continue
		}
		arm.precision[i] += x * x
		arm.weights[i] += x * residual / arm.precision[i]
	}

	arm.count++
	arm.runningAvg += (r - arm.runningAvg) / float64(arm.count)
}

// Observe implements Policy for the shadow path. Requires both the
// hypothetical arm and the context the decision was made under; without a
// context there is nothing to regress against, so only log.
func (l *LinTSPolicy) Observe(_ int, reward float64, meta map[string]string) {
	arm, ok := meta["arm"]
	if !ok || arm == "" {
		logrus.Debugf("lints: observation without arm, ignored")
		return
	}
	ctx, err := decodeContext(meta["context"], l.dim)
	if err != nil {
		logrus.Debugf("lints: observation for %s without usable context: %v", arm, err)
		return
	}
	l.Update(arm, reward, ctx)
}

// State returns the arm's diagnostics, or nil for unseen arms.
func (l *LinTSPolicy) State(armID string) *ArmState {
	arm := l.arms[armID]
	if arm == nil {
		return nil
	}
	return &ArmState{
		Weights:    append([]float64(nil), arm.weights...),
		Precision:  append([]float64(nil), arm.precision...),
		Count:      arm.count,
		RunningAvg: arm.runningAvg,
	}
}

// Arms returns all known arm IDs in sorted order.
func (l *LinTSPolicy) Arms() []string {
	ids := make([]string, 0, len(l.arms))
	for id := range l.arms {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// StateDict implements Policy.
func (l *LinTSPolicy) StateDict() PolicyState {
	arms := make(map[string]ArmState, len(l.arms))
	for id, arm := range l.arms {
		arms[id] = ArmState{
			Weights:    append([]float64(nil), arm.weights...),
			Precision:  append([]float64(nil), arm.precision...),
			Count:      arm.count,
			RunningAvg: arm.runningAvg,
		}
	}
	return PolicyState{
		Policy:  "lints",
		Version: stateVersion,
		Dim:     l.dim,
		Sigma:   l.sigma,
		Arms:    arms,
	}
}

// LoadState implements Policy. Dimension mismatch is a hard error: weights
// trained against a different feature layout are meaningless here.
func (l *LinTSPolicy) LoadState(state PolicyState) error {
	if state.Policy != "" && state.Policy != "lints" {
		return fmt.Errorf("state for policy %q cannot load into lints", state.Policy)
	}
	if state.Dim != 0 && state.Dim != l.dim {
		return fmt.Errorf("state dim %d != configured %d", state.Dim, l.dim)
	}
	if state.Sigma > 0 {
		l.sigma = state.Sigma
	}
	l.arms = make(map[string]*linArm, len(state.Arms))
	for id, st := range state.Arms {
		arm := newLinArm(l.dim)
		if len(st.Weights) == l.dim {
			copy(arm.weights, st.Weights)
		}
		if len(st.Precision) == l.dim {
			copy(arm.precision, st.Precision)
		}
		arm.count = st.Count
		arm.runningAvg = st.RunningAvg
		l.arms[id] = arm
	}
	return nil
}

func (l *LinTSPolicy) armFor(armID string) *linArm {
	arm := l.arms[armID]
	if arm == nil {
		arm = newLinArm(l.dim)
		l.arms[armID] = arm
	}
	return arm
}

func newLinArm(dim int) *linArm {
	arm := &linArm{
		weights:   make([]float64, dim),
		precision: make([]float64, dim),
	}
	for i := range arm.precision {
		arm.precision[i] = 1
	}
	return arm
}

// scoreConfidence squashes an unbounded linear score into [0,1] for the
// Decision surface. Logistic, centered at 0.5 for a zero score.
func scoreConfidence(score float64) float64 {
	return 1 / (1 + math.Exp(-score))
}
