package bandit

import (
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"
	exprand "golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

// thompsonArm holds one arm's Beta-Bernoulli posterior.
// Alpha and Beta stay strictly positive: updates only ever add
// non-negative increments to the Beta(1,1) prior.
type thompsonArm struct {
	alpha      float64
	beta       float64
	phase      Phase
	count      int64
	runningAvg float64
}

// ThompsonRouter selects arms by sampling each candidate's Beta posterior
// and returning the arm with the highest draw. Unseen arms sample from the
// uniform Beta(1,1) prior, so new arms are explored immediately.
//
// Mutation on one router instance must be externally serialized; the tenant
// registry holds a single lock across Recommend and Update.
type ThompsonRouter struct {
	arms map[string]*thompsonArm
	src  *exprand.Rand
}

// NewThompsonRouter creates an empty router drawing from src.
func NewThompsonRouter(src *exprand.Rand) *ThompsonRouter {
	return &ThompsonRouter{
		arms: make(map[string]*thompsonArm),
		src:  src,
	}
}

// Name implements Policy.
func (t *ThompsonRouter) Name() string { return "thompson" }

// RegisterArm declares an arm with a rollout phase ahead of any traffic.
// Shadow-phase arms keep full posterior bookkeeping but are never returned
// by Recommend until promoted. Re-registering an arm only moves its phase.
func (t *ThompsonRouter) RegisterArm(armID string, phase Phase) {
	arm := t.arms[armID]
	if arm == nil {
		arm = &thompsonArm{alpha: 1, beta: 1}
		t.arms[armID] = arm
	}
	arm.phase = phase
}

// Recommend implements Policy. The context vector is ignored: Thompson
// sampling is non-contextual.
func (t *ThompsonRouter) Recommend(_ []float64, candidates []string) Decision {
	if len(candidates) == 0 {
		panic("ThompsonRouter.Recommend: empty candidates")
	}

	bestDraw := -1.0
	bestArm := ""
	for _, id := range candidates {
		arm := t.arms[id]
		if arm != nil && arm.phase == PhaseShadow {
			continue
		}
		alpha, beta := 1.0, 1.0
		if arm != nil {
			alpha, beta = arm.alpha, arm.beta
		}
		draw := distuv.Beta{Alpha: alpha, Beta: beta, Src: t.src}.Rand()
		if draw > bestDraw {
			bestDraw = draw
			bestArm = id
		}
	}

	if bestArm == "" {
		// Every candidate is in shadow phase. Serving one anyway would
		// break the rollout contract, so report no arm.
		logrus.Warnf("thompson: all %d candidates in shadow phase, no arm served", len(candidates))
		return Decision{Reason: "all candidates in shadow phase"}
	}

	return Decision{
		ArmID:      bestArm,
		Confidence: bestDraw,
		Reason:     fmt.Sprintf("thompson (draw=%.3f)", bestDraw),
	}
}

// Update implements Policy: alpha += r, beta += (1-r). Fractional rewards
// are first-class; a reward of 0.7 moves both pseudo-counts.
func (t *ThompsonRouter) Update(armID string, reward float64, _ []float64) {
	r := clampReward(reward)
	arm := t.arms[armID]
	if arm == nil {
		arm = &thompsonArm{alpha: 1, beta: 1}
		t.arms[armID] = arm
	}
	arm.alpha += r
	arm.beta += 1 - r
	arm.count++
	arm.runningAvg += (r - arm.runningAvg) / float64(arm.count)
}

// Observe implements Policy for the shadow path: when meta names the
// hypothetical arm, the production reward is credited to it (off-policy
// reuse of the observed reward — see ShadowTracker).
func (t *ThompsonRouter) Observe(_ int, reward float64, meta map[string]string) {
	arm, ok := meta["arm"]
	if !ok || arm == "" {
		logrus.Debugf("thompson: observation without arm, ignored")
		return
	}
	t.Update(arm, reward, nil)
}

// State returns the arm's posterior, or nil for unseen arms.
func (t *ThompsonRouter) State(armID string) *ArmState {
	arm := t.arms[armID]
	if arm == nil {
		return nil
	}
	return &ArmState{
		Alpha:      arm.alpha,
		Beta:       arm.beta,
		Count:      arm.count,
		RunningAvg: arm.runningAvg,
	}
}

// Arms returns all known arm IDs in sorted order.
func (t *ThompsonRouter) Arms() []string {
	ids := make([]string, 0, len(t.arms))
	for id := range t.arms {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// PosteriorMeans returns alpha/(alpha+beta) per known arm.
// Used by the registry's model-confidence entropy gauge.
func (t *ThompsonRouter) PosteriorMeans() map[string]float64 {
	means := make(map[string]float64, len(t.arms))
	for id, arm := range t.arms {
		means[id] = arm.alpha / (arm.alpha + arm.beta)
	}
	return means
}

// StateDict implements Policy.
func (t *ThompsonRouter) StateDict() PolicyState {
	arms := make(map[string]ArmState, len(t.arms))
	for id, arm := range t.arms {
		arms[id] = ArmState{
			Alpha:      arm.alpha,
			Beta:       arm.beta,
			Count:      arm.count,
			RunningAvg: arm.runningAvg,
		}
	}
	return PolicyState{Policy: "thompson", Version: stateVersion, Arms: arms}
}

// LoadState implements Policy. Arms with non-positive pseudo-counts are
// reset to the uniform prior rather than rejected: a corrupt checkpoint
// degrades to cold start, it does not take the router down.
func (t *ThompsonRouter) LoadState(state PolicyState) error {
	if state.Policy != "" && state.Policy != "thompson" {
		return fmt.Errorf("state for policy %q cannot load into thompson", state.Policy)
	}
	t.arms = make(map[string]*thompsonArm, len(state.Arms))
	for id, st := range state.Arms {
		alpha, beta := st.Alpha, st.Beta
		if alpha <= 0 || beta <= 0 {
			logrus.Warnf("thompson: arm %s has invalid posterior (%v, %v), resetting to prior", id, alpha, beta)
			alpha, beta = 1, 1
		}
		t.arms[id] = &thompsonArm{
			alpha:      alpha,
			beta:       beta,
			count:      st.Count,
			runningAvg: st.RunningAvg,
		}
	}
	return nil
}

const stateVersion = 1
