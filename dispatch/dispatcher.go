// Package dispatch glues the engine together for the orchestrating caller:
// the active policy makes the real decision, shadow policies are queried
// purely for evaluation, and the regret tracker scores them against the
// production baseline.
package dispatch

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/bandit-router/bandit-router/bandit"
)

// flushEvery is how many recorded outcomes pass between background
// persistence flushes.
const flushEvery = 64

// Config selects the policy set for a dispatcher.
type Config struct {
	// ActivePolicy serves production ("thompson" default). The thompson
	// active policy is per-tenant via the registry; lints is process-wide.
	ActivePolicy string
	// ShadowPolicies are instantiated fresh and evaluated on every
	// outcome without ever serving traffic.
	ShadowPolicies []string
	// Params configures contextual policy construction.
	Params bandit.PolicyParams
}

// Dispatcher owns the decision flow described in the engine overview:
// resolve the tenant router, ask the active policy, record the selection;
// then on outcome, normalize the reward once, update the active policy,
// observe every shadow policy with the same reward, and fold the regret
// tracker.
type Dispatcher struct {
	mu         sync.Mutex
	activeName string
	contextual bandit.Policy // process-wide active policy when not thompson
	shadows    []bandit.Policy
	trial      int
	outcomes   int

	registry *bandit.TenantRouters
	tracker  *bandit.ShadowTracker
}

// New builds a dispatcher over an existing tenant registry.
// Panics on unknown policy names, same as bandit.NewPolicy.
func New(cfg Config, registry *bandit.TenantRouters, rng *bandit.PartitionedRNG) *Dispatcher {
	d := &Dispatcher{
		activeName: cfg.ActivePolicy,
		registry:   registry,
		tracker:    bandit.NewShadowTracker(),
	}
	if d.activeName == "" {
		d.activeName = "thompson"
	}
	if d.activeName != "thompson" {
		d.contextual = bandit.NewPolicy(d.activeName, cfg.Params, rng)
	}
	for _, name := range cfg.ShadowPolicies {
		d.shadows = append(d.shadows, bandit.NewPolicy(name, cfg.Params, rng))
	}
	return d
}

// Tracker exposes the shadow regret tracker for dashboards.
func (d *Dispatcher) Tracker() *bandit.ShadowTracker { return d.tracker }

// Decide returns the active policy's arm for this request and records the
// selection for entropy observability. Shadow policies are not consulted
// here: they only see outcomes.
func (d *Dispatcher) Decide(tenant, workspace string, context []float64, candidates []string) bandit.Decision {
	var decision bandit.Decision
	if d.contextual != nil {
		d.mu.Lock()
		decision = d.contextual.Recommend(context, candidates)
		d.mu.Unlock()
	} else {
		decision = d.registry.Recommend(tenant, workspace, candidates)
	}
	if decision.ArmID != "" {
		d.registry.RecordSelection(tenant, workspace, decision.ArmID)
	}
	return decision
}

// RecordOutcome folds one observed outcome back into the engine. The
// reward is normalized once by the tenant's normalizer and shared by the
// active policy, every shadow policy, and the regret tracker.
//
// Shadow evaluation reuses this production-observed reward to score each
// shadow policy's hypothetical arm choice; see bandit.ShadowTracker for
// the off-policy caveat.
func (d *Dispatcher) RecordOutcome(tenant, workspace, servedArm string, context []float64,
	candidates []string, quality, latencyMs, cost float64) float64 {

	reward := d.registry.Normalizer(tenant, workspace).Compute(quality, latencyMs, cost)

	if d.contextual != nil {
		d.mu.Lock()
		d.contextual.Update(servedArm, reward, context)
		d.mu.Unlock()
	} else {
		d.registry.Update(tenant, workspace, servedArm, reward)
	}
	d.tracker.UpdateBaseline(reward)

	d.mu.Lock()
	d.trial++
	trial := d.trial
	shadows := d.shadows
	d.mu.Unlock()

	for _, p := range shadows {
		d.observeShadow(p, trial, reward, servedArm, context, candidates)
	}

	d.mu.Lock()
	d.outcomes++
	flush := d.outcomes%flushEvery == 0
	d.mu.Unlock()
	if flush {
		d.registry.FlushAsync()
	}
	return reward
}

// observeShadow asks one shadow policy what it would have done and credits
// the production reward to that hypothetical choice. Any panic from a
// shadow policy is contained: evaluation must never take down the
// production path.
func (d *Dispatcher) observeShadow(p bandit.Policy, trial int, reward float64,
	servedArm string, context []float64, candidates []string) {

	defer func() {
		if r := recover(); r != nil {
			logrus.Warnf("dispatch: shadow policy %s panicked during evaluation: %v", p.Name(), r)
		}
	}()

	d.mu.Lock()
	defer d.mu.Unlock()

	hypothetical := p.Recommend(context, candidates)
	meta := map[string]string{
		"arm":     hypothetical.ArmID,
		"context": bandit.EncodeContext(context),
	}
	p.Observe(trial, reward, meta)

	d.tracker.RecordShadowResult(p.Name(), reward, hypothetical.ArmID == servedArm)
}
