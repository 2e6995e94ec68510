package bandit

import "fmt"

// Phase tags an arm or a policy with its rollout stage.
// Shadow entries are evaluated but never served to production traffic.
type Phase string

const (
	// PhaseActive marks the entry that serves production decisions.
	PhaseActive Phase = "active"
	// PhaseShadow marks an entry evaluated counterfactually only.
	PhaseShadow Phase = "shadow"
)

// Decision encapsulates one arm selection.
type Decision struct {
	ArmID      string  // selected arm (empty only if no candidate was eligible)
	Confidence float64 // policy-specific confidence in [0,1]
	Reason     string  // human-readable explanation
}

// ArmState is the serialized per-arm learning state. Thompson arms populate
// Alpha/Beta; LinTS arms populate Weights/Precision. Count and RunningAvg
// are shared diagnostics.
type ArmState struct {
	Alpha      float64   `json:"alpha,omitempty"`
	Beta       float64   `json:"beta,omitempty"`
	Weights    []float64 `json:"weights,omitempty"`
	Precision  []float64 `json:"precision,omitempty"`
	Count      int64     `json:"count"`
	RunningAvg float64   `json:"running_avg"`
}

// PolicyState is a serializable checkpoint of one policy instance.
type PolicyState struct {
	Policy  string              `json:"policy"`
	Version int                 `json:"version"`
	Dim     int                 `json:"dim,omitempty"`
	Sigma   float64             `json:"sigma,omitempty"`
	Arms    map[string]ArmState `json:"arms"`
}

// Policy is the contract shared by all selection algorithms.
// Implementations receive the per-decision context vector; non-contextual
// policies (Thompson) ignore it.
//
// Recommend and Update mutate sampler state and must be externally
// serialized per instance (the tenant registry holds one lock across both).
type Policy interface {
	// Name returns the policy's registered name ("thompson", "lints").
	Name() string

	// Recommend selects one arm from candidates. Panics on an empty
	// candidate set: routing with zero arms is a wiring bug, same as
	// routing with zero instances.
	Recommend(context []float64, candidates []string) Decision

	// Update folds an observed reward into the arm's posterior. Rewards
	// outside [0,1] are clamped, never rejected: aborting outcome
	// recording loses learning signal.
	Update(armID string, reward float64, context []float64)

	// Observe folds a production-observed reward into this policy as a
	// shadow evaluation. meta["arm"] names the hypothetical arm this
	// policy would have chosen; absent, the observation is counted but
	// no posterior moves.
	Observe(trial int, reward float64, meta map[string]string)

	// StateDict snapshots the policy for checkpoint/restore.
	StateDict() PolicyState

	// LoadState restores a snapshot produced by StateDict. Returns an
	// error when the snapshot is structurally incompatible (wrong policy
	// name or dimension).
	LoadState(state PolicyState) error
}

// validPolicies is the closed set of recognized policy names.
var validPolicies = map[string]bool{
	"thompson": true,
	"lints":    true,
}

// IsValidPolicy reports whether name is a recognized policy name.
func IsValidPolicy(name string) bool {
	return validPolicies[name]
}

// PolicyParams carries construction parameters for NewPolicy.
// Dim and Sigma apply to contextual policies only.
type PolicyParams struct {
	Dim   int
	Sigma float64
}

// NewPolicy creates a policy by name.
// Empty string defaults to thompson. Panics on unrecognized names:
// a bad policy name is a configuration bug, caught at startup.
func NewPolicy(name string, params PolicyParams, rng *PartitionedRNG) Policy {
	switch name {
	case "", "thompson":
		return NewThompsonRouter(rng.SourceFor("policy/thompson"))
	case "lints":
		sigma := params.Sigma
		if sigma <= 0 {
			sigma = DefaultLinTSSigma
		}
		return NewLinTSPolicy(params.Dim, sigma, rng.ForSubsystem(SubsystemContextual))
	default:
		panic(fmt.Sprintf("unknown policy %q", name))
	}
}

// clampReward clamps a reward to [0,1]. NaN collapses to 0 so a broken
// upstream signal cannot poison a posterior.
func clampReward(r float64) float64 {
	if r != r {
		return 0
	}
	if r < 0 {
		return 0
	}
	if r > 1 {
		return 1
	}
	return r
}
