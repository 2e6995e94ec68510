package bandit

import "math"

// Reward shaping weights. Quality dominates; latency and cost are
// penalties against their own recent history.
const (
	rewardQualityWeight = 0.5
	rewardLatencyWeight = 0.3
	rewardCostWeight    = 0.2

	// DefaultEMAAlpha is the smoothing factor for latency/cost history.
	DefaultEMAAlpha = 0.2
)

// RewardNormalizer folds raw (quality, latency, cost) observations into one
// bounded scalar reward. Latency and cost are normalized against the
// normalizer's own exponential moving average of that signal, so "expensive"
// means expensive relative to this normalizer's recent traffic.
//
// The EMA state mutates on every Compute call. One instance must therefore
// be scoped to a single logically-homogeneous traffic population; the tenant
// registry creates one per (tenant, workspace). Sharing an instance across
// unrelated populations lets one tenant's latency profile skew another's
// rewards.
type RewardNormalizer struct {
	alpha      float64
	latencyEMA float64
	costEMA    float64
	latencySeen bool
	costSeen    bool
}

// NewRewardNormalizer creates a normalizer with smoothing factor alpha.
// Non-positive alpha falls back to DefaultEMAAlpha.
func NewRewardNormalizer(alpha float64) *RewardNormalizer {
	if alpha <= 0 || alpha > 1 || math.IsNaN(alpha) {
		alpha = DefaultEMAAlpha
	}
	return &RewardNormalizer{alpha: alpha}
}

// Compute returns a reward in [0,1]:
//
//	reward = 0.5·quality + 0.3·(1 − latencyNorm) + 0.2·(1 − costNorm)
//
// where each norm is min(1, raw / (2·ema)). On the first observation of a
// signal the EMA equals the raw value, making the norm exactly 0.5: neutral
// until there is history to compare against.
func (n *RewardNormalizer) Compute(quality, latencyMs, cost float64) float64 {
	q := clampReward(quality)

	latencyNorm := n.normalize(latencyMs, &n.latencyEMA, &n.latencySeen)
	costNorm := n.normalize(cost, &n.costEMA, &n.costSeen)

	reward := rewardQualityWeight*q +
		rewardLatencyWeight*(1-latencyNorm) +
		rewardCostWeight*(1-costNorm)
	return clampReward(reward)
}

// normalize advances the signal's EMA and returns min(1, raw/(2·ema)).
// Negative raw values are treated as zero; a signal with no positive
// history yet stays neutral at 0.5.
func (n *RewardNormalizer) normalize(raw float64, ema *float64, seen *bool) float64 {
	if raw < 0 || math.IsNaN(raw) {
		raw = 0
	}
	if !*seen {
		*ema = raw
		*seen = true
	} else {
		*ema = n.alpha*raw + (1-n.alpha)**ema
	}
	if *ema <= 0 {
		return 0.5
	}
	return math.Min(1, raw/(2**ema))
}

// LatencyEMA exposes the current latency average for diagnostics.
func (n *RewardNormalizer) LatencyEMA() float64 { return n.latencyEMA }

// CostEMA exposes the current cost average for diagnostics.
func (n *RewardNormalizer) CostEMA() float64 { return n.costEMA }
