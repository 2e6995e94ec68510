package bandit

import (
	"sort"
	"sync"
)

// shadowStats accumulates one shadow policy's evaluation stream.
type shadowStats struct {
	pulls       int64
	totalReward float64
	cumRegret   float64
	bestCount   int64
}

// PolicyPerformance is one row of the shadow dashboard summary.
type PolicyPerformance struct {
	Policy           string  `json:"policy"`
	Pulls            int64   `json:"pulls"`
	AvgReward        float64 `json:"avg_reward"`
	PerformanceRatio float64 `json:"performance_ratio"`
	RegretPercent    float64 `json:"regret_percent"`
	BestCount        int64   `json:"best_count"`
}

// ShadowSummary is the full dashboard view: every shadow policy's stats
// plus the production baseline they are measured against.
type ShadowSummary struct {
	Policies      []PolicyPerformance `json:"policies"`
	BaselinePulls int64               `json:"baseline_pulls"`
	BaselineAvg   float64             `json:"baseline_avg"`
}

// ShadowTracker compares candidate policies' hypothetical reward streams to
// the production baseline's actual stream.
//
// Off-policy caveat: shadow results reuse the reward the production arm
// actually earned to score a different hypothetical arm choice. This is a
// deliberate simplification — true counterfactual evaluation would need
// importance weighting or real invocation of the shadow arm. Ratios here
// measure agreement-weighted performance, not ground truth.
//
// Recording a shadow result never changes which arm production served.
type ShadowTracker struct {
	mu            sync.Mutex
	baselineCount int64
	baselineTotal float64
	policies      map[string]*shadowStats
}

// NewShadowTracker creates an empty tracker.
func NewShadowTracker() *ShadowTracker {
	return &ShadowTracker{policies: make(map[string]*shadowStats)}
}

// UpdateBaseline folds a production-observed reward into the baseline.
func (s *ShadowTracker) UpdateBaseline(reward float64) {
	r := clampReward(reward)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.baselineCount++
	s.baselineTotal += r
}

// RecordShadowResult folds a reward into the named policy's stream.
// isBest marks whether the shadow policy's choice matched the arm
// production actually served. Rewards below the current baseline average
// accumulate cumulative regret.
func (s *ShadowTracker) RecordShadowResult(policy string, reward float64, isBest bool) {
	r := clampReward(reward)
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.policies[policy]
	if st == nil {
		st = &shadowStats{}
		s.policies[policy] = st
	}
	st.pulls++
	st.totalReward += r
	if isBest {
		st.bestCount++
	}
	if s.baselineCount > 0 {
		if base := s.baselineTotal / float64(s.baselineCount); r < base {
			st.cumRegret += base - r
		}
	}
}

// PerformanceRatio returns the policy's average reward divided by the
// baseline average. 1.0 means parity. Unknown policies or an empty
// baseline return parity: no evidence is not evidence of regression.
func (s *ShadowTracker) PerformanceRatio(policy string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ratioLocked(policy)
}

func (s *ShadowTracker) ratioLocked(policy string) float64 {
	st := s.policies[policy]
	if st == nil || st.pulls == 0 || s.baselineCount == 0 {
		return 1.0
	}
	base := s.baselineTotal / float64(s.baselineCount)
	if base <= 0 {
		return 1.0
	}
	return (st.totalReward / float64(st.pulls)) / base
}

// RegretPercentage returns the policy's cumulative regret as a percentage
// of the reward the baseline would have accumulated over the same pulls.
// Always non-negative; 0 for unknown policies.
func (s *ShadowTracker) RegretPercentage(policy string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.regretLocked(policy)
}

func (s *ShadowTracker) regretLocked(policy string) float64 {
	st := s.policies[policy]
	if st == nil || st.pulls == 0 || s.baselineCount == 0 {
		return 0
	}
	base := s.baselineTotal / float64(s.baselineCount)
	if base <= 0 {
		return 0
	}
	pct := 100 * st.cumRegret / (base * float64(st.pulls))
	if pct < 0 {
		return 0
	}
	return pct
}

// Summary returns all policies' performance plus baseline stats, sorted by
// policy name for stable dashboard output.
func (s *ShadowTracker) Summary() ShadowSummary {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.policies))
	for name := range s.policies {
		names = append(names, name)
	}
	sort.Strings(names)

	out := ShadowSummary{BaselinePulls: s.baselineCount}
	if s.baselineCount > 0 {
		out.BaselineAvg = s.baselineTotal / float64(s.baselineCount)
	}
	for _, name := range names {
		st := s.policies[name]
		row := PolicyPerformance{
			Policy:           name,
			Pulls:            st.pulls,
			PerformanceRatio: s.ratioLocked(name),
			RegretPercent:    s.regretLocked(name),
			BestCount:        st.bestCount,
		}
		if st.pulls > 0 {
			row.AvgReward = st.totalReward / float64(st.pulls)
		}
		out.Policies = append(out.Policies, row)
	}
	return out
}
