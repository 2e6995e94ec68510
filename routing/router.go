package routing

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/bandit-router/bandit-router/bandit"
)

// healthAlpha is the EWMA smoothing for per-arm success/quality tracking.
// Matches the reward normalizer's smoothing so health and reward react to
// drift on the same timescale.
const healthAlpha = 0.2

// Health blend weights: success dominates, quality refines, latency nudges.
const (
	healthSuccessWeight = 0.7
	healthQualityWeight = 0.2
	healthLatencyWeight = 0.1
)

// ToolSelection is the routing output for one request.
type ToolSelection struct {
	ArmID      string  `json:"arm_id"`
	Confidence float64 `json:"confidence"`
}

// ToolStatistics aggregates one arm's observed behavior. Updated only
// during batch feedback processing, never on the routing hot path.
type ToolStatistics struct {
	UsageCount   int64   `json:"usage_count"`
	SuccessCount int64   `json:"success_count"`
	HealthScore  float64 `json:"health_score"`

	successEWMA float64
	qualityEWMA float64
	latencyEWMA float64
	seen        bool
}

// FeedbackEvent is one queued outcome report. Events exist only between
// submission and batch drain.
type FeedbackEvent struct {
	ID           string
	ArmID        string
	Context      []float64
	Success      bool
	LatencyMs    float64
	QualityScore float64
	SubmittedAt  time.Time
}

// RouterMetrics is the facade's observability snapshot.
type RouterMetrics struct {
	ArmCount   int                       `json:"arm_count"`
	QueueDepth int                       `json:"queue_depth"`
	Arms       map[string]ToolStatistics `json:"arms"`
}

// ToolRouter routes tool requests through a contextual bandit over the
// arms discovered from a capability catalog.
//
// The hot path (RouteToolRequest, SubmitFeedback) takes the mutex briefly
// and does no I/O and no learning. All learning happens in
// ProcessFeedbackBatch, whose drain step is exclusive: concurrent calls
// return immediately rather than double-draining.
type ToolRouter struct {
	mu       sync.Mutex
	policy   *bandit.LinTSPolicy
	norm     *bandit.RewardNormalizer
	catalog  map[string]ToolDescriptor
	stats    map[string]*ToolStatistics
	queue    []FeedbackEvent
	draining bool

	healthThreshold float64
}

// NewToolRouter wraps a contextual bandit with catalog discovery, health
// gating, and batched feedback. The policy must be built for ContextDim.
func NewToolRouter(policy *bandit.LinTSPolicy, norm *bandit.RewardNormalizer, healthThreshold float64) *ToolRouter {
	if policy.Dim() != ContextDim {
		panic(fmt.Sprintf("NewToolRouter: policy dim %d != ContextDim %d", policy.Dim(), ContextDim))
	}
	if healthThreshold < 0 || healthThreshold > 1 || math.IsNaN(healthThreshold) {
		healthThreshold = bandit.DefaultHealthThreshold
	}
	return &ToolRouter{
		policy:          policy,
		norm:            norm,
		catalog:         make(map[string]ToolDescriptor),
		stats:           make(map[string]*ToolStatistics),
		queue:           nil,
		healthThreshold: healthThreshold,
	}
}

// DiscoverArms scans the capability catalog and registers every tool as a
// routable arm. Idempotent: re-discovery refreshes descriptors but never
// resets statistics or learned state. Returns the number of known arms.
func (tr *ToolRouter) DiscoverArms(cat *Catalog) int {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	for _, tool := range cat.Tools {
		tr.catalog[tool.ID] = tool
		if _, ok := tr.stats[tool.ID]; !ok {
			// New arms start healthy: exclusion requires evidence.
			tr.stats[tool.ID] = &ToolStatistics{HealthScore: 1.0}
		}
	}
	return len(tr.catalog)
}

// RouteToolRequest selects an arm for a task. The context vector is built
// from the task attributes; when complexity is absent it is estimated from
// the description length. Arms with health below the operating threshold
// are excluded before the bandit sees the candidate set.
func (tr *ToolRouter) RouteToolRequest(taskDescription string, tc TaskContext) (ToolSelection, []float64, error) {
	if tc.Complexity == nil && taskDescription != "" {
		est := clamp01(float64(len(taskDescription)) / 2000)
		tc.Complexity = &est
	}
	ctx := BuildContextVector(tc)

	tr.mu.Lock()
	defer tr.mu.Unlock()

	candidates := tr.healthyArmsLocked()
	if len(candidates) == 0 {
		return ToolSelection{}, nil, fmt.Errorf("no healthy arms available (%d discovered)", len(tr.catalog))
	}

	d := tr.policy.Recommend(ctx, candidates)
	if d.ArmID == "" {
		return ToolSelection{}, nil, fmt.Errorf("no eligible arm: %s", d.Reason)
	}
	return ToolSelection{ArmID: d.ArmID, Confidence: d.Confidence}, ctx, nil
}

func (tr *ToolRouter) healthyArmsLocked() []string {
	ids := make([]string, 0, len(tr.catalog))
	for id := range tr.catalog {
		if st := tr.stats[id]; st != nil && st.HealthScore < tr.healthThreshold {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// SubmitFeedback enqueues an outcome report and returns the event ID.
// No bandit work happens here; the hot path stays cheap.
func (tr *ToolRouter) SubmitFeedback(armID string, ctx []float64, success bool, latencyMs, quality float64) string {
	ev := FeedbackEvent{
		ID:           uuid.NewString(),
		ArmID:        armID,
		Context:      ctx,
		Success:      success,
		LatencyMs:    latencyMs,
		QualityScore: quality,
		SubmittedAt:  time.Now(),
	}
	tr.mu.Lock()
	tr.queue = append(tr.queue, ev)
	tr.mu.Unlock()
	return ev.ID
}

// ProcessFeedbackBatch drains the feedback queue, updates per-arm
// statistics, feeds the contextual bandit, and recomputes health scores.
// Exclusive: if a drain is already running, returns 0 immediately.
// Returns the number of events processed.
func (tr *ToolRouter) ProcessFeedbackBatch() int {
	tr.mu.Lock()
	if tr.draining {
		tr.mu.Unlock()
		return 0
	}
	tr.draining = true
	events := tr.queue
	tr.queue = nil
	tr.mu.Unlock()

	processed := 0
	for _, ev := range events {
		if tr.applyFeedback(ev) {
			processed++
		}
	}

	tr.mu.Lock()
	tr.draining = false
	tr.mu.Unlock()
	return processed
}

// applyFeedback folds one event into statistics and the bandit. Events for
// arms that were never discovered are logged no-ops: feedback callers must
// not be coupled to catalog lifetime.
func (tr *ToolRouter) applyFeedback(ev FeedbackEvent) bool {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	tool, known := tr.catalog[ev.ArmID]
	st := tr.stats[ev.ArmID]
	if !known || st == nil {
		logrus.Warnf("routing: feedback %s for unknown arm %q, dropped", ev.ID, ev.ArmID)
		return false
	}

	st.UsageCount++
	success := 0.0
	if ev.Success {
		st.SuccessCount++
		success = 1.0
	}
	if !st.seen {
		st.successEWMA = success
		st.qualityEWMA = ev.QualityScore
		st.latencyEWMA = ev.LatencyMs
		st.seen = true
	} else {
		st.successEWMA = healthAlpha*success + (1-healthAlpha)*st.successEWMA
		st.qualityEWMA = healthAlpha*ev.QualityScore + (1-healthAlpha)*st.qualityEWMA
		st.latencyEWMA = healthAlpha*ev.LatencyMs + (1-healthAlpha)*st.latencyEWMA
	}
	st.HealthScore = tr.healthScore(st, tool)

	// Health gate: the bandit's disabled set mirrors the threshold so a
	// degraded arm cannot surface even under adversarial repeated sampling.
	if st.HealthScore < tr.healthThreshold {
		tr.policy.Disable(ev.ArmID)
	} else {
		tr.policy.Enable(ev.ArmID)
	}

	if len(ev.Context) == tr.policy.Dim() {
		reward := tr.norm.Compute(ev.QualityScore, ev.LatencyMs, tool.CostUnits())
		tr.policy.Update(ev.ArmID, reward, ev.Context)
	} else {
		logrus.Warnf("routing: feedback %s for %s has context length %d, bandit update skipped",
			ev.ID, ev.ArmID, len(ev.Context))
	}
	return true
}

// healthScore blends the success EWMA with quality and a latency penalty
// measured against the arm's typical latency from the catalog.
func (tr *ToolRouter) healthScore(st *ToolStatistics, tool ToolDescriptor) float64 {
	latNorm := 0.5
	if tool.TypicalLatencyMs > 0 {
		latNorm = math.Min(1, st.latencyEWMA/(2*tool.TypicalLatencyMs))
	}
	score := healthSuccessWeight*st.successEWMA +
		healthQualityWeight*clamp01(st.qualityEWMA) +
		healthLatencyWeight*(1-latNorm)
	return clamp01(score)
}

// Healthy reports whether an arm currently clears the operating threshold.
func (tr *ToolRouter) Healthy(armID string) bool {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	st := tr.stats[armID]
	return st != nil && st.HealthScore >= tr.healthThreshold
}

// Metrics returns arm count, per-arm statistics, and feedback queue depth.
func (tr *ToolRouter) Metrics() RouterMetrics {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	arms := make(map[string]ToolStatistics, len(tr.stats))
	for id, st := range tr.stats {
		arms[id] = *st
	}
	return RouterMetrics{
		ArmCount:   len(tr.catalog),
		QueueDepth: len(tr.queue),
		Arms:       arms,
	}
}
