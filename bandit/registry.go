package bandit

import (
	"sync"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat"
)

// GlobalTenant is the degraded-mode fallback used when a request carries no
// tenant context. Learning still happens, just without isolation.
const GlobalTenant = "_global"

// TenantKey identifies one isolation scope within the process.
type TenantKey struct {
	Tenant    string
	Workspace string
}

// String renders the key in the persisted document format.
func (k TenantKey) String() string {
	return k.Tenant + "||" + k.Workspace
}

// normalizeKey applies the _global fallback for missing tenant context.
func normalizeKey(tenant, workspace string) TenantKey {
	if tenant == "" {
		tenant = GlobalTenant
	}
	if workspace == "" {
		workspace = "default"
	}
	return TenantKey{Tenant: tenant, Workspace: workspace}
}

// RegistryOptions configures a TenantRouters registry.
type RegistryOptions struct {
	RNG     *PartitionedRNG
	Store   StateStore   // nil means NoopStateStore
	Emitter GaugeEmitter // nil means NopEmitter
	Persist bool         // gate for all durable writes
	// EMAAlpha overrides the per-tenant reward normalizer smoothing.
	EMAAlpha float64
	// NewNormalizer overrides normalizer construction entirely, for
	// callers that need a different population scoping than per-tenant.
	NewNormalizer func() *RewardNormalizer
}

// TenantRouters is the process-wide registry of one Thompson router per
// (tenant, workspace), plus selection counters and entropy observability.
// Routers are created lazily on first access and cached for the process
// lifetime; only an explicit Reset discards one.
//
// All lookup and mutation runs under one coarse lock. That serializes every
// tenant's bandit math through a single mutex — a known scalability ceiling
// under high tenant cardinality, accepted because the guarded work is
// sub-millisecond arithmetic.
type TenantRouters struct {
	mu          sync.Mutex
	routers     map[TenantKey]*ThompsonRouter
	normalizers map[TenantKey]*RewardNormalizer
	counts      map[TenantKey]map[string]int64

	rng           *PartitionedRNG
	store         StateStore
	emitter       GaugeEmitter
	persist       bool
	newNormalizer func() *RewardNormalizer
}

// NewTenantRouters builds an empty registry. Previously persisted selection
// counts are loaded when persistence is enabled; router state loads lazily
// per tenant on first access.
func NewTenantRouters(opts RegistryOptions) *TenantRouters {
	if opts.RNG == nil {
		opts.RNG = NewPartitionedRNG(NewEngineKey(1))
	}
	if opts.Store == nil {
		opts.Store = NoopStateStore{}
	}
	if opts.Emitter == nil {
		opts.Emitter = NopEmitter{}
	}
	newNorm := opts.NewNormalizer
	if newNorm == nil {
		alpha := opts.EMAAlpha
		newNorm = func() *RewardNormalizer { return NewRewardNormalizer(alpha) }
	}

	r := &TenantRouters{
		routers:       make(map[TenantKey]*ThompsonRouter),
		normalizers:   make(map[TenantKey]*RewardNormalizer),
		counts:        make(map[TenantKey]map[string]int64),
		rng:           opts.RNG,
		store:         opts.Store,
		emitter:       opts.Emitter,
		persist:       opts.Persist,
		newNormalizer: newNorm,
	}

	if r.persist {
		if saved, err := r.store.LoadCounts(); err != nil {
			logrus.Warnf("registry: loading selection counts failed, starting empty: %v", err)
		} else {
			for keyStr, arms := range saved {
				key := parseTenantKey(keyStr)
				m := make(map[string]int64, len(arms))
				for arm, c := range arms {
					m[arm] = c
				}
				r.counts[key] = m
			}
		}
	}
	return r
}

// Router returns the tenant's router, creating it on first access. With no
// tenant context the shared _global router is returned. Persisted state is
// loaded on creation when persistence is enabled; load failures cold-start
// with uniform priors.
func (r *TenantRouters) Router(tenant, workspace string) *ThompsonRouter {
	key := normalizeKey(tenant, workspace)
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.routerLocked(key)
}

func (r *TenantRouters) routerLocked(key TenantKey) *ThompsonRouter {
	if router, ok := r.routers[key]; ok {
		return router
	}
	router := NewThompsonRouter(r.rng.SourceFor(SubsystemRouter(key.Tenant, key.Workspace)))
	if r.persist {
		if state, err := r.store.Load(key.Tenant, key.Workspace); err != nil {
			logrus.Warnf("registry: loading state for %s failed, cold start: %v", key, err)
		} else if state != nil {
			if err := router.LoadState(*state); err != nil {
				logrus.Warnf("registry: restoring state for %s failed, cold start: %v", key, err)
			}
		}
	}
	r.routers[key] = router
	return router
}

// Recommend samples the tenant's router under the registry lock, keeping
// all sampler mutation serialized with Update.
func (r *TenantRouters) Recommend(tenant, workspace string, candidates []string) Decision {
	key := normalizeKey(tenant, workspace)
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.routerLocked(key).Recommend(nil, candidates)
}

// Normalizer returns the tenant's reward normalizer, creating it on first
// access. Scoped per (tenant, workspace) so one tenant's latency profile
// cannot skew another's rewards.
func (r *TenantRouters) Normalizer(tenant, workspace string) *RewardNormalizer {
	key := normalizeKey(tenant, workspace)
	r.mu.Lock()
	defer r.mu.Unlock()

	if n, ok := r.normalizers[key]; ok {
		return n
	}
	n := r.newNormalizer()
	r.normalizers[key] = n
	return n
}

// Update folds a reward into the tenant's router and kicks a best-effort
// state save when persistence is enabled.
func (r *TenantRouters) Update(tenant, workspace, armID string, reward float64) {
	key := normalizeKey(tenant, workspace)
	r.mu.Lock()
	router := r.routerLocked(key)
	router.Update(armID, reward, nil)
	var state PolicyState
	if r.persist {
		state = router.StateDict()
	}
	r.mu.Unlock()

	if r.persist {
		bestEffortSave(r.store, key.Tenant, key.Workspace, state)
	}
}

// RecordSelection increments the tenant's counter for armID and republishes
// the two entropy gauges. Gauge computation is wrapped so an observability
// failure can never fail the recording itself.
func (r *TenantRouters) RecordSelection(tenant, workspace, armID string) {
	key := normalizeKey(tenant, workspace)
	r.mu.Lock()
	m := r.counts[key]
	if m == nil {
		m = make(map[string]int64)
		r.counts[key] = m
	}
	m[armID]++
	selEntropy := countEntropy(m)
	postEntropy, hasPost := 0.0, false
	if router, ok := r.routers[key]; ok {
		if means := router.PosteriorMeans(); len(means) > 0 {
			postEntropy = distributionEntropy(means)
			hasPost = true
		}
	}
	r.mu.Unlock()

	r.emit(GaugeSelectionEntropy, key, selEntropy)
	if hasPost {
		r.emit(GaugePosteriorEntropy, key, postEntropy)
	}
}

func (r *TenantRouters) emit(name string, key TenantKey, value float64) {
	defer func() {
		if p := recover(); p != nil {
			logrus.Warnf("registry: gauge %s emit panicked: %v", name, p)
		}
	}()
	r.emitter.EmitGauge(name, map[string]string{
		"tenant":    key.Tenant,
		"workspace": key.Workspace,
	}, value)
}

// SelectionEntropy returns the Shannon entropy (nats) of the tenant's
// empirical selection distribution. 0 when no selections were recorded.
func (r *TenantRouters) SelectionEntropy(tenant, workspace string) float64 {
	key := normalizeKey(tenant, workspace)
	r.mu.Lock()
	defer r.mu.Unlock()
	return countEntropy(r.counts[key])
}

// PosteriorMeanEntropy returns the entropy of the tenant router's
// normalized mean-posterior probabilities. 0 when the router has no arms.
func (r *TenantRouters) PosteriorMeanEntropy(tenant, workspace string) float64 {
	key := normalizeKey(tenant, workspace)
	r.mu.Lock()
	defer r.mu.Unlock()
	router, ok := r.routers[key]
	if !ok {
		return 0
	}
	means := router.PosteriorMeans()
	if len(means) == 0 {
		return 0
	}
	return distributionEntropy(means)
}

// SelectionCount returns the recorded selections of one arm for a tenant.
func (r *TenantRouters) SelectionCount(tenant, workspace, armID string) int64 {
	key := normalizeKey(tenant, workspace)
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[key][armID]
}

// Reset discards one tenant's router, normalizer, and counters. This is the
// only non-administrative-free path that destroys learned state.
func (r *TenantRouters) Reset(tenant, workspace string) {
	key := normalizeKey(tenant, workspace)
	r.mu.Lock()
	delete(r.routers, key)
	delete(r.normalizers, key)
	delete(r.counts, key)
	r.mu.Unlock()

	if r.persist {
		r.flushCounts()
	}
}

// Flush synchronously persists all router state and the selection-count
// document. No-op unless persistence is enabled.
func (r *TenantRouters) Flush() {
	if !r.persist {
		return
	}
	r.mu.Lock()
	states := make(map[TenantKey]PolicyState, len(r.routers))
	for key, router := range r.routers {
		states[key] = router.StateDict()
	}
	r.mu.Unlock()

	for key, state := range states {
		bestEffortSave(r.store, key.Tenant, key.Workspace, state)
	}
	r.flushCounts()
}

// FlushAsync fires Flush in a background goroutine. Fire-and-forget: the
// caller never waits on disk.
func (r *TenantRouters) FlushAsync() {
	go r.Flush()
}

func (r *TenantRouters) flushCounts() {
	r.mu.Lock()
	doc := make(SelectionCounts, len(r.counts))
	for key, arms := range r.counts {
		m := make(map[string]int64, len(arms))
		for arm, c := range arms {
			m[arm] = c
		}
		doc[key.String()] = m
	}
	r.mu.Unlock()

	if err := r.store.SaveCounts(doc); err != nil {
		logrus.Warnf("registry: persisting selection counts failed: %v", err)
	}
}

// countEntropy computes Shannon entropy (nats) of normalized counts.
func countEntropy(counts map[string]int64) float64 {
	if len(counts) == 0 {
		return 0
	}
	var total int64
	for _, c := range counts {
		total += c
	}
	if total == 0 {
		return 0
	}
	p := make([]float64, 0, len(counts))
	for _, c := range counts {
		p = append(p, float64(c)/float64(total))
	}
	return stat.Entropy(p)
}

// distributionEntropy normalizes arbitrary non-negative weights to a
// probability vector and returns its Shannon entropy (nats).
func distributionEntropy(weights map[string]float64) float64 {
	var total float64
	for _, w := range weights {
		if w > 0 {
			total += w
		}
	}
	if total <= 0 {
		return 0
	}
	p := make([]float64, 0, len(weights))
	for _, w := range weights {
		if w > 0 {
			p = append(p, w/total)
		}
	}
	return stat.Entropy(p)
}

// parseTenantKey reverses TenantKey.String for persisted documents.
func parseTenantKey(s string) TenantKey {
	for i := 0; i+1 < len(s); i++ {
		if s[i] == '|' && s[i+1] == '|' {
			return TenantKey{Tenant: s[:i], Workspace: s[i+2:]}
		}
	}
	return TenantKey{Tenant: s, Workspace: "default"}
}
