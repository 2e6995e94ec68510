package bandit

import (
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestRegistry(opts RegistryOptions) *TenantRouters {
	if opts.RNG == nil {
		opts.RNG = NewPartitionedRNG(NewEngineKey(17))
	}
	return NewTenantRouters(opts)
}

// TestRegistry_TenantIsolation verifies mutating tenant A's router leaves
// tenant B's counts and posteriors untouched.
func TestRegistry_TenantIsolation(t *testing.T) {
	reg := newTestRegistry(RegistryOptions{})

	reg.Update("tenant-a", "ws", "arm-1", 1.0)
	reg.Update("tenant-a", "ws", "arm-1", 1.0)
	reg.RecordSelection("tenant-a", "ws", "arm-1")

	routerB := reg.Router("tenant-b", "ws")
	require.Empty(t, routerB.Arms(), "tenant B must start cold")
	require.Zero(t, reg.SelectionCount("tenant-b", "ws", "arm-1"))

	stA := reg.Router("tenant-a", "ws").State("arm-1")
	require.NotNil(t, stA)
	require.InDelta(t, 3.0, stA.Alpha, 1e-12)
}

// TestRegistry_RouterCached verifies create-if-absent returns the same
// instance for the process lifetime.
func TestRegistry_RouterCached(t *testing.T) {
	reg := newTestRegistry(RegistryOptions{})
	r1 := reg.Router("t", "w")
	r2 := reg.Router("t", "w")
	if r1 != r2 {
		t.Fatal("expected the same cached router instance")
	}
}

// TestRegistry_GlobalFallback verifies missing tenant context degrades to
// the shared _global router.
func TestRegistry_GlobalFallback(t *testing.T) {
	reg := newTestRegistry(RegistryOptions{})
	anon := reg.Router("", "")
	global := reg.Router(GlobalTenant, "default")
	if anon != global {
		t.Fatal("empty tenant should resolve to the _global router")
	}
}

// TestRegistry_SelectionEntropy checks the two entropy identities:
// 0 when concentrated on one arm, ln(n) when uniform over n arms.
func TestRegistry_SelectionEntropy(t *testing.T) {
	reg := newTestRegistry(RegistryOptions{})

	for i := 0; i < 10; i++ {
		reg.RecordSelection("t", "w", "only-arm")
	}
	require.InDelta(t, 0.0, reg.SelectionEntropy("t", "w"), 1e-12)

	arms := []string{"a", "b", "c", "d"}
	for i := 0; i < 40; i++ {
		reg.RecordSelection("u", "w", arms[i%len(arms)])
	}
	require.InDelta(t, math.Log(4), reg.SelectionEntropy("u", "w"), 1e-9)

	require.Zero(t, reg.SelectionEntropy("never", "seen"))
}

// TestRegistry_PosteriorMeanEntropy verifies the model-confidence gauge:
// identical posteriors are maximally uncertain (ln n), a dominant arm
// drives entropy down.
func TestRegistry_PosteriorMeanEntropy(t *testing.T) {
	reg := newTestRegistry(RegistryOptions{})

	reg.Update("t", "w", "a", 0.5)
	reg.Update("t", "w", "b", 0.5)
	require.InDelta(t, math.Log(2), reg.PosteriorMeanEntropy("t", "w"), 1e-9)

	for i := 0; i < 200; i++ {
		reg.Update("t", "w", "a", 1.0)
		reg.Update("t", "w", "b", 0.0)
	}
	require.Less(t, reg.PosteriorMeanEntropy("t", "w"), math.Log(2))
}

// recordingEmitter captures gauges for assertions.
type recordingEmitter struct {
	mu     sync.Mutex
	gauges map[string]float64
}

func (e *recordingEmitter) EmitGauge(name string, labels map[string]string, value float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.gauges[name+"/"+labels["tenant"]] = value
}

// panicEmitter exercises the observability-must-not-fail-selection rule.
type panicEmitter struct{}

func (panicEmitter) EmitGauge(string, map[string]string, float64) { panic("backend down") }

// TestRegistry_GaugesPublished verifies RecordSelection republishes the
// selection-entropy gauge through the emitter.
func TestRegistry_GaugesPublished(t *testing.T) {
	emitter := &recordingEmitter{gauges: make(map[string]float64)}
	reg := newTestRegistry(RegistryOptions{Emitter: emitter})

	reg.RecordSelection("t", "w", "a")
	reg.RecordSelection("t", "w", "b")

	emitter.mu.Lock()
	defer emitter.mu.Unlock()
	require.InDelta(t, math.Log(2), emitter.gauges[GaugeSelectionEntropy+"/t"], 1e-9)
}

// TestRegistry_EmitterPanicDoesNotFailRecording verifies a broken metrics
// backend cannot fail the selection path.
func TestRegistry_EmitterPanicDoesNotFailRecording(t *testing.T) {
	reg := newTestRegistry(RegistryOptions{Emitter: panicEmitter{}})

	require.NotPanics(t, func() {
		reg.RecordSelection("t", "w", "a")
	})
	require.Equal(t, int64(1), reg.SelectionCount("t", "w", "a"))
}

// TestRegistry_CountsPersistAndReload verifies the selection-count document
// round-trips through the file store when persistence is enabled.
func TestRegistry_CountsPersistAndReload(t *testing.T) {
	store, err := NewFileStateStore(t.TempDir())
	require.NoError(t, err)

	reg := newTestRegistry(RegistryOptions{Store: store, Persist: true})
	reg.RecordSelection("acme:prod", "eu", "arm-1")
	reg.RecordSelection("acme:prod", "eu", "arm-1")
	reg.RecordSelection("acme:prod", "eu", "arm-2")
	reg.Flush()

	reloaded := newTestRegistry(RegistryOptions{Store: store, Persist: true})
	require.Equal(t, int64(2), reloaded.SelectionCount("acme:prod", "eu", "arm-1"))
	require.Equal(t, int64(1), reloaded.SelectionCount("acme:prod", "eu", "arm-2"))
}

// TestRegistry_StatePersistAndReload verifies a tenant router's posterior
// survives a process restart through the per-tenant document.
func TestRegistry_StatePersistAndReload(t *testing.T) {
	store, err := NewFileStateStore(t.TempDir())
	require.NoError(t, err)

	reg := newTestRegistry(RegistryOptions{Store: store, Persist: true})
	reg.Update("t", "w", "arm", 1.0)
	reg.Update("t", "w", "arm", 0.5)

	reloaded := newTestRegistry(RegistryOptions{Store: store, Persist: true})
	st := reloaded.Router("t", "w").State("arm")
	require.NotNil(t, st)
	require.InDelta(t, 2.5, st.Alpha, 1e-12)
	require.InDelta(t, 1.5, st.Beta, 1e-12)
}

// TestRegistry_PersistenceDisabledWritesNothing verifies the explicit flag
// gates all durable writes.
func TestRegistry_PersistenceDisabledWritesNothing(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStateStore(dir)
	require.NoError(t, err)

	reg := newTestRegistry(RegistryOptions{Store: store, Persist: false})
	reg.Update("t", "w", "arm", 1.0)
	reg.RecordSelection("t", "w", "arm")
	reg.Flush()

	counts, err := store.LoadCounts()
	require.NoError(t, err)
	require.Nil(t, counts)
	state, err := store.Load("t", "w")
	require.NoError(t, err)
	require.Nil(t, state)
}

// TestRegistry_Reset verifies administrative reset discards the router,
// counters, and normalizer for one tenant only.
func TestRegistry_Reset(t *testing.T) {
	reg := newTestRegistry(RegistryOptions{})
	reg.Update("a", "w", "arm", 1.0)
	reg.Update("b", "w", "arm", 1.0)
	reg.RecordSelection("a", "w", "arm")

	reg.Reset("a", "w")

	require.Empty(t, reg.Router("a", "w").Arms())
	require.Zero(t, reg.SelectionCount("a", "w", "arm"))
	require.NotEmpty(t, reg.Router("b", "w").Arms(), "other tenants unaffected by reset")
}

// TestRegistry_NormalizerScopedPerTenant verifies each tenant gets its own
// EMA state.
func TestRegistry_NormalizerScopedPerTenant(t *testing.T) {
	reg := newTestRegistry(RegistryOptions{})

	nA := reg.Normalizer("a", "w")
	for i := 0; i < 20; i++ {
		nA.Compute(0.5, 9000, 5)
	}
	nB := reg.Normalizer("b", "w")
	require.Zero(t, nB.LatencyEMA(), "tenant B's normalizer must be untouched")
	if nA == nB {
		t.Fatal("tenants must not share a normalizer")
	}
	require.Same(t, nA, reg.Normalizer("a", "w"), "normalizer cached per tenant")
}

// TestRegistry_ConcurrentAccess hammers the registry from many goroutines;
// run with -race.
func TestRegistry_ConcurrentAccess(t *testing.T) {
	reg := newTestRegistry(RegistryOptions{})
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			tenant := []string{"a", "b"}[g%2]
			for i := 0; i < 200; i++ {
				reg.Recommend(tenant, "w", []string{"x", "y"})
				reg.Update(tenant, "w", "x", 0.5)
				reg.RecordSelection(tenant, "w", "x")
			}
		}(g)
	}
	wg.Wait()
	require.Equal(t, int64(800), reg.SelectionCount("a", "w", "x"))
}
