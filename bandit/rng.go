package bandit

import (
	"fmt"
	"hash/fnv"
	"math/rand"
	"sync"

	exprand "golang.org/x/exp/rand"
)

// === EngineKey ===

// EngineKey uniquely identifies a reproducible engine run.
// Two engines with the same EngineKey and identical configuration
// MUST produce bit-for-bit identical decision streams.
type EngineKey int64

// NewEngineKey creates an EngineKey from a seed value.
func NewEngineKey(seed int64) EngineKey {
	return EngineKey(seed)
}

// === Subsystem Constants ===

const (
	// SubsystemTraffic is the RNG subsystem for synthetic traffic generation.
	// Uses the master seed directly so --seed reproduces the same workload.
	SubsystemTraffic = "traffic"

	// SubsystemContextual is the RNG subsystem for contextual bandit
	// weight perturbation.
	SubsystemContextual = "contextual"
)

// SubsystemRouter returns the subsystem name for one tenant router.
// Each (tenant, workspace) pair samples from its own stream so that
// creating routers in a different order never changes any router's draws.
func SubsystemRouter(tenant, workspace string) string {
	return fmt.Sprintf("router/%s||%s", tenant, workspace)
}

// === PartitionedRNG ===

// PartitionedRNG provides deterministic, isolated RNG instances per subsystem.
//
// Derivation formula:
//   - For SubsystemTraffic: uses masterSeed directly
//   - For all other subsystems: masterSeed XOR fnv1a64(subsystemName)
//
// Thread-safety: the subsystem lookup is guarded by a mutex because tenant
// routers are created lazily from request goroutines. The returned RNG
// instances themselves are NOT thread-safe; each is owned by exactly one
// policy instance whose mutation is already serialized by the registry lock.
type PartitionedRNG struct {
	mu         sync.Mutex
	key        EngineKey
	subsystems map[string]*rand.Rand
	sources    map[string]*exprand.Rand
}

// NewPartitionedRNG creates a PartitionedRNG from an EngineKey.
func NewPartitionedRNG(key EngineKey) *PartitionedRNG {
	return &PartitionedRNG{
		key:        key,
		subsystems: make(map[string]*rand.Rand),
		sources:    make(map[string]*exprand.Rand),
	}
}

// ForSubsystem returns a deterministically-seeded RNG for the named subsystem.
// The same subsystem name always returns the same *rand.Rand instance (cached).
// Never returns nil.
func (p *PartitionedRNG) ForSubsystem(name string) *rand.Rand {
	p.mu.Lock()
	defer p.mu.Unlock()

	if rng, ok := p.subsystems[name]; ok {
		return rng
	}
	rng := rand.New(rand.NewSource(p.derive(name)))
	p.subsystems[name] = rng
	return rng
}

// SourceFor returns a gonum-compatible random source for the named subsystem,
// derived from the same seed as ForSubsystem. Used to feed distuv samplers
// (Beta posterior draws) from the same partition as everything else.
func (p *PartitionedRNG) SourceFor(name string) *exprand.Rand {
	p.mu.Lock()
	defer p.mu.Unlock()

	if src, ok := p.sources[name]; ok {
		return src
	}
	src := exprand.New(exprand.NewSource(uint64(p.derive(name))))
	p.sources[name] = src
	return src
}

// Key returns the EngineKey used to create this PartitionedRNG.
func (p *PartitionedRNG) Key() EngineKey {
	return p.key
}

func (p *PartitionedRNG) derive(name string) int64 {
	if name == SubsystemTraffic {
		return int64(p.key)
	}
	return int64(p.key) ^ fnv1a64(name)
}

// fnv1a64 computes a 64-bit FNV-1a hash of the input string.
func fnv1a64(s string) int64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return int64(h.Sum64())
}
