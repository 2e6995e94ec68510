package cmd

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bandit-router/bandit-router/routing"
)

// TestDefaultCatalog_ProfilesAligned verifies every built-in arm has a
// latent profile, so a default run never hits the fallback profile.
func TestDefaultCatalog_ProfilesAligned(t *testing.T) {
	for _, tool := range defaultCatalog().Tools {
		if _, ok := defaultProfiles[tool.ID]; !ok {
			t.Errorf("catalog arm %s has no latent profile", tool.ID)
		}
	}
}

// TestSampleOutcome_Bounds verifies sampled outcomes stay in range for the
// normalizer regardless of profile noise.
func TestSampleOutcome_Bounds(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	tool := routing.ToolDescriptor{TypicalLatencyMs: 400}
	profile := armProfile{successRate: 0.5, qualityMean: 0.5, qualityStdev: 0.4, latencyStdev: 500}

	for i := 0; i < 1000; i++ {
		_, quality, latency := sampleOutcome(rng, tool, profile)
		require.GreaterOrEqual(t, quality, 0.0)
		require.LessOrEqual(t, quality, 1.0)
		require.GreaterOrEqual(t, latency, 1.0)
	}
}

// TestSampleTask_Deterministic verifies the traffic sampler is seed-stable.
func TestSampleTask_Deterministic(t *testing.T) {
	a := sampleTask(rand.New(rand.NewSource(9)))
	b := sampleTask(rand.New(rand.NewSource(9)))
	require.Equal(t, *a.Complexity, *b.Complexity)
	require.Equal(t, a.TaskType, b.TaskType)
	require.Equal(t, a.ContentType, b.ContentType)
}
