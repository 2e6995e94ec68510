package bandit

import (
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"
)

// EngineBundle holds unified engine configuration, loadable from a YAML
// file. Nil pointer fields mean "not set in YAML" and fall back to engine
// defaults. String fields use empty string for "not set".
type EngineBundle struct {
	// ActivePolicy serves production decisions ("thompson" default).
	ActivePolicy string `yaml:"active_policy"`
	// ShadowPolicies are evaluated against the baseline but never served.
	ShadowPolicies []string `yaml:"shadow_policies"`

	LinTS       LinTSConfig       `yaml:"lints"`
	Persistence PersistenceConfig `yaml:"persistence"`

	// HealthThreshold excludes arms below this health score from routing.
	HealthThreshold *float64 `yaml:"health_threshold"`
	// EMAAlpha overrides the reward normalizer smoothing factor.
	EMAAlpha *float64 `yaml:"ema_alpha"`
	// Seed fixes the engine's partitioned RNG for reproducible runs.
	Seed *int64 `yaml:"seed"`
}

// LinTSConfig holds the contextual bandit's parameters.
type LinTSConfig struct {
	Dim   *int     `yaml:"dim"`
	Sigma *float64 `yaml:"sigma"`
}

// PersistenceConfig gates durable state. Disabled by default: the engine
// must opt in explicitly before it touches disk.
type PersistenceConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
}

// DefaultHealthThreshold is the operating floor below which an arm is
// excluded from routing until it recovers.
const DefaultHealthThreshold = 0.3

// LoadEngineBundle reads and parses a YAML engine configuration file.
func LoadEngineBundle(path string) (*EngineBundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading engine config: %w", err)
	}
	var bundle EngineBundle
	if err := yaml.Unmarshal(data, &bundle); err != nil {
		return nil, fmt.Errorf("parsing engine config: %w", err)
	}
	return &bundle, nil
}

// ValidateEngineBundle returns an error if the bundle is invalid.
func ValidateEngineBundle(b *EngineBundle) error {
	if b.ActivePolicy != "" && !IsValidPolicy(b.ActivePolicy) {
		return fmt.Errorf("unknown active policy %q", b.ActivePolicy)
	}
	for _, name := range b.ShadowPolicies {
		if !IsValidPolicy(name) {
			return fmt.Errorf("unknown shadow policy %q", name)
		}
		if name == b.ActivePolicy {
			return fmt.Errorf("policy %q cannot be both active and shadow", name)
		}
	}
	if b.LinTS.Dim != nil && *b.LinTS.Dim <= 0 {
		return fmt.Errorf("lints dim must be positive, got %d", *b.LinTS.Dim)
	}
	if b.LinTS.Sigma != nil {
		s := *b.LinTS.Sigma
		if s <= 0 || math.IsNaN(s) || math.IsInf(s, 0) {
			return fmt.Errorf("lints sigma must be positive, got %v", s)
		}
	}
	if b.HealthThreshold != nil {
		h := *b.HealthThreshold
		if h < 0 || h > 1 || math.IsNaN(h) {
			return fmt.Errorf("health threshold must be in [0, 1], got %v", h)
		}
	}
	if b.EMAAlpha != nil {
		a := *b.EMAAlpha
		if a <= 0 || a > 1 || math.IsNaN(a) {
			return fmt.Errorf("ema alpha must be in (0, 1], got %v", a)
		}
	}
	if b.Persistence.Enabled && b.Persistence.Dir == "" {
		return fmt.Errorf("persistence enabled but no dir configured")
	}
	return nil
}
