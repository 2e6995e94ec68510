// Package routing is the tool/arm routing facade: it discovers candidate
// arms from a capability catalog, builds per-request context vectors, wraps
// the contextual bandit, batches outcome feedback, and tracks arm health.
package routing

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Cost tiers recognized in catalog records. The tier feeds the reward
// normalizer's cost signal when feedback carries no explicit cost.
const (
	CostTierLow      = "low"
	CostTierStandard = "standard"
	CostTierPremium  = "premium"
)

// ToolDescriptor is one read-only capability catalog record.
type ToolDescriptor struct {
	ID               string   `yaml:"id"`
	Category         string   `yaml:"category"`
	Capabilities     []string `yaml:"capabilities"`
	CostTier         string   `yaml:"cost_tier"`
	TypicalLatencyMs float64  `yaml:"typical_latency_ms"`
}

// CostUnits maps the descriptor's tier onto a relative cost scalar.
// Unknown tiers read as standard.
func (d ToolDescriptor) CostUnits() float64 {
	switch d.CostTier {
	case CostTierLow:
		return 0.3
	case CostTierPremium:
		return 3.0
	default:
		return 1.0
	}
}

// Catalog is the external capability catalog consumed at discovery time.
type Catalog struct {
	Tools []ToolDescriptor `yaml:"tools"`
}

// LoadCatalog reads and parses a YAML capability catalog file.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog: %w", err)
	}
	var cat Catalog
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return nil, fmt.Errorf("parsing catalog: %w", err)
	}
	for i, tool := range cat.Tools {
		if tool.ID == "" {
			return nil, fmt.Errorf("catalog entry %d has no id", i)
		}
	}
	return &cat, nil
}
