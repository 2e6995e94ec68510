package bandit

import (
	"fmt"
	"strconv"
	"strings"
)

// EncodeContext renders a context vector as the metadata string consumed by
// Policy.Observe. Shadow observations travel through a flat string map so
// the observe contract stays policy-agnostic.
func EncodeContext(context []float64) string {
	parts := make([]string, len(context))
	for i, v := range context {
		parts[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	return strings.Join(parts, ",")
}

// decodeContext parses an EncodeContext string and enforces the expected
// dimension. Unlike the Recommend/Update path this returns an error instead
// of panicking: shadow observations are advisory and must never take down
// the production path.
func decodeContext(s string, dim int) ([]float64, error) {
	if s == "" {
		return nil, fmt.Errorf("empty context")
	}
	parts := strings.Split(s, ",")
	if len(parts) != dim {
		return nil, fmt.Errorf("context dimension %d != expected %d", len(parts), dim)
	}
	out := make([]float64, dim)
	for i, p := range parts {
		v, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return nil, fmt.Errorf("parsing context element %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}
