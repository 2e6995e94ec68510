package bandit

import "github.com/sirupsen/logrus"

// Gauge names published by the tenant registry.
const (
	// GaugeSelectionEntropy is the Shannon entropy (nats) of the empirical
	// selection distribution: 0 when traffic concentrates on one arm,
	// ln(n) when uniform over n arms.
	GaugeSelectionEntropy = "bandit_selection_entropy"

	// GaugePosteriorEntropy is the entropy of the normalized posterior
	// means — a model-confidence signal independent of traffic shape.
	GaugePosteriorEntropy = "bandit_posterior_mean_entropy"
)

// GaugeEmitter is the observability capability boundary. The metrics
// backend is an external collaborator; the engine only needs somewhere to
// publish gauges. Implementations must tolerate being called from the
// request path and be cheap.
type GaugeEmitter interface {
	EmitGauge(name string, labels map[string]string, value float64)
}

// NopEmitter drops all gauges: the default when no backend is wired.
type NopEmitter struct{}

// EmitGauge implements GaugeEmitter.
func (NopEmitter) EmitGauge(string, map[string]string, float64) {}

// LogEmitter publishes gauges at debug level. Useful for local runs and
// the CLI; a real deployment substitutes its own backend.
type LogEmitter struct{}

// EmitGauge implements GaugeEmitter.
func (LogEmitter) EmitGauge(name string, labels map[string]string, value float64) {
	logrus.Debugf("gauge %s%v = %.4f", name, labels, value)
}
