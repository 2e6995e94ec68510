package routing

import "math"

// ContextDim is the fixed length of the routing context vector. The
// contextual bandit is constructed with this dimension; every vector built
// here matches it exactly.
const ContextDim = 15

// Context vector layout. Missing numeric features default to the neutral
// 0.5; flags and one-hot slots default to 0. The layout is append-only:
// slot 14 is reserved so a new feature does not invalidate persisted
// weights.
const (
	featComplexity = iota // task complexity, [0,1]
	featDataSize          // log-scaled data size, [0,1]
	featUrgency           // urgency, [0,1]
	featAccuracy          // required accuracy, [0,1]
	featBudget            // normalized budget, [0,1]
	featContentText       // content type one-hot
	featContentCode
	featContentStructured
	featRealtime // realtime flag
	featTaskGeneration // task type one-hot
	featTaskAnalysis
	featTaskExtraction
	featTaskOrchestration
	featBias     // constant 1, the linear model's intercept
	featReserved // always 0
)

const neutralFeature = 0.5

// TaskContext carries the heterogeneous attributes of one routing request.
// Pointer fields distinguish "absent" from zero: absent numeric features
// take the neutral default deterministically.
type TaskContext struct {
	Complexity       *float64 // [0,1]
	DataSizeBytes    *float64
	Urgency          *float64 // [0,1]
	RequiredAccuracy *float64 // [0,1]
	BudgetUSD        *float64
	ContentType      string // "text", "code", "structured"
	Realtime         bool
	TaskType         string // "generation", "analysis", "extraction", "orchestration"
}

// BuildContextVector folds a TaskContext into the fixed ContextDim-length
// numeric vector. Deterministic: the same TaskContext always produces the
// same vector.
func BuildContextVector(tc TaskContext) []float64 {
	v := make([]float64, ContextDim)

	v[featComplexity] = boundedOrNeutral(tc.Complexity)
	v[featDataSize] = dataSizeNorm(tc.DataSizeBytes)
	v[featUrgency] = boundedOrNeutral(tc.Urgency)
	v[featAccuracy] = boundedOrNeutral(tc.RequiredAccuracy)
	v[featBudget] = budgetNorm(tc.BudgetUSD)

	switch tc.ContentType {
	case "text":
		v[featContentText] = 1
	case "code":
		v[featContentCode] = 1
	case "structured":
		v[featContentStructured] = 1
	}

	if tc.Realtime {
		v[featRealtime] = 1
	}

	switch tc.TaskType {
	case "generation":
		v[featTaskGeneration] = 1
	case "analysis":
		v[featTaskAnalysis] = 1
	case "extraction":
		v[featTaskExtraction] = 1
	case "orchestration":
		v[featTaskOrchestration] = 1
	}

	v[featBias] = 1
	return v
}

// boundedOrNeutral clamps a [0,1] feature, defaulting to neutral when absent.
func boundedOrNeutral(f *float64) float64 {
	if f == nil {
		return neutralFeature
	}
	return clamp01(*f)
}

// dataSizeNorm maps bytes onto [0,1] logarithmically: 1 KB ≈ 0.33,
// 1 MB ≈ 0.67, 1 GB saturates. Absent sizes are neutral.
func dataSizeNorm(bytes *float64) float64 {
	if bytes == nil {
		return neutralFeature
	}
	b := *bytes
	if b <= 0 {
		return 0
	}
	return clamp01(math.Log10(1+b) / 9)
}

// budgetNorm maps a dollar budget onto [0,1], saturating at $10 per
// request. Absent budgets are neutral.
func budgetNorm(usd *float64) float64 {
	if usd == nil {
		return neutralFeature
	}
	if *usd <= 0 {
		return 0
	}
	return clamp01(*usd / 10)
}

func clamp01(v float64) float64 {
	if v < 0 || math.IsNaN(v) {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
