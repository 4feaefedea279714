package domain

// Recommendation is the ensemble's call on a projection.
type Recommendation string

const (
	RecommendOver  Recommendation = "over"
	RecommendUnder Recommendation = "under"
	RecommendPass  Recommendation = "pass"
)

// ScorerKind tags what a scorer's output value means. A single ensemble
// never mixes kinds; the manager groups scorers by kind.
type ScorerKind string

const (
	// KindPredictedValue means the scorer predicts the stat value itself,
	// to be compared against the line.
	KindPredictedValue ScorerKind = "predicted_value"
	// KindProbabilityOfOver means the scorer outputs P(over) in [0,1].
	KindProbabilityOfOver ScorerKind = "probability_of_over"
)

// ScorerOutput is one scorer's answer for one projection.
type ScorerOutput struct {
	Value      float64            `json:"value"`
	Confidence float64            `json:"confidence"`
	Shap       map[string]float64 `json:"shap,omitempty"`
}

// PerScorer records one scorer's contribution inside an ensemble.
type PerScorer struct {
	ScorerName string  `json:"scorer_name"`
	Value      float64 `json:"value"`
	WeightUsed float64 `json:"weight_used"`
}

// PredictionResult is the ensemble's ranked output for one projection.
// It is computed on demand and not persisted.
type PredictionResult struct {
	ProjectionID       string             `json:"projection_id"`
	EnsemblePrediction float64            `json:"ensemble_prediction"`
	Confidence         float64            `json:"confidence"`
	ExpectedValue      float64            `json:"expected_value"`
	Recommendation     Recommendation     `json:"recommendation"`
	ShapValues         map[string]float64 `json:"shap_values,omitempty"`
	PerScorer          []PerScorer        `json:"per_scorer"`
	// Note carries a structured reason on degraded results,
	// e.g. "no_scorers_ready".
	Note string `json:"note,omitempty"`
}

// ScorerStatus is one scorer's lifecycle state for /status/training.
type ScorerStatus struct {
	Name     string  `json:"name"`
	Ready    bool    `json:"ready"`
	Accuracy float64 `json:"accuracy"`
	State    string  `json:"state"` // initializing | ready | failed
}
