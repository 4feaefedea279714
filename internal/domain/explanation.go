package domain

// Factor is one structured driver inside an explanation, derived from
// SHAP contributions or the fallback heuristic.
type Factor struct {
	Factor    string  `json:"factor"`
	Impact    float64 `json:"impact"`
	Direction string  `json:"direction"` // over | under | neutral
}

// Explanation is the PropOllama layer's answer for a projection.
type Explanation struct {
	Text              string   `json:"text"`
	StructuredFactors []Factor `json:"structured_factors"`
	ModelUsed         string   `json:"model_used"`
	Confidence        float64  `json:"confidence"`
}
