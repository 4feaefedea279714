package models

import (
	"math"

	"github.com/a1betting/propcore/internal/domain"
)

// scoredBatch is one scorer's outputs for the whole projection slice,
// with the raw (pre-normalization) weight derived from its accuracy.
type scoredBatch struct {
	name    string
	weight  float64
	outputs []domain.ScorerOutput
}

// combine ensembles one projection's per-scorer outputs. Weights are
// proportional to accuracy among the scorers present and renormalized
// here, so an unready or failed scorer simply doesn't appear.
func combine(kind domain.ScorerKind, p domain.Projection, batches []scoredBatch, idx int) domain.PredictionResult {
	cal := calibrationFor(p.StatType)

	var totalW float64
	for _, b := range batches {
		totalW += b.weight
	}

	var ensembleValue, weightedConf float64
	perScorer := make([]domain.PerScorer, 0, len(batches))
	shap := map[string]float64{}
	for _, b := range batches {
		w := b.weight / totalW
		out := b.outputs[idx]
		ensembleValue += w * out.Value
		weightedConf += w * out.Confidence
		perScorer = append(perScorer, domain.PerScorer{
			ScorerName: b.name,
			Value:      out.Value,
			WeightUsed: w,
		})
		for k, v := range out.Shap {
			shap[k] += w * v
		}
	}

	// Weighted variance of per-scorer values, used as a dispersion
	// penalty: disagreement among scorers lowers confidence.
	var variance float64
	for _, b := range batches {
		w := b.weight / totalW
		d := b.outputs[idx].Value - ensembleValue
		variance += w * d * d
	}
	scale := cal.Sigma
	if kind == domain.KindProbabilityOfOver {
		scale = 0.25
	}
	penalty := math.Min(1, math.Sqrt(variance)/scale)
	confidence := clamp01(weightedConf * (1 - 0.5*penalty))

	var rec domain.Recommendation
	var overProb float64
	switch kind {
	case domain.KindPredictedValue:
		switch {
		case ensembleValue > p.LineScore+cal.Margin:
			rec = domain.RecommendOver
		case ensembleValue < p.LineScore-cal.Margin:
			rec = domain.RecommendUnder
		default:
			rec = domain.RecommendPass
		}
		overProb = logistic((ensembleValue - p.LineScore) / cal.Sigma)

	case domain.KindProbabilityOfOver:
		switch {
		case ensembleValue > 0.5+defaultTau:
			rec = domain.RecommendOver
		case ensembleValue < 0.5-defaultTau:
			rec = domain.RecommendUnder
		default:
			rec = domain.RecommendPass
		}
		overProb = ensembleValue
	}

	return domain.PredictionResult{
		ProjectionID:       p.ProjectionID,
		EnsemblePrediction: ensembleValue,
		Confidence:         confidence,
		ExpectedValue:      expectedValue(rec, overProb),
		Recommendation:     rec,
		ShapValues:         shap,
		PerScorer:          perScorer,
	}
}

// expectedValue prices the recommendation against symmetric -110 odds.
// For a pass, the better side is priced anyway so the caller can see how
// far from playable the prop is.
func expectedValue(rec domain.Recommendation, overProb float64) float64 {
	sideProb := overProb
	switch rec {
	case domain.RecommendUnder:
		sideProb = 1 - overProb
	case domain.RecommendPass:
		sideProb = math.Max(overProb, 1-overProb)
	}
	return sideProb*netPayout - (1 - sideProb)
}

// degradedResult is returned when no scorer is ready: the serving path
// answers with an honest pass instead of erroring.
func degradedResult(p domain.Projection) domain.PredictionResult {
	return domain.PredictionResult{
		ProjectionID:       p.ProjectionID,
		EnsemblePrediction: p.LineScore,
		Confidence:         0,
		ExpectedValue:      0,
		Recommendation:     domain.RecommendPass,
		ShapValues:         map[string]float64{},
		PerScorer:          []domain.PerScorer{},
		Note:               "no_scorers_ready",
	}
}
