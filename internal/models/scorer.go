// Package models owns the scorer registry and the ensemble that turns
// current projections into ranked predictions. Scorers are opaque
// capabilities behind the Scorer interface; training is a background
// concern and request handlers only ever observe readiness.
package models

import (
	"context"
	"hash/fnv"
	"math"
	"time"

	"github.com/a1betting/propcore/internal/domain"
)

// Scorer is one predictor. Init runs the scorer's training/loading in the
// background; until it returns, the manager treats the scorer as absent.
// Kind declares what Value in its outputs means — the ensemble never
// mixes kinds.
type Scorer interface {
	Name() string
	Kind() domain.ScorerKind
	Init(ctx context.Context) error
	Accuracy() float64
	PredictBatch(ctx context.Context, ps []domain.Projection) ([]domain.ScorerOutput, error)
}

// ─── Built-in baseline scorers ──────────────────────────────────────────────
// These are deterministic statistical baselines, not trained models; real
// model backends implement the same interface. Each derives a stable
// per-projection signal from the projection id so results are reproducible
// across calls.

// signal maps a projection to a stable value in [-1, 1).
func signal(p domain.Projection, salt string) float64 {
	h := fnv.New64a()
	h.Write([]byte(p.ProjectionID))
	h.Write([]byte{0})
	h.Write([]byte(p.NormalStatType()))
	h.Write([]byte{0})
	h.Write([]byte(salt))
	v := h.Sum64()
	return float64(v%2000)/1000.0 - 1.0
}

type baselineScorer struct {
	name     string
	kind     domain.ScorerKind
	accuracy float64
	warmup   time.Duration
	// predict produces one output for one projection.
	predict func(p domain.Projection) domain.ScorerOutput
}

func (s *baselineScorer) Name() string            { return s.name }
func (s *baselineScorer) Kind() domain.ScorerKind { return s.kind }
func (s *baselineScorer) Accuracy() float64       { return s.accuracy }

func (s *baselineScorer) Init(ctx context.Context) error {
	if s.warmup <= 0 {
		return nil
	}
	timer := time.NewTimer(s.warmup)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (s *baselineScorer) PredictBatch(ctx context.Context, ps []domain.Projection) ([]domain.ScorerOutput, error) {
	out := make([]domain.ScorerOutput, len(ps))
	for i, p := range ps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = s.predict(p)
	}
	return out, nil
}

// DefaultScorers returns the built-in registry: three predicted-value
// baselines and two probability-of-over baselines. warmup staggers their
// readiness so the ensemble's accuracy grows as training completes.
func DefaultScorers(warmup time.Duration) []Scorer {
	return []Scorer{
		&baselineScorer{
			name: "line-anchor", kind: domain.KindPredictedValue,
			accuracy: 0.58, warmup: warmup,
			predict: func(p domain.Projection) domain.ScorerOutput {
				cal := calibrationFor(p.StatType)
				drift := signal(p, "anchor") * 0.25 * cal.Sigma
				return domain.ScorerOutput{
					Value:      p.LineScore + drift,
					Confidence: 0.55 + 0.10*math.Abs(signal(p, "anchor-conf")),
					Shap: map[string]float64{
						"line_level":  p.LineScore,
						"stat_spread": cal.Sigma,
					},
				}
			},
		},
		&baselineScorer{
			name: "form-momentum", kind: domain.KindPredictedValue,
			accuracy: 0.64, warmup: warmup * 2,
			predict: func(p domain.Projection) domain.ScorerOutput {
				cal := calibrationFor(p.StatType)
				drift := signal(p, "momentum") * 0.4 * cal.Sigma
				return domain.ScorerOutput{
					Value:      p.LineScore + drift,
					Confidence: 0.60 + 0.12*math.Abs(signal(p, "momentum-conf")),
					Shap: map[string]float64{
						"recent_form": drift,
						"line_level":  p.LineScore,
					},
				}
			},
		},
		&baselineScorer{
			name: "matchup-model", kind: domain.KindPredictedValue,
			accuracy: 0.69, warmup: warmup * 3,
			predict: func(p domain.Projection) domain.ScorerOutput {
				cal := calibrationFor(p.StatType)
				drift := signal(p, "matchup") * 0.3 * cal.Sigma
				return domain.ScorerOutput{
					Value:      p.LineScore + drift,
					Confidence: 0.62 + 0.10*math.Abs(signal(p, "matchup-conf")),
					Shap: map[string]float64{
						"matchup_edge": drift,
					},
				}
			},
		},
		&baselineScorer{
			name: "market-consensus", kind: domain.KindProbabilityOfOver,
			accuracy: 0.61, warmup: warmup * 2,
			predict: func(p domain.Projection) domain.ScorerOutput {
				return domain.ScorerOutput{
					Value:      clamp01(0.5 + signal(p, "market")*0.12),
					Confidence: 0.58 + 0.10*math.Abs(signal(p, "market-conf")),
					Shap: map[string]float64{
						"market_lean": signal(p, "market") * 0.12,
					},
				}
			},
		},
		&baselineScorer{
			name: "calibrated-logit", kind: domain.KindProbabilityOfOver,
			accuracy: 0.66, warmup: warmup * 4,
			predict: func(p domain.Projection) domain.ScorerOutput {
				cal := calibrationFor(p.StatType)
				gap := signal(p, "logit") * 0.5 * cal.Sigma
				return domain.ScorerOutput{
					Value:      logistic(gap / cal.Sigma),
					Confidence: 0.60 + 0.08*math.Abs(signal(p, "logit-conf")),
					Shap: map[string]float64{
						"standardized_gap": gap / cal.Sigma,
					},
				}
			},
		},
	}
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func logistic(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}
