package llm

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/a1betting/propcore/internal/domain"
	"github.com/a1betting/propcore/internal/infra/metrics"
)

// modelRecheckInterval bounds how often the service re-asks the Ollama
// server which models it has pulled.
const modelRecheckInterval = 5 * time.Minute

// Service produces explanations for predictions. It prefers a live
// model from the preference list; when the model is unavailable, busy,
// or slow it serves a deterministic fallback built from the prediction
// itself, so the chat surface always answers.
type Service struct {
	client     *Client
	preference []string
	Sessions   *SessionStore

	mu          sync.Mutex
	activeModel string
	available   []string
	checkedAt   time.Time
}

// NewService creates the explanation service. preference is tried in
// order against the server's pulled models.
func NewService(client *Client, preference []string) *Service {
	if len(preference) == 0 {
		preference = []string{"llama3:8b", "llama3", "mistral"}
	}
	return &Service{
		client:     client,
		preference: preference,
		Sessions:   NewSessionStore(time.Hour),
	}
}

// ActiveModel returns the model currently selected for generation, or
// "" when none is available. Cached between rechecks.
func (s *Service) ActiveModel(ctx context.Context) string {
	m, _ := s.ModelInfo(ctx)
	return m
}

// ModelInfo returns the selected model and the server's pulled model
// list. Cached between rechecks so /health stays cheap.
func (s *Service) ModelInfo(ctx context.Context) (primary string, available []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if time.Since(s.checkedAt) < modelRecheckInterval {
		return s.activeModel, s.available
	}
	s.checkedAt = time.Now()
	s.activeModel = ""
	s.available = nil

	models, err := s.client.ListModels(ctx)
	if err != nil {
		log.Debug().Str("component", "llm").Err(err).Msg("model listing failed")
		return "", nil
	}
	s.available = models

	have := make(map[string]bool, len(models))
	for _, m := range models {
		have[m] = true
		// "llama3" also matches "llama3:latest".
		if base, _, ok := strings.Cut(m, ":"); ok {
			have[base] = true
		}
	}
	for _, want := range s.preference {
		if have[want] {
			s.activeModel = want
			break
		}
	}
	return s.activeModel, s.available
}

// Reachable reports whether the backing Ollama server answers.
func (s *Service) Reachable(ctx context.Context) bool {
	return s.client.Reachable(ctx)
}

// Explain answers a question about one scored projection. It never
// returns an error to the caller: any failure degrades to the fallback
// explanation, and only a hard internal problem yields the error text.
func (s *Service) Explain(ctx context.Context, p domain.Projection, r domain.PredictionResult, question string, history []Message) domain.Explanation {
	model := s.ActiveModel(ctx)
	if model == "" {
		metrics.LLMFallbacks.Inc()
		return s.fallback(p, r)
	}

	start := time.Now()
	answer, err := s.client.Generate(ctx, model, buildPrompt(p, r, question, history))
	metrics.LLMLatency.WithLabelValues(model).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.LLMFallbacks.Inc()
		log.Warn().
			Str("component", "llm").
			Str("model", model).
			Err(err).
			Msg("generation failed, serving fallback")
		return s.fallback(p, r)
	}

	answer = strings.TrimSpace(answer)
	if answer == "" {
		metrics.LLMFallbacks.Inc()
		return s.fallback(p, r)
	}
	return domain.Explanation{
		Text:              answer,
		StructuredFactors: shapFactors(r),
		ModelUsed:         model,
		Confidence:        r.Confidence,
	}
}

// buildPrompt shapes the projection, the ensemble's verdict, the top
// SHAP drivers, and the session's recent turns into a grounded prompt.
// The model is asked to argue from the numbers given, not to invent
// stats.
func buildPrompt(p domain.Projection, r domain.PredictionResult, question string, history []Message) string {
	var b strings.Builder
	b.WriteString("You are a sports betting analyst. Using only the data below, ")
	b.WriteString("explain the recommendation in 3-5 sentences, then list the key factors as bullets.\n\n")
	fmt.Fprintf(&b, "Player: %s (%s, %s)\n", p.PlayerName, p.Team, p.LeagueName)
	fmt.Fprintf(&b, "Prop: %s, line %.1f\n", p.StatType, p.LineScore)
	fmt.Fprintf(&b, "Game start: %s, status: %s\n", p.StartTime.UTC().Format(time.RFC3339), p.Status)
	fmt.Fprintf(&b, "Ensemble prediction: %.2f\n", r.EnsemblePrediction)
	fmt.Fprintf(&b, "Recommendation: %s (confidence %.2f, expected value %+.3f)\n",
		r.Recommendation, r.Confidence, r.ExpectedValue)
	for _, f := range shapFactors(r) {
		fmt.Fprintf(&b, "Factor %s: impact %+.3f (%s)\n", f.Factor, f.Impact, f.Direction)
	}
	if len(history) > 0 {
		b.WriteString("\nRecent conversation:\n")
		for _, m := range history {
			fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
		}
	}
	if question != "" {
		fmt.Fprintf(&b, "\nQuestion: %s\n", question)
	}
	return b.String()
}

// shapFactors turns the weighted SHAP map into structured factors,
// strongest first, capped at five.
func shapFactors(r domain.PredictionResult) []domain.Factor {
	factors := make([]domain.Factor, 0, len(r.ShapValues))
	for name, impact := range r.ShapValues {
		dir := "neutral"
		switch {
		case impact > 0:
			dir = "over"
		case impact < 0:
			dir = "under"
		}
		factors = append(factors, domain.Factor{Factor: name, Impact: impact, Direction: dir})
	}
	sort.Slice(factors, func(i, j int) bool {
		ai, aj := math.Abs(factors[i].Impact), math.Abs(factors[j].Impact)
		if ai != aj {
			return ai > aj
		}
		return factors[i].Factor < factors[j].Factor
	})
	if len(factors) > 5 {
		factors = factors[:5]
	}
	return factors
}

// fallback is the deterministic explanation used whenever the model
// path cannot answer. It quotes the projection's own fields so the
// response stays grounded in stored data.
func (s *Service) fallback(p domain.Projection, r domain.PredictionResult) domain.Explanation {
	verdict := "passing on this prop"
	switch r.Recommendation {
	case domain.RecommendOver:
		verdict = "leaning over"
	case domain.RecommendUnder:
		verdict = "leaning under"
	}
	text := fmt.Sprintf(
		"The ensemble is %s for %s %s at a line of %g. The combined prediction is %.2f with confidence %.2f. Model-backed commentary is unavailable right now; this summary is computed directly from the scored projection.",
		verdict, p.PlayerName, p.StatType, p.LineScore, r.EnsemblePrediction, r.Confidence)
	if r.Note != "" {
		text = fmt.Sprintf(
			"No prediction is available for %s %s at a line of %g (%s). The service is holding a pass until scorers finish training.",
			p.PlayerName, p.StatType, p.LineScore, r.Note)
	}
	factors := shapFactors(r)
	if len(factors) == 0 {
		factors = []domain.Factor{{
			Factor:    "line_level",
			Impact:    p.LineScore,
			Direction: "neutral",
		}}
	}
	return domain.Explanation{
		Text:              text,
		StructuredFactors: factors,
		ModelUsed:         "fallback",
		Confidence:        r.Confidence,
	}
}

// Unavailable is the terminal error shape for when even the fallback
// inputs are missing (e.g. unknown projection).
func Unavailable() domain.Explanation {
	return domain.Explanation{
		Text:              "Explanation unavailable",
		StructuredFactors: []domain.Factor{},
		ModelUsed:         "error",
		Confidence:        0,
	}
}
