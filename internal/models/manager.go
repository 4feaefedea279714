package models

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/a1betting/propcore/internal/domain"
	"github.com/a1betting/propcore/internal/infra/metrics"
)

// Scorer lifecycle states.
const (
	StateInitializing = "initializing"
	StateReady        = "ready"
	StateFailed       = "failed"
)

type registration struct {
	scorer Scorer
	state  string
}

// Manager owns the scorer registry. Construction is cheap and answers
// ready/total counts immediately; Start launches each scorer's Init as a
// background task. A scorer whose Init fails is terminally failed until
// process restart; one that panics or errors inside PredictBatch is
// marked failed for the remainder of the process and excluded.
type Manager struct {
	mu      sync.RWMutex
	regs    []*registration
	workers chan struct{}
}

// NewManager registers the given scorers in the initializing state.
func NewManager(scorers ...Scorer) *Manager {
	regs := make([]*registration, len(scorers))
	for i, s := range scorers {
		regs[i] = &registration{scorer: s, state: StateInitializing}
	}
	n := runtime.NumCPU()
	if n > 4 {
		n = 4
	}
	if n < 1 {
		n = 1
	}
	return &Manager{
		regs:    regs,
		workers: make(chan struct{}, n),
	}
}

// Start launches scorer initialization in the background and returns
// immediately. Safe to call once.
func (m *Manager) Start(ctx context.Context) {
	for _, reg := range m.regs {
		go func(reg *registration) {
			if err := reg.scorer.Init(ctx); err != nil {
				m.setState(reg, StateFailed)
				metrics.ScorerFailures.WithLabelValues(reg.scorer.Name()).Inc()
				log.Warn().
					Str("component", "models").
					Str("scorer", reg.scorer.Name()).
					Err(err).
					Msg("scorer training failed")
				return
			}
			m.setState(reg, StateReady)
			log.Info().
				Str("component", "models").
				Str("scorer", reg.scorer.Name()).
				Float64("accuracy", reg.scorer.Accuracy()).
				Msg("scorer ready")
		}(reg)
	}
}

func (m *Manager) setState(reg *registration, state string) {
	m.mu.Lock()
	reg.state = state
	m.mu.Unlock()
	metrics.ScorersReady.Set(float64(m.ReadyCount()))
}

// ReadyCount returns the number of ready scorers.
func (m *Manager) ReadyCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, reg := range m.regs {
		if reg.state == StateReady {
			n++
		}
	}
	return n
}

// TotalCount returns the number of registered scorers.
func (m *Manager) TotalCount() int { return len(m.regs) }

// EnsembleAccuracy is the accuracy-weighted mean accuracy of ready
// scorers, 0 when none are ready.
func (m *Manager) EnsembleAccuracy() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var sum, wsum float64
	for _, reg := range m.regs {
		if reg.state != StateReady {
			continue
		}
		a := reg.scorer.Accuracy()
		sum += a * a
		wsum += a
	}
	if wsum == 0 {
		return 0
	}
	return sum / wsum
}

// Statuses reports every scorer's lifecycle state for /status/training.
func (m *Manager) Statuses() []domain.ScorerStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]domain.ScorerStatus, len(m.regs))
	for i, reg := range m.regs {
		out[i] = domain.ScorerStatus{
			Name:     reg.scorer.Name(),
			Ready:    reg.state == StateReady,
			Accuracy: reg.scorer.Accuracy(),
			State:    reg.state,
		}
	}
	return out
}

// readyByKind snapshots ready scorers grouped by kind.
func (m *Manager) readyByKind() map[domain.ScorerKind][]*registration {
	m.mu.RLock()
	defer m.mu.RUnlock()

	groups := make(map[domain.ScorerKind][]*registration)
	for _, reg := range m.regs {
		if reg.state == StateReady {
			groups[reg.scorer.Kind()] = append(groups[reg.scorer.Kind()], reg)
		}
	}
	return groups
}

// Rank scores the projections and returns the top k predictions ordered
// by (actionable first, expected value, confidence, projection_id). With
// no ready scorers it returns honest degraded results instead of failing;
// the caller surfaces degraded state from ReadyCount.
func (m *Manager) Rank(ctx context.Context, ps []domain.Projection, k int, minConfidence float64) ([]domain.PredictionResult, error) {
	start := time.Now()
	defer func() { metrics.ScoringLatency.Observe(time.Since(start).Seconds()) }()

	if k <= 0 || len(ps) == 0 {
		return []domain.PredictionResult{}, nil
	}

	groups := m.readyByKind()
	if len(groups) == 0 {
		out := make([]domain.PredictionResult, 0, min(k, len(ps)))
		for _, p := range ps {
			if len(out) == k {
				break
			}
			out = append(out, degradedResult(p))
		}
		return out, nil
	}

	// A single ensemble never mixes kinds: score with the kind holding
	// the most accuracy weight among ready scorers.
	kind := dominantKind(groups)
	batches, err := m.predictAll(ctx, groups[kind], ps)
	if err != nil {
		return nil, err
	}
	if len(batches) == 0 {
		// Every scorer of the chosen kind failed mid-flight.
		out := make([]domain.PredictionResult, 0, min(k, len(ps)))
		for _, p := range ps {
			if len(out) == k {
				break
			}
			out = append(out, degradedResult(p))
		}
		return out, nil
	}

	results := make([]domain.PredictionResult, 0, len(ps))
	for i, p := range ps {
		r := combine(kind, p, batches, i)
		if r.Confidence < minConfidence {
			continue
		}
		results = append(results, r)
	}

	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		aPass := a.Recommendation == domain.RecommendPass
		bPass := b.Recommendation == domain.RecommendPass
		if aPass != bPass {
			return !aPass
		}
		if a.ExpectedValue != b.ExpectedValue {
			return a.ExpectedValue > b.ExpectedValue
		}
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		return a.ProjectionID < b.ProjectionID
	})

	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

func dominantKind(groups map[domain.ScorerKind][]*registration) domain.ScorerKind {
	best := domain.KindPredictedValue
	var bestW float64 = -1
	// Deterministic tie-break: value kind first.
	for _, kind := range []domain.ScorerKind{domain.KindPredictedValue, domain.KindProbabilityOfOver} {
		var w float64
		for _, reg := range groups[kind] {
			w += reg.scorer.Accuracy()
		}
		if w > bestW {
			best = kind
			bestW = w
		}
	}
	return best
}

// predictAll runs every scorer's PredictBatch on the worker pool. Scorer
// work is CPU-bound; the pool keeps it from starving I/O tasks. A scorer
// that errors or panics is excluded and marked failed.
func (m *Manager) predictAll(ctx context.Context, regs []*registration, ps []domain.Projection) ([]scoredBatch, error) {
	type result struct {
		reg     *registration
		outputs []domain.ScorerOutput
		err     error
	}

	results := make(chan result, len(regs))
	for _, reg := range regs {
		go func(reg *registration) {
			select {
			case m.workers <- struct{}{}:
			case <-ctx.Done():
				results <- result{reg: reg, err: ctx.Err()}
				return
			}
			defer func() { <-m.workers }()

			defer func() {
				if r := recover(); r != nil {
					results <- result{reg: reg, err: fmt.Errorf("scorer panic: %v", r)}
				}
			}()

			out, err := reg.scorer.PredictBatch(ctx, ps)
			results <- result{reg: reg, outputs: out, err: err}
		}(reg)
	}

	var batches []scoredBatch
	for range regs {
		r := <-results
		if r.err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			m.setState(r.reg, StateFailed)
			metrics.ScorerFailures.WithLabelValues(r.reg.scorer.Name()).Inc()
			log.Warn().
				Str("component", "models").
				Str("scorer", r.reg.scorer.Name()).
				Err(r.err).
				Msg("scorer excluded from ensemble")
			continue
		}
		if len(r.outputs) != len(ps) {
			m.setState(r.reg, StateFailed)
			continue
		}
		batches = append(batches, scoredBatch{
			name:    r.reg.scorer.Name(),
			weight:  r.reg.scorer.Accuracy(),
			outputs: r.outputs,
		})
	}

	// Stable batch order keeps per_scorer listings deterministic.
	sort.Slice(batches, func(i, j int) bool { return batches[i].name < batches[j].name })
	return batches, nil
}
