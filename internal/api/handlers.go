package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/a1betting/propcore/internal/domain"
	"github.com/a1betting/propcore/internal/infra/sqlite"
)

const (
	defaultLimit = 500
	maxLimit     = 2000
	defaultK     = 50
)

// ─── Health and status ──────────────────────────────────────────────────────

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC()
	snap := s.engine.State()

	stats, err := s.store.Stats(now)
	storeOK := err == nil
	if err != nil {
		log.Warn().Str("component", "api").Err(err).Msg("store stats failed")
	}

	// Cached between rechecks; a short budget keeps /health cheap even
	// when the model server has to be probed.
	llmCtx, cancel := context.WithTimeout(r.Context(), time.Second)
	defer cancel()
	primary, available := s.explainer.ModelInfo(llmCtx)

	status := "ok"
	cycleFailed := !snap.LastCycleAt.IsZero() && !snap.LastCycleOK
	if snap.Degraded() || cycleFailed || s.models.ReadyCount() == 0 || !storeOK {
		status = "degraded"
	}

	body := map[string]any{
		"status":         status,
		"port":           s.port,
		"uptime_seconds": int(time.Since(s.startedAt).Seconds()),
		"ingestion": map[string]any{
			"last_cycle_at":        timeOrNil(snap.LastCycleAt),
			"last_cycle_ok":        snap.LastCycleOK,
			"degraded":             snap.Degraded(),
			"projections_total":    stats.Total,
			"projections_last_24h": stats.Last24h,
			"oldest_fetched_at":    timeOrNil(stats.OldestFetchedAt),
		},
		"models": map[string]any{
			"ready_count":       s.models.ReadyCount(),
			"total_count":       s.models.TotalCount(),
			"ensemble_accuracy": s.models.EnsembleAccuracy(),
		},
		"llm": map[string]any{
			"available_models": emptyNotNil(available),
			"primary":          stringOrNil(primary),
		},
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleTrainingStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"scorers":     s.models.Statuses(),
		"ready_count": s.models.ReadyCount(),
		"total_count": s.models.TotalCount(),
	})
}

func (s *Server) handleIngestionStatus(w http.ResponseWriter, r *http.Request) {
	snap := s.engine.State()
	writeJSON(w, http.StatusOK, map[string]any{
		"running":                snap.Running,
		"last_cycle_at":          timeOrNil(snap.LastCycleAt),
		"last_cycle_ok":          snap.LastCycleOK,
		"last_cycle_duration_ms": snap.LastCycleDurationMS,
		"degraded":               snap.Degraded(),
		"conversion_errors":      snap.ConversionErrors,
		"leagues":                snap.Leagues,
		"rate_governor": map[string]any{
			"next_allowed_at":      snap.Governor.NextAllowedAt,
			"consecutive_failures": snap.Governor.ConsecutiveFailures,
			"current_backoff_ms":   snap.Governor.CurrentBackoff.Milliseconds(),
		},
	})
}

// ─── Projections board ──────────────────────────────────────────────────────

func (s *Server) handleProjections(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	includeRaw := r.URL.Query().Get("include_raw") == "true"
	filter := sqlite.Filter{
		LeagueID: r.URL.Query().Get("league_id"),
		StatType: r.URL.Query().Get("stat_type"),
		Player:   r.URL.Query().Get("player"),
	}

	now := time.Now().UTC()
	ps, err := s.store.GetBettable(now, limit, filter)
	if err != nil {
		log.Error().Str("component", "api").Err(err).Msg("bettable query failed")
		writeError(w, http.StatusServiceUnavailable, "storage_unavailable", "projection store is unreachable")
		return
	}

	var oldest time.Time
	for i := range ps {
		if !includeRaw {
			ps[i].Raw = nil
		}
		if oldest.IsZero() || ps[i].FetchedAt.Before(oldest) {
			oldest = ps[i].FetchedAt
		}
	}

	status := "fresh"
	switch {
	case len(ps) == 0:
		status = "empty"
	case now.Sub(oldest) > s.staleThreshold:
		status = "stale"
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":           true,
		"count":             len(ps),
		"projections":       ps,
		"status":            status,
		"oldest_fetched_at": timeOrNil(oldest),
		"conversion_errors": s.engine.State().ConversionErrors,
	})
}

// ─── Enhanced predictions ───────────────────────────────────────────────────

// enhancedPrediction embeds the scored projection alongside the result.
type enhancedPrediction struct {
	domain.PredictionResult
	Projection domain.Projection `json:"projection"`
}

func (s *Server) handleEnhanced(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	k := defaultK
	if v := r.URL.Query().Get("k"); v != "" {
		k, err = strconv.Atoi(v)
		if err != nil || k < 0 {
			writeError(w, http.StatusBadRequest, "bad_request", "k must be a non-negative integer")
			return
		}
	}
	var minConfidence float64
	if v := r.URL.Query().Get("min_confidence"); v != "" {
		minConfidence, err = strconv.ParseFloat(v, 64)
		if err != nil || minConfidence < 0 || minConfidence > 1 {
			writeError(w, http.StatusBadRequest, "bad_request", "min_confidence must be in [0,1]")
			return
		}
	}
	filter := sqlite.Filter{
		LeagueID: r.URL.Query().Get("league_id"),
		StatType: r.URL.Query().Get("stat_type"),
		Player:   r.URL.Query().Get("player"),
	}

	ps, err := s.store.GetBettable(time.Now().UTC(), limit, filter)
	if err != nil {
		log.Error().Str("component", "api").Err(err).Msg("bettable query failed")
		writeError(w, http.StatusServiceUnavailable, "storage_unavailable", "projection store is unreachable")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), predictionsDeadline)
	defer cancel()

	results, err := s.models.Rank(ctx, ps, k, minConfidence)
	degraded := false
	reason := ""
	if err != nil {
		if !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
			log.Error().Str("component", "api").Err(err).Msg("ranking failed")
		}
		// Deadline or cancellation: answer with what we have, in-band.
		results = nil
		degraded = true
		reason = "scoring deadline exceeded"
	}

	ready, total := s.models.ReadyCount(), s.models.TotalCount()
	if ready < total {
		degraded = true
		if reason == "" {
			reason = fmt.Sprintf("%d of %d scorers ready", ready, total)
		}
	}

	byID := make(map[string]domain.Projection, len(ps))
	for _, p := range ps {
		byID[p.ProjectionID] = p
	}
	preds := make([]enhancedPrediction, 0, len(results))
	for _, res := range results {
		p := byID[res.ProjectionID]
		p.Raw = nil
		preds = append(preds, enhancedPrediction{PredictionResult: res, Projection: p})
	}

	body := map[string]any{
		"success":     true,
		"count":       len(preds),
		"predictions": preds,
		"degraded":    degraded,
	}
	if reason != "" {
		body["degraded_reason"] = reason
	}
	writeJSON(w, http.StatusOK, body)
}

// ─── Small helpers ──────────────────────────────────────────────────────────

func parseLimit(raw string) (int, error) {
	if raw == "" {
		return defaultLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0, fmt.Errorf("limit must be a non-negative integer")
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	return limit, nil
}

func timeOrNil(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func stringOrNil(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func emptyNotNil(ss []string) []string {
	if ss == nil {
		return []string{}
	}
	return ss
}
