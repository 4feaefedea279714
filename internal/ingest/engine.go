// Package ingest keeps the projection store fresh. The engine walks the
// active leagues on a schedule, fetching through the rate governor and
// response cache, and upserting whatever the upstream gives it. It is the
// only writer of projection rows.
package ingest

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/a1betting/propcore/internal/domain"
	"github.com/a1betting/propcore/internal/infra/metrics"
	"github.com/a1betting/propcore/internal/infra/sqlite"
	"github.com/a1betting/propcore/internal/infra/upstream"
)

// DefaultLeagues bootstraps the league table when the store is empty.
var DefaultLeagues = []domain.League{
	{LeagueID: "1", LeagueName: "NFL", Active: true},
	{LeagueID: "2", LeagueName: "MLB", Active: true},
	{LeagueID: "3", LeagueName: "NHL", Active: true},
	{LeagueID: "7", LeagueName: "NBA", Active: true},
	{LeagueID: "82", LeagueName: "SOCCER", Active: true},
}

// Config controls the engine.
type Config struct {
	BaseURL  string        // e.g. https://api.prizepicks.com
	Interval time.Duration // sleep between cycles
	CacheTTL time.Duration
	PerPage  int
}

// LeagueStatus is per-league ingestion state for /status/ingestion.
type LeagueStatus struct {
	LeagueID    string    `json:"league_id"`
	LeagueName  string    `json:"league_name"`
	LastOKAt    time.Time `json:"last_ok_at"`
	LastStatus  string    `json:"last_status"`
	Projections int       `json:"projections"`
}

// Snapshot is the engine's aggregate state for /health and /status.
type Snapshot struct {
	Running             bool              `json:"running"`
	LastCycleAt         time.Time         `json:"last_cycle_at"`
	LastCycleOK         bool              `json:"last_cycle_ok"`
	LastCycleDurationMS int64             `json:"last_cycle_duration_ms"`
	ConsecutiveFailed   int               `json:"consecutive_failed_cycles"`
	ConversionErrors    int               `json:"conversion_errors"`
	Leagues             []LeagueStatus    `json:"leagues"`
	Governor            upstream.Snapshot `json:"rate_governor"`
}

// Degraded reports whether repeated whole-cycle failures have accumulated.
func (s Snapshot) Degraded() bool { return s.ConsecutiveFailed >= 2 }

// Engine orchestrates fetcher + cache + governor + store.
type Engine struct {
	cfg      Config
	store    *sqlite.DB
	fetcher  *upstream.Fetcher
	cache    *upstream.Cache
	governor *upstream.Governor

	// onDegraded fires once when the engine transitions into the
	// degraded state. Optional.
	onDegraded func(reason string)

	mu      sync.RWMutex
	running bool
	lastAt  time.Time
	lastOK  bool
	lastDur time.Duration
	failed  int
	badRows int
	leagues map[string]*LeagueStatus
	alerted bool
}

// New creates an engine. The governor and cache are shared with nobody
// else; the store is shared with the API's read path.
func New(cfg Config, store *sqlite.DB, fetcher *upstream.Fetcher, cache *upstream.Cache, governor *upstream.Governor) *Engine {
	if cfg.PerPage <= 0 {
		cfg.PerPage = 250
	}
	return &Engine{
		cfg:      cfg,
		store:    store,
		fetcher:  fetcher,
		cache:    cache,
		governor: governor,
		leagues:  make(map[string]*LeagueStatus),
	}
}

// OnDegraded registers a callback fired on the transition into degraded.
func (e *Engine) OnDegraded(fn func(reason string)) { e.onDegraded = fn }

// Bootstrap seeds the league table from defaults when it is empty.
func (e *Engine) Bootstrap() error {
	active, err := e.store.ActiveLeagues()
	if err != nil {
		return fmt.Errorf("load leagues: %w", err)
	}
	if len(active) > 0 {
		return nil
	}
	return e.store.UpsertLeagues(DefaultLeagues)
}

// Run executes cycles until ctx is cancelled. A cycle in flight finishes
// its current league before exiting.
func (e *Engine) Run(ctx context.Context) {
	e.setRunning(true)
	defer e.setRunning(false)

	for {
		if _, err := e.RunOnce(ctx); err != nil && ctx.Err() != nil {
			return
		}

		timer := time.NewTimer(e.cfg.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// CycleReport summarizes one ingestion cycle.
type CycleReport struct {
	LeaguesOK        int
	LeaguesFailed    int
	Projections      int
	ConversionErrors int
	Duration         time.Duration
}

// RunOnce executes a single cycle: refresh leagues opportunistically,
// then walk each active league in deterministic order. Per-league failure
// is isolated; the cycle fails only when every league fails.
func (e *Engine) RunOnce(ctx context.Context) (CycleReport, error) {
	start := time.Now()
	var report CycleReport

	e.refreshLeagues(ctx)

	leagues, err := e.store.ActiveLeagues()
	if err != nil {
		e.finishCycle(report, start, false)
		return report, fmt.Errorf("load active leagues: %w", err)
	}
	if len(leagues) == 0 {
		leagues = DefaultLeagues
	}
	sort.Slice(leagues, func(i, j int) bool { return leagues[i].LeagueID < leagues[j].LeagueID })

	for _, lg := range leagues {
		if ctx.Err() != nil {
			break
		}
		n, badRows, err := e.ingestLeague(ctx, lg)
		report.ConversionErrors += badRows
		if err != nil {
			report.LeaguesFailed++
			log.Warn().
				Str("component", "ingest").
				Str("league_id", lg.LeagueID).
				Err(err).
				Msg("league skipped this cycle")
			continue
		}
		report.LeaguesOK++
		report.Projections += n
	}

	report.Duration = time.Since(start)
	ok := report.LeaguesOK > 0 || len(leagues) == 0
	e.finishCycle(report, start, ok)

	if ok {
		metrics.IngestCycles.WithLabelValues("ok").Inc()
		if stats, err := e.store.Stats(time.Now().UTC()); err == nil {
			metrics.ProjectionsStored.Set(float64(stats.Total))
		}
	} else {
		metrics.IngestCycles.WithLabelValues("failed").Inc()
	}
	metrics.IngestCycleDuration.Observe(report.Duration.Seconds())

	if err := ctx.Err(); err != nil {
		return report, err
	}
	if !ok {
		return report, fmt.Errorf("all %d leagues failed", report.LeaguesFailed)
	}
	return report, nil
}

// ingestLeague fetches one league's projections, honoring the cache and
// the governor's backoff, with up to MaxAttempts attempts.
func (e *Engine) ingestLeague(ctx context.Context, lg domain.League) (stored, badRows int, err error) {
	params := url.Values{
		"include":     {"new_player,league,stat_type"},
		"per_page":    {fmt.Sprintf("%d", e.cfg.PerPage)},
		"single_stat": {"true"},
		"league_id":   {lg.LeagueID},
	}
	projURL := e.cfg.BaseURL + "/projections"
	canonical := upstream.CanonicalURL(projURL, params)

	if body, _, ok := e.cache.Get(canonical); ok {
		return e.storeBody(body, lg, domain.SourceUpstreamCached)
	}

	var last upstream.Result
	for attempt := 1; attempt <= e.governor.MaxAttempts(); attempt++ {
		if err := e.governor.Wait(ctx); err != nil {
			return 0, 0, err
		}

		last = e.fetcher.Fetch(ctx, projURL, params)
		switch last.Kind {
		case upstream.KindOK:
			if last.Status != 200 {
				// 404 and friends: nothing to ingest, not a backoff case.
				e.governor.Success()
				e.setLeagueStatus(lg, fmt.Sprintf("http_%d", last.Status), 0, false)
				return 0, 0, nil
			}
			e.governor.Success()
			stored, badRows, err = e.storeBody(last.Body, lg, domain.SourceUpstreamLive)
			if err == nil {
				e.cache.Put(canonical, last.Body, e.cfg.CacheTTL)
			}
			return stored, badRows, err

		case upstream.KindRateLimited, upstream.KindTransport:
			e.governor.Failure(last.RetryAfter)

		case upstream.KindBlocked:
			// Treated as transient, but never attempt to solve the
			// challenge; escalate via the health counter.
			e.governor.Failure(0)

		case upstream.KindParse:
			// A malformed body will not improve on retry this cycle.
			e.setLeagueStatus(lg, string(last.Kind), 0, false)
			return 0, 0, fmt.Errorf("malformed upstream body (%.120s)", string(last.Body))
		}
	}

	e.setLeagueStatus(lg, string(last.Kind), 0, false)
	return 0, 0, fmt.Errorf("exhausted %d attempts: %s", e.governor.MaxAttempts(), last.Kind)
}

func (e *Engine) storeBody(body []byte, lg domain.League, src domain.Source) (int, int, error) {
	ps, badRows, err := upstream.ParseProjections(body, lg.LeagueID, time.Now().UTC())
	if err != nil {
		e.setLeagueStatus(lg, "parse_error", 0, false)
		return 0, badRows, fmt.Errorf("parse projections: %w", err)
	}
	for i := range ps {
		ps[i].Source = src
		if ps[i].LeagueName == "" {
			ps[i].LeagueName = lg.LeagueName
		}
	}

	if _, err := e.store.UpsertProjections(ps); err != nil {
		e.setLeagueStatus(lg, "store_error", 0, false)
		return 0, badRows, fmt.Errorf("upsert: %w", err)
	}
	metrics.UpsertBatches.Inc()

	e.setLeagueStatus(lg, "ok", len(ps), true)
	return len(ps), badRows, nil
}

// refreshLeagues opportunistically updates the league table from the
// upstream /leagues endpoint. Failure is tolerated silently; the stored
// or default list keeps working.
func (e *Engine) refreshLeagues(ctx context.Context) {
	canonical := upstream.CanonicalURL(e.cfg.BaseURL+"/leagues", nil)
	if _, _, ok := e.cache.Get(canonical); ok {
		return
	}
	if err := e.governor.Wait(ctx); err != nil {
		return
	}

	res := e.fetcher.Fetch(ctx, e.cfg.BaseURL+"/leagues", nil)
	if res.Kind != upstream.KindOK || res.Status != 200 {
		if res.Kind == upstream.KindRateLimited || res.Kind == upstream.KindTransport {
			e.governor.Failure(res.RetryAfter)
		}
		return
	}
	e.governor.Success()

	ls, err := upstream.ParseLeagues(res.Body)
	if err != nil || len(ls) == 0 {
		return
	}
	if err := e.store.UpsertLeagues(ls); err != nil {
		log.Warn().Str("component", "ingest").Err(err).Msg("league refresh failed")
		return
	}
	e.cache.Put(canonical, res.Body, e.cfg.CacheTTL)
}

// ─── State bookkeeping ──────────────────────────────────────────────────────

func (e *Engine) setRunning(v bool) {
	e.mu.Lock()
	e.running = v
	e.mu.Unlock()
}

func (e *Engine) setLeagueStatus(lg domain.League, status string, projections int, ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, found := e.leagues[lg.LeagueID]
	if !found {
		st = &LeagueStatus{LeagueID: lg.LeagueID, LeagueName: lg.LeagueName}
		e.leagues[lg.LeagueID] = st
	}
	st.LastStatus = status
	if ok {
		st.LastOKAt = time.Now().UTC()
		st.Projections = projections
	}
}

func (e *Engine) finishCycle(report CycleReport, start time.Time, ok bool) {
	e.mu.Lock()
	e.lastAt = start.UTC()
	e.lastOK = ok
	e.lastDur = report.Duration
	e.badRows += report.ConversionErrors
	if ok {
		e.failed = 0
		e.alerted = false
	} else {
		e.failed++
	}
	degradedNow := e.failed >= 2 && !e.alerted
	if degradedNow {
		e.alerted = true
	}
	cb := e.onDegraded
	failed := e.failed
	e.mu.Unlock()

	if degradedNow && cb != nil {
		cb(fmt.Sprintf("ingestion degraded: %d consecutive failed cycles", failed))
	}
}

// State returns a copy of the engine's aggregate state.
func (e *Engine) State() Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()

	leagues := make([]LeagueStatus, 0, len(e.leagues))
	for _, st := range e.leagues {
		leagues = append(leagues, *st)
	}
	sort.Slice(leagues, func(i, j int) bool { return leagues[i].LeagueID < leagues[j].LeagueID })

	return Snapshot{
		Running:             e.running,
		LastCycleAt:         e.lastAt,
		LastCycleOK:         e.lastOK,
		LastCycleDurationMS: e.lastDur.Milliseconds(),
		ConsecutiveFailed:   e.failed,
		ConversionErrors:    e.badRows,
		Leagues:             leagues,
		Governor:            e.governor.State(),
	}
}

// RunRetention runs the daily archive sweep. Call in a goroutine.
func (e *Engine) RunRetention(ctx context.Context, horizon time.Duration) {
	if horizon <= 0 {
		return
	}
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := e.store.ArchiveOlderThan(time.Now().Add(-horizon))
			if err != nil {
				log.Warn().Str("component", "ingest").Err(err).Msg("retention sweep failed")
				continue
			}
			if n > 0 {
				log.Info().Str("component", "ingest").Int("archived", n).Msg("retention sweep")
			}
		}
	}
}
