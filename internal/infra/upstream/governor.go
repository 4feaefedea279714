package upstream

import (
	"context"
	"sync"
	"time"
)

// Governor enforces minimum spacing between requests to the upstream host
// and exponential backoff across retries. State is per host and purely
// in-memory; all league requests share the host's budget.
type Governor struct {
	mu         sync.Mutex
	minSpacing time.Duration
	schedule   []time.Duration // backoff delays for retry attempts 1..n

	lastRequest time.Time
	nextAllowed time.Time
	failures    int
}

// Snapshot is the governor's state for /status/ingestion.
type Snapshot struct {
	LastRequestAt       time.Time     `json:"last_request_at"`
	NextAllowedAt       time.Time     `json:"next_allowed_at"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	CurrentBackoff      time.Duration `json:"current_backoff"`
}

// NewGovernor creates a governor with the given spacing and backoff
// schedule. An empty schedule falls back to 10s/20s/40s.
func NewGovernor(minSpacing time.Duration, schedule []time.Duration) *Governor {
	if len(schedule) == 0 {
		schedule = []time.Duration{10 * time.Second, 20 * time.Second, 40 * time.Second}
	}
	return &Governor{
		minSpacing: minSpacing,
		schedule:   schedule,
	}
}

// MaxAttempts returns how many fetch attempts the schedule allows.
func (g *Governor) MaxAttempts() int { return len(g.schedule) }

// reserve claims the next request slot and returns how long the caller
// must wait first. When two callers race, each gets its own slot spaced
// by minSpacing, so exactly one proceeds at a time.
func (g *Governor) reserve() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now()
	start := g.nextAllowed
	if start.Before(now) {
		start = now
	}
	g.lastRequest = start
	g.nextAllowed = start.Add(g.minSpacing)
	return start.Sub(now)
}

// Wait blocks until the caller may issue a request, honoring ctx.
func (g *Governor) Wait(ctx context.Context) error {
	d := g.reserve()
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Failure records a failed attempt and pushes next_allowed_at out by the
// schedule's delay for the current consecutive-failure count. A positive
// retryAfter from the upstream overrides the schedule when longer.
func (g *Governor) Failure(retryAfter time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()

	idx := g.failures
	if idx >= len(g.schedule) {
		idx = len(g.schedule) - 1
	}
	g.failures++

	delay := g.schedule[idx]
	if retryAfter > delay {
		delay = retryAfter
	}
	g.nextAllowed = time.Now().Add(delay)
}

// Success resets the backoff.
func (g *Governor) Success() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failures = 0
}

// State returns a copy of the governor's state.
func (g *Governor) State() Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()

	var backoff time.Duration
	if g.failures > 0 {
		idx := g.failures - 1
		if idx >= len(g.schedule) {
			idx = len(g.schedule) - 1
		}
		backoff = g.schedule[idx]
	}
	return Snapshot{
		LastRequestAt:       g.lastRequest,
		NextAllowedAt:       g.nextAllowed,
		ConsecutiveFailures: g.failures,
		CurrentBackoff:      backoff,
	}
}
