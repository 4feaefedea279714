// Package health runs periodic internal checks: store reachability,
// data directory sanity, and LLM availability. Results feed operator
// logging; the serving path never blocks on a check.
package health

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/a1betting/propcore/internal/infra/sqlite"
)

// Check is a single named probe.
type Check struct {
	Name    string
	CheckFn func(ctx context.Context) error
}

// Status is the result of one probe.
type Status struct {
	Name      string    `json:"name"`
	Healthy   bool      `json:"healthy"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// Checker runs the probes on an interval.
type Checker struct {
	mu       sync.RWMutex
	checks   []Check
	statuses []Status
	interval time.Duration
}

// LLMProbe reports whether the model server answers.
type LLMProbe interface {
	Reachable(ctx context.Context) bool
}

// NewChecker creates a checker with the standard propcore probes. The
// LLM probe is advisory: an unreachable model server is reported but
// never unhealthy, because the chat path has a fallback.
func NewChecker(db *sqlite.DB, dataDir string, llm LLMProbe) *Checker {
	return &Checker{
		interval: 60 * time.Second,
		checks: []Check{
			{
				Name: "sqlite",
				CheckFn: func(ctx context.Context) error {
					return db.Ping()
				},
			},
			{
				Name: "data_dir",
				CheckFn: func(ctx context.Context) error {
					return checkDataDir(dataDir)
				},
			},
			{
				Name: "llm",
				CheckFn: func(ctx context.Context) error {
					probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
					defer cancel()
					if !llm.Reachable(probeCtx) {
						log.Debug().Str("component", "health").Msg("llm unreachable, chat will fall back")
					}
					return nil
				},
			},
		},
	}
}

// Run starts the check loop. Call in a goroutine.
func (c *Checker) Run(ctx context.Context) {
	c.runAll(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.runAll(ctx)
		}
	}
}

func (c *Checker) runAll(ctx context.Context) {
	statuses := make([]Status, len(c.checks))
	for i, check := range c.checks {
		s := Status{Name: check.Name, CheckedAt: time.Now().UTC()}
		if err := check.CheckFn(ctx); err != nil {
			s.Error = err.Error()
			log.Warn().
				Str("component", "health").
				Str("check", check.Name).
				Err(err).
				Msg("health check failed")
		} else {
			s.Healthy = true
		}
		statuses[i] = s
	}

	c.mu.Lock()
	c.statuses = statuses
	c.mu.Unlock()
}

// Statuses returns the latest results.
func (c *Checker) Statuses() []Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Status, len(c.statuses))
	copy(out, c.statuses)
	return out
}

// IsHealthy reports whether every probe passed on the last run.
func (c *Checker) IsHealthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, s := range c.statuses {
		if !s.Healthy {
			return false
		}
	}
	return true
}

func checkDataDir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("check data dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}
	return nil
}
