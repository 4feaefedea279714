// Package domain contains the core types shared across propcore.
// No I/O, no external dependencies — every other package imports this one.
package domain

import (
	"encoding/json"
	"strings"
	"time"
)

// Status is the lifecycle state of a projection as reported by the upstream.
type Status string

const (
	StatusPreGame    Status = "pre_game"
	StatusInProgress Status = "in_progress"
	StatusFinal      Status = "final"
	StatusVoid       Status = "void"
	StatusUnknown    Status = "unknown"
)

// ParseStatus maps an upstream status string to a Status, defaulting to
// StatusUnknown. Upstream values are matched case-insensitively.
func ParseStatus(s string) Status {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pre_game", "pregame":
		return StatusPreGame
	case "in_progress", "live":
		return StatusInProgress
	case "final", "settled":
		return StatusFinal
	case "void", "refunded":
		return StatusVoid
	default:
		return StatusUnknown
	}
}

// Source marks the provenance of a projection at the moment it was
// materialized into a response.
type Source string

const (
	SourceUpstreamLive   Source = "upstream_live"
	SourceUpstreamCached Source = "upstream_cached"
	SourceStoreOnly      Source = "store_only"
)

// BettableGrace is how far past its start time a projection is still
// considered bettable, to tolerate clock skew between us and the upstream.
const BettableGrace = 15 * time.Minute

// Projection is one player prop: a player, a stat, a line, and a game start.
// ProjectionID is the upstream's opaque id and is unique in the current view.
type Projection struct {
	ProjectionID string          `json:"projection_id"`
	LeagueID     string          `json:"league_id"`
	LeagueName   string          `json:"league_name,omitempty"`
	PlayerID     string          `json:"player_id,omitempty"`
	PlayerName   string          `json:"player_name,omitempty"`
	Team         string          `json:"team,omitempty"`
	StatType     string          `json:"stat_type"`
	LineScore    float64         `json:"line_score"`
	StartTime    time.Time       `json:"start_time"`
	Status       Status          `json:"status"`
	Source       Source          `json:"source,omitempty"`
	FetchedAt    time.Time       `json:"fetched_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	Raw          json.RawMessage `json:"raw,omitempty"`
}

// Bettable reports whether the projection can still be bet on at now.
// Pre-game and in-progress count; the start-time boundary is inclusive.
func (p Projection) Bettable(now time.Time) bool {
	if p.Status != StatusPreGame && p.Status != StatusInProgress {
		return false
	}
	return !p.StartTime.Before(now.Add(-BettableGrace))
}

// NormalStatType returns the stat type normalized for matching
// (lowercased, trimmed). The stored value keeps the upstream spelling.
func (p Projection) NormalStatType() string {
	return NormalizeStatType(p.StatType)
}

// NormalizeStatType lowercases and trims a stat type for matching.
func NormalizeStatType(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// League is a lookup entry controlling which leagues the ingestion
// engine walks.
type League struct {
	LeagueID   string `json:"league_id"`
	LeagueName string `json:"league_name"`
	Active     bool   `json:"active"`
}

// StoreStats summarizes the projection store for /health and store-stats.
type StoreStats struct {
	Total           int       `json:"total"`
	Last24h         int       `json:"last_24h"`
	HistoryRows     int       `json:"history_rows"`
	OldestFetchedAt time.Time `json:"oldest_fetched_at"`
	NewestFetchedAt time.Time `json:"newest_fetched_at"`
}
