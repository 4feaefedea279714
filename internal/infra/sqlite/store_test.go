package sqlite

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/a1betting/propcore/internal/domain"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "props.db"))
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func testProjection(id string, start time.Time) domain.Projection {
	return domain.Projection{
		ProjectionID: id,
		LeagueID:     "2",
		LeagueName:   "MLB",
		PlayerID:     "p-" + id,
		PlayerName:   "Mookie Betts",
		Team:         "LAD",
		StatType:     "Hits",
		LineScore:    1.5,
		StartTime:    start,
		Status:       domain.StatusPreGame,
		FetchedAt:    time.Now().UTC().Truncate(time.Second),
		Raw:          json.RawMessage(`{"id":"` + id + `"}`),
	}
}

// ─── Upserts ────────────────────────────────────────────────────────────────

func TestUpsertProjections_Insert(t *testing.T) {
	db := newTestDB(t)
	p := testProjection("101", time.Now().Add(2*time.Hour))

	n, err := db.UpsertProjections([]domain.Projection{p})
	if err != nil {
		t.Fatalf("UpsertProjections() error: %v", err)
	}
	if n != 1 {
		t.Errorf("changed = %d, want 1", n)
	}

	got, err := db.GetByID("101")
	if err != nil {
		t.Fatalf("GetByID() error: %v", err)
	}
	if got == nil {
		t.Fatal("GetByID() returned nil")
	}
	if got.PlayerName != "Mookie Betts" {
		t.Errorf("PlayerName = %q, want %q", got.PlayerName, "Mookie Betts")
	}
	if got.LineScore != 1.5 {
		t.Errorf("LineScore = %v, want 1.5", got.LineScore)
	}
}

func TestUpsertProjections_Idempotent(t *testing.T) {
	db := newTestDB(t)
	p := testProjection("101", time.Now().Add(2*time.Hour))

	if _, err := db.UpsertProjections([]domain.Projection{p}); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	first, _ := db.GetByID("101")

	// Second upsert with identical fields and a later fetch: updated_at
	// must not move, fetched_at must.
	p.FetchedAt = p.FetchedAt.Add(time.Minute)
	n, err := db.UpsertProjections([]domain.Projection{p})
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if n != 0 {
		t.Errorf("changed = %d, want 0 for unchanged fields", n)
	}

	second, _ := db.GetByID("101")
	if !second.UpdatedAt.Equal(first.UpdatedAt) {
		t.Errorf("UpdatedAt moved on unchanged upsert: %v → %v", first.UpdatedAt, second.UpdatedAt)
	}
	if !second.FetchedAt.After(first.FetchedAt) {
		t.Errorf("FetchedAt should advance: %v → %v", first.FetchedAt, second.FetchedAt)
	}
}

func TestUpsertProjections_FieldChange(t *testing.T) {
	db := newTestDB(t)
	p := testProjection("101", time.Now().Add(2*time.Hour))
	if _, err := db.UpsertProjections([]domain.Projection{p}); err != nil {
		t.Fatalf("first upsert: %v", err)
	}

	p.LineScore = 2.5
	p.FetchedAt = p.FetchedAt.Add(time.Minute)
	n, err := db.UpsertProjections([]domain.Projection{p})
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if n != 1 {
		t.Errorf("changed = %d, want 1", n)
	}

	got, _ := db.GetByID("101")
	if got.LineScore != 2.5 {
		t.Errorf("LineScore = %v, want 2.5", got.LineScore)
	}

	stats, _ := db.Stats(time.Now())
	if stats.HistoryRows != 2 {
		t.Errorf("HistoryRows = %d, want 2 (insert + change)", stats.HistoryRows)
	}
}

func TestUpsertProjections_StaleSnapshotIgnored(t *testing.T) {
	db := newTestDB(t)
	p := testProjection("101", time.Now().Add(2*time.Hour))
	if _, err := db.UpsertProjections([]domain.Projection{p}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	stale := p
	stale.LineScore = 99
	stale.FetchedAt = p.FetchedAt.Add(-time.Hour)
	if _, err := db.UpsertProjections([]domain.Projection{stale}); err != nil {
		t.Fatalf("stale upsert: %v", err)
	}

	got, _ := db.GetByID("101")
	if got.LineScore != 1.5 {
		t.Errorf("stale snapshot overwrote newer row: LineScore = %v", got.LineScore)
	}
}

// ─── Bettable query ─────────────────────────────────────────────────────────

func TestGetBettable_StatusAndBoundary(t *testing.T) {
	db := newTestDB(t)
	now := time.Now().UTC().Truncate(time.Second)

	boundary := testProjection("boundary", now.Add(-domain.BettableGrace))
	live := testProjection("live", now.Add(time.Hour))
	live.Status = domain.StatusInProgress
	finished := testProjection("finished", now.Add(time.Hour))
	finished.Status = domain.StatusFinal
	past := testProjection("past", now.Add(-domain.BettableGrace-time.Second))

	if _, err := db.UpsertProjections([]domain.Projection{boundary, live, finished, past}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := db.GetBettable(now, 100, Filter{})
	if err != nil {
		t.Fatalf("GetBettable() error: %v", err)
	}

	ids := map[string]bool{}
	for _, p := range got {
		ids[p.ProjectionID] = true
	}
	if !ids["boundary"] {
		t.Error("projection exactly at now-grace must be included")
	}
	if !ids["live"] {
		t.Error("in_progress projection must be included")
	}
	if ids["finished"] {
		t.Error("final projection must be excluded")
	}
	if ids["past"] {
		t.Error("projection past the grace window must be excluded")
	}
}

func TestGetBettable_OrderAndLimit(t *testing.T) {
	db := newTestDB(t)
	now := time.Now().UTC().Truncate(time.Second)

	later := testProjection("b-later", now.Add(3*time.Hour))
	sooner := testProjection("a-sooner", now.Add(1*time.Hour))
	if _, err := db.UpsertProjections([]domain.Projection{later, sooner}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := db.GetBettable(now, 1, Filter{})
	if err != nil {
		t.Fatalf("GetBettable() error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}
	if got[0].ProjectionID != "a-sooner" {
		t.Errorf("first = %q, want smallest start_time", got[0].ProjectionID)
	}

	empty, err := db.GetBettable(now, 0, Filter{})
	if err != nil {
		t.Fatalf("GetBettable(limit=0) error: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("limit=0 returned %d rows", len(empty))
	}
}

func TestGetBettable_Filters(t *testing.T) {
	db := newTestDB(t)
	now := time.Now().UTC()

	mlb := testProjection("mlb", now.Add(time.Hour))
	nba := testProjection("nba", now.Add(time.Hour))
	nba.LeagueID = "7"
	nba.PlayerName = "Luka Doncic"
	nba.StatType = "Points"

	if _, err := db.UpsertProjections([]domain.Projection{mlb, nba}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	byLeague, _ := db.GetBettable(now, 100, Filter{LeagueID: "7"})
	if len(byLeague) != 1 || byLeague[0].ProjectionID != "nba" {
		t.Errorf("league filter: got %v", byLeague)
	}

	byStat, _ := db.GetBettable(now, 100, Filter{StatType: "points"})
	if len(byStat) != 1 || byStat[0].ProjectionID != "nba" {
		t.Errorf("stat filter should match case-insensitively: got %v", byStat)
	}

	byPlayer, _ := db.GetBettable(now, 100, Filter{Player: "luka"})
	if len(byPlayer) != 1 || byPlayer[0].ProjectionID != "nba" {
		t.Errorf("player substring filter: got %v", byPlayer)
	}
}

// ─── Stats, counts, retention ───────────────────────────────────────────────

func TestCountByStatus(t *testing.T) {
	db := newTestDB(t)
	now := time.Now()

	a := testProjection("a", now.Add(time.Hour))
	b := testProjection("b", now.Add(time.Hour))
	b.Status = domain.StatusFinal

	if _, err := db.UpsertProjections([]domain.Projection{a, b}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	counts, err := db.CountByStatus()
	if err != nil {
		t.Fatalf("CountByStatus() error: %v", err)
	}
	if counts[domain.StatusPreGame] != 1 || counts[domain.StatusFinal] != 1 {
		t.Errorf("counts = %v", counts)
	}
}

func TestStats(t *testing.T) {
	db := newTestDB(t)
	now := time.Now().UTC()

	p := testProjection("a", now.Add(time.Hour))
	if _, err := db.UpsertProjections([]domain.Projection{p}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	s, err := db.Stats(now)
	if err != nil {
		t.Fatalf("Stats() error: %v", err)
	}
	if s.Total != 1 || s.Last24h != 1 {
		t.Errorf("Stats = %+v", s)
	}
	if s.OldestFetchedAt.IsZero() {
		t.Error("OldestFetchedAt should be set")
	}
}

func TestArchiveOlderThan(t *testing.T) {
	db := newTestDB(t)
	now := time.Now().UTC()

	old := testProjection("old", now.Add(-40*24*time.Hour))
	fresh := testProjection("fresh", now.Add(time.Hour))
	if _, err := db.UpsertProjections([]domain.Projection{old, fresh}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	n, err := db.ArchiveOlderThan(now.Add(-30 * 24 * time.Hour))
	if err != nil {
		t.Fatalf("ArchiveOlderThan() error: %v", err)
	}
	if n != 1 {
		t.Errorf("archived = %d, want 1", n)
	}

	if got, _ := db.GetByID("old"); got != nil {
		t.Error("archived row should be gone from the current view")
	}
	if got, _ := db.GetByID("fresh"); got == nil {
		t.Error("fresh row must survive the sweep")
	}
}

// ─── Leagues ────────────────────────────────────────────────────────────────

func TestLeagues(t *testing.T) {
	db := newTestDB(t)

	ls := []domain.League{
		{LeagueID: "7", LeagueName: "NBA", Active: true},
		{LeagueID: "2", LeagueName: "MLB", Active: true},
		{LeagueID: "82", LeagueName: "SOCCER", Active: false},
	}
	if err := db.UpsertLeagues(ls); err != nil {
		t.Fatalf("UpsertLeagues() error: %v", err)
	}

	active, err := db.ActiveLeagues()
	if err != nil {
		t.Fatalf("ActiveLeagues() error: %v", err)
	}
	if len(active) != 2 {
		t.Fatalf("len(active) = %d, want 2", len(active))
	}
	// Deterministic order by league_id.
	if active[0].LeagueID != "2" || active[1].LeagueID != "7" {
		t.Errorf("order = %v", active)
	}

	if name := db.LeagueName("7"); name != "NBA" {
		t.Errorf("LeagueName(7) = %q, want NBA", name)
	}
}
