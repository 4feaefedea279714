package upstream

import (
	"testing"
	"time"

	"github.com/a1betting/propcore/internal/domain"
)

const sampleEnvelope = `{
	"data": [
		{
			"type": "projection",
			"id": "pp-1",
			"attributes": {
				"line_score": 7.5,
				"stat_type": "Pitcher Strikeouts",
				"start_time": "2026-09-01T23:10:00Z",
				"status": "pre_game"
			},
			"relationships": {
				"new_player": {"data": {"type": "new_player", "id": "pl-9"}},
				"league": {"data": {"type": "league", "id": "2"}}
			}
		},
		{
			"type": "projection",
			"id": "pp-2",
			"attributes": {
				"line_score": "92.5",
				"stat_type": "Points",
				"start_time": "2026-09-02T00:00:00Z"
			},
			"relationships": {
				"league": {"data": {"type": "league", "id": "7"}}
			}
		},
		{
			"type": "projection",
			"id": "pp-bad",
			"attributes": {
				"stat_type": "Hits",
				"start_time": "2026-09-01T23:10:00Z"
			}
		}
	],
	"included": [
		{
			"type": "new_player",
			"id": "pl-9",
			"attributes": {"name": "Gerrit Cole", "team": "NYY"}
		},
		{
			"type": "league",
			"id": "2",
			"attributes": {"name": "MLB", "active": true}
		}
	]
}`

func TestParseProjections(t *testing.T) {
	fetched := time.Now().UTC()
	ps, bad, err := ParseProjections([]byte(sampleEnvelope), "2", fetched)
	if err != nil {
		t.Fatalf("ParseProjections() error: %v", err)
	}
	if bad != 1 {
		t.Errorf("conversion errors = %d, want 1 (missing line_score)", bad)
	}
	if len(ps) != 2 {
		t.Fatalf("len = %d, want 2", len(ps))
	}

	p := ps[0]
	if p.ProjectionID != "pp-1" {
		t.Errorf("ProjectionID = %q", p.ProjectionID)
	}
	if p.PlayerName != "Gerrit Cole" || p.Team != "NYY" {
		t.Errorf("player resolution: %q / %q", p.PlayerName, p.Team)
	}
	if p.LeagueID != "2" || p.LeagueName != "MLB" {
		t.Errorf("league resolution: %q / %q", p.LeagueID, p.LeagueName)
	}
	if p.LineScore != 7.5 {
		t.Errorf("LineScore = %v", p.LineScore)
	}
	if p.Status != domain.StatusPreGame {
		t.Errorf("Status = %v", p.Status)
	}
	if !p.FetchedAt.Equal(fetched) {
		t.Errorf("FetchedAt = %v", p.FetchedAt)
	}

	// String line_score must parse; missing status defaults to pre_game.
	q := ps[1]
	if q.LineScore != 92.5 {
		t.Errorf("string line_score = %v, want 92.5", q.LineScore)
	}
	if q.Status != domain.StatusPreGame {
		t.Errorf("defaulted Status = %v", q.Status)
	}
	if q.LeagueID != "7" {
		t.Errorf("LeagueID = %q, want relationship id", q.LeagueID)
	}
}

func TestParseProjections_BadEnvelope(t *testing.T) {
	if _, _, err := ParseProjections([]byte(`{"data": "nope"`), "1", time.Now()); err == nil {
		t.Error("truncated envelope should error")
	}
}

func TestParseProjections_BadStartTime(t *testing.T) {
	body := `{"data":[{"type":"projection","id":"x","attributes":{"line_score":1.5,"start_time":"tomorrow"}}]}`
	ps, bad, err := ParseProjections([]byte(body), "1", time.Now())
	if err != nil {
		t.Fatalf("error: %v", err)
	}
	if len(ps) != 0 || bad != 1 {
		t.Errorf("len=%d bad=%d, want quarantined row", len(ps), bad)
	}
}

func TestParseLeagues(t *testing.T) {
	body := `{"data":[
		{"type":"league","id":"2","attributes":{"name":"MLB","active":true}},
		{"type":"league","id":"82","attributes":{"name":"SOCCER","active":false}}
	]}`
	ls, err := ParseLeagues([]byte(body))
	if err != nil {
		t.Fatalf("ParseLeagues() error: %v", err)
	}
	if len(ls) != 2 {
		t.Fatalf("len = %d", len(ls))
	}
	if ls[0].LeagueID != "2" || ls[0].LeagueName != "MLB" || !ls[0].Active {
		t.Errorf("ls[0] = %+v", ls[0])
	}
	if ls[1].Active {
		t.Error("inactive league should stay inactive")
	}
}
