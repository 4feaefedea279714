package upstream

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/a1betting/propcore/internal/domain"
	"github.com/a1betting/propcore/internal/infra/metrics"
)

// The upstream speaks a JSON:API-ish envelope: {data:[...], included:[...]}
// where data entries reference included player/league/stat_type resources.

type document struct {
	Data     []resource `json:"data"`
	Included []resource `json:"included"`
}

type resource struct {
	Type          string                  `json:"type"`
	ID            string                  `json:"id"`
	Attributes    json.RawMessage         `json:"attributes"`
	Relationships map[string]relationship `json:"relationships"`
}

type relationship struct {
	Data *relRef `json:"data"`
}

type relRef struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

type projectionAttrs struct {
	LineScore flexFloat `json:"line_score"`
	StatType  string    `json:"stat_type"`
	StartTime string    `json:"start_time"`
	Status    string    `json:"status"`
}

type playerAttrs struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Team        string `json:"team"`
}

type leagueAttrs struct {
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

type statTypeAttrs struct {
	Name string `json:"name"`
}

// flexFloat accepts both 92.5 and "92.5"; the upstream emits either.
// A missing or unparsable value leaves valid=false and quarantines the row.
type flexFloat struct {
	value float64
	valid bool
}

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" || s == `""` {
		return nil
	}
	s = strings.Trim(s, `"`)
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	f.value = v
	f.valid = true
	return nil
}

// ParseProjections converts an upstream envelope into projection records,
// resolving player, league, and stat_type from included resources.
// Rows failing validation (missing line_score, unparsable start_time) are
// skipped and counted; they never fail the batch.
func ParseProjections(body []byte, fallbackLeagueID string, fetchedAt time.Time) ([]domain.Projection, int, error) {
	var doc document
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, 0, fmt.Errorf("decode envelope: %w", err)
	}

	included := make(map[string]resource, len(doc.Included))
	for _, r := range doc.Included {
		included[r.Type+"/"+r.ID] = r
	}

	var out []domain.Projection
	badRows := 0
	for _, r := range doc.Data {
		p, err := convertProjection(r, included, fallbackLeagueID, fetchedAt)
		if err != nil {
			badRows++
			metrics.ConversionErrors.Inc()
			log.Warn().
				Str("kind", "bad_projection_record").
				Str("component", "upstream").
				Str("projection_id", r.ID).
				Str("league_id", fallbackLeagueID).
				Err(err).
				Msg("skipping projection")
			continue
		}
		out = append(out, *p)
	}
	return out, badRows, nil
}

func convertProjection(r resource, included map[string]resource, fallbackLeagueID string, fetchedAt time.Time) (*domain.Projection, error) {
	var attrs projectionAttrs
	if err := json.Unmarshal(r.Attributes, &attrs); err != nil {
		return nil, fmt.Errorf("decode attributes: %w", err)
	}
	if r.ID == "" {
		return nil, fmt.Errorf("missing projection id")
	}
	if !attrs.LineScore.valid {
		return nil, fmt.Errorf("missing or non-numeric line_score")
	}

	start, err := time.Parse(time.RFC3339, attrs.StartTime)
	if err != nil {
		return nil, fmt.Errorf("unparsable start_time %q: %w", attrs.StartTime, err)
	}

	p := &domain.Projection{
		ProjectionID: r.ID,
		LeagueID:     fallbackLeagueID,
		StatType:     attrs.StatType,
		LineScore:    attrs.LineScore.value,
		StartTime:    start.UTC(),
		Status:       domain.ParseStatus(attrs.Status),
		Source:       domain.SourceUpstreamLive,
		FetchedAt:    fetchedAt,
		Raw:          append(json.RawMessage(nil), r.Attributes...),
	}
	// Upstream omits status on pre-game boards.
	if attrs.Status == "" {
		p.Status = domain.StatusPreGame
	}

	if ref := relID(r, "new_player"); ref != nil {
		p.PlayerID = ref.ID
		if pl, ok := included["new_player/"+ref.ID]; ok {
			var pa playerAttrs
			if json.Unmarshal(pl.Attributes, &pa) == nil {
				p.PlayerName = pa.Name
				if p.PlayerName == "" {
					p.PlayerName = pa.DisplayName
				}
				p.Team = pa.Team
			}
		}
	}
	if ref := relID(r, "league"); ref != nil {
		p.LeagueID = ref.ID
		if lg, ok := included["league/"+ref.ID]; ok {
			var la leagueAttrs
			if json.Unmarshal(lg.Attributes, &la) == nil {
				p.LeagueName = la.Name
			}
		}
	}
	// stat_type may arrive as a relationship instead of an attribute.
	if p.StatType == "" {
		if ref := relID(r, "stat_type"); ref != nil {
			if st, ok := included["stat_type/"+ref.ID]; ok {
				var sa statTypeAttrs
				if json.Unmarshal(st.Attributes, &sa) == nil {
					p.StatType = sa.Name
				}
			}
		}
	}
	return p, nil
}

func relID(r resource, name string) *relRef {
	rel, ok := r.Relationships[name]
	if !ok || rel.Data == nil {
		return nil
	}
	return rel.Data
}

// ParseLeagues converts the /leagues envelope into league records.
func ParseLeagues(body []byte) ([]domain.League, error) {
	var doc document
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("decode leagues envelope: %w", err)
	}

	var out []domain.League
	for _, r := range doc.Data {
		if r.ID == "" {
			continue
		}
		var la leagueAttrs
		if err := json.Unmarshal(r.Attributes, &la); err != nil {
			continue
		}
		out = append(out, domain.League{
			LeagueID:   r.ID,
			LeagueName: la.Name,
			Active:     la.Active,
		})
	}
	return out, nil
}
