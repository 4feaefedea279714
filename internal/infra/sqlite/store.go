package sqlite

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/a1betting/propcore/internal/domain"
)

// Filter restricts GetBettable results. Zero values mean "no restriction".
// Player matches as a case-insensitive substring.
type Filter struct {
	LeagueID string
	StatType string
	Player   string
}

const projectionCols = `projection_id, league_id, league_name, player_id, player_name,
	team, stat_type, line_score, start_time, status, fetched_at, updated_at, raw`

// UpsertProjections writes a batch atomically. For each projection it
// updates updated_at only when a scalar field changed, always refreshes
// fetched_at, and appends a history snapshot on change. Returns how many
// rows were inserted or changed.
func (d *DB) UpsertProjections(ps []domain.Projection) (int, error) {
	if len(ps) == 0 {
		return 0, nil
	}

	tx, err := d.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin upsert: %w", err)
	}
	defer tx.Rollback()

	changed := 0
	for _, p := range ps {
		var (
			curLine                                         float64
			curStart, curFetched                            int64
			curLeague, curName, curTeam, curStat, curStatus string
		)
		err := tx.QueryRow(
			`SELECT league_name, player_name, team, stat_type, line_score, start_time, status, fetched_at
			 FROM projections WHERE projection_id = ?`, p.ProjectionID,
		).Scan(&curLeague, &curName, &curTeam, &curStat, &curLine, &curStart, &curStatus, &curFetched)

		switch {
		case err == sql.ErrNoRows:
			_, err = tx.Exec(
				`INSERT INTO projections (`+projectionCols+`)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				p.ProjectionID, p.LeagueID, p.LeagueName, p.PlayerID, p.PlayerName,
				p.Team, p.StatType, p.LineScore, p.StartTime.Unix(), string(p.Status),
				p.FetchedAt.Unix(), p.FetchedAt.Unix(), []byte(p.Raw),
			)
			if err != nil {
				return 0, fmt.Errorf("insert %s: %w", p.ProjectionID, err)
			}
			if err := appendHistory(tx, p); err != nil {
				return 0, err
			}
			changed++

		case err != nil:
			return 0, fmt.Errorf("lookup %s: %w", p.ProjectionID, err)

		default:
			// Upserts are resolved in fetched_at order: an older snapshot
			// never overwrites a newer row.
			if p.FetchedAt.Unix() < curFetched {
				continue
			}
			fieldsChanged := curLeague != p.LeagueName || curName != p.PlayerName ||
				curTeam != p.Team || curStat != p.StatType || curLine != p.LineScore ||
				curStart != p.StartTime.Unix() || curStatus != string(p.Status)

			if fieldsChanged {
				_, err = tx.Exec(
					`UPDATE projections SET league_id=?, league_name=?, player_id=?, player_name=?,
						team=?, stat_type=?, line_score=?, start_time=?, status=?,
						fetched_at=?, updated_at=?, raw=?
					 WHERE projection_id=?`,
					p.LeagueID, p.LeagueName, p.PlayerID, p.PlayerName,
					p.Team, p.StatType, p.LineScore, p.StartTime.Unix(), string(p.Status),
					p.FetchedAt.Unix(), p.FetchedAt.Unix(), []byte(p.Raw), p.ProjectionID,
				)
				if err != nil {
					return 0, fmt.Errorf("update %s: %w", p.ProjectionID, err)
				}
				if err := appendHistory(tx, p); err != nil {
					return 0, err
				}
				changed++
			} else {
				_, err = tx.Exec(
					`UPDATE projections SET fetched_at=? WHERE projection_id=?`,
					p.FetchedAt.Unix(), p.ProjectionID,
				)
				if err != nil {
					return 0, fmt.Errorf("touch %s: %w", p.ProjectionID, err)
				}
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit upsert: %w", err)
	}
	return changed, nil
}

func appendHistory(tx *sql.Tx, p domain.Projection) error {
	_, err := tx.Exec(
		`INSERT INTO projection_history (projection_id, snapshot_at, raw) VALUES (?, ?, ?)`,
		p.ProjectionID, p.FetchedAt.Unix(), []byte(p.Raw),
	)
	if err != nil {
		return fmt.Errorf("history %s: %w", p.ProjectionID, err)
	}
	return nil
}

// GetBettable returns projections with status pre_game or in_progress and
// start_time >= now - grace, ordered by start_time then projection_id.
// The start-time boundary is inclusive. limit <= 0 returns an empty slice.
func (d *DB) GetBettable(now time.Time, limit int, f Filter) ([]domain.Projection, error) {
	if limit <= 0 {
		return []domain.Projection{}, nil
	}

	q := `SELECT ` + projectionCols + ` FROM projections
		WHERE status IN (?, ?) AND start_time >= ?`
	args := []any{
		string(domain.StatusPreGame), string(domain.StatusInProgress),
		now.Add(-domain.BettableGrace).Unix(),
	}

	if f.LeagueID != "" {
		q += ` AND league_id = ?`
		args = append(args, f.LeagueID)
	}
	if f.StatType != "" {
		q += ` AND LOWER(stat_type) = ?`
		args = append(args, domain.NormalizeStatType(f.StatType))
	}
	if f.Player != "" {
		q += ` AND LOWER(player_name) LIKE ?`
		args = append(args, "%"+strings.ToLower(f.Player)+"%")
	}

	q += ` ORDER BY start_time ASC, projection_id ASC LIMIT ?`
	args = append(args, limit)

	rows, err := d.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("query bettable: %w", err)
	}
	defer rows.Close()

	return scanProjections(rows)
}

// GetByID returns a single projection, or nil when absent.
func (d *DB) GetByID(projectionID string) (*domain.Projection, error) {
	row := d.db.QueryRow(
		`SELECT `+projectionCols+` FROM projections WHERE projection_id = ?`, projectionID,
	)
	p, err := scanProjection(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", projectionID, err)
	}
	return p, nil
}

// CountByStatus returns row counts keyed by status.
func (d *DB) CountByStatus() (map[domain.Status]int, error) {
	rows, err := d.db.Query(`SELECT status, COUNT(*) FROM projections GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.Status]int)
	for rows.Next() {
		var s string
		var n int
		if err := rows.Scan(&s, &n); err != nil {
			return nil, err
		}
		counts[domain.Status(s)] = n
	}
	return counts, rows.Err()
}

// CountByLeague returns current-view row counts keyed by league_id.
func (d *DB) CountByLeague() (map[string]int, error) {
	rows, err := d.db.Query(`SELECT league_id, COUNT(*) FROM projections GROUP BY league_id`)
	if err != nil {
		return nil, fmt.Errorf("count by league: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var id string
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		counts[id] = n
	}
	return counts, rows.Err()
}

// Stats summarizes the store for /health and the store-stats command.
func (d *DB) Stats(now time.Time) (domain.StoreStats, error) {
	var s domain.StoreStats
	var oldest, newest sql.NullInt64

	err := d.db.QueryRow(
		`SELECT COUNT(*), MIN(fetched_at), MAX(fetched_at) FROM projections`,
	).Scan(&s.Total, &oldest, &newest)
	if err != nil {
		return s, fmt.Errorf("stats: %w", err)
	}
	if oldest.Valid {
		s.OldestFetchedAt = time.Unix(oldest.Int64, 0).UTC()
	}
	if newest.Valid {
		s.NewestFetchedAt = time.Unix(newest.Int64, 0).UTC()
	}

	err = d.db.QueryRow(
		`SELECT COUNT(*) FROM projections WHERE fetched_at >= ?`,
		now.Add(-24*time.Hour).Unix(),
	).Scan(&s.Last24h)
	if err != nil {
		return s, fmt.Errorf("stats last24h: %w", err)
	}

	if err := d.db.QueryRow(`SELECT COUNT(*) FROM projection_history`).Scan(&s.HistoryRows); err != nil {
		return s, fmt.Errorf("stats history: %w", err)
	}
	return s, nil
}

// ArchiveOlderThan moves projections whose start_time passed before cutoff
// into history and deletes them from the current view. Returns rows moved.
func (d *DB) ArchiveOlderThan(cutoff time.Time) (int, error) {
	tx, err := d.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin archive: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		`INSERT INTO projection_history (projection_id, snapshot_at, raw)
		 SELECT projection_id, fetched_at, raw FROM projections WHERE start_time < ?`,
		cutoff.Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("archive copy: %w", err)
	}
	n, _ := res.RowsAffected()

	if _, err := tx.Exec(`DELETE FROM projections WHERE start_time < ?`, cutoff.Unix()); err != nil {
		return 0, fmt.Errorf("archive delete: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit archive: %w", err)
	}
	return int(n), nil
}

// ─── Leagues ────────────────────────────────────────────────────────────────

// UpsertLeagues refreshes the league lookup table.
func (d *DB) UpsertLeagues(ls []domain.League) error {
	tx, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("begin leagues: %w", err)
	}
	defer tx.Rollback()

	for _, l := range ls {
		_, err := tx.Exec(
			`INSERT INTO leagues (league_id, league_name, active) VALUES (?, ?, ?)
			 ON CONFLICT(league_id) DO UPDATE SET league_name=excluded.league_name, active=excluded.active`,
			l.LeagueID, l.LeagueName, l.Active,
		)
		if err != nil {
			return fmt.Errorf("upsert league %s: %w", l.LeagueID, err)
		}
	}
	return tx.Commit()
}

// ActiveLeagues returns active leagues ordered by league_id for a
// deterministic ingestion walk.
func (d *DB) ActiveLeagues() ([]domain.League, error) {
	rows, err := d.db.Query(
		`SELECT league_id, league_name, active FROM leagues WHERE active = 1 ORDER BY league_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("active leagues: %w", err)
	}
	defer rows.Close()

	var out []domain.League
	for rows.Next() {
		var l domain.League
		if err := rows.Scan(&l.LeagueID, &l.LeagueName, &l.Active); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// LeagueName resolves a league_id to its display name, or "" if unknown.
func (d *DB) LeagueName(leagueID string) string {
	var name string
	_ = d.db.QueryRow(`SELECT league_name FROM leagues WHERE league_id = ?`, leagueID).Scan(&name)
	return name
}

// ─── Scan helpers ───────────────────────────────────────────────────────────

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanProjection(s scanner) (*domain.Projection, error) {
	var p domain.Projection
	var status string
	var start, fetched, updated int64
	var raw []byte

	err := s.Scan(&p.ProjectionID, &p.LeagueID, &p.LeagueName, &p.PlayerID, &p.PlayerName,
		&p.Team, &p.StatType, &p.LineScore, &start, &status, &fetched, &updated, &raw)
	if err != nil {
		return nil, err
	}

	p.Status = domain.Status(status)
	p.Source = domain.SourceStoreOnly
	p.StartTime = time.Unix(start, 0).UTC()
	p.FetchedAt = time.Unix(fetched, 0).UTC()
	p.UpdatedAt = time.Unix(updated, 0).UTC()
	p.Raw = raw
	return &p, nil
}

func scanProjections(rows *sql.Rows) ([]domain.Projection, error) {
	out := []domain.Projection{}
	for rows.Next() {
		p, err := scanProjection(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}
