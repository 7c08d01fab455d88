package db

import (
	"context"
	"fmt"
	"time"

	"github.com/Hardy0611/shooting-arena/internal/game"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// MatchStore archives finished matches into the matches and match_standings tables.
type MatchStore struct {
	pool *pgxpool.Pool
}

func NewMatchStore(pool *pgxpool.Pool) *MatchStore {
	return &MatchStore{pool: pool}
}

func (s *MatchStore) SaveMatch(ctx context.Context, r game.MatchResult) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO matches (id, started_at, ended_at, winner) VALUES ($1, $2, $3, NULLIF($4, ''))
			 ON CONFLICT (id) DO NOTHING`,
			r.ID, r.StartedAt, r.EndedAt, r.Winner())
		if err != nil {
			return fmt.Errorf("insert match: %w", err)
		}
		if len(r.Ranking) == 0 {
			return nil
		}

		batch := &pgx.Batch{}
		for i, st := range r.Ranking {
			batch.Queue(
				`INSERT INTO match_standings (match_id, rank, username, dead_at) VALUES ($1, $2, $3, $4)
				 ON CONFLICT DO NOTHING`,
				r.ID, i+1, st.Username, deadAt(st))
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert standings: %w", err)
		}
		return nil
	})
}

// Standing is one archived ranking row.
type Standing struct {
	MatchID  string     `json:"matchId"`
	Rank     int        `json:"rank"`
	Username string     `json:"username"`
	DeadAt   *time.Time `json:"deadAt,omitempty"`
}

// RecentStandings returns the standings of username's latest matches, newest first.
func (s *MatchStore) RecentStandings(ctx context.Context, username string, limit int) ([]Standing, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT ms.match_id::text, ms.rank, ms.username, ms.dead_at
		   FROM match_standings ms JOIN matches m ON m.id = ms.match_id
		  WHERE ms.username = $1
		  ORDER BY m.ended_at DESC
		  LIMIT $2`, username, limit)
	if err != nil {
		return nil, fmt.Errorf("query standings: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Standing, error) {
		var st Standing
		err := row.Scan(&st.MatchID, &st.Rank, &st.Username, &st.DeadAt)
		return st, err
	})
}

func deadAt(s game.Session) *time.Time {
	if s.IsDead == nil {
		return nil
	}
	t := time.UnixMilli(*s.IsDead).UTC()
	return &t
}
