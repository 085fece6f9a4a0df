package callhistory

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"socialgw/service/relay"
	"socialgw/tools/errs"
)

// Postgres 通话历史
// 表结构:
//   CREATE TABLE IF NOT EXISTS call_history (
//     id           BIGSERIAL PRIMARY KEY,
//     caller_id    TEXT NOT NULL,
//     receiver_id  TEXT NOT NULL,
//     call_type    TEXT NOT NULL,
//     status       TEXT NOT NULL,
//     duration_sec INT  NOT NULL DEFAULT 0,
//     ended_at     TIMESTAMPTZ NOT NULL
//   );

type Store struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, errs.WrapMsg(err, "create pg pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errs.WrapMsg(err, "ping pg")
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() { s.pool.Close() }

// Record 写入一条终态通话记录，实现 relay.CallHistory
func (s *Store) Record(ctx context.Context, rec *relay.CallRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO call_history (caller_id, receiver_id, call_type, status, duration_sec, ended_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.Caller, rec.Callee, rec.Kind, rec.Status,
		int(rec.Duration/time.Second), rec.EndedAt,
	)
	return errs.WrapMsg(err, "insert call record")
}

// Entry 查询返回的历史行
type Entry struct {
	ID       int64     `json:"id"`
	Caller   string    `json:"caller_id"`
	Callee   string    `json:"receiver_id"`
	Kind     string    `json:"call_type"`
	Status   string    `json:"status"`
	Duration int       `json:"duration_sec"`
	EndedAt  time.Time `json:"ended_at"`
}

// ListBetween 两个用户之间的通话记录，最新在前
func (s *Store) ListBetween(ctx context.Context, a, b string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, caller_id, receiver_id, call_type, status, duration_sec, ended_at
		 FROM call_history
		 WHERE (caller_id = $1 AND receiver_id = $2) OR (caller_id = $2 AND receiver_id = $1)
		 ORDER BY ended_at DESC LIMIT $3`,
		a, b, limit,
	)
	if err != nil {
		return nil, errs.WrapMsg(err, "query call history")
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Caller, &e.Callee, &e.Kind, &e.Status, &e.Duration, &e.EndedAt); err != nil {
			return nil, errs.WrapMsg(err, "scan call row")
		}
		out = append(out, e)
	}
	return out, errs.Wrap(rows.Err())
}
