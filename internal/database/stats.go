package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
)

// Activity aggregates active messages over a time range.
type Activity struct {
	Messages      int64 `db:"messages"`
	Conversations int64 `db:"conversations"`
}

// StatsStore answers the dashboard queries. Soft-deleted messages are never
// counted; both channels are.
type StatsStore interface {
	// Activity counts messages and distinct (user, chat) pairs created in
	// [from, to). A zero to leaves the range open.
	Activity(ctx context.Context, from, to time.Time) (Activity, error)

	// DailyMessageCounts returns message counts keyed by UTC day (YYYY-MM-DD)
	// for messages created at or after from.
	DailyMessageCounts(ctx context.Context, from time.Time) (map[string]int64, error)
}

type sqlxStatsStore struct {
	pool   *Pool
	logger *slog.Logger
}

// NewStatsStore creates a StatsStore backed by the given pool.
func NewStatsStore(pool *Pool, logger *slog.Logger) StatsStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &sqlxStatsStore{
		pool:   pool,
		logger: logger.With("component", "stats_store"),
	}
}

func (s *sqlxStatsStore) Activity(ctx context.Context, from, to time.Time) (Activity, error) {
	query := `
        SELECT
            (SELECT COUNT(*) FROM messages
             WHERE deleted_at IS NULL AND created_at >= ? %[1]s) AS messages,
            (SELECT COUNT(*) FROM (
                SELECT DISTINCT user_id, chat_id FROM messages
                WHERE deleted_at IS NULL AND created_at >= ? %[1]s
            ) AS pairs) AS conversations;
    `
	args := []any{from.UTC()}
	upper := ""
	if !to.IsZero() {
		upper = "AND created_at < ?"
		args = append(args, to.UTC())
	}
	args = append(args, args...)
	query = fmt.Sprintf(query, upper)

	var activity Activity
	err := s.pool.WithConn(ctx, func(ctx context.Context, conn *sqlx.Conn) error {
		return conn.GetContext(ctx, &activity, conn.Rebind(query), args...)
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "Error collecting activity", "from", from, "to", to, "error", err)
		return Activity{}, storeError("collect activity", err)
	}
	return activity, nil
}

func (s *sqlxStatsStore) DailyMessageCounts(ctx context.Context, from time.Time) (map[string]int64, error) {
	day := "substr(created_at, 1, 10)"
	if s.pool.Dialect() == DialectPostgres {
		day = "to_char(created_at, 'YYYY-MM-DD')"
	}
	query := fmt.Sprintf(`
        SELECT %[1]s AS day, COUNT(*) AS messages
        FROM messages
        WHERE deleted_at IS NULL AND created_at >= ?
        GROUP BY %[1]s
        ORDER BY day ASC;
    `, day)

	var rows []struct {
		Day      string `db:"day"`
		Messages int64  `db:"messages"`
	}
	err := s.pool.WithConn(ctx, func(ctx context.Context, conn *sqlx.Conn) error {
		return conn.SelectContext(ctx, &rows, conn.Rebind(query), from.UTC())
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "Error collecting daily counts", "from", from, "error", err)
		return nil, storeError("collect daily message counts", err)
	}

	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.Day] = row.Messages
	}
	return counts, nil
}
