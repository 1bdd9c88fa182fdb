package database

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"slices"
	"time"
	"unicode/utf8"

	"github.com/jmoiron/sqlx"

	apperrors "github.com/Ant-Pavel/systech-aidd/internal/errors"
)

// Store defines the conversation repository.
// Methods accept context.Context for cancellation and timeouts.
type Store interface {
	// Ping checks the database connection.
	Ping(ctx context.Context) error

	// Append persists one message and returns it with its id and timestamp.
	Append(ctx context.Context, userID, chatID int64, role Role, content string, source Source) (*Message, error)

	// ReadWindow returns up to limit of the newest active messages of the
	// conversation, oldest first.
	ReadWindow(ctx context.Context, userID, chatID int64, limit int) ([]Message, error)

	// ClearHistory soft-deletes every active message of the conversation
	// and returns how many were affected.
	ClearHistory(ctx context.Context, userID, chatID int64) (int64, error)

	// RunSQLMaintenance performs database maintenance (VACUUM or ANALYZE).
	RunSQLMaintenance(ctx context.Context) error
}

// Clock supplies creation timestamps.
type Clock func() time.Time

// StoreOption customizes a Store.
type StoreOption func(*sqlxStore)

// WithClock makes the store bind created_at and deleted_at from clock
// instead of letting the database assign them. Tests use it to place rows
// on fixed dates.
func WithClock(clock Clock) StoreOption {
	return func(s *sqlxStore) {
		s.clock = clock
	}
}

// sqlxStore provides an implementation of the Store interface using sqlx.
type sqlxStore struct {
	pool   *Pool
	logger *slog.Logger
	clock  Clock
}

// NewStore creates a new Store backed by the given pool. Timestamps are
// assigned by the database server.
func NewStore(pool *Pool, logger *slog.Logger, opts ...StoreOption) Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &sqlxStore{
		pool:   pool,
		logger: logger.With("component", "store"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// timestamp returns the SQL expression for "now" and its bind arguments.
// Without a clock the server's time is used; SQLite keeps milliseconds.
func (s *sqlxStore) timestamp() (string, []any) {
	if s.clock != nil {
		return "?", []any{s.clock().UTC().Truncate(time.Microsecond)}
	}
	if s.pool.Dialect() == DialectPostgres {
		return "(now() AT TIME ZONE 'UTC')", nil
	}
	return "strftime('%Y-%m-%d %H:%M:%f', 'now')", nil
}

// Ping checks the database connection.
func (s *sqlxStore) Ping(ctx context.Context) error {
	return s.pool.WithConn(ctx, func(ctx context.Context, conn *sqlx.Conn) error {
		if err := conn.PingContext(ctx); err != nil {
			return storeError("ping database", err)
		}
		return nil
	})
}

// Append inserts one message in a single round trip. Store failures are
// returned to the caller without retry.
func (s *sqlxStore) Append(ctx context.Context, userID, chatID int64, role Role, content string, source Source) (*Message, error) {
	if !role.Valid() {
		return nil, apperrors.NewValidationError(fmt.Sprintf("unknown role %q", role), nil)
	}
	if !source.Valid() {
		return nil, apperrors.NewValidationError(fmt.Sprintf("unknown source %q", source), nil)
	}

	msg := &Message{
		UserID:        userID,
		ChatID:        chatID,
		Role:          role,
		Content:       content,
		MessageLength: utf8.RuneCountInString(content),
		Source:        source,
	}

	now, nowArgs := s.timestamp()
	query := fmt.Sprintf(`
        INSERT INTO messages (user_id, chat_id, role, content, message_length, source, created_at)
        VALUES (?, ?, ?, ?, ?, ?, %s)
        RETURNING id, created_at;
    `, now)
	args := append([]any{msg.UserID, msg.ChatID, string(msg.Role), msg.Content, msg.MessageLength, string(msg.Source)}, nowArgs...)

	err := s.pool.WithConn(ctx, func(ctx context.Context, conn *sqlx.Conn) error {
		return conn.QueryRowxContext(ctx, conn.Rebind(query), args...).Scan(&msg.ID, timeScanner{&msg.CreatedAt})
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "Error saving message",
			"user_id", userID, "chat_id", chatID, "role", role, "error", err)
		return nil, storeError(fmt.Sprintf("save message (user %d, chat %d)", userID, chatID), err)
	}

	s.logger.DebugContext(ctx, "Message saved successfully",
		"user_id", userID, "chat_id", chatID, "role", role, "message_id", msg.ID, "length", msg.MessageLength)
	return msg, nil
}

// ReadWindow fetches the newest active messages and returns them oldest
// first. Ties on created_at are broken by id.
func (s *sqlxStore) ReadWindow(ctx context.Context, userID, chatID int64, limit int) ([]Message, error) {
	if limit < 1 {
		return nil, apperrors.NewValidationError(fmt.Sprintf("history limit must be at least 1, got %d", limit), nil)
	}

	const query = `
        SELECT id, user_id, chat_id, role, content, message_length, created_at, deleted_at, source
        FROM messages
        WHERE user_id = ? AND chat_id = ? AND deleted_at IS NULL
        ORDER BY created_at DESC, id DESC
        LIMIT ?;
    `

	var messages []Message
	err := s.pool.WithConn(ctx, func(ctx context.Context, conn *sqlx.Conn) error {
		return conn.SelectContext(ctx, &messages, conn.Rebind(query), userID, chatID, limit)
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "Error reading history window",
			"user_id", userID, "chat_id", chatID, "limit", limit, "error", err)
		return nil, storeError(fmt.Sprintf("read history (user %d, chat %d)", userID, chatID), err)
	}

	slices.Reverse(messages)

	s.logger.DebugContext(ctx, "Fetched history window", "user_id", userID, "chat_id", chatID, "count", len(messages))
	return messages, nil
}

// ClearHistory marks every active message of the conversation as deleted in
// one statement. A message appended concurrently may land on either side of
// the clear.
func (s *sqlxStore) ClearHistory(ctx context.Context, userID, chatID int64) (int64, error) {
	now, nowArgs := s.timestamp()
	query := fmt.Sprintf(`
        UPDATE messages
        SET deleted_at = %s
        WHERE user_id = ? AND chat_id = ? AND deleted_at IS NULL;
    `, now)
	args := append(nowArgs, userID, chatID)

	var affected int64
	err := s.pool.WithConn(ctx, func(ctx context.Context, conn *sqlx.Conn) error {
		result, err := conn.ExecContext(ctx, conn.Rebind(query), args...)
		if err != nil {
			return err
		}
		affected, err = result.RowsAffected()
		return err
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "Error clearing history", "user_id", userID, "chat_id", chatID, "error", err)
		return 0, storeError(fmt.Sprintf("clear history (user %d, chat %d)", userID, chatID), err)
	}

	s.logger.InfoContext(ctx, "History cleared", "user_id", userID, "chat_id", chatID, "deleted", affected)
	return affected, nil
}

// RunSQLMaintenance compacts SQLite with VACUUM or refreshes planner
// statistics on Postgres. It is bounded by ctx only, not by the per-command
// timeout.
func (s *sqlxStore) RunSQLMaintenance(ctx context.Context) error {
	if ctx.Err() != nil {
		s.logger.WarnContext(ctx, "Context cancelled or timed out before starting maintenance", "error", ctx.Err())
		return ctx.Err()
	}

	statement := "VACUUM;"
	if s.pool.Dialect() == DialectPostgres {
		statement = "ANALYZE messages;"
	}

	s.logger.InfoContext(ctx, "Starting database maintenance", "statement", statement)
	err := s.pool.WithConnTimeout(ctx, 0, func(ctx context.Context, conn *sqlx.Conn) error {
		_, err := conn.ExecContext(ctx, statement)
		return err
	})

	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		s.logger.WarnContext(ctx, "Maintenance timed out or was cancelled", "error", err)
		return fmt.Errorf("database maintenance timed out: %w", err)
	case err != nil:
		s.logger.ErrorContext(ctx, "Database maintenance failed", "error", err)
		return storeError("run database maintenance", err)
	}

	stats := s.pool.Stats()
	s.logger.InfoContext(ctx, "Database maintenance completed",
		"open_connections", stats.OpenConnections, "in_use", stats.InUse, "wait_count", stats.WaitCount)
	return nil
}

// storeError wraps err for the caller. Errors that already carry a code pass
// through; failures to reach the store become ConnectivityErrors.
func storeError(op string, err error) error {
	if apperrors.Code(err) != apperrors.CodeUnknown {
		return err
	}
	var netErr net.Error
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, context.DeadlineExceeded) || errors.As(err, &netErr) {
		return apperrors.NewConnectivityError("failed to "+op, err)
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}
