package database

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"

	"github.com/Ant-Pavel/systech-aidd/internal/config"
	apperrors "github.com/Ant-Pavel/systech-aidd/internal/errors"
	"github.com/Ant-Pavel/systech-aidd/internal/logger"
	"github.com/Ant-Pavel/systech-aidd/migrations"
)

func testDBConfig(t *testing.T) config.DatabaseConfig {
	t.Helper()
	return config.DatabaseConfig{
		URL:                filepath.Join(t.TempDir(), "test.db"),
		MinConns:           1,
		MaxConns:           2,
		CommandTimeout:     5 * time.Second,
		ConnectAttempts:    1,
		MaxHistoryMessages: 10,
	}
}

// newTestPool returns an initialized SQLite pool closed at test cleanup.
func newTestPool(t *testing.T) *Pool {
	t.Helper()
	pool := NewPool(testDBConfig(t), logger.Discard())
	if err := pool.Init(context.Background()); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	t.Cleanup(func() {
		if err := pool.Close(context.Background()); err != nil {
			t.Errorf("Close() error = %v", err)
		}
	})
	return pool
}

func TestParseURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		raw         string
		wantDriver  string
		wantDSN     string
		wantDialect Dialect
	}{
		{
			name:        "postgres",
			raw:         "postgres://u:p@db:5432/app",
			wantDriver:  "pgx",
			wantDSN:     "postgres://u:p@db:5432/app",
			wantDialect: DialectPostgres,
		},
		{
			name:        "postgresql",
			raw:         "postgresql://u:p@db/app?sslmode=disable",
			wantDriver:  "pgx",
			wantDSN:     "postgresql://u:p@db/app?sslmode=disable",
			wantDialect: DialectPostgres,
		},
		{
			name:        "asyncpg url is normalized",
			raw:         "postgresql+asyncpg://u:p@db/app",
			wantDriver:  "pgx",
			wantDSN:     "postgresql://u:p@db/app",
			wantDialect: DialectPostgres,
		},
		{
			name:        "sqlite path gets pragmas",
			raw:         "data/storage.db",
			wantDriver:  "sqlite",
			wantDSN:     "data/storage.db?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_time_format=sqlite",
			wantDialect: DialectSQLite,
		},
		{
			name:        "sqlite url with explicit params",
			raw:         "sqlite://file:test.db?mode=memory",
			wantDriver:  "sqlite",
			wantDSN:     "file:test.db?mode=memory",
			wantDialect: DialectSQLite,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			driverName, dsn, dialect := ParseURL(tt.raw)
			if driverName != tt.wantDriver || dsn != tt.wantDSN || dialect != tt.wantDialect {
				t.Errorf("ParseURL(%q) = (%q, %q, %q), want (%q, %q, %q)",
					tt.raw, driverName, dsn, dialect, tt.wantDriver, tt.wantDSN, tt.wantDialect)
			}
		})
	}
}

func TestExtractDBNameFromPath(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"storage.db":                         "storage.db",
		"file:my%20db.sqlite?cache=shared":   "my db.sqlite",
		"postgres://user:secret@db:5432/app": "db:5432/app",
	}
	for in, want := range tests {
		if got := ExtractDBNameFromPath(in); got != want {
			t.Errorf("ExtractDBNameFromPath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestPoolNotInitialized(t *testing.T) {
	t.Parallel()

	pool := NewPool(testDBConfig(t), logger.Discard())
	err := pool.WithConn(context.Background(), func(context.Context, *sqlx.Conn) error {
		t.Fatal("callback must not run on an uninitialized pool")
		return nil
	})
	if !errors.Is(err, ErrPoolNotInitialized) {
		t.Fatalf("WithConn() error = %v, want ErrPoolNotInitialized", err)
	}
	if apperrors.Code(err) != apperrors.CodeConfig {
		t.Errorf("error code = %q, want %q", apperrors.Code(err), apperrors.CodeConfig)
	}

	store := NewStore(pool, logger.Discard())
	if _, err := store.ReadWindow(context.Background(), 1, 1, 10); !errors.Is(err, ErrPoolNotInitialized) {
		t.Errorf("ReadWindow() on uninitialized pool error = %v", err)
	}
}

func TestPoolInitIsIdempotent(t *testing.T) {
	t.Parallel()

	pool := newTestPool(t)
	if err := pool.Init(context.Background()); err != nil {
		t.Fatalf("second Init() error = %v", err)
	}
	if pool.Dialect() != DialectSQLite {
		t.Errorf("Dialect() = %q, want %q", pool.Dialect(), DialectSQLite)
	}
}

func TestPoolClosedRejectsWork(t *testing.T) {
	t.Parallel()

	pool := NewPool(testDBConfig(t), logger.Discard())
	if err := pool.Init(context.Background()); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if err := pool.Close(context.Background()); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := pool.Close(context.Background()); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}

	err := pool.WithConn(context.Background(), func(context.Context, *sqlx.Conn) error { return nil })
	if !errors.Is(err, ErrPoolClosed) {
		t.Errorf("WithConn() after Close error = %v, want ErrPoolClosed", err)
	}
	if err := pool.Init(context.Background()); !errors.Is(err, ErrPoolClosed) {
		t.Errorf("Init() after Close error = %v, want ErrPoolClosed", err)
	}
}

func TestPoolReleasesConnectionOnPanic(t *testing.T) {
	t.Parallel()

	pool := newTestPool(t)

	func() {
		defer func() {
			if recover() == nil {
				t.Fatal("expected panic to propagate")
			}
		}()
		_ = pool.WithConn(context.Background(), func(context.Context, *sqlx.Conn) error {
			panic("boom")
		})
	}()

	// SQLite pools hold a single connection, so this blocks until the command
	// timeout if the panicking call leaked it.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := pool.WithConn(ctx, func(ctx context.Context, conn *sqlx.Conn) error {
		return conn.PingContext(ctx)
	})
	if err != nil {
		t.Fatalf("WithConn() after panic error = %v", err)
	}
}

func TestPoolCloseWaitsForInflight(t *testing.T) {
	t.Parallel()

	pool := NewPool(testDBConfig(t), logger.Discard())
	if err := pool.Init(context.Background()); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	started := make(chan struct{})
	release := make(chan struct{})
	var finished atomic.Bool
	go func() {
		_ = pool.WithConn(context.Background(), func(context.Context, *sqlx.Conn) error {
			close(started)
			<-release
			finished.Store(true)
			return nil
		})
	}()
	<-started

	closed := make(chan error, 1)
	go func() { closed <- pool.Close(context.Background()) }()

	select {
	case <-closed:
		t.Fatal("Close() returned while an operation was in flight")
	case <-time.After(100 * time.Millisecond):
	}

	close(release)
	if err := <-closed; err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !finished.Load() {
		t.Error("in-flight operation did not finish before Close returned")
	}
}

func TestPoolCloseCancelsAfterDeadline(t *testing.T) {
	t.Parallel()

	pool := NewPool(testDBConfig(t), logger.Discard())
	if err := pool.Init(context.Background()); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	started := make(chan struct{})
	opErr := make(chan error, 1)
	go func() {
		opErr <- pool.WithConn(context.Background(), func(ctx context.Context, _ *sqlx.Conn) error {
			close(started)
			<-ctx.Done()
			return ctx.Err()
		})
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := pool.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := <-opErr; !errors.Is(err, context.Canceled) {
		t.Errorf("in-flight operation error = %v, want context.Canceled", err)
	}
}

func TestWithConnTimeout(t *testing.T) {
	t.Parallel()

	cfg := testDBConfig(t)
	cfg.CommandTimeout = time.Minute
	pool := NewPool(cfg, logger.Discard())
	if err := pool.Init(context.Background()); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	t.Cleanup(func() { _ = pool.Close(context.Background()) })

	callerCtx, cancel := context.WithTimeout(context.Background(), time.Hour)
	defer cancel()
	callerDeadline, _ := callerCtx.Deadline()

	tests := []struct {
		name    string
		run     func(fn func(context.Context, *sqlx.Conn) error) error
		want    time.Duration
		unbound bool
	}{
		{
			name: "command timeout",
			run:  func(fn func(context.Context, *sqlx.Conn) error) error { return pool.WithConn(callerCtx, fn) },
			want: time.Minute,
		},
		{
			name: "explicit timeout",
			run: func(fn func(context.Context, *sqlx.Conn) error) error {
				return pool.WithConnTimeout(callerCtx, 2*time.Minute, fn)
			},
			want: 2 * time.Minute,
		},
		{
			name: "caller deadline only",
			run: func(fn func(context.Context, *sqlx.Conn) error) error {
				return pool.WithConnTimeout(callerCtx, 0, fn)
			},
			want: time.Hour,
		},
		{
			name: "no deadline",
			run: func(fn func(context.Context, *sqlx.Conn) error) error {
				return pool.WithConnTimeout(context.Background(), 0, fn)
			},
			unbound: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.run(func(ctx context.Context, _ *sqlx.Conn) error {
				deadline, ok := ctx.Deadline()
				if tt.unbound {
					if ok {
						t.Errorf("deadline = %v, want none", deadline)
					}
					return nil
				}
				if !ok {
					t.Fatal("no deadline set")
				}
				if left := time.Until(deadline); left > tt.want || left < tt.want-10*time.Second {
					t.Errorf("deadline in %v, want about %v", left, tt.want)
				}
				if tt.want == time.Hour && !deadline.Equal(callerDeadline) {
					t.Errorf("deadline = %v, want caller's %v", deadline, callerDeadline)
				}
				return nil
			})
			if err != nil {
				t.Fatalf("run error = %v", err)
			}
		})
	}
}

func TestMigrationBackfillsSource(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "legacy.db")
	driverName, dsn, dialect := ParseURL(path)

	// Build a database at the first schema version and write a row the way
	// the pre-source schema did.
	legacy, err := sql.Open(driverName, dsn)
	if err != nil {
		t.Fatalf("sql.Open() error = %v", err)
	}
	src, err := iofs.New(migrations.FS, string(dialect))
	if err != nil {
		t.Fatalf("iofs.New() error = %v", err)
	}
	drv, err := migratesqlite.WithInstance(legacy, &migratesqlite.Config{})
	if err != nil {
		t.Fatalf("WithInstance() error = %v", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, string(dialect), drv)
	if err != nil {
		t.Fatalf("NewWithInstance() error = %v", err)
	}
	if err := m.Steps(1); err != nil {
		t.Fatalf("Steps(1) error = %v", err)
	}
	_, err = legacy.Exec(`INSERT INTO messages (user_id, chat_id, role, content, message_length) VALUES (7, 8, 'user', 'legacy', 6)`)
	if err != nil {
		t.Fatalf("insert legacy row: %v", err)
	}
	if srcErr, dbErr := m.Close(); srcErr != nil || dbErr != nil {
		t.Fatalf("Close() errors: %v, %v", srcErr, dbErr)
	}

	if err := ApplyMigrations(driverName, dsn, dialect); err != nil {
		t.Fatalf("ApplyMigrations() error = %v", err)
	}

	cfg := testDBConfig(t)
	cfg.URL = path
	pool := NewPool(cfg, logger.Discard())
	if err := pool.Init(context.Background()); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	t.Cleanup(func() { _ = pool.Close(context.Background()) })

	window, err := NewStore(pool, logger.Discard()).ReadWindow(context.Background(), 7, 8, 10)
	if err != nil {
		t.Fatalf("ReadWindow() error = %v", err)
	}
	if len(window) != 1 {
		t.Fatalf("ReadWindow() = %d messages, want the legacy row", len(window))
	}
	if window[0].Source != SourceTelegram || window[0].Content != "legacy" {
		t.Errorf("legacy row = %+v, want source %q", window[0], SourceTelegram)
	}
}
