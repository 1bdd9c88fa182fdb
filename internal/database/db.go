// Package database provides the connection pool, schema migrations and the
// conversation repository (Store).
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib" //revive:disable:blank-imports
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" //revive:disable:blank-imports

	"github.com/Ant-Pavel/systech-aidd/internal/config"
	apperrors "github.com/Ant-Pavel/systech-aidd/internal/errors"
	"github.com/Ant-Pavel/systech-aidd/migrations"
)

var (
	// ErrPoolNotInitialized is returned by operations on a pool that was
	// never initialized.
	ErrPoolNotInitialized = errors.New("connection pool is not initialized")
	// ErrPoolClosed is returned by operations on a pool after Close.
	ErrPoolClosed = errors.New("connection pool is closed")
)

// Dialect identifies the SQL flavour behind a pool.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

const (
	connMaxLifetime = 30 * time.Minute
	connectDelay    = 500 * time.Millisecond
)

// Pool owns the database handle. It is created with NewPool, becomes usable
// after Init and refuses work once Close was called.
type Pool struct {
	cfg    config.DatabaseConfig
	logger *slog.Logger

	mu       sync.RWMutex
	db       *sqlx.DB
	dialect  Dialect
	closed   bool
	inflight sync.WaitGroup
	opCtx    context.Context
	opCancel context.CancelFunc
}

// NewPool returns an uninitialized pool for the given settings.
func NewPool(cfg config.DatabaseConfig, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		cfg:    cfg,
		logger: logger.With("component", "db_pool"),
	}
}

// Init connects, verifies the connection and applies migrations. Calling it
// again on an initialized pool is a no-op.
func (p *Pool) Init(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return apperrors.NewConfigError("cannot initialize pool", ErrPoolClosed)
	}
	if p.db != nil {
		return nil
	}

	driverName, dsn, dialect := ParseURL(p.cfg.URL)
	db, err := sqlx.Open(driverName, dsn)
	if err != nil {
		return apperrors.NewConfigError("failed to open database", err)
	}

	if dialect == DialectSQLite {
		// SQLite doesn't support concurrent writes, so max open conns = 1
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		db.SetMaxOpenConns(p.cfg.MaxConns)
		db.SetMaxIdleConns(p.cfg.MinConns)
	}
	db.SetConnMaxLifetime(connMaxLifetime)

	err = retry.Do(
		func() error {
			pingCtx, cancel := context.WithTimeout(ctx, p.cfg.CommandTimeout)
			defer cancel()
			return db.PingContext(pingCtx)
		},
		retry.Context(ctx),
		retry.Attempts(p.cfg.ConnectAttempts),
		retry.Delay(connectDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			p.logger.WarnContext(ctx, "Database ping failed, retrying", "attempt", n+1, "max_attempts", p.cfg.ConnectAttempts, "error", err)
		}),
	)
	if err != nil {
		closeQuietly(p.logger, db.DB)
		return apperrors.NewConnectivityError("failed to connect to database", err)
	}

	if err := ApplyMigrations(driverName, dsn, dialect); err != nil {
		closeQuietly(p.logger, db.DB)
		return apperrors.NewConfigError("failed to apply migrations", err)
	}

	p.db = db
	p.dialect = dialect
	p.opCtx, p.opCancel = context.WithCancel(context.Background())

	p.logger.InfoContext(ctx, "Database connected and migrations applied successfully",
		"dialect", dialect, "database", ExtractDBNameFromPath(p.cfg.URL),
		"max_conns", p.cfg.MaxConns, "min_conns", p.cfg.MinConns)
	return nil
}

// WithConn runs fn on an exclusively owned connection bounded by the command
// timeout. The connection is released on every exit path.
func (p *Pool) WithConn(ctx context.Context, fn func(ctx context.Context, conn *sqlx.Conn) error) error {
	return p.WithConnTimeout(ctx, p.cfg.CommandTimeout, fn)
}

// WithConnTimeout is WithConn with an explicit bound. A timeout of zero or
// less leaves only the caller's deadline in effect, for long statements
// such as VACUUM.
func (p *Pool) WithConnTimeout(ctx context.Context, timeout time.Duration, fn func(ctx context.Context, conn *sqlx.Conn) error) error {
	p.mu.RLock()
	switch {
	case p.closed:
		p.mu.RUnlock()
		return apperrors.NewConfigError("pool unavailable", ErrPoolClosed)
	case p.db == nil:
		p.mu.RUnlock()
		return apperrors.NewConfigError("pool unavailable", ErrPoolNotInitialized)
	}
	p.inflight.Add(1)
	db, opCtx := p.db, p.opCtx
	p.mu.RUnlock()
	defer p.inflight.Done()

	var cancel context.CancelFunc
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()
	stop := context.AfterFunc(opCtx, cancel)
	defer stop()

	conn, err := db.Connx(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return fmt.Errorf("failed to acquire connection: %w", err)
		}
		return apperrors.NewConnectivityError("failed to acquire connection", err)
	}
	defer func() {
		if closeErr := conn.Close(); closeErr != nil && !errors.Is(closeErr, sql.ErrConnDone) {
			p.logger.WarnContext(ctx, "Error releasing connection", "error", closeErr)
		}
	}()

	return fn(ctx, conn)
}

// Dialect reports the SQL flavour of an initialized pool.
func (p *Pool) Dialect() Dialect {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.dialect
}

// Stats returns the database/sql pool statistics.
func (p *Pool) Stats() sql.DBStats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.db == nil {
		return sql.DBStats{}
	}
	return p.db.Stats()
}

// Close stops new acquisitions and waits for in-flight operations. If ctx
// expires first the remaining operations are cancelled before the handle is
// closed.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	db, cancelOps := p.db, p.opCancel
	p.mu.Unlock()

	if db == nil {
		return nil
	}

	done := make(chan struct{})
	go func() {
		p.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		p.logger.WarnContext(ctx, "Close deadline reached, cancelling in-flight operations")
		cancelOps()
		<-done
	}
	cancelOps()

	if err := db.Close(); err != nil {
		p.logger.Error("Error closing database connection", "error", err)
		return fmt.Errorf("failed to close database: %w", err)
	}
	p.logger.Info("Database connection closed successfully.")
	return nil
}

// ParseURL picks the driver for a configured database URL. postgres:// and
// postgresql:// (including the legacy postgresql+asyncpg:// form) select pgx;
// anything else is treated as a SQLite path.
func ParseURL(raw string) (driverName, dsn string, dialect Dialect) {
	raw = strings.TrimSpace(raw)
	raw = strings.Replace(raw, "postgresql+asyncpg://", "postgresql://", 1)

	if strings.HasPrefix(raw, "postgres://") || strings.HasPrefix(raw, "postgresql://") {
		return "pgx", raw, DialectPostgres
	}

	path := strings.TrimPrefix(raw, "sqlite://")
	path = strings.TrimPrefix(path, "sqlite:")
	if !strings.Contains(path, "?") {
		path += "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_time_format=sqlite"
	}
	return "sqlite", path, DialectSQLite
}

// ApplyMigrations runs the embedded migrations for dialect on a dedicated
// handle so the migration driver never holds connections of the main pool.
func ApplyMigrations(driverName, dsn string, dialect Dialect) error {
	mdb, err := sql.Open(driverName, dsn)
	if err != nil {
		return fmt.Errorf("failed to open migration connection: %w", err)
	}
	defer closeQuietly(slog.Default(), mdb)

	sourceDriver, err := iofs.New(migrations.FS, string(dialect))
	if err != nil {
		return fmt.Errorf("failed to create embed source driver instance: %w", err)
	}

	var dbDriver database.Driver
	switch dialect {
	case DialectPostgres:
		dbDriver, err = migratepgx.WithInstance(mdb, &migratepgx.Config{})
	default:
		dbDriver, err = migratesqlite.WithInstance(mdb, &migratesqlite.Config{})
	}
	if err != nil {
		return fmt.Errorf("failed to create %s migration driver: %w", dialect, err)
	}

	migrator, err := migrate.NewWithInstance("iofs", sourceDriver, string(dialect), dbDriver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	defer func() {
		if srcErr, dbErr := migrator.Close(); srcErr != nil || dbErr != nil {
			slog.Debug("Migration driver close reported errors", "source_error", srcErr, "database_error", dbErr)
		}
	}()

	if err := migrator.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			slog.Info("No database migrations to apply.", "dialect", dialect)
			return nil
		}
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	slog.Info("Database migrations applied successfully.", "dialect", dialect)
	return nil
}

// ExtractDBNameFromPath returns a loggable name for a database URL: the
// database name for postgres DSNs (credentials never included) or the file
// path for SQLite.
func ExtractDBNameFromPath(raw string) string {
	_, dsn, dialect := ParseURL(raw)
	if dialect == DialectPostgres {
		u, err := url.Parse(dsn)
		if err != nil {
			return "postgres"
		}
		return u.Host + u.Path
	}

	path := strings.TrimPrefix(dsn, "file:")
	if idx := strings.Index(path, "?"); idx != -1 {
		path = path[:idx]
	}
	if decoded, err := url.PathUnescape(path); err == nil {
		return decoded
	}
	return path
}

func closeQuietly(logger *slog.Logger, db *sql.DB) {
	if err := db.Close(); err != nil {
		logger.Error("Error closing database handle", "error", err)
	}
}
