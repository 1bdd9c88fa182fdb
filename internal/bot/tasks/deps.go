// Package tasks implements scheduled maintenance tasks and their registry.
package tasks

import (
	"database/sql"
	"log/slog"

	"github.com/Ant-Pavel/systech-aidd/internal/config"
	"github.com/Ant-Pavel/systech-aidd/internal/database"
)

// TaskDeps contains all dependencies required by scheduled tasks.
type TaskDeps struct {
	Logger *slog.Logger
	Store  database.Store
	Config *config.Config
	// PoolStats reports connection pool usage; optional.
	PoolStats func() sql.DBStats
}
