// Package migrations embeds SQL migration files for database schema management.
// Each dialect has its own directory so the schema can use native types.
package migrations

import "embed"

// FS holds the embedded SQL migration files.
//
//go:embed postgres/*.sql sqlite/*.sql
var FS embed.FS
