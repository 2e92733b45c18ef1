// Package db owns the relay schema: embedded SQL migrations and the
// golang-migrate runner that applies them.
package db

import "embed"

// MigrationFS embeds the SQL migrations. Tables are unqualified; the
// connection's search_path selects the schema.
//
//go:embed migrations/*.sql
var MigrationFS embed.FS
