// Package db provides embedded database migration files.
package db

import "embed"

// Migrations holds the versioned up/down SQL migrations applied by
// golang-migrate.
//
//go:embed migrations/*.sql
var Migrations embed.FS
