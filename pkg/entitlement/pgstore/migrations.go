// Package pgstore persists entitlement records and processed webhook event
// keys in PostgreSQL. Every counter mutation is one conditional UPDATE.
package pgstore

import "embed"

// Migrations holds the goose migrations under MigrationsDir.
//
//go:embed migrations/*.sql
var Migrations embed.FS

const MigrationsDir = "migrations"
