// Package migrations owns the PostgreSQL schema for the storage
// backend: credential_states, health_entries, usage_counters and
// config_docs. The migrate command applies it; the backend itself only
// verifies the tables exist.
package migrations

import "embed"

//go:embed sql
var sqlMigrations embed.FS
