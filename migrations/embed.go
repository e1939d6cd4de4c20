// Package migrations holds the Postgres schema for accounts and pending pre-calls.
package migrations

import "embed"

// FS contains the numbered *.up.sql and *.down.sql files
//
//go:embed *.sql
var FS embed.FS
