// Package migrations carries the SQL schema applied by golang-migrate.
package migrations

import "embed"

// FS holds the versioned up/down scripts.
//
//go:embed *.sql
var FS embed.FS
