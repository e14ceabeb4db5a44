// Package migrations holds the SQLite schema of the grading store.
package migrations

import "embed"

// FS embeds all SQL migration files, applied in file name order.
//
//go:embed *.sql
var FS embed.FS
