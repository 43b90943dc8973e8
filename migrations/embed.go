// Package migrations holds the run journal schema as goose SQL files.
package migrations

import "embed"

// FS contains every migration file, applied in version order.
//
//go:embed *.sql
var FS embed.FS
