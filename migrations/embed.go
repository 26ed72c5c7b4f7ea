// Package migrations embeds the goose SQL migrations so the migrate binary ships without a migrations directory.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
