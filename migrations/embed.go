// Package migrations carries the numbered SQL files applied by
// "vaxtrack-server migrate up".
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
