// Package migrations embeds the numbered SQL files applied by
// `waitlist-server migrate up`.
package migrations

import "embed"

//go:embed *.sql
var Files embed.FS
