// Package migrations embeds the SQL migration files shared by every
// job-judge service that owns persistent state.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
