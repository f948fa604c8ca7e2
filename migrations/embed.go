// Package migrations embeds the SQL schema migrations into the binary so the
// service and accessctl can migrate a fresh database without files on disk.
package migrations

import "embed"

// FS holds every *.up.sql / *.down.sql file at its root.
//
//go:embed *.sql
var FS embed.FS
