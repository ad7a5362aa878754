// Package migrations embeds the schema and stored procedures applied by
// database.RunMigrations at startup.
package migrations

import "embed"

//go:embed *.up.sql
var FS embed.FS
