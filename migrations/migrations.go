// Package migrations embeds the Postgres schema. No seed data ships with
// it; the first administrator comes from PRICETRAIL_BOOTSTRAP_ADMIN_EMAIL.
package migrations

import "embed"

// FS holds sql/*.up.sql and sql/*.down.sql.
//
//go:embed sql/*.sql
var FS embed.FS
