package migrations

import "embed"

// PostgresFS embeds the trade journal schema.
//
//go:embed postgres/*.sql
var PostgresFS embed.FS

// ClickhouseFS embeds the event analytics schema.
//
//go:embed clickhouse/*.sql
var ClickhouseFS embed.FS
