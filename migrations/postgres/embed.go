// Package migrations embeds SQL migration files.
package migrations

import "embed"

// TenantFS contains the per-tenant keyspace migrations. Each file is applied
// with {{schema}} replaced by the quoted tenant schema.
//
//go:embed tenant/*.sql
var TenantFS embed.FS

// TenantDir is the directory within TenantFS where migrations live.
const TenantDir = "tenant"
