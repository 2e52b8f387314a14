package tenantsql

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

// SchemaPlaceholder se reemplaza en cada migración por el schema del tenant (ya quoteado).
const SchemaPlaceholder = "{{schema}}"

// txBeginner es lo mínimo que necesitamos del pool para migrar.
type txBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// tenantLockID genera un ID único para pg_advisory_xact_lock basado en el tenant slug
func tenantLockID(slug string) int64 {
	h := sha256.Sum256([]byte("tenant_migration:" + slug))
	// Usar los primeros 8 bytes como int64
	return int64(binary.BigEndian.Uint64(h[:8]))
}

// LoadMigrations lee los *_up.sql de dir (ordenados lexicográficamente) y los
// renderiza para el schema dado.
func LoadMigrations(fsys fs.FS, dir, schema string) ([]string, error) {
	if strings.TrimSpace(schema) == "" {
		return nil, fmt.Errorf("migrations: empty schema")
	}
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.Type().IsRegular() && strings.HasSuffix(strings.ToLower(e.Name()), "_up.sql") {
			files = append(files, path.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)

	quoted := pgx.Identifier{schema}.Sanitize()
	out := make([]string, 0, len(files))
	for _, f := range files {
		b, err := fs.ReadFile(fsys, f)
		if err != nil {
			return nil, err
		}
		out = append(out, strings.ReplaceAll(string(b), SchemaPlaceholder, quoted))
	}
	return out, nil
}

// RunMigrationsWithLock ejecuta las migraciones del keyspace dentro de una transacción
// serializada por pg_advisory_xact_lock, así dos procesos provisionando el mismo tenant
// no se pisan. El lock se libera solo al commit/rollback. Devuelve cuántos scripts aplicó.
func RunMigrationsWithLock(ctx context.Context, db txBeginner, fsys fs.FS, dir, tenantSlug, schema string) (int, error) {
	scripts, err := LoadMigrations(fsys, dir, schema)
	if err != nil {
		return 0, err
	}
	if len(scripts) == 0 {
		return 0, nil
	}

	lockCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	tx, err := db.Begin(lockCtx)
	if err != nil {
		return 0, fmt.Errorf("begin migration tx for tenant %s: %w", tenantSlug, err)
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if _, err := tx.Exec(lockCtx, "SELECT pg_advisory_xact_lock($1)", tenantLockID(tenantSlug)); err != nil {
		return 0, fmt.Errorf("failed to acquire migration lock for tenant %s: %w", tenantSlug, err)
	}

	var applied int
	for i, sql := range scripts {
		if _, err := tx.Exec(lockCtx, sql); err != nil {
			return 0, fmt.Errorf("exec migration %d for tenant %s: %w", i+1, tenantSlug, err)
		}
		applied++
	}
	if err := tx.Commit(lockCtx); err != nil {
		return 0, fmt.Errorf("commit migrations for tenant %s: %w", tenantSlug, err)
	}
	return applied, nil
}
