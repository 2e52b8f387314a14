package tenantsql

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/singleflight"

	"github.com/dropDatabas3/keyregistry/internal/observability/logger"
	migrations "github.com/dropDatabas3/keyregistry/migrations/postgres"
)

var (
	ErrNoDBForTenant         = errors.New("no database configured for tenant")
	ErrResolverNotConfigured = errors.New("tenant resolver not configured")
)

// maxIdentifierLen es NAMEDATALEN-1 de PostgreSQL; nombres más largos se truncan.
const maxIdentifierLen = 63

// TenantConnection representa dónde vive el keyspace de un tenant.
type TenantConnection struct {
	DSN    string
	Schema string
}

// TenantResolver resuelve la configuración de conexión para un tenant.
type TenantResolver func(ctx context.Context, slug string) (*TenantConnection, error)

// StaticResolver: todos los tenants en la misma DB, un schema por tenant (prefix + slug).
// Sin prefix se usa "ks_".
func StaticResolver(dsn, schemaPrefix string) TenantResolver {
	if schemaPrefix == "" {
		schemaPrefix = "ks_"
	}
	return func(ctx context.Context, slug string) (*TenantConnection, error) {
		if strings.TrimSpace(dsn) == "" {
			return nil, ErrNoDBForTenant
		}
		// el schema va quoteado (pgx.Identifier), así que el slug se usa tal cual
		schema := schemaPrefix + slug
		if len(schema) > maxIdentifierLen {
			return nil, fmt.Errorf("tenant schema %q exceeds %d bytes", schema, maxIdentifierLen)
		}
		return &TenantConnection{DSN: dsn, Schema: schema}, nil
	}
}

// PoolConfig define parámetros del pool.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// MigrationMetricsFunc callback para reportar métricas de migraciones
type MigrationMetricsFunc func(tenant, result string, duration time.Duration)

// Config permite personalizar la instancia del Manager.
type Config struct {
	Resolve       TenantResolver
	Pool          PoolConfig
	MigrationsDir string               // vacío = migraciones embebidas
	MetricsFunc   MigrationMetricsFunc // Opcional: callback para métricas
}

// PoolStat es un snapshot del estado de un pool específico.
type PoolStat struct {
	DSNHash  string
	Acquired int32
	Idle     int32
	Total    int32
}

// Manager administra pools pgx (uno por DSN, compartido entre los tenants que viven
// en esa DB) y aplica las migraciones de keyspace por tenant.
// Evita creaciones de pool en paralelo mediante singleflight.
type Manager struct {
	resolver    TenantResolver
	poolCfg     PoolConfig
	migrations  fs.FS
	migDir      string
	metricsFunc MigrationMetricsFunc

	mu    sync.RWMutex
	pools map[string]*pgxpool.Pool
	sf    singleflight.Group
}

// New crea un nuevo Manager con la configuración indicada.
func New(cfg Config) (*Manager, error) {
	if cfg.Resolve == nil {
		return nil, ErrResolverNotConfigured
	}

	poolCfg := cfg.Pool
	if poolCfg.MaxOpenConns <= 0 {
		poolCfg.MaxOpenConns = 15
	}
	if poolCfg.MaxIdleConns <= 0 {
		poolCfg.MaxIdleConns = 3
	}
	if poolCfg.ConnMaxLifetime <= 0 {
		poolCfg.ConnMaxLifetime = 30 * time.Minute
	}

	var migFS fs.FS = migrations.TenantFS
	migDir := migrations.TenantDir
	if dir := strings.TrimSpace(cfg.MigrationsDir); dir != "" {
		migFS = os.DirFS(dir)
		migDir = "."
	}

	return &Manager{
		resolver:    cfg.Resolve,
		poolCfg:     poolCfg,
		migrations:  migFS,
		migDir:      migDir,
		metricsFunc: cfg.MetricsFunc,
		pools:       make(map[string]*pgxpool.Pool),
	}, nil
}

// Resolve devuelve (o crea) el pool donde vive el keyspace del tenant, junto con su conexión resuelta.
func (m *Manager) Resolve(ctx context.Context, slug string) (*pgxpool.Pool, *TenantConnection, error) {
	conn, err := m.resolver(ctx, slug)
	if err != nil {
		return nil, nil, err
	}
	if conn == nil || strings.TrimSpace(conn.DSN) == "" || strings.TrimSpace(conn.Schema) == "" {
		return nil, nil, ErrNoDBForTenant
	}

	m.mu.RLock()
	pool, ok := m.pools[conn.DSN]
	m.mu.RUnlock()
	if ok {
		return pool, conn, nil
	}

	result, err, _ := m.sf.Do(conn.DSN, func() (interface{}, error) {
		m.mu.RLock()
		p, ok := m.pools[conn.DSN]
		m.mu.RUnlock()
		if ok {
			return p, nil
		}
		p, err := m.openPool(ctx, conn.DSN)
		if err != nil {
			return nil, err
		}
		m.mu.Lock()
		m.pools[conn.DSN] = p
		m.mu.Unlock()
		return p, nil
	})
	if err != nil {
		return nil, nil, err
	}
	return result.(*pgxpool.Pool), conn, nil
}

func (m *Manager) openPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pcfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("pg: parse DSN: %w", err)
	}
	pcfg.MaxConns = int32(m.poolCfg.MaxOpenConns)
	pcfg.MinConns = int32(m.poolCfg.MaxIdleConns)
	pcfg.MaxConnLifetime = m.poolCfg.ConnMaxLifetime

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("pg: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pg: ping failed: %w", err)
	}
	logger.L().Info("tenant_pg_pool_ready", logger.Component("tenantsql"), logger.Count(m.poolCfg.MaxOpenConns))
	return pool, nil
}

// Migrate aplica las migraciones del keyspace del tenant y reporta métricas.
func (m *Manager) Migrate(ctx context.Context, pool *pgxpool.Pool, slug string, conn *TenantConnection) (int, error) {
	start := time.Now()
	applied, err := RunMigrationsWithLock(ctx, pool, m.migrations, m.migDir, slug, conn.Schema)
	d := time.Since(start)

	result := "applied"
	switch {
	case err != nil:
		result = "failed"
	case applied == 0:
		result = "skipped"
	}
	if m.metricsFunc != nil {
		m.metricsFunc(slug, result, d)
	}
	if err != nil {
		return applied, err
	}
	logger.L().Info("tenant_migrations_applied",
		logger.TenantID(slug), logger.Schema(conn.Schema), logger.Count(applied), logger.Duration(d))
	return applied, nil
}

// PoolCount retorna el número de pools activos.
func (m *Manager) PoolCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.pools)
}

// Stats devuelve un snapshot con los stats actuales de cada pool.
func (m *Manager) Stats() []PoolStat {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]PoolStat, 0, len(m.pools))
	for dsn, pool := range m.pools {
		st := pool.Stat()
		out = append(out, PoolStat{
			DSNHash:  fmt.Sprintf("%x", tenantLockID(dsn)),
			Acquired: st.AcquiredConns(),
			Idle:     st.IdleConns(),
			Total:    st.TotalConns(),
		})
	}
	return out
}

// Ping verifica todos los pools abiertos.
func (m *Manager) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, pool := range m.pools {
		if err := pool.Ping(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Close cierra todos los pools activos.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for dsn, pool := range m.pools {
		pool.Close()
		delete(m.pools, dsn)
	}
	return nil
}
