// Package pg implementa el adapter PostgreSQL: un schema por tenant (keyspace)
// con la tabla signatures y el marker keyspace_meta.
package pg

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/dropDatabas3/keyregistry/internal/domain/repository"
	"github.com/dropDatabas3/keyregistry/internal/infra/tenantsql"
	"github.com/dropDatabas3/keyregistry/internal/metrics"
	"github.com/dropDatabas3/keyregistry/internal/observability/logger"
	store "github.com/dropDatabas3/keyregistry/internal/store"
)

const driverName = "postgres"

func init() {
	store.RegisterAdapter(&postgresAdapter{})
}

// querier es el subconjunto de *pgxpool.Pool que usan los keyspaces.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// postgresAdapter implementa store.Adapter para PostgreSQL.
type postgresAdapter struct{}

func (a *postgresAdapter) Name() string { return driverName }

func (a *postgresAdapter) Connect(ctx context.Context, cfg store.AdapterConfig) (store.AdapterConnection, error) {
	mgr, err := tenantsql.New(tenantsql.Config{
		Resolve: tenantsql.StaticResolver(cfg.DSN, cfg.SchemaPrefix),
		Pool: tenantsql.PoolConfig{
			MaxOpenConns:    cfg.MaxOpenConns,
			MaxIdleConns:    cfg.MaxIdleConns,
			ConnMaxLifetime: cfg.ConnMaxLifetime,
		},
		MigrationsDir: cfg.MigrationsDir,
		MetricsFunc: func(tenant, result string, d time.Duration) {
			metrics.KeyspaceMigrations.WithLabelValues(result).Inc()
		},
	})
	if err != nil {
		return nil, err
	}
	return &pgConnection{mgr: mgr}, nil
}

// pgConnection representa los pools abiertos contra PostgreSQL.
type pgConnection struct {
	mgr *tenantsql.Manager
}

func (c *pgConnection) Name() string { return driverName }

func (c *pgConnection) Ping(ctx context.Context) error { return c.mgr.Ping(ctx) }

// Close deja en el log el estado de cada pool antes de cerrarlos.
func (c *pgConnection) Close() error {
	log := logger.L().With(logger.Driver(driverName))
	for _, st := range c.mgr.Stats() {
		log.Debug("pool stats",
			logger.String("dsn_hash", st.DSNHash),
			zap.Int32("acquired", st.Acquired),
			zap.Int32("idle", st.Idle),
			zap.Int32("total", st.Total))
	}
	log.Info("closing signature store", logger.Count(c.mgr.PoolCount()))
	return c.mgr.Close()
}

func (c *pgConnection) ForTenant(ctx context.Context, tenant string) (repository.TenantKeyspace, error) {
	slug, err := store.NormalizeTenant(tenant)
	if err != nil {
		return nil, err
	}
	pool, conn, err := c.mgr.Resolve(ctx, slug)
	if err != nil {
		return nil, repository.ReadError(driverName, slug, err)
	}
	ks := NewKeyspace(pool, slug, conn.Schema)
	ks.provision = func(ctx context.Context) error {
		_, err := c.mgr.Migrate(ctx, pool, slug, conn)
		return err
	}
	return ks, nil
}
