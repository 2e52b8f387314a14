package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dropDatabas3/keyregistry/internal/config"
	"github.com/dropDatabas3/keyregistry/internal/domain/repository"
	"github.com/dropDatabas3/keyregistry/internal/observability/logger"
)

// Config es lo que necesita Open. Ver FromConfig para armarla desde config.yaml.
type Config struct {
	Adapter  AdapterConfig
	Cache    bool
	CacheTTL time.Duration
}

// FromConfig traduce la config de la app a la del store.
func FromConfig(c *config.Config) Config {
	return Config{
		Adapter: AdapterConfig{
			Name:            strings.ToLower(c.Storage.Driver),
			DSN:             c.Storage.DSN,
			SchemaPrefix:    c.Storage.SchemaPrefix,
			MigrationsDir:   c.Storage.MigrationsDir,
			MaxOpenConns:    c.Storage.Postgres.MaxOpenConns,
			MaxIdleConns:    c.Storage.Postgres.MaxIdleConns,
			ConnMaxLifetime: c.ConnMaxLifetime(),
			RedisAddr:       c.Storage.Redis.Addr,
			RedisPassword:   c.Storage.Redis.Password,
			RedisDB:         c.Storage.Redis.DB,
			RedisPrefix:     c.Storage.Redis.Prefix,
		},
		Cache:    c.Cache.Enabled,
		CacheTTL: c.CacheTTL(),
	}
}

// Keyspaces abre keyspaces por tenant sobre una conexión, con cache opcional.
type Keyspaces struct {
	conn  AdapterConnection
	cache *SignatureCache // nil = sin cache
}

// Open conecta el adapter configurado. El adapter tiene que estar registrado
// (blank import de internal/store/adapters/...).
func Open(ctx context.Context, cfg Config) (*Keyspaces, error) {
	conn, err := OpenAdapter(ctx, cfg.Adapter)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", cfg.Adapter.Name, err)
	}
	ks := &Keyspaces{conn: conn}
	if cfg.Cache {
		ks.cache = NewSignatureCache(cfg.CacheTTL)
	}
	logger.L().Info("signature store ready",
		logger.Driver(conn.Name()), logger.Bool("cache", cfg.Cache))
	return ks, nil
}

// NewKeyspaces arma Keyspaces sobre una conexión existente (tests, wiring manual).
func NewKeyspaces(conn AdapterConnection, cache *SignatureCache) *Keyspaces {
	return &Keyspaces{conn: conn, cache: cache}
}

// ForTenant devuelve el keyspace del tenant, decorado con el cache si está habilitado.
func (k *Keyspaces) ForTenant(ctx context.Context, tenant string) (repository.TenantKeyspace, error) {
	ks, err := k.conn.ForTenant(ctx, tenant)
	if err != nil {
		return nil, err
	}
	if k.cache != nil {
		return k.cache.Wrap(ks), nil
	}
	return ks, nil
}

func (k *Keyspaces) Driver() string { return k.conn.Name() }

func (k *Keyspaces) Ping(ctx context.Context) error { return k.conn.Ping(ctx) }

func (k *Keyspaces) Close() error { return k.conn.Close() }
