// Package redis implementa el adapter Redis: cada keyspace es un hash
// (key timestamp -> entry JSON) más una key marker de provisioning.
package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	rdb "github.com/redis/go-redis/v9"

	"github.com/dropDatabas3/keyregistry/internal/domain/repository"
	store "github.com/dropDatabas3/keyregistry/internal/store"
)

const (
	driverName    = "redis"
	defaultPrefix = "keyregistry:"
	pingTimeout   = 5 * time.Second
)

func init() {
	store.RegisterAdapter(&redisAdapter{})
}

type redisAdapter struct{}

func (a *redisAdapter) Name() string { return driverName }

func (a *redisAdapter) Connect(ctx context.Context, cfg store.AdapterConfig) (store.AdapterConnection, error) {
	addr := cfg.RedisAddr
	if addr == "" {
		return nil, fmt.Errorf("redis: addr required: %w", repository.ErrInvalidInput)
	}
	if !strings.Contains(addr, ":") {
		addr += ":6379"
	}
	client := rdb.NewClient(&rdb.Options{
		Addr:     addr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	pctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := client.Ping(pctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: ping failed: %w", err)
	}
	return NewConnection(client, cfg.RedisPrefix), nil
}

// Connection envuelve un cliente Redis compartido por todos los tenants.
type Connection struct {
	client rdb.UniversalClient
	prefix string
}

// NewConnection usa un cliente ya creado (tests con miniredis, clientes cluster).
func NewConnection(client rdb.UniversalClient, prefix string) *Connection {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Connection{client: client, prefix: prefix}
}

func (c *Connection) Name() string { return driverName }

func (c *Connection) Ping(ctx context.Context) error { return c.client.Ping(ctx).Err() }

func (c *Connection) Close() error { return c.client.Close() }

func (c *Connection) ForTenant(ctx context.Context, tenant string) (repository.TenantKeyspace, error) {
	slug, err := store.NormalizeTenant(tenant)
	if err != nil {
		return nil, err
	}
	// {slug} es hash tag: marker y entries caen en el mismo slot (scripts en cluster).
	base := fmt.Sprintf("%ssig:{%s}:", c.prefix, slug)
	return &Keyspace{
		client:  c.client,
		tenant:  slug,
		marker:  base + "provisioned",
		entries: base + "entries",
	}, nil
}
