package redis

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	rdb "github.com/redis/go-redis/v9"

	"github.com/dropDatabas3/keyregistry/internal/domain/repository"
	store "github.com/dropDatabas3/keyregistry/internal/store"
)

const noKeyspace = "NOKEYSPACE"

// Todos los scripts chequean el marker (KEYS[1]) antes de tocar el hash (KEYS[2]),
// así un keyspace no provisionado nunca se crea implícitamente.
var (
	addScript = rdb.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return redis.error_reply('NOKEYSPACE')
end
return redis.call('HSETNX', KEYS[2], ARGV[1], ARGV[2])
`)

	getScript = rdb.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return redis.error_reply('NOKEYSPACE')
end
return redis.call('HGET', KEYS[2], ARGV[1])
`)

	listScript = rdb.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return redis.error_reply('NOKEYSPACE')
end
return redis.call('HKEYS', KEYS[2])
`)

	deleteScript = rdb.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return redis.error_reply('NOKEYSPACE')
end
return redis.call('HDEL', KEYS[2], ARGV[1])
`)
)

// entry es la representación persistida de un signature entry.
type entry struct {
	Mod       string    `json:"mod"` // base64url sin padding, big-endian
	Exp       string    `json:"exp"`
	CreatedAt time.Time `json:"created_at"`
}

// Keyspace implementa repository.TenantKeyspace sobre un hash Redis.
type Keyspace struct {
	client  rdb.UniversalClient
	tenant  string
	marker  string
	entries string
}

func (k *Keyspace) Tenant() string { return k.tenant }

func (k *Keyspace) keys() []string { return []string{k.marker, k.entries} }

// classify: solo el error reply NOKEYSPACE de los scripts pasa a
// ErrKeyspaceNotProvisioned; errores de red o de cliente quedan como están.
func classify(err error) error {
	var reply rdb.Error
	if errors.As(err, &reply) && strings.HasPrefix(reply.Error(), noKeyspace) {
		return fmt.Errorf("%w: %w", repository.ErrKeyspaceNotProvisioned, err)
	}
	return err
}

func (k *Keyspace) readErr(err error) error {
	return repository.ReadError(driverName, k.tenant, classify(err))
}

func (k *Keyspace) writeErr(err error) error {
	return repository.WriteError(driverName, k.tenant, classify(err))
}

// Provision crea el marker. Idempotente.
func (k *Keyspace) Provision(ctx context.Context) error {
	if err := k.client.SetNX(ctx, k.marker, time.Now().UTC().Format(time.RFC3339), 0).Err(); err != nil {
		return k.writeErr(err)
	}
	return nil
}

func (k *Keyspace) IsProvisioned(ctx context.Context) (bool, error) {
	n, err := k.client.Exists(ctx, k.marker).Result()
	if err != nil {
		return false, k.readErr(err)
	}
	return n > 0, nil
}

func (k *Keyspace) Add(ctx context.Context, km repository.KeyMaterial) (*repository.SignatureEntity, error) {
	return store.AddEntity(ctx, driverName, k.tenant, km, func(ctx context.Context, e *repository.SignatureEntity) error {
		raw, err := json.Marshal(entry{
			Mod:       base64.RawURLEncoding.EncodeToString(e.PublicKeyMod.Bytes()),
			Exp:       base64.RawURLEncoding.EncodeToString(e.PublicKeyExp.Bytes()),
			CreatedAt: e.CreatedAt,
		})
		if err != nil {
			return k.writeErr(err)
		}
		n, err := addScript.Run(ctx, k.client, k.keys(), e.KeyTimestamp, raw).Int64()
		if err != nil {
			return k.writeErr(err)
		}
		if n == 0 {
			return k.writeErr(fmt.Errorf("key timestamp %s: %w", e.KeyTimestamp, repository.ErrConflict))
		}
		return nil
	})
}

func (k *Keyspace) Get(ctx context.Context, keyTimestamp string) (*repository.SignatureEntity, bool, error) {
	raw, err := getScript.Run(ctx, k.client, k.keys(), keyTimestamp).Text()
	if errors.Is(err, rdb.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, k.readErr(err)
	}
	var en entry
	if err := json.Unmarshal([]byte(raw), &en); err != nil {
		return nil, false, k.readErr(fmt.Errorf("decode entry %s: %w", keyTimestamp, err))
	}
	mod, err := base64.RawURLEncoding.DecodeString(en.Mod)
	if err != nil {
		return nil, false, k.readErr(fmt.Errorf("decode modulus %s: %w", keyTimestamp, err))
	}
	exp, err := base64.RawURLEncoding.DecodeString(en.Exp)
	if err != nil {
		return nil, false, k.readErr(fmt.Errorf("decode exponent %s: %w", keyTimestamp, err))
	}
	return &repository.SignatureEntity{
		KeyTimestamp: keyTimestamp,
		PublicKeyMod: new(big.Int).SetBytes(mod),
		PublicKeyExp: new(big.Int).SetBytes(exp),
		CreatedAt:    en.CreatedAt.UTC(),
	}, true, nil
}

func (k *Keyspace) ListKeyTimestamps(ctx context.Context) ([]string, error) {
	out, err := listScript.Run(ctx, k.client, k.keys()).StringSlice()
	if err != nil {
		return nil, k.readErr(err)
	}
	if out == nil {
		out = []string{}
	}
	return out, nil
}

// Invalidate borra el entry; si no existe no es error.
func (k *Keyspace) Invalidate(ctx context.Context, keyTimestamp string) error {
	if err := deleteScript.Run(ctx, k.client, k.keys(), keyTimestamp).Err(); err != nil {
		return k.writeErr(err)
	}
	return nil
}
