// Package memory implementa el adapter en memoria: keyspaces por tenant en maps.
// Útil para desarrollo y testing; no persiste entre reinicios.
package memory

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/dropDatabas3/keyregistry/internal/domain/repository"
	store "github.com/dropDatabas3/keyregistry/internal/store"
)

const driverName = "memory"

func init() {
	store.RegisterAdapter(&memoryAdapter{})
}

type memoryAdapter struct{}

func (a *memoryAdapter) Name() string { return driverName }

func (a *memoryAdapter) Connect(ctx context.Context, cfg store.AdapterConfig) (store.AdapterConnection, error) {
	return NewBackend(), nil
}

// Backend contiene los keyspaces de todos los tenants.
type Backend struct {
	mu        sync.RWMutex
	keyspaces map[string]map[string]repository.SignatureEntity // tenant -> key timestamp -> row
}

// NewBackend crea un backend vacío (ningún tenant provisionado).
func NewBackend() *Backend {
	return &Backend{keyspaces: make(map[string]map[string]repository.SignatureEntity)}
}

func (b *Backend) Name() string                   { return driverName }
func (b *Backend) Ping(ctx context.Context) error { return nil }

func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.keyspaces = make(map[string]map[string]repository.SignatureEntity)
	return nil
}

// ForTenant devuelve el keyspace del tenant (exista o no todavía).
func (b *Backend) ForTenant(ctx context.Context, tenant string) (repository.TenantKeyspace, error) {
	slug, err := store.NormalizeTenant(tenant)
	if err != nil {
		return nil, err
	}
	return &Keyspace{b: b, tenant: slug}, nil
}

// Keyspace es la vista de un tenant sobre el Backend.
type Keyspace struct {
	b      *Backend
	tenant string
}

func (k *Keyspace) Tenant() string { return k.tenant }

func (k *Keyspace) notProvisioned(op repository.StoreOp) error {
	return &repository.StoreError{Op: op, Driver: driverName, Tenant: k.tenant, Err: repository.ErrKeyspaceNotProvisioned}
}

func (k *Keyspace) Provision(ctx context.Context) error {
	k.b.mu.Lock()
	defer k.b.mu.Unlock()
	if _, ok := k.b.keyspaces[k.tenant]; !ok {
		k.b.keyspaces[k.tenant] = make(map[string]repository.SignatureEntity)
	}
	return nil
}

func (k *Keyspace) IsProvisioned(ctx context.Context) (bool, error) {
	k.b.mu.RLock()
	defer k.b.mu.RUnlock()
	_, ok := k.b.keyspaces[k.tenant]
	return ok, nil
}

func (k *Keyspace) Add(ctx context.Context, km repository.KeyMaterial) (*repository.SignatureEntity, error) {
	return store.AddEntity(ctx, driverName, k.tenant, km, func(ctx context.Context, e *repository.SignatureEntity) error {
		k.b.mu.Lock()
		defer k.b.mu.Unlock()
		ks, ok := k.b.keyspaces[k.tenant]
		if !ok {
			return k.notProvisioned(repository.OpWrite)
		}
		if _, dup := ks[e.KeyTimestamp]; dup {
			return fmt.Errorf("key timestamp %s: %w", e.KeyTimestamp, repository.ErrConflict)
		}
		// nunca se guarda la privada
		ks[e.KeyTimestamp] = repository.SignatureEntity{
			KeyTimestamp: e.KeyTimestamp,
			PublicKeyMod: new(big.Int).Set(e.PublicKeyMod),
			PublicKeyExp: new(big.Int).Set(e.PublicKeyExp),
			CreatedAt:    e.CreatedAt,
		}
		return nil
	})
}

func (k *Keyspace) Get(ctx context.Context, keyTimestamp string) (*repository.SignatureEntity, bool, error) {
	k.b.mu.RLock()
	defer k.b.mu.RUnlock()
	ks, ok := k.b.keyspaces[k.tenant]
	if !ok {
		return nil, false, k.notProvisioned(repository.OpRead)
	}
	e, ok := ks[keyTimestamp]
	if !ok {
		return nil, false, nil
	}
	// copia: el caller no puede mutar lo guardado
	e.PublicKeyMod = new(big.Int).Set(e.PublicKeyMod)
	e.PublicKeyExp = new(big.Int).Set(e.PublicKeyExp)
	return &e, true, nil
}

func (k *Keyspace) ListKeyTimestamps(ctx context.Context) ([]string, error) {
	k.b.mu.RLock()
	defer k.b.mu.RUnlock()
	ks, ok := k.b.keyspaces[k.tenant]
	if !ok {
		return nil, k.notProvisioned(repository.OpRead)
	}
	out := make([]string, 0, len(ks))
	for ts := range ks {
		out = append(out, ts)
	}
	return out, nil
}

func (k *Keyspace) Invalidate(ctx context.Context, keyTimestamp string) error {
	k.b.mu.Lock()
	defer k.b.mu.Unlock()
	ks, ok := k.b.keyspaces[k.tenant]
	if !ok {
		return k.notProvisioned(repository.OpWrite)
	}
	delete(ks, keyTimestamp)
	return nil
}
