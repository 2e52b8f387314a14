package memory

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/keyregistry/internal/domain/repository"
	store "github.com/dropDatabas3/keyregistry/internal/store"
)

func testKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	k, err := rsa.GenerateKey(rand.Reader, 1024)
	require.NoError(t, err)
	return k
}

func provisioned(t *testing.T, b *Backend, tenant string) repository.TenantKeyspace {
	t.Helper()
	ks, err := b.ForTenant(context.Background(), tenant)
	require.NoError(t, err)
	require.NoError(t, ks.Provision(context.Background()))
	return ks
}

func TestKeyspace_NotProvisioned(t *testing.T) {
	ctx := context.Background()
	ks, err := NewBackend().ForTenant(ctx, "acme")
	require.NoError(t, err)

	ok, err := ks.IsProvisioned(ctx)
	require.NoError(t, err)
	require.False(t, ok)

	_, _, err = ks.Get(ctx, "x")
	require.ErrorIs(t, err, repository.ErrKeyspaceNotProvisioned)
	require.ErrorIs(t, err, repository.ErrStoreRead)

	_, err = ks.ListKeyTimestamps(ctx)
	require.ErrorIs(t, err, repository.ErrKeyspaceNotProvisioned)

	priv := testKey(t)
	_, err = ks.Add(ctx, repository.KeyMaterial{PublicKey: &priv.PublicKey})
	require.ErrorIs(t, err, repository.ErrKeyspaceNotProvisioned)
	require.ErrorIs(t, err, repository.ErrStoreWrite)

	require.ErrorIs(t, ks.Invalidate(ctx, "x"), repository.ErrKeyspaceNotProvisioned)
}

func TestKeyspace_AddGetDoesNotLeakPrivateKey(t *testing.T) {
	ctx := context.Background()
	ks := provisioned(t, NewBackend(), "acme")
	priv := testKey(t)

	e, err := ks.Add(ctx, repository.KeyMaterial{PublicKey: &priv.PublicKey, PrivateKey: priv})
	require.NoError(t, err)
	require.Same(t, priv, e.PrivateKey)

	got, found, err := ks.Get(ctx, e.KeyTimestamp)
	require.NoError(t, err)
	require.True(t, found)
	require.Nil(t, got.PrivateKey)
	require.Equal(t, 0, got.PublicKeyMod.Cmp(priv.N))

	// mutar la copia no afecta lo guardado
	got.PublicKeyMod.SetInt64(1)
	again, _, err := ks.Get(ctx, e.KeyTimestamp)
	require.NoError(t, err)
	require.Equal(t, 0, again.PublicKeyMod.Cmp(priv.N))
}

func TestKeyspace_SuppliedTimestampConflict(t *testing.T) {
	ctx := context.Background()
	ks := provisioned(t, NewBackend(), "acme")
	priv := testKey(t)
	km := repository.KeyMaterial{KeyTimestamp: "2026-01-01T00_00_00_000", PublicKey: &priv.PublicKey}

	_, err := ks.Add(ctx, km)
	require.NoError(t, err)
	_, err = ks.Add(ctx, km)
	require.ErrorIs(t, err, repository.ErrConflict)
	require.ErrorIs(t, err, repository.ErrStoreWrite)
}

func TestKeyspace_InvalidateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	ks := provisioned(t, NewBackend(), "acme")
	priv := testKey(t)
	e, err := ks.Add(ctx, repository.KeyMaterial{PublicKey: &priv.PublicKey})
	require.NoError(t, err)

	require.NoError(t, ks.Invalidate(ctx, e.KeyTimestamp))
	require.NoError(t, ks.Invalidate(ctx, e.KeyTimestamp))
	require.NoError(t, ks.Invalidate(ctx, "never-existed"))

	list, err := ks.ListKeyTimestamps(ctx)
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestKeyspace_ConcurrentAddsGetDistinctTimestamps(t *testing.T) {
	ctx := context.Background()
	ks := provisioned(t, NewBackend(), "acme")
	priv := testKey(t)

	const n = 32
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ks.Add(ctx, repository.KeyMaterial{PublicKey: &priv.PublicKey})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	list, err := ks.ListKeyTimestamps(ctx)
	require.NoError(t, err)
	require.Len(t, list, n)
}

func TestBackend_TenantsAreIsolated(t *testing.T) {
	ctx := context.Background()
	b := NewBackend()
	a := provisioned(t, b, "a")
	other := provisioned(t, b, "b")

	priv := testKey(t)
	e, err := a.Add(ctx, repository.KeyMaterial{PublicKey: &priv.PublicKey})
	require.NoError(t, err)

	_, found, err := other.Get(ctx, e.KeyTimestamp)
	require.NoError(t, err)
	require.False(t, found)
}

func TestAdapter_Registered(t *testing.T) {
	conn, err := store.OpenAdapter(context.Background(), store.AdapterConfig{Name: driverName})
	require.NoError(t, err)
	require.Equal(t, driverName, conn.Name())
	require.NoError(t, conn.Ping(context.Background()))
	require.NoError(t, conn.Close())
}
