package store

import (
	"context"
	"strconv"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/dropDatabas3/keyregistry/internal/domain/repository"
	"github.com/dropDatabas3/keyregistry/internal/metrics"
)

// DefaultCacheTTL se usa cuando la config no define cache.ttl.
const DefaultCacheTTL = 5 * time.Minute

// SignatureCache es un cache in-process de signature entries, compartido por todos
// los tenants de una conexión. Las entries son inmutables, así que solo hay que
// desalojar en Invalidate. Otros procesos no se enteran de un Invalidate local:
// el TTL acota esa ventana.
//
// gen cuenta invalidaciones por key: una carga que arrancó antes de un
// Invalidate no puede volver a poblar el cache con la entry borrada.
type SignatureCache struct {
	c  *gocache.Cache
	sf singleflight.Group

	mu  sync.Mutex
	gen map[string]uint64
}

// NewSignatureCache crea el cache; ttl <= 0 usa DefaultCacheTTL.
func NewSignatureCache(ttl time.Duration) *SignatureCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &SignatureCache{c: gocache.New(ttl, time.Minute), gen: make(map[string]uint64)}
}

func (sc *SignatureCache) generation(key string) uint64 {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.gen[key]
}

// storeIfCurrent cachea e solo si no hubo un Invalidate desde g.
func (sc *SignatureCache) storeIfCurrent(key string, g uint64, e repository.SignatureEntity) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.gen[key] == g {
		sc.c.SetDefault(key, e)
	}
}

func (sc *SignatureCache) evict(key string) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.gen[key]++
	sc.c.Delete(key)
}

func cacheKey(tenant, ts string) string { return tenant + "|" + ts }

// Wrap decora el keyspace de un tenant.
func (sc *SignatureCache) Wrap(inner repository.TenantKeyspace) repository.TenantKeyspace {
	return &cachedKeyspace{TenantKeyspace: inner, cache: sc}
}

// ItemCount expone el tamaño actual (tests y diagnóstico).
func (sc *SignatureCache) ItemCount() int { return sc.c.ItemCount() }

// Flush vacía el cache.
func (sc *SignatureCache) Flush() { sc.c.Flush() }

type cachedKeyspace struct {
	repository.TenantKeyspace
	cache *SignatureCache
}

// copia sin privada: lo que vive en el cache nunca la lleva
func publicCopy(e *repository.SignatureEntity) repository.SignatureEntity {
	sig := e.Signature()
	return repository.SignatureEntity{
		KeyTimestamp: e.KeyTimestamp,
		PublicKeyMod: sig.PublicKeyMod,
		PublicKeyExp: sig.PublicKeyExp,
		CreatedAt:    e.CreatedAt,
	}
}

func (k *cachedKeyspace) Add(ctx context.Context, km repository.KeyMaterial) (*repository.SignatureEntity, error) {
	e, err := k.TenantKeyspace.Add(ctx, km)
	if err != nil {
		return nil, err
	}
	k.cache.c.SetDefault(cacheKey(k.Tenant(), e.KeyTimestamp), publicCopy(e))
	return e, nil
}

type lookup struct {
	e     *repository.SignatureEntity
	found bool
}

// Get es read-through. Los misses no se cachean.
// Los misses concurrentes sobre la misma key comparten una lectura al store; la
// lectura no depende del ctx de ningún caller y cada uno espera con el suyo.
func (k *cachedKeyspace) Get(ctx context.Context, keyTimestamp string) (*repository.SignatureEntity, bool, error) {
	key := cacheKey(k.Tenant(), keyTimestamp)
	if v, ok := k.cache.c.Get(key); ok {
		metrics.SignatureCacheLookups.WithLabelValues("hit").Inc()
		cached := v.(repository.SignatureEntity)
		e := publicCopy(&cached)
		return &e, true, nil
	}
	metrics.SignatureCacheLookups.WithLabelValues("miss").Inc()

	// la generación va en la key del vuelo: después de un Invalidate nadie se
	// suma a una lectura previa al borrado
	g := k.cache.generation(key)
	loadCtx := context.WithoutCancel(ctx)
	ch := k.cache.sf.DoChan(key+"#"+strconv.FormatUint(g, 10), func() (any, error) {
		e, found, err := k.TenantKeyspace.Get(loadCtx, keyTimestamp)
		if err != nil || !found {
			return lookup{found: found}, err
		}
		k.cache.storeIfCurrent(key, g, publicCopy(e))
		return lookup{e: e, found: true}, nil
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case res = <-ch:
	}
	if res.Err != nil {
		return nil, false, res.Err
	}
	l := res.Val.(lookup)
	if !l.found {
		return nil, false, nil
	}
	// cada caller recibe su propia copia aunque compartan el vuelo
	e := publicCopy(l.e)
	return &e, true, nil
}

// Invalidate desaloja solo si el store confirmó el borrado.
func (k *cachedKeyspace) Invalidate(ctx context.Context, keyTimestamp string) error {
	if err := k.TenantKeyspace.Invalidate(ctx, keyTimestamp); err != nil {
		return err
	}
	k.cache.evict(cacheKey(k.Tenant(), keyTimestamp))
	return nil
}
