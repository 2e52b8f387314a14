package registry

import (
	"context"
	"crypto/rsa"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dropDatabas3/keyregistry/internal/domain/repository"
	jwtx "github.com/dropDatabas3/keyregistry/internal/jwt"
	"github.com/dropDatabas3/keyregistry/internal/metrics"
	"github.com/dropDatabas3/keyregistry/internal/observability/logger"
)

const component = "signature.registry"

// Nombres de operación para logs y métricas.
const (
	opCreate         = "create"
	opGet            = "get"
	opGetApplication = "get_application"
	opGetIdentityMgr = "get_identity_manager"
	opList           = "list"
	opDelete         = "delete"
	opProbe          = "probe"
	opRotate         = "rotate"
	opJWKS           = "jwks"
)

// Registry expone las operaciones sobre los signature sets de un tenant.
// Es seguro para uso concurrente si el store lo es.
type Registry struct {
	store    repository.SignatureRepository
	probe    repository.ProvisioningProbe
	generate jwtx.KeyPairGenerator
	tenant   string
}

// Option configura un Registry.
type Option func(*Registry)

// WithKeyGenerator reemplaza el generador de pares (default RSA 2048).
func WithKeyGenerator(g jwtx.KeyPairGenerator) Option {
	return func(r *Registry) {
		if g != nil {
			r.generate = g
		}
	}
}

// WithTenant fija el tenant que aparece en logs.
func WithTenant(tenant string) Option {
	return func(r *Registry) { r.tenant = tenant }
}

// New arma el registry sobre un store y un probe del mismo tenant.
func New(store repository.SignatureRepository, probe repository.ProvisioningProbe, opts ...Option) *Registry {
	r := &Registry{
		store:    store,
		probe:    probe,
		generate: jwtx.RSAGenerator(jwtx.DefaultRSABits),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// ForKeyspace es New con el keyspace haciendo de store y de probe.
func ForKeyspace(ks repository.TenantKeyspace, opts ...Option) *Registry {
	return New(ks, ks, append([]Option{WithTenant(ks.Tenant())}, opts...)...)
}

func (r *Registry) log(ctx context.Context, op string) *zap.Logger {
	return logger.From(ctx).With(
		logger.Component(component),
		logger.Op(op),
		logger.TenantID(r.tenant),
	)
}

// toSet arma la presentación pública: ambos roles con el mismo módulo/exponente.
func toSet(e *repository.SignatureEntity) *repository.ApplicationSignatureSet {
	return &repository.ApplicationSignatureSet{
		Timestamp:                e.KeyTimestamp,
		ApplicationSignature:     e.Signature(),
		IdentityManagerSignature: e.Signature(),
	}
}

// CreateSignatureSet genera un par nuevo, lo persiste y devuelve el set público
// junto con la privada. Es la única vez que la privada sale del registry.
func (r *Registry) CreateSignatureSet(ctx context.Context) (*repository.ApplicationSignatureSet, *rsa.PrivateKey, error) {
	started := time.Now()
	set, priv, err := r.create(ctx, opCreate)
	if err != nil {
		metrics.Observe(opCreate, metrics.ResultError, started)
		return nil, nil, err
	}
	metrics.Observe(opCreate, metrics.ResultOK, started)
	return set, priv, nil
}

func (r *Registry) create(ctx context.Context, op string) (*repository.ApplicationSignatureSet, *rsa.PrivateKey, error) {
	log := r.log(ctx, op)

	kp, err := r.generate()
	if err != nil {
		log.Error("failed to generate key pair", logger.Err(err))
		return nil, nil, fmt.Errorf("generate key pair: %w", err)
	}
	e, err := r.store.Add(ctx, kp.Material())
	if err != nil {
		log.Error("failed to store signature set", logger.Err(err))
		return nil, nil, err
	}
	priv := e.PrivateKey
	if priv == nil {
		priv = kp.Private
	}
	log.Info("signature set created", logger.KeyTimestamp(e.KeyTimestamp))
	return toSet(e), priv, nil
}

// GetSignatureSet busca un set. found=false no es error.
func (r *Registry) GetSignatureSet(ctx context.Context, keyTimestamp string) (*repository.ApplicationSignatureSet, bool, error) {
	e, found, err := r.lookup(ctx, opGet, keyTimestamp)
	if err != nil || !found {
		return nil, found, err
	}
	return toSet(e), true, nil
}

// GetApplicationSignature devuelve la signature del rol application.
func (r *Registry) GetApplicationSignature(ctx context.Context, keyTimestamp string) (*repository.Signature, bool, error) {
	e, found, err := r.lookup(ctx, opGetApplication, keyTimestamp)
	if err != nil || !found {
		return nil, found, err
	}
	sig := toSet(e).ApplicationSignature
	return &sig, true, nil
}

// GetIdentityManagerSignature devuelve la signature del rol identity manager.
func (r *Registry) GetIdentityManagerSignature(ctx context.Context, keyTimestamp string) (*repository.Signature, bool, error) {
	e, found, err := r.lookup(ctx, opGetIdentityMgr, keyTimestamp)
	if err != nil || !found {
		return nil, found, err
	}
	sig := toSet(e).IdentityManagerSignature
	return &sig, true, nil
}

func (r *Registry) lookup(ctx context.Context, op, keyTimestamp string) (*repository.SignatureEntity, bool, error) {
	started := time.Now()
	log := r.log(ctx, op).With(logger.KeyTimestamp(keyTimestamp))

	e, found, err := r.store.Get(ctx, keyTimestamp)
	switch {
	case err != nil:
		metrics.Observe(op, metrics.ResultError, started)
		log.Error("signature lookup failed", logger.Err(err))
		return nil, false, err
	case !found:
		metrics.Observe(op, metrics.ResultNotFound, started)
		log.Debug("signature set not found")
		return nil, false, nil
	}
	metrics.Observe(op, metrics.ResultOK, started)
	log.Debug("signature set found")
	return e, true, nil
}

// GetAllSignatureSetKeyTimestamps lista los timestamps del tenant, sin orden garantizado.
func (r *Registry) GetAllSignatureSetKeyTimestamps(ctx context.Context) ([]string, error) {
	started := time.Now()
	out, err := r.store.ListKeyTimestamps(ctx)
	if err != nil {
		metrics.Observe(opList, metrics.ResultError, started)
		r.log(ctx, opList).Error("failed to list key timestamps", logger.Err(err))
		return nil, err
	}
	metrics.Observe(opList, metrics.ResultOK, started)
	r.log(ctx, opList).Debug("key timestamps listed", logger.Count(len(out)))
	return out, nil
}

// DeleteSignatureSet invalida un set. Borrar uno inexistente no es error.
func (r *Registry) DeleteSignatureSet(ctx context.Context, keyTimestamp string) error {
	started := time.Now()
	log := r.log(ctx, opDelete).With(logger.KeyTimestamp(keyTimestamp))

	if err := r.store.Invalidate(ctx, keyTimestamp); err != nil {
		metrics.Observe(opDelete, metrics.ResultError, started)
		log.Error("failed to invalidate signature set", logger.Err(err))
		return err
	}
	metrics.Observe(opDelete, metrics.ResultOK, started)
	log.Info("signature set invalidated")
	return nil
}

// TenantAlreadyProvisioned reporta si el keyspace del tenant existe.
// Solo "keyspace inexistente" se traduce a false; cualquier otra falla se propaga.
func (r *Registry) TenantAlreadyProvisioned(ctx context.Context) (bool, error) {
	started := time.Now()
	log := r.log(ctx, opProbe)

	ok, err := r.probe.IsProvisioned(ctx)
	if err != nil {
		if repository.IsKeyspaceNotProvisioned(err) {
			metrics.Observe(opProbe, metrics.ResultAbsent, started)
			log.Warn("tenant keyspace not provisioned", logger.Err(err))
			return false, nil
		}
		metrics.Observe(opProbe, metrics.ResultError, started)
		log.Error("provisioning probe failed", logger.Err(err))
		return false, err
	}
	result := metrics.ResultAbsent
	if ok {
		result = metrics.ResultProvisioned
	}
	metrics.Observe(opProbe, result, started)
	log.Debug("provisioning probe done", logger.Bool("provisioned", ok))
	return ok, nil
}

// RotateSignatureSet crea un set nuevo y después invalida retire.
// Si la creación falla no se invalida nada. Si falla la invalidación, el set nuevo
// ya existe y se devuelve junto con el error.
func (r *Registry) RotateSignatureSet(ctx context.Context, retire string) (*repository.ApplicationSignatureSet, *rsa.PrivateKey, error) {
	started := time.Now()
	set, priv, err := r.create(ctx, opRotate)
	if err != nil {
		metrics.Observe(opRotate, metrics.ResultError, started)
		return nil, nil, err
	}
	if retire != "" {
		if err := r.store.Invalidate(ctx, retire); err != nil {
			metrics.Observe(opRotate, metrics.ResultError, started)
			r.log(ctx, opRotate).Error("rotation: failed to invalidate retired set",
				logger.KeyTimestamp(retire), logger.Err(err))
			return set, priv, fmt.Errorf("invalidate retired set %s: %w", retire, err)
		}
	}
	metrics.Observe(opRotate, metrics.ResultOK, started)
	r.log(ctx, opRotate).Info("signature set rotated",
		logger.KeyTimestamp(set.Timestamp), logger.String("retired", retire))
	return set, priv, nil
}

// PublicJWKS arma el JWKS RS256 con todos los sets vigentes del tenant.
// Los timestamps que desaparecen entre el list y el get se omiten.
func (r *Registry) PublicJWKS(ctx context.Context) (repository.JWKS, error) {
	started := time.Now()
	log := r.log(ctx, opJWKS)

	tss, err := r.store.ListKeyTimestamps(ctx)
	if err != nil {
		metrics.Observe(opJWKS, metrics.ResultError, started)
		log.Error("failed to list key timestamps", logger.Err(err))
		return repository.JWKS{}, err
	}
	sets := make([]repository.ApplicationSignatureSet, 0, len(tss))
	for _, ts := range tss {
		e, found, err := r.store.Get(ctx, ts)
		if err != nil {
			metrics.Observe(opJWKS, metrics.ResultError, started)
			log.Error("failed to load signature set", logger.KeyTimestamp(ts), logger.Err(err))
			return repository.JWKS{}, err
		}
		if !found {
			continue
		}
		sets = append(sets, *toSet(e))
	}
	jwks := jwtx.BuildJWKS(sets)
	metrics.Observe(opJWKS, metrics.ResultOK, started)
	log.Debug("jwks built", logger.Count(len(jwks.Keys)))
	return jwks, nil
}
