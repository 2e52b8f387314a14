package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/dropDatabas3/keyregistry/internal/domain/repository"
	jwtx "github.com/dropDatabas3/keyregistry/internal/jwt"
	"github.com/dropDatabas3/keyregistry/internal/observability/logger"
)

// MaxAddAttempts limita los reintentos de Add cuando un timestamp generado colisiona.
const MaxAddAttempts = 5

// MaxKeyTimestampLen limita timestamps provistos por el caller.
const MaxKeyTimestampLen = 64

var validTenant = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,62}$`)

// NormalizeTenant valida y normaliza el slug de un tenant.
func NormalizeTenant(slug string) (string, error) {
	s := strings.ToLower(strings.TrimSpace(slug))
	if !validTenant.MatchString(s) {
		return "", fmt.Errorf("tenant %q: %w", slug, repository.ErrInvalidInput)
	}
	return s, nil
}

// ValidKeyTimestamp chequea un key timestamp provisto por el caller.
func ValidKeyTimestamp(ts string) bool {
	if ts == "" || len(ts) > MaxKeyTimestampLen {
		return false
	}
	for _, r := range ts {
		if r < 0x21 || r > 0x7e {
			return false
		}
	}
	return true
}

// InsertFunc persiste una entidad nueva. Debe devolver un error que envuelva
// repository.ErrConflict si el key timestamp ya existe.
type InsertFunc func(ctx context.Context, e *repository.SignatureEntity) error

// AddEntity implementa la semántica común de SignatureRepository.Add:
// asigna el key timestamp si falta, inserta, y reintenta con otro timestamp
// si el generado colisiona. Un timestamp provisto que colisiona falla con ErrConflict.
// Los errores devueltos ya vienen envueltos como StoreError de escritura.
func AddEntity(ctx context.Context, driver, tenant string, km repository.KeyMaterial, insert InsertFunc) (*repository.SignatureEntity, error) {
	if km.PublicKey == nil || km.PublicKey.N == nil {
		return nil, repository.WriteError(driver, tenant, fmt.Errorf("public key required: %w", repository.ErrInvalidInput))
	}
	supplied := km.KeyTimestamp != ""
	if supplied && !ValidKeyTimestamp(km.KeyTimestamp) {
		return nil, repository.WriteError(driver, tenant, fmt.Errorf("key timestamp %q: %w", km.KeyTimestamp, repository.ErrInvalidInput))
	}

	sig := jwtx.SignatureOf(km.PublicKey)
	var lastErr error
	for attempt := 1; attempt <= MaxAddAttempts; attempt++ {
		ts := km.KeyTimestamp
		if !supplied {
			ts = jwtx.NewKeyTimestamp()
		}
		e := &repository.SignatureEntity{
			KeyTimestamp: ts,
			PublicKeyMod: sig.PublicKeyMod,
			PublicKeyExp: sig.PublicKeyExp,
			CreatedAt:    time.Now().UTC(),
		}
		err := insert(ctx, e)
		if err == nil {
			e.PrivateKey = km.PrivateKey
			return e, nil
		}
		lastErr = err
		if supplied || !repository.IsConflict(err) {
			break
		}
		logger.From(ctx).Debug("key timestamp collision, retrying",
			logger.Driver(driver), logger.TenantID(tenant), logger.KeyTimestamp(ts), logger.Attempt(attempt))
	}
	var se *repository.StoreError
	if errors.As(lastErr, &se) {
		return nil, lastErr
	}
	return nil, repository.WriteError(driver, tenant, lastErr)
}
