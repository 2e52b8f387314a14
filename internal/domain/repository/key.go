package repository

import (
	"context"
	"crypto/rsa"
	"math/big"
	"time"
)

// Signature es la parte pública de una clave RSA: módulo y exponente.
// Alcanza para verificar firmas, no para crearlas.
type Signature struct {
	PublicKeyMod *big.Int `json:"publicKeyMod"`
	PublicKeyExp *big.Int `json:"publicKeyExp"`
}

// Equal compara módulo y exponente.
func (s Signature) Equal(o Signature) bool {
	if s.PublicKeyMod == nil || o.PublicKeyMod == nil || s.PublicKeyExp == nil || o.PublicKeyExp == nil {
		return s.PublicKeyMod == o.PublicKeyMod && s.PublicKeyExp == o.PublicKeyExp
	}
	return s.PublicKeyMod.Cmp(o.PublicKeyMod) == 0 && s.PublicKeyExp.Cmp(o.PublicKeyExp) == 0
}

// ApplicationSignatureSet es la presentación (no persistida) de un signature set:
// el mismo par público sirve para el rol identity-manager y para el rol application.
type ApplicationSignatureSet struct {
	Timestamp                string    `json:"timestamp"`
	ApplicationSignature     Signature `json:"applicationSignature"`
	IdentityManagerSignature Signature `json:"identityManagerSignature"`
}

// KeyMaterial es lo que recibe SignatureRepository.Add.
// KeyTimestamp vacío = lo genera el store.
type KeyMaterial struct {
	KeyTimestamp string
	PublicKey    *rsa.PublicKey
	PrivateKey   *rsa.PrivateKey
}

// SignatureEntity es una fila por tenant por key timestamp. Inmutable.
type SignatureEntity struct {
	KeyTimestamp string
	PublicKeyMod *big.Int
	PublicKeyExp *big.Int
	// PrivateKey solo viene poblada en el valor que devuelve Add; nunca se persiste.
	PrivateKey *rsa.PrivateKey
	CreatedAt  time.Time
}

// Signature devuelve la parte pública de la entidad.
func (e *SignatureEntity) Signature() Signature {
	return Signature{
		PublicKeyMod: new(big.Int).Set(e.PublicKeyMod),
		PublicKeyExp: new(big.Int).Set(e.PublicKeyExp),
	}
}

// JWK representa una clave pública en formato JWK (para JWKS).
type JWK struct {
	KID string `json:"kid"`
	Kty string `json:"kty"`
	Use string `json:"use,omitempty"`
	Alg string `json:"alg,omitempty"`
	N   string `json:"n,omitempty"`
	E   string `json:"e,omitempty"`
}

// JWKS representa un conjunto de claves públicas.
type JWKS struct {
	Keys []JWK `json:"keys"`
}

// SignatureRepository persiste signature entries dentro del keyspace de un tenant.
type SignatureRepository interface {
	// Add genera el key timestamp si KeyMaterial no lo trae, persiste una entrada
	// nueva y la devuelve (con la privada de esta llamada).
	// Falla con un StoreError de escritura; un timestamp repetido envuelve ErrConflict.
	Add(ctx context.Context, km KeyMaterial) (*SignatureEntity, error)

	// Get busca por key timestamp. found=false no es un error.
	Get(ctx context.Context, keyTimestamp string) (*SignatureEntity, bool, error)

	// ListKeyTimestamps devuelve todos los key timestamps del tenant, sin orden garantizado.
	ListKeyTimestamps(ctx context.Context) ([]string, error)

	// Invalidate borra la entrada. Borrar algo inexistente es un no-op.
	Invalidate(ctx context.Context, keyTimestamp string) error
}

// ProvisioningProbe responde si el keyspace del tenant ya existe.
type ProvisioningProbe interface {
	// IsProvisioned devuelve false (sin error) solo si el keyspace no existe;
	// cualquier otra falla del store se propaga.
	IsProvisioned(ctx context.Context) (bool, error)
}

// KeyspaceInitializer crea el keyspace del tenant. Idempotente.
type KeyspaceInitializer interface {
	Provision(ctx context.Context) error
}

// TenantKeyspace es el handle por tenant que entregan los adapters.
type TenantKeyspace interface {
	SignatureRepository
	ProvisioningProbe
	KeyspaceInitializer

	// Tenant devuelve el slug del tenant dueño del keyspace.
	Tenant() string
}
