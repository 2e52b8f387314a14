package jwt

import (
	"encoding/base64"
	"sort"

	"github.com/dropDatabas3/keyregistry/internal/domain/repository"
)

// EncodeBase64URL codifica sin padding (RFC 7515).
func EncodeBase64URL(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

// BuildJWKS arma el JWKS (RS256, kid = key timestamp) a partir de signature sets.
// Se publica la signature application; en un set es idéntica a la del identity manager.
// Los sets con material inválido se omiten. Orden: kid descendente (más nuevo primero).
func BuildJWKS(sets []repository.ApplicationSignatureSet) repository.JWKS {
	jwks := repository.JWKS{Keys: make([]repository.JWK, 0, len(sets))}
	for _, s := range sets {
		sig := s.ApplicationSignature
		if sig.PublicKeyMod == nil || sig.PublicKeyExp == nil || sig.PublicKeyMod.Sign() <= 0 {
			continue
		}
		jwks.Keys = append(jwks.Keys, repository.JWK{
			KID: s.Timestamp,
			Kty: "RSA",
			Use: "sig",
			Alg: "RS256",
			N:   EncodeBase64URL(sig.PublicKeyMod.Bytes()),
			E:   EncodeBase64URL(sig.PublicKeyExp.Bytes()),
		})
	}
	sort.Slice(jwks.Keys, func(i, j int) bool { return jwks.Keys[i].KID > jwks.Keys[j].KID })
	return jwks
}
