package jwt

import (
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"fmt"
	"math/big"

	"github.com/dropDatabas3/keyregistry/internal/domain/repository"
)

// DefaultRSABits es el tamaño de clave para los signature sets.
const DefaultRSABits = 2048

// MinRSABits es el mínimo aceptado por config.
const MinRSABits = 2048

var ErrInvalidSignature = errors.New("invalid_signature")

// KeyPair es el par generado para un signature set.
type KeyPair struct {
	Public  *rsa.PublicKey
	Private *rsa.PrivateKey
}

// KeyPairGenerator produce un par RSA nuevo. El registry lo trata como opaco.
type KeyPairGenerator func() (*KeyPair, error)

// GenerateRSA genera un par RSA de bits bits.
func GenerateRSA(bits int) (*KeyPair, error) {
	priv, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("generate rsa key: %w", err)
	}
	return &KeyPair{Public: &priv.PublicKey, Private: priv}, nil
}

// RSAGenerator devuelve un KeyPairGenerator con tamaño fijo.
func RSAGenerator(bits int) KeyPairGenerator {
	if bits <= 0 {
		bits = DefaultRSABits
	}
	return func() (*KeyPair, error) { return GenerateRSA(bits) }
}

// Material arma el KeyMaterial que recibe el store (timestamp lo asigna el store).
func (kp *KeyPair) Material() repository.KeyMaterial {
	return repository.KeyMaterial{PublicKey: kp.Public, PrivateKey: kp.Private}
}

// SignatureOf extrae módulo/exponente de una pública RSA.
func SignatureOf(pub *rsa.PublicKey) repository.Signature {
	return repository.Signature{
		PublicKeyMod: new(big.Int).Set(pub.N),
		PublicKeyExp: big.NewInt(int64(pub.E)),
	}
}

// PublicKeyFromSignature reconstruye la *rsa.PublicKey para verificar firmas.
func PublicKeyFromSignature(sig repository.Signature) (*rsa.PublicKey, error) {
	if sig.PublicKeyMod == nil || sig.PublicKeyExp == nil || sig.PublicKeyMod.Sign() <= 0 {
		return nil, ErrInvalidSignature
	}
	if !sig.PublicKeyExp.IsInt64() || sig.PublicKeyExp.Int64() < 3 || sig.PublicKeyExp.Int64() > 1<<31-1 {
		return nil, ErrInvalidSignature
	}
	return &rsa.PublicKey{
		N: new(big.Int).Set(sig.PublicKeyMod),
		E: int(sig.PublicKeyExp.Int64()),
	}, nil
}
