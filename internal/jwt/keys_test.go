package jwt

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/keyregistry/internal/domain/repository"
)

func TestRSAGenerator(t *testing.T) {
	kp, err := RSAGenerator(1024)()
	require.NoError(t, err)
	require.Equal(t, 1024, kp.Public.N.BitLen())
	require.Same(t, &kp.Private.PublicKey, kp.Public)

	km := kp.Material()
	require.Empty(t, km.KeyTimestamp)
	require.Same(t, kp.Private, km.PrivateKey)
}

func TestSignatureRoundTrip(t *testing.T) {
	kp, err := GenerateRSA(1024)
	require.NoError(t, err)

	sig := SignatureOf(kp.Public)
	pub, err := PublicKeyFromSignature(sig)
	require.NoError(t, err)
	require.True(t, pub.Equal(kp.Public))

	// SignatureOf copia: mutarla no toca la clave
	sig.PublicKeyMod.SetInt64(7)
	require.NotEqual(t, int64(7), kp.Public.N.Int64())
}

func TestPublicKeyFromSignature_Rejects(t *testing.T) {
	cases := []repository.Signature{
		{},
		{PublicKeyMod: big.NewInt(0), PublicKeyExp: big.NewInt(65537)},
		{PublicKeyMod: big.NewInt(99), PublicKeyExp: big.NewInt(1)},
		{PublicKeyMod: big.NewInt(99), PublicKeyExp: new(big.Int).Lsh(big.NewInt(1), 40)},
	}
	for _, c := range cases {
		_, err := PublicKeyFromSignature(c)
		require.ErrorIs(t, err, ErrInvalidSignature)
	}
}

func TestBuildJWKS(t *testing.T) {
	kp, err := GenerateRSA(1024)
	require.NoError(t, err)
	sig := SignatureOf(kp.Public)

	jwks := BuildJWKS([]repository.ApplicationSignatureSet{
		{Timestamp: "2026-01-01T00_00_00_000", ApplicationSignature: sig, IdentityManagerSignature: sig},
		{Timestamp: "2026-02-01T00_00_00_000", ApplicationSignature: sig, IdentityManagerSignature: sig},
		{Timestamp: "broken"},
	})
	require.Len(t, jwks.Keys, 2)
	require.Equal(t, "2026-02-01T00_00_00_000", jwks.Keys[0].KID)
	require.Equal(t, "AQAB", jwks.Keys[0].E)
	require.Equal(t, "RSA", jwks.Keys[0].Kty)

	require.Equal(t, EncodeBase64URL(kp.Public.N.Bytes()), jwks.Keys[1].N)
}
