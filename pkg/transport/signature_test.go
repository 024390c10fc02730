package transport

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adweave/aip-coordinator/pkg/fault"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	pubPEM, privPEM, err := GenerateKeyPair()
	require.NoError(t, err)

	payload := map[string]any{
		"brand_agent_id": "acme",
		"price":          2.5,
		"auth":           map[string]any{"nonce": "n-1"},
	}

	sig, err := Sign(payload, privPEM)
	require.NoError(t, err)
	require.NotEmpty(t, sig)

	assert.NoError(t, Verify(payload, sig, pubPEM))
}

func TestVerifyRejectsMutatedPayload(t *testing.T) {
	pubPEM, privPEM, err := GenerateKeyPair()
	require.NoError(t, err)

	payload := map[string]any{"price": 2.5}

	sig, err := Sign(payload, privPEM)
	require.NoError(t, err)

	mutated := map[string]any{"price": 2.6}

	err = Verify(mutated, sig, pubPEM)
	assert.True(t, fault.IsKind(err, fault.KindSignatureInvalid))
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	_, privPEM, err := GenerateKeyPair()
	require.NoError(t, err)

	otherPub, _, err := GenerateKeyPair()
	require.NoError(t, err)

	payload := map[string]any{"price": 2.5}

	sig, err := Sign(payload, privPEM)
	require.NoError(t, err)

	err = Verify(payload, sig, otherPub)
	assert.True(t, fault.IsKind(err, fault.KindSignatureInvalid))
}

func TestVerifyMissingSignature(t *testing.T) {
	pubPEM, _, err := GenerateKeyPair()
	require.NoError(t, err)

	err = Verify(map[string]any{}, "", pubPEM)
	assert.True(t, fault.IsKind(err, fault.KindSignatureMissing))
}

func TestVerifyMalformedSignature(t *testing.T) {
	pubPEM, _, err := GenerateKeyPair()
	require.NoError(t, err)

	err = Verify(map[string]any{}, "not base64!!!", pubPEM)
	assert.True(t, fault.IsKind(err, fault.KindSignatureMalformed))
}

func TestVerifyMalformedKey(t *testing.T) {
	err := Verify(map[string]any{}, "AAAA", "not a pem key")
	assert.True(t, fault.IsKind(err, fault.KindSignatureMalformed))
}

func TestParsePublicKeyRejectsNonEd25519(t *testing.T) {
	ecKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	der, err := x509.MarshalPKIXPublicKey(&ecKey.PublicKey)
	require.NoError(t, err)

	ecPEM := string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))

	_, err = ParsePublicKey(ecPEM)
	assert.True(t, fault.IsKind(err, fault.KindSignatureMalformed))
}
