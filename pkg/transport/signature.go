package transport

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"

	"github.com/adweave/aip-coordinator/pkg/fault"
)

// ParsePublicKey loads a PEM-encoded Ed25519 public key (PKIX).
func ParsePublicKey(pemData string) (ed25519.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, fault.New(fault.KindSignatureMalformed, "public key is not valid PEM")
	}

	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fault.Wrap(fault.KindSignatureMalformed, err, "failed to parse public key")
	}

	edKey, ok := key.(ed25519.PublicKey)
	if !ok {
		return nil, fault.New(fault.KindSignatureMalformed, "public key is not Ed25519")
	}

	return edKey, nil
}

// ParsePrivateKey loads a PEM-encoded Ed25519 private key (PKCS#8).
func ParsePrivateKey(pemData string) (ed25519.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, fault.New(fault.KindSignatureMalformed, "private key is not valid PEM")
	}

	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fault.Wrap(fault.KindSignatureMalformed, err, "failed to parse private key")
	}

	edKey, ok := key.(ed25519.PrivateKey)
	if !ok {
		return nil, fault.New(fault.KindSignatureMalformed, "private key is not Ed25519")
	}

	return edKey, nil
}

// Sign produces a base64 Ed25519 signature over the canonical encoding of
// payload.
func Sign(payload any, privateKeyPEM string) (string, error) {
	key, err := ParsePrivateKey(privateKeyPEM)
	if err != nil {
		return "", err
	}

	data, err := Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize payload: %w", err)
	}

	sig := ed25519.Sign(key, data)

	return base64.StdEncoding.EncodeToString(sig), nil
}

// Verify checks a base64 Ed25519 signature against the canonical encoding of
// payload using a PEM public key.
func Verify(payload any, signatureB64, publicKeyPEM string) error {
	if signatureB64 == "" {
		return fault.New(fault.KindSignatureMissing, "signature is required")
	}

	key, err := ParsePublicKey(publicKeyPEM)
	if err != nil {
		return err
	}

	sig, err := base64.StdEncoding.DecodeString(signatureB64)
	if err != nil {
		return fault.Wrap(fault.KindSignatureMalformed, err, "signature is not valid base64")
	}

	data, err := Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to canonicalize payload: %w", err)
	}

	if !ed25519.Verify(key, data, sig) {
		return fault.New(fault.KindSignatureInvalid, "signature verification failed")
	}

	return nil
}

// GenerateKeyPair creates a fresh Ed25519 keypair encoded as PEM. Used by
// the keygen command and by tests.
func GenerateKeyPair() (publicPEM, privatePEM string, err error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return "", "", fmt.Errorf("failed to generate keypair: %w", err)
	}

	pubDER, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal public key: %w", err)
	}

	privDER, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal private key: %w", err)
	}

	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})
	privPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privDER})

	return string(pubPEM), string(privPEM), nil
}
