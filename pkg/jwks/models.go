package jwks

import (
	"crypto/rsa"
	"fmt"
)

// SigningAlgorithm is the only token signing algorithm the system accepts.
const SigningAlgorithm = "RS256"

// JWKS represents a JSON Web Key Set as defined in RFC 7517.
type JWKS struct {
	Keys []JWK `json:"keys"`
}

// JWK represents a JSON Web Key as defined in RFC 7517.
type JWK struct {
	// Key Type - "RSA" for RSA keys
	Kty string `json:"kty"`

	// Public Key Use - "sig" for signature
	Use string `json:"use"`

	// Key ID - unique identifier for this key
	Kid string `json:"kid"`

	// Algorithm - "RS256" for RSA with SHA-256
	Alg string `json:"alg,omitempty"`

	// RSA public key modulus (base64url encoded)
	N string `json:"n"`

	// RSA public key exponent (base64url encoded)
	E string `json:"e"`
}

// Verifiable reports whether this entry is an RSA signature key using the
// expected algorithm. Entries failing this filter are dropped, not fatal.
func (k *JWK) Verifiable() bool {
	return k.Kty == "RSA" && k.Use == "sig" && k.Alg == SigningAlgorithm
}

// Import converts the entry into verifier-usable key material.
func (k *JWK) Import() (*Key, error) {
	if !k.Verifiable() {
		return nil, fmt.Errorf("key %s is not an RSA signature key for %s", k.Kid, SigningAlgorithm)
	}
	if k.Kid == "" {
		return nil, fmt.Errorf("key has no kid")
	}

	publicKey, err := DecodeRSAPublicKey(k.N, k.E)
	if err != nil {
		return nil, fmt.Errorf("failed to import key %s: %w", k.Kid, err)
	}

	return &Key{Kid: k.Kid, Alg: k.Alg, PublicKey: publicKey}, nil
}

// Key is an imported public signing key ready for signature verification.
type Key struct {
	Kid       string
	Alg       string
	PublicKey *rsa.PublicKey
}

// KeyPair is an RSA key pair with a key id. The verification path never holds
// private keys; this type backs local tooling and the test helpers that mint
// provider-style tokens.
type KeyPair struct {
	Kid        string
	Alg        string
	PrivateKey *rsa.PrivateKey
	PublicKey  *rsa.PublicKey
}

// ToJWK converts a KeyPair to its public JWK form.
func (kp *KeyPair) ToJWK() JWK {
	return JWK{
		Kty: "RSA",
		Use: "sig",
		Kid: kp.Kid,
		Alg: kp.Alg,
		N:   EncodeRSAPublicKeyModulus(kp.PublicKey),
		E:   EncodeRSAPublicKeyExponent(kp.PublicKey),
	}
}
