package pkce

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// Lengths of the random values used throughout the authorization flow.
const (
	SessionIDLength    = 32
	StateLength        = 32
	NonceLength        = 32
	CodeVerifierLength = 64
)

// ChallengeMethodS256 is the only challenge method the flow uses. "plain" is
// deliberately unsupported.
const ChallengeMethodS256 = "S256"

// RandomString returns a cryptographically random string of exactly length
// characters. It draws length bytes from crypto/rand, base64url-encodes them
// without padding and truncates to length characters.
func RandomString(length int) (string, error) {
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	encoded := base64.RawURLEncoding.EncodeToString(buf)
	return encoded[:length], nil
}

// GenerateCodeVerifier generates a PKCE code verifier.
// The result is 64 characters long, within the 43-128 character range
// RFC 7636 requires, and uses only base64url characters.
func GenerateCodeVerifier() (string, error) {
	verifier, err := RandomString(CodeVerifierLength)
	if err != nil {
		return "", fmt.Errorf("failed to generate code verifier: %w", err)
	}
	return verifier, nil
}

// CodeChallenge derives the S256 code challenge for a verifier:
// base64url(SHA-256(verifier)) without padding. Deterministic.
func CodeChallenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// VerifyCodeChallenge reports whether the verifier matches the challenge under
// the S256 method.
func VerifyCodeChallenge(verifier, challenge string) bool {
	return CodeChallenge(verifier) == challenge
}
