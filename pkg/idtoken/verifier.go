package idtoken

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/propshq/props/pkg/jwks"
)

// Kind classifies a verification failure. Callers map every kind except the
// lookup miss to the same generic upstream message; the kind itself stays in
// internal diagnostics.
type Kind int

const (
	// KindMissingKeyID - the token header carries no kid claim.
	KindMissingKeyID Kind = iota
	// KindHeaderDecode - the token is malformed and its header cannot be read.
	KindHeaderDecode
	// KindKeyNotFound - no cached key matches the token's kid. Occurs
	// legitimately during key rotation while the cache is stale.
	KindKeyNotFound
	// KindSignatureOrClaims - bad signature, issuer, audience, algorithm or
	// expiry.
	KindSignatureOrClaims
	// KindNonceMismatch - the token's nonce is not the one recorded for this
	// authorization attempt.
	KindNonceMismatch
)

func (k Kind) String() string {
	switch k {
	case KindMissingKeyID:
		return "missing key identifier"
	case KindHeaderDecode:
		return "header decode failed"
	case KindKeyNotFound:
		return "key not found"
	case KindSignatureOrClaims:
		return "signature or claims invalid"
	case KindNonceMismatch:
		return "nonce mismatch"
	default:
		return "unknown"
	}
}

// VerifyError is the per-operation error union for identity token
// verification.
type VerifyError struct {
	Kind Kind
	Err  error
}

func (e *VerifyError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("identity token verification failed (%s): %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("identity token verification failed (%s)", e.Kind)
}

func (e *VerifyError) Unwrap() error {
	return e.Err
}

// Identity is the verified content of an identity token. It is ephemeral:
// the orchestrator cross-checks it against the provider's user resource and
// discards it.
type Identity struct {
	Subject   string
	Issuer    string
	Audience  []string
	ExpiresAt time.Time
	IssuedAt  time.Time
	Nonce     string
}

// KeySource supplies the provider's current public signing keys.
type KeySource interface {
	PublicKeys(ctx context.Context) ([]*jwks.Key, error)
}

// Verifier verifies provider identity tokens against the published keys.
type Verifier struct {
	keys   KeySource
	issuer string
}

// NewVerifier creates a verifier pinned to the provider's issuer string.
func NewVerifier(keys KeySource, issuer string) *Verifier {
	return &Verifier{keys: keys, issuer: issuer}
}

var (
	errMissingKeyID = errors.New("no kid in token header")
	errKeyNotFound  = errors.New("no key matches token kid")
)

type idTokenClaims struct {
	Nonce string `json:"nonce"`
	jwt.RegisteredClaims
}

// Verify checks the token's signature and claims and returns the asserted
// identity. The signing algorithm is pinned to RS256, the issuer to the
// provider's issuer, and the audience must equal or contain audience. The
// nonce claim must equal expectedNonce exactly.
func (v *Verifier) Verify(ctx context.Context, rawToken, audience, expectedNonce string) (*Identity, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwks.SigningAlgorithm}),
		jwt.WithIssuer(v.issuer),
		jwt.WithAudience(audience),
		jwt.WithExpirationRequired(),
	)

	claims := &idTokenClaims{}
	_, err := parser.ParseWithClaims(rawToken, claims, func(token *jwt.Token) (interface{}, error) {
		kid, ok := token.Header["kid"].(string)
		if !ok || kid == "" {
			return nil, errMissingKeyID
		}

		keys, err := v.keys.PublicKeys(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load signing keys: %w", err)
		}

		for _, key := range keys {
			if key.Kid == kid {
				return key.PublicKey, nil
			}
		}

		return nil, errKeyNotFound
	})
	if err != nil {
		return nil, &VerifyError{Kind: classify(err), Err: err}
	}

	if claims.Nonce != expectedNonce {
		return nil, &VerifyError{Kind: KindNonceMismatch}
	}

	identity := &Identity{
		Subject:  claims.Subject,
		Issuer:   claims.Issuer,
		Audience: claims.Audience,
		Nonce:    claims.Nonce,
	}
	if claims.ExpiresAt != nil {
		identity.ExpiresAt = claims.ExpiresAt.Time
	}
	if claims.IssuedAt != nil {
		identity.IssuedAt = claims.IssuedAt.Time
	}

	return identity, nil
}

func classify(err error) Kind {
	switch {
	case errors.Is(err, errMissingKeyID):
		return KindMissingKeyID
	case errors.Is(err, errKeyNotFound):
		return KindKeyNotFound
	case errors.Is(err, jwt.ErrTokenMalformed):
		return KindHeaderDecode
	default:
		return KindSignatureOrClaims
	}
}
