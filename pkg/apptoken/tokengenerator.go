package apptoken

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Token name constants, also used as cookie names.
const (
	AccessTokenName  = "access_token"
	RefreshTokenName = "refresh_token"
)

// Default token expiry durations.
const (
	DefaultAccessTokenExpiry  = 15 * time.Minute
	DefaultRefreshTokenExpiry = 24 * time.Hour
)

// TokenGenerator interface defines methods for application token operations.
type TokenGenerator interface {
	// GenerateToken generates a token for the given subject with extra claims.
	GenerateToken(subject string, expiry time.Duration, extraClaims map[string]interface{}) (string, time.Time, error)

	// ParseToken parses and validates a token.
	ParseToken(tokenStr string) (*jwt.Token, error)
}

// Claims struct for application JWT claims.
type Claims struct {
	ExtraClaims interface{} `json:"extra_claims,omitempty"`
	Username    string      `json:"username,omitempty"`
	jwt.RegisteredClaims
}

// JwtTokenGenerator implements the TokenGenerator interface with HS256.
type JwtTokenGenerator struct {
	Secret   string
	Issuer   string
	Audience string
}

// NewJwtTokenGenerator creates a new JwtTokenGenerator.
func NewJwtTokenGenerator(secret, issuer, audience string) *JwtTokenGenerator {
	return &JwtTokenGenerator{
		Secret:   secret,
		Issuer:   issuer,
		Audience: audience,
	}
}

// GenerateToken creates a new token with the given subject and claims.
func (g *JwtTokenGenerator) GenerateToken(subject string, expiry time.Duration, extraClaims map[string]interface{}) (string, time.Time, error) {
	claims := Claims{
		ExtraClaims: extraClaims,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().UTC().Add(expiry)),
			IssuedAt:  jwt.NewNumericDate(time.Now().UTC()),
			NotBefore: jwt.NewNumericDate(time.Now().UTC().Add(-5 * time.Minute)),
			Issuer:    g.Issuer,
			Subject:   subject,
			ID:        uuid.New().String(),
			Audience:  jwt.ClaimStrings{g.Audience},
		},
	}
	if username, ok := extraClaims["username"].(string); ok {
		claims.Username = username
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(g.Secret))
	if err != nil {
		slog.Error("Failed to sign application token", "err", err)
		return "", time.Time{}, err
	}

	return signed, claims.ExpiresAt.Time, nil
}

// ParseToken parses and validates a token string.
func (g *JwtTokenGenerator) ParseToken(tokenStr string) (*jwt.Token, error) {
	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		return []byte(g.Secret), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return token, fmt.Errorf("failed to parse application token: %w", err)
	}

	if !token.Valid {
		return token, fmt.Errorf("invalid application token")
	}

	return token, nil
}
