package apptoken

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TokenPair is a freshly minted application access/refresh token pair.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshToken     string    `json:"refresh_token"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// Service issues application session tokens for local user ids.
type Service struct {
	generator          TokenGenerator
	accessTokenExpiry  time.Duration
	refreshTokenExpiry time.Duration
}

// ServiceOption is a function that configures a Service.
type ServiceOption func(*Service)

// WithAccessTokenExpiry sets the access token lifetime.
func WithAccessTokenExpiry(expiry time.Duration) ServiceOption {
	return func(s *Service) {
		s.accessTokenExpiry = expiry
	}
}

// WithRefreshTokenExpiry sets the refresh token lifetime.
func WithRefreshTokenExpiry(expiry time.Duration) ServiceOption {
	return func(s *Service) {
		s.refreshTokenExpiry = expiry
	}
}

// NewService creates a token service with default expiries.
func NewService(generator TokenGenerator, opts ...ServiceOption) *Service {
	service := &Service{
		generator:          generator,
		accessTokenExpiry:  DefaultAccessTokenExpiry,
		refreshTokenExpiry: DefaultRefreshTokenExpiry,
	}

	for _, opt := range opts {
		opt(service)
	}

	return service
}

// IssueTokenPair mints an access/refresh pair with the local user id as
// subject.
func (s *Service) IssueTokenPair(userID uuid.UUID, username string) (*TokenPair, error) {
	subject := userID.String()

	accessToken, accessExpiry, err := s.generator.GenerateToken(subject, s.accessTokenExpiry, map[string]interface{}{
		"username":  username,
		"token_use": AccessTokenName,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate access token: %w", err)
	}

	refreshToken, refreshExpiry, err := s.generator.GenerateToken(subject, s.refreshTokenExpiry, map[string]interface{}{
		"token_use": RefreshTokenName,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate refresh token: %w", err)
	}

	return &TokenPair{
		AccessToken:      accessToken,
		AccessExpiresAt:  accessExpiry,
		RefreshToken:     refreshToken,
		RefreshExpiresAt: refreshExpiry,
	}, nil
}

// Subject parses a token and returns its subject as a local user id.
func (s *Service) Subject(tokenStr string) (uuid.UUID, error) {
	token, err := s.generator.ParseToken(tokenStr)
	if err != nil {
		return uuid.Nil, err
	}

	subject, err := token.Claims.GetSubject()
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to read token subject: %w", err)
	}

	userID, err := uuid.Parse(subject)
	if err != nil {
		return uuid.Nil, fmt.Errorf("token subject is not a user id: %w", err)
	}

	return userID, nil
}
