package user

import (
	"time"

	"github.com/google/uuid"
)

// User is a local user record reconciled from the provider identity. It is
// keyed by the provider's stable subject identifier.
type User struct {
	ID             uuid.UUID `json:"id"`
	ProviderUserID string    `json:"provider_user_id"`
	Username       string    `json:"username"`
	AvatarURL      string    `json:"avatar_url,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// ProviderTokens are the provider's access/refresh tokens persisted alongside
// a local user, with the computed absolute expiry.
type ProviderTokens struct {
	UserID       uuid.UUID `json:"user_id"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	Scope        string    `json:"scope"`
	TokenType    string    `json:"token_type"`
}
