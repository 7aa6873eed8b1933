package authstate

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"
)

// AuthorizationAttempt is a single in-flight authorization request. Attempts
// are write-once, read-once, delete-once: the callback consumes the attempt and
// deletes it regardless of the verification outcome.
type AuthorizationAttempt struct {
	SessionID    string    `json:"session_id"`
	State        string    `json:"state"`
	Nonce        string    `json:"nonce"`
	CodeVerifier string    `json:"code_verifier"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Expired reports whether the attempt's validity window has passed.
func (a *AuthorizationAttempt) Expired(now time.Time) bool {
	return now.After(a.ExpiresAt)
}

// EncodeState packs the session id and the anti-CSRF state into the single
// opaque value round-tripped through the provider's state query parameter.
func EncodeState(sessionID, state string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(sessionID + ":" + state))
}

// DecodeState unpacks a value produced by EncodeState. Both components are
// base64url strings themselves and never contain the separator.
func DecodeState(encoded string) (sessionID, state string, err error) {
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return "", "", fmt.Errorf("failed to decode state parameter: %w", err)
	}

	parts := strings.SplitN(string(raw), ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("malformed state parameter")
	}

	return parts[0], parts[1], nil
}
