package authflow

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/propshq/props/pkg/apptoken"
	"github.com/propshq/props/pkg/authstate"
	"github.com/propshq/props/pkg/jwks"
	"github.com/propshq/props/pkg/provider"
	"github.com/propshq/props/pkg/user"
)

const (
	envIssuer   = "https://provider.example.com"
	envClientID = "client-id"
)

// env is a full flow fixture: an httptest provider serving the token, user,
// revoke and JWKS endpoints, in-memory repositories and a wired Service.
// The knobs let individual tests bend provider behavior.
type env struct {
	t        *testing.T
	server   *httptest.Server
	attempts *authstate.InMemoryRepository
	users    *user.InMemoryRepository
	keys     *jwks.KeyManager
	svc      *Service

	// signing material served via the JWKS endpoint
	jwksKeys []*jwks.KeyPair
	signWith *jwks.KeyPair

	// provider behavior knobs
	idTokenSubject  string
	idTokenNonce    string // overrides the nonce from the authorize URL
	lastNonce       string
	userResourceID  string
	username        string
	tokenStatus     int // non-zero forces the token endpoint to fail
	revokedTokens   []string
	refreshedTokens []string
}

func newEnv(t *testing.T, opts ...Option) *env {
	t.Helper()

	key, err := jwks.NewKeyPair()
	require.NoError(t, err)

	e := &env{
		t:              t,
		jwksKeys:       []*jwks.KeyPair{key},
		signWith:       key,
		idTokenSubject: "999",
		userResourceID: "999",
		username:       "kudos-giver",
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		if e.tokenStatus != 0 {
			w.WriteHeader(e.tokenStatus)
			w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		require.NoError(t, r.ParseForm())
		if r.PostForm.Get("grant_type") == "refresh_token" {
			e.refreshedTokens = append(e.refreshedTokens, r.PostForm.Get("refresh_token"))
			json.NewEncoder(w).Encode(provider.TokenSet{
				AccessToken: "provider-access-refreshed", RefreshToken: "provider-refresh-2",
				ExpiresIn: 604800, Scope: "identify openid", TokenType: "Bearer",
			})
			return
		}
		json.NewEncoder(w).Encode(provider.TokenSet{
			AccessToken: "provider-access", RefreshToken: "provider-refresh",
			ExpiresIn: 604800, Scope: "identify openid", TokenType: "Bearer",
			IDToken: e.signIDToken(),
		})
	})
	mux.HandleFunc("/oauth2/token/revoke", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		e.revokedTokens = append(e.revokedTokens, r.PostForm.Get("token"))
	})
	mux.HandleFunc("/users/@me", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(provider.User{ID: e.userResourceID, Username: e.username, Avatar: "abc"})
	})
	mux.HandleFunc("/oauth2/keys", func(w http.ResponseWriter, r *http.Request) {
		set := jwks.JWKS{}
		for _, kp := range e.jwksKeys {
			set.Keys = append(set.Keys, kp.ToJWK())
		}
		json.NewEncoder(w).Encode(set)
	})

	e.server = httptest.NewServer(mux)
	t.Cleanup(e.server.Close)

	config := &provider.Config{
		ClientID:     envClientID,
		ClientSecret: "client-secret",
		AuthorizeURL: e.server.URL + "/oauth2/authorize",
		TokenURL:     e.server.URL + "/oauth2/token",
		RevokeURL:    e.server.URL + "/oauth2/token/revoke",
		UserURL:      e.server.URL + "/users/@me",
		JWKSURL:      e.server.URL + "/oauth2/keys",
		Issuer:       envIssuer,
	}

	e.attempts = authstate.NewInMemoryRepository()
	e.users = user.NewInMemoryRepository()
	e.keys = jwks.NewKeyManager(config.JWKSURL, jwks.WithFallbackKeySet([]byte("{}")))
	tokenService := apptoken.NewService(apptoken.NewJwtTokenGenerator("test-secret", "props", "props-app"))

	e.svc = NewService(
		e.attempts,
		e.users,
		provider.NewClient(config),
		e.keys,
		tokenService,
		append([]Option{WithBaseURL("https://app.example.com")}, opts...)...,
	)

	return e
}

func (e *env) signIDToken() string {
	nonce := e.idTokenNonce
	if nonce == "" {
		nonce = e.lastNonce
	}
	now := time.Now().UTC()
	claims := jwt.MapClaims{
		"iss":   envIssuer,
		"aud":   envClientID,
		"sub":   e.idTokenSubject,
		"exp":   now.Add(time.Hour).Unix(),
		"iat":   now.Unix(),
		"nonce": nonce,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = e.signWith.Kid
	signed, err := token.SignedString(e.signWith.PrivateKey)
	require.NoError(e.t, err)
	return signed
}

// beginLogin initiates an attempt and extracts the values the provider would
// round-trip: the encoded state and the nonce bound into the identity token.
func (e *env) beginLogin() (encodedState string) {
	init, err := e.svc.InitiateLogin(context.Background())
	require.NoError(e.t, err)

	parsed, err := url.Parse(init.AuthorizationURL)
	require.NoError(e.t, err)

	query := parsed.Query()
	require.Equal(e.t, "code", query.Get("response_type"))
	require.Equal(e.t, "S256", query.Get("code_challenge_method"))
	require.NotEmpty(e.t, query.Get("code_challenge"))

	e.lastNonce = query.Get("nonce")
	return query.Get("state")
}

func flowKind(t *testing.T, err error) Kind {
	t.Helper()
	var flowError *FlowError
	require.ErrorAs(t, err, &flowError)
	return flowError.Kind
}

func TestFreshLogin(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	encodedState := e.beginLogin()
	result, err := e.svc.HandleCallback(ctx, "auth-code", encodedState)
	require.NoError(t, err)

	assert.True(t, result.NewUser)
	assert.Equal(t, "999", result.User.ProviderUserID)
	assert.Equal(t, "kudos-giver", result.User.Username)
	assert.NotEmpty(t, result.Tokens.AccessToken)
	assert.NotEmpty(t, result.Tokens.RefreshToken)

	stored, err := e.users.GetTokens(ctx, result.User.ID)
	require.NoError(t, err)
	assert.Equal(t, "provider-access", stored.AccessToken)
	assert.True(t, stored.ExpiresAt.After(time.Now()))
}

func TestReturningUser(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	existing := &user.User{
		ID:             uuid.New(),
		ProviderUserID: "999",
		Username:       "kudos-giver",
		CreatedAt:      time.Now().UTC(),
	}
	require.NoError(t, e.users.Create(ctx, existing))
	require.NoError(t, e.users.SaveTokens(ctx, &user.ProviderTokens{
		UserID: existing.ID, AccessToken: "access-stored", RefreshToken: "refresh-stored",
		ExpiresAt: time.Now().UTC().Add(time.Hour),
	}))

	encodedState := e.beginLogin()
	result, err := e.svc.HandleCallback(ctx, "auth-code", encodedState)
	require.NoError(t, err)

	assert.False(t, result.NewUser)
	assert.Equal(t, existing.ID, result.User.ID)
	assert.NotEmpty(t, result.Tokens.AccessToken)

	// No new user row and no new provider-token row.
	userCount, tokenCount := e.users.Counts()
	assert.Equal(t, 1, userCount)
	assert.Equal(t, 1, tokenCount)

	stored, err := e.users.GetTokens(ctx, existing.ID)
	require.NoError(t, err)
	assert.Equal(t, "access-stored", stored.AccessToken)
}

func TestAttemptIsSingleUse(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	encodedState := e.beginLogin()
	_, err := e.svc.HandleCallback(ctx, "auth-code", encodedState)
	require.NoError(t, err)

	_, err = e.svc.HandleCallback(ctx, "auth-code", encodedState)
	assert.Equal(t, KindStateNotFound, flowKind(t, err))
}

func TestAttemptDeletedAfterFailedCallback(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	e.tokenStatus = http.StatusBadRequest
	encodedState := e.beginLogin()

	_, err := e.svc.HandleCallback(ctx, "auth-code", encodedState)
	assert.Equal(t, KindTokenExchange, flowKind(t, err))

	// The attempt was consumed by the failed callback.
	e.tokenStatus = 0
	_, err = e.svc.HandleCallback(ctx, "auth-code", encodedState)
	assert.Equal(t, KindStateNotFound, flowKind(t, err))
}

func TestExpiredAttempt(t *testing.T) {
	// TTL in the past simulates an attempt older than the validity window.
	e := newEnv(t, WithAttemptTTL(-time.Minute))
	ctx := context.Background()

	encodedState := e.beginLogin()
	_, err := e.svc.HandleCallback(ctx, "auth-code", encodedState)
	assert.Equal(t, KindStateExpired, flowKind(t, err))

	// Expired attempts are deleted on redemption too.
	sessionID, _, err2 := authstate.DecodeState(encodedState)
	require.NoError(t, err2)
	_, err = e.attempts.FindBySessionID(ctx, sessionID)
	assert.ErrorIs(t, err, authstate.ErrAttemptNotFound)
}

func TestStateMismatch(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	encodedState := e.beginLogin()
	sessionID, _, err := authstate.DecodeState(encodedState)
	require.NoError(t, err)

	forged := authstate.EncodeState(sessionID, "forged-state")
	_, err = e.svc.HandleCallback(ctx, "auth-code", forged)
	assert.Equal(t, KindStateMismatch, flowKind(t, err))

	// The mismatch consumed the attempt; the genuine state no longer works.
	_, err = e.svc.HandleCallback(ctx, "auth-code", encodedState)
	assert.Equal(t, KindStateNotFound, flowKind(t, err))
}

func TestMalformedState(t *testing.T) {
	e := newEnv(t)

	_, err := e.svc.HandleCallback(context.Background(), "auth-code", "%%%not-base64%%%")
	assert.Equal(t, KindMalformedState, flowKind(t, err))
}

func TestNonceMismatch(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	e.idTokenNonce = "a-nonce-from-another-flow"
	encodedState := e.beginLogin()

	_, err := e.svc.HandleCallback(ctx, "auth-code", encodedState)
	assert.Equal(t, KindIdentityInvalid, flowKind(t, err))

	var flowError *FlowError
	require.ErrorAs(t, err, &flowError)
	assert.Equal(t, "invalid identity", flowError.Public())
}

func TestUserIDCrossCheckMismatch(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	e.idTokenSubject = "123"
	e.userResourceID = "456"
	encodedState := e.beginLogin()

	_, err := e.svc.HandleCallback(ctx, "auth-code", encodedState)
	assert.Equal(t, KindUserIDMismatch, flowKind(t, err))

	// The flow must fail before any local user record is created.
	userCount, tokenCount := e.users.Counts()
	assert.Equal(t, 0, userCount)
	assert.Equal(t, 0, tokenCount)
}

func TestExistingUserWithoutTokensIsIntegrityFailure(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	require.NoError(t, e.users.Create(ctx, &user.User{
		ID:             uuid.New(),
		ProviderUserID: "999",
		Username:       "kudos-giver",
		CreatedAt:      time.Now().UTC(),
	}))

	encodedState := e.beginLogin()
	_, err := e.svc.HandleCallback(ctx, "auth-code", encodedState)
	assert.Equal(t, KindTokensNotFound, flowKind(t, err))
}

func TestKeyRotationForcesOneRefresh(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	// First login fills the key cache with the original key.
	encodedState := e.beginLogin()
	_, err := e.svc.HandleCallback(ctx, "auth-code", encodedState)
	require.NoError(t, err)

	// Provider rotates to a new key. The cache is still fresh, so the first
	// verification misses the kid and the flow forces a single refresh.
	rotated, err := jwks.NewKeyPair()
	require.NoError(t, err)
	e.jwksKeys = []*jwks.KeyPair{rotated}
	e.signWith = rotated

	encodedState = e.beginLogin()
	_, err = e.svc.HandleCallback(ctx, "auth-code", encodedState)
	require.NoError(t, err)
}

func TestTokenSignedByRotatedOutKeyFails(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	old := e.signWith

	// Rotate the served key set away from the signing key.
	rotated, err := jwks.NewKeyPair()
	require.NoError(t, err)
	e.jwksKeys = []*jwks.KeyPair{rotated}
	e.signWith = old

	encodedState := e.beginLogin()
	_, err = e.svc.HandleCallback(ctx, "auth-code", encodedState)
	assert.Equal(t, KindIdentityInvalid, flowKind(t, err))
}

func TestRefreshSession(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	encodedState := e.beginLogin()
	result, err := e.svc.HandleCallback(ctx, "auth-code", encodedState)
	require.NoError(t, err)

	refreshed, err := e.svc.RefreshSession(ctx, result.User.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, refreshed.Tokens.AccessToken)
	assert.Equal(t, []string{"provider-refresh"}, e.refreshedTokens)

	stored, err := e.users.GetTokens(ctx, result.User.ID)
	require.NoError(t, err)
	assert.Equal(t, "provider-access-refreshed", stored.AccessToken)
}

func TestLogout(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	encodedState := e.beginLogin()
	result, err := e.svc.HandleCallback(ctx, "auth-code", encodedState)
	require.NoError(t, err)

	require.NoError(t, e.svc.Logout(ctx, result.User.ID))
	assert.Equal(t, []string{"provider-access"}, e.revokedTokens)

	// No tokens stored for an unknown user is not an error.
	require.NoError(t, e.svc.Logout(ctx, uuid.New()))
}
