package authflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/propshq/props/pkg/apptoken"
	"github.com/propshq/props/pkg/authstate"
	"github.com/propshq/props/pkg/idtoken"
	"github.com/propshq/props/pkg/jwks"
	"github.com/propshq/props/pkg/pkce"
	"github.com/propshq/props/pkg/provider"
	"github.com/propshq/props/pkg/user"
)

// CallbackPath is the route the provider redirects back to, appended to the
// application's public base URL.
const CallbackPath = "/auth/callback"

// DefaultAttemptTTL is the validity window of an authorization attempt.
const DefaultAttemptTTL = 15 * time.Minute

// KeyManager is the slice of the jwks.KeyManager surface the flow needs:
// key reads for verification plus one forced refresh when a kid lookup
// misses against a possibly-stale cache.
type KeyManager interface {
	PublicKeys(ctx context.Context) ([]*jwks.Key, error)
	Refresh(ctx context.Context) ([]*jwks.Key, error)
}

// Service runs the authorization flow: it initiates login attempts and
// processes provider callbacks through to an application token pair.
type Service struct {
	attempts   authstate.Repository
	users      user.Repository
	client     *provider.Client
	keys       KeyManager
	verifier   *idtoken.Verifier
	tokens     *apptoken.Service
	baseURL    string
	attemptTTL time.Duration
}

// Option is a function that configures a Service.
type Option func(*Service)

// WithBaseURL sets the application's public base URL used to build the
// redirect URI.
func WithBaseURL(baseURL string) Option {
	return func(s *Service) {
		s.baseURL = strings.TrimSuffix(baseURL, "/")
	}
}

// WithAttemptTTL sets the authorization attempt validity window.
func WithAttemptTTL(ttl time.Duration) Option {
	return func(s *Service) {
		s.attemptTTL = ttl
	}
}

// NewService wires the flow service. The identity token verifier is pinned to
// the provider's issuer from the client configuration.
func NewService(
	attempts authstate.Repository,
	users user.Repository,
	client *provider.Client,
	keys KeyManager,
	tokens *apptoken.Service,
	opts ...Option,
) *Service {
	service := &Service{
		attempts:   attempts,
		users:      users,
		client:     client,
		keys:       keys,
		verifier:   idtoken.NewVerifier(keys, client.Config().Issuer),
		tokens:     tokens,
		baseURL:    "http://localhost:4000",
		attemptTTL: DefaultAttemptTTL,
	}

	for _, opt := range opts {
		opt(service)
	}

	return service
}

// LoginInitiation is the outcome of starting an authorization attempt.
type LoginInitiation struct {
	AuthorizationURL string
	SessionID        string
}

// LoginResult is the outcome of a completed callback.
type LoginResult struct {
	User    *user.User
	Tokens  *apptoken.TokenPair
	NewUser bool
}

func (s *Service) redirectURI() string {
	return s.baseURL + CallbackPath
}

// InitiateLogin generates the attempt values, records the attempt and builds
// the provider authorization URL. The session id and anti-CSRF state travel
// through the provider as one encoded state parameter.
func (s *Service) InitiateLogin(ctx context.Context) (*LoginInitiation, error) {
	sessionID, err := pkce.RandomString(pkce.SessionIDLength)
	if err != nil {
		return nil, fmt.Errorf("failed to generate session id: %w", err)
	}
	state, err := pkce.RandomString(pkce.StateLength)
	if err != nil {
		return nil, fmt.Errorf("failed to generate state: %w", err)
	}
	nonce, err := pkce.RandomString(pkce.NonceLength)
	if err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	codeVerifier, err := pkce.GenerateCodeVerifier()
	if err != nil {
		return nil, err
	}

	attempt := &authstate.AuthorizationAttempt{
		SessionID:    sessionID,
		State:        state,
		Nonce:        nonce,
		CodeVerifier: codeVerifier,
		ExpiresAt:    time.Now().UTC().Add(s.attemptTTL),
	}
	if err := s.attempts.Save(ctx, attempt); err != nil {
		return nil, fmt.Errorf("failed to store authorization attempt: %w", err)
	}

	authURL, err := s.client.Config().BuildAuthorizeURL(provider.AuthorizeParams{
		RedirectURI:   s.redirectURI(),
		State:         authstate.EncodeState(sessionID, state),
		Nonce:         nonce,
		CodeChallenge: pkce.CodeChallenge(codeVerifier),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build authorization URL: %w", err)
	}

	slog.Info("Login initiated", "session_id", sessionID)
	return &LoginInitiation{AuthorizationURL: authURL, SessionID: sessionID}, nil
}

// HandleCallback processes the provider redirect: it redeems the one-time
// attempt, exchanges the code, verifies the identity token, cross-checks the
// provider user resource, reconciles the local user and issues application
// tokens. The attempt record is deleted regardless of outcome; a failed
// callback leaves no partial state and the user must start over.
func (s *Service) HandleCallback(ctx context.Context, code, encodedState string) (*LoginResult, error) {
	sessionID, state, err := authstate.DecodeState(encodedState)
	if err != nil {
		return nil, flowErr(KindMalformedState, err)
	}

	attempt, ferr := s.redeemAttempt(ctx, sessionID, state)
	if ferr != nil {
		return nil, ferr
	}

	tokens, err := s.client.ExchangeCode(ctx, code, attempt.CodeVerifier, s.redirectURI())
	if err != nil {
		return nil, flowErr(KindTokenExchange, err)
	}

	identity, ferr := s.verifyIdentity(ctx, tokens.IDToken, attempt.Nonce)
	if ferr != nil {
		return nil, ferr
	}

	providerUser, err := s.client.GetUser(ctx, tokens.AccessToken)
	if err != nil {
		return nil, flowErr(KindUserFetch, err)
	}

	// The identity token and the user resource must resolve to the same
	// account; a mismatch points at a confused-deputy scenario.
	if identity.Subject != providerUser.ID {
		slog.Error("Identity subject does not match user resource id",
			"subject", identity.Subject, "user_id", providerUser.ID)
		return nil, flowErr(KindUserIDMismatch, fmt.Errorf("subject %q, user resource id %q", identity.Subject, providerUser.ID))
	}

	result, ferr := s.reconcileUser(ctx, providerUser, tokens)
	if ferr != nil {
		return nil, ferr
	}

	pair, err := s.tokens.IssueTokenPair(result.User.ID, result.User.Username)
	if err != nil {
		return nil, flowErr(KindInternal, err)
	}
	result.Tokens = pair

	slog.Info("Login completed", "user_id", result.User.ID, "provider_user_id", providerUser.ID, "new_user", result.NewUser)
	return result, nil
}

// redeemAttempt consumes the attempt for this session. Once the attempt has
// been read it is deleted no matter how redemption or any later step turns
// out, so a partially failed attempt can never be replayed.
func (s *Service) redeemAttempt(ctx context.Context, sessionID, state string) (*authstate.AuthorizationAttempt, *FlowError) {
	attempt, err := s.attempts.FindBySessionID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, authstate.ErrAttemptNotFound) {
			return nil, flowErr(KindStateNotFound, err)
		}
		return nil, flowErr(KindInternal, err)
	}

	defer func() {
		if err := s.attempts.Delete(ctx, sessionID); err != nil {
			slog.Warn("Failed to delete authorization attempt", "session_id", sessionID, "error", err)
		}
	}()

	if attempt.State != state {
		return nil, flowErr(KindStateMismatch, fmt.Errorf("state does not match recorded attempt"))
	}
	if attempt.Expired(time.Now().UTC()) {
		return nil, flowErr(KindStateExpired, fmt.Errorf("attempt expired at %s", attempt.ExpiresAt))
	}

	return attempt, nil
}

// verifyIdentity verifies the identity token, forcing one key refresh when
// the token's kid is absent from the cache. That miss is expected during key
// rotation while the cache is stale, so it is worth exactly one retry.
func (s *Service) verifyIdentity(ctx context.Context, rawToken, nonce string) (*idtoken.Identity, *FlowError) {
	audience := s.client.Config().ClientID

	identity, err := s.verifier.Verify(ctx, rawToken, audience, nonce)
	var verifyErr *idtoken.VerifyError
	if errors.As(err, &verifyErr) && verifyErr.Kind == idtoken.KindKeyNotFound {
		slog.Info("Signing key not in cache, forcing key set refresh")
		if _, refreshErr := s.keys.Refresh(ctx); refreshErr != nil {
			var unavailable *jwks.KeySetUnavailableError
			if errors.As(refreshErr, &unavailable) {
				return nil, flowErr(KindKeySetUnavailable, refreshErr)
			}
			return nil, flowErr(KindInternal, refreshErr)
		}
		identity, err = s.verifier.Verify(ctx, rawToken, audience, nonce)
	}
	if err != nil {
		var unavailable *jwks.KeySetUnavailableError
		if errors.As(err, &unavailable) {
			return nil, flowErr(KindKeySetUnavailable, err)
		}
		slog.Warn("Identity token verification failed", "error", err)
		return nil, flowErr(KindIdentityInvalid, err)
	}

	return identity, nil
}

// reconcileUser finds the local user for the provider identity or creates it.
// New users get the provider token set persisted alongside them; existing
// users must already have one.
func (s *Service) reconcileUser(ctx context.Context, providerUser *provider.User, tokens *provider.TokenSet) (*LoginResult, *FlowError) {
	existing, err := s.users.FindByProviderUserID(ctx, providerUser.ID)
	if err != nil {
		if !errors.Is(err, user.ErrUserNotFound) {
			return nil, flowErr(KindInternal, err)
		}

		created := &user.User{
			ID:             uuid.New(),
			ProviderUserID: providerUser.ID,
			Username:       providerUser.Username,
			AvatarURL:      providerUser.Avatar,
			CreatedAt:      time.Now().UTC(),
		}
		if err := s.users.Create(ctx, created); err != nil {
			return nil, flowErr(KindInternal, err)
		}
		if err := s.users.SaveTokens(ctx, providerTokens(created.ID, tokens)); err != nil {
			return nil, flowErr(KindInternal, err)
		}

		slog.Info("Created new user", "user_id", created.ID, "provider_user_id", providerUser.ID)
		return &LoginResult{User: created, NewUser: true}, nil
	}

	if _, err := s.users.GetTokens(ctx, existing.ID); err != nil {
		if errors.Is(err, user.ErrTokensNotFound) {
			slog.Error("Existing user has no stored provider tokens", "user_id", existing.ID)
			return nil, flowErr(KindTokensNotFound, err)
		}
		return nil, flowErr(KindInternal, err)
	}

	return &LoginResult{User: existing, NewUser: false}, nil
}

// RefreshSession exchanges the stored provider refresh token for fresh
// provider tokens, persists them and mints a new application token pair.
func (s *Service) RefreshSession(ctx context.Context, userID uuid.UUID) (*LoginResult, error) {
	u, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	stored, err := s.users.GetTokens(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load provider tokens: %w", err)
	}

	refreshed, err := s.client.Refresh(ctx, stored.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("provider token refresh failed: %w", err)
	}

	if err := s.users.SaveTokens(ctx, providerTokens(userID, refreshed)); err != nil {
		return nil, fmt.Errorf("failed to save refreshed tokens: %w", err)
	}

	pair, err := s.tokens.IssueTokenPair(u.ID, u.Username)
	if err != nil {
		return nil, err
	}

	return &LoginResult{User: u, Tokens: pair}, nil
}

// Logout revokes the stored provider access token. Revocation is best-effort:
// a missing token record means there is nothing to revoke.
func (s *Service) Logout(ctx context.Context, userID uuid.UUID) error {
	stored, err := s.users.GetTokens(ctx, userID)
	if err != nil {
		if errors.Is(err, user.ErrTokensNotFound) {
			return nil
		}
		return fmt.Errorf("failed to load provider tokens: %w", err)
	}

	if err := s.client.Revoke(ctx, stored.AccessToken); err != nil {
		return fmt.Errorf("provider token revocation failed: %w", err)
	}

	slog.Info("Provider access token revoked", "user_id", userID)
	return nil
}

// providerTokens converts the provider's relative expiry into the absolute
// expiry stored alongside the user.
func providerTokens(userID uuid.UUID, tokens *provider.TokenSet) *user.ProviderTokens {
	return &user.ProviderTokens{
		UserID:       userID,
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		ExpiresAt:    time.Now().UTC().Add(time.Duration(tokens.ExpiresIn) * time.Second),
		Scope:        tokens.Scope,
		TokenType:    tokens.TokenType,
	}
}
