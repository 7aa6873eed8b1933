package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client performs the token and user-resource calls against the external
// identity provider. Every call is a single synchronous HTTPS round trip; no
// retries happen at this layer.
type Client struct {
	config     *Config
	httpClient *http.Client
}

// Option is a function that configures a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client used for provider calls.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// NewClient creates a provider client with a 30 second default timeout.
func NewClient(config *Config, opts ...Option) *Client {
	client := &Client{
		config:     config,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}

	for _, opt := range opts {
		opt(client)
	}

	return client
}

// Config returns the provider configuration the client was built with.
func (c *Client) Config() *Config {
	return c.config
}

// ExchangeCode exchanges an authorization code plus PKCE verifier for tokens.
func (c *Client) ExchangeCode(ctx context.Context, code, codeVerifier, redirectURI string) (*TokenSet, error) {
	data := url.Values{}
	data.Set("client_id", c.config.ClientID)
	data.Set("client_secret", c.config.ClientSecret)
	data.Set("grant_type", "authorization_code")
	data.Set("code", code)
	data.Set("redirect_uri", redirectURI)
	data.Set("code_verifier", codeVerifier)

	var tokens TokenSet
	if err := c.postForm(ctx, "token exchange", c.config.TokenURL, data, &tokens); err != nil {
		return nil, err
	}

	slog.Info("Token exchange successful", "token_type", tokens.TokenType, "scope", tokens.Scope)
	return &tokens, nil
}

// Refresh exchanges a refresh token for a fresh token set.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*TokenSet, error) {
	data := url.Values{}
	data.Set("client_id", c.config.ClientID)
	data.Set("client_secret", c.config.ClientSecret)
	data.Set("grant_type", "refresh_token")
	data.Set("refresh_token", refreshToken)

	var tokens TokenSet
	if err := c.postForm(ctx, "token refresh", c.config.TokenURL, data, &tokens); err != nil {
		return nil, err
	}

	slog.Info("Token refresh successful", "token_type", tokens.TokenType)
	return &tokens, nil
}

// Revoke revokes an access token at the provider.
func (c *Client) Revoke(ctx context.Context, accessToken string) error {
	data := url.Values{}
	data.Set("client_id", c.config.ClientID)
	data.Set("client_secret", c.config.ClientSecret)
	data.Set("token", accessToken)
	data.Set("token_type_hint", "access_token")

	return c.postForm(ctx, "token revocation", c.config.RevokeURL, data, nil)
}

// GetUser fetches the provider's user resource with a bearer token.
func (c *Client) GetUser(ctx context.Context, accessToken string) (*User, error) {
	const op = "user resource fetch"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.UserURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create user request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	body, err := c.do(op, req)
	if err != nil {
		return nil, err
	}

	var user User
	if err := json.Unmarshal(body, &user); err != nil {
		return nil, fmt.Errorf("failed to parse user response: %w", err)
	}

	if user.ID == "" {
		return nil, fmt.Errorf("no user id in user response")
	}

	slog.Info("User resource retrieved", "user_id", user.ID, "username", user.Username)
	return &user, nil
}

// postForm posts a form-encoded request and decodes the JSON response into
// out when out is non-nil.
func (c *Client) postForm(ctx context.Context, op, endpoint string, data url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(data.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	body, err := c.do(op, req)
	if err != nil {
		return err
	}

	if out == nil {
		return nil
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse %s response: %w", op, err)
	}

	return nil
}

// do executes the request and classifies failures: transport errors become
// *NetworkError, non-2xx responses become *HTTPError with the raw body.
func (c *Client) do(op string, req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{Op: op, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &HTTPError{Op: op, StatusCode: resp.StatusCode, Body: string(body)}
	}

	return body, nil
}
