package provider

import (
	"fmt"
	"net/url"
	"strings"
)

// DefaultScopes is the scope string requested on every authorization:
// the provider's identity scope plus OIDC.
var DefaultScopes = []string{"identify", "openid"}

// Config holds the client settings for the external identity provider.
type Config struct {
	ClientID     string
	ClientSecret string
	AuthorizeURL string
	TokenURL     string
	RevokeURL    string
	UserURL      string
	JWKSURL      string
	Issuer       string
	Scopes       []string
}

// Validate checks that all required provider settings are present.
func (c *Config) Validate() error {
	if c.ClientID == "" {
		return fmt.Errorf("client ID is required")
	}
	if c.ClientSecret == "" {
		return fmt.Errorf("client secret is required")
	}
	for name, value := range map[string]string{
		"authorization URL": c.AuthorizeURL,
		"token URL":         c.TokenURL,
		"revoke URL":        c.RevokeURL,
		"user URL":          c.UserURL,
		"JWKS URL":          c.JWKSURL,
	} {
		if value == "" {
			return fmt.Errorf("%s is required", name)
		}
		if _, err := url.Parse(value); err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
	}
	if c.Issuer == "" {
		return fmt.Errorf("issuer is required")
	}
	return nil
}

// ScopeString returns the space-joined scope parameter value.
func (c *Config) ScopeString() string {
	scopes := c.Scopes
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}
	return strings.Join(scopes, " ")
}

// AuthorizeParams are the per-attempt values bound into an authorization URL.
type AuthorizeParams struct {
	RedirectURI   string
	State         string
	Nonce         string
	CodeChallenge string
}

// BuildAuthorizeURL builds the provider authorization URL for one attempt.
// The challenge method is pinned to S256.
func (c *Config) BuildAuthorizeURL(params AuthorizeParams) (string, error) {
	authURL, err := url.Parse(c.AuthorizeURL)
	if err != nil {
		return "", fmt.Errorf("invalid authorization URL: %w", err)
	}

	values := url.Values{}
	values.Set("client_id", c.ClientID)
	values.Set("response_type", "code")
	values.Set("redirect_uri", params.RedirectURI)
	values.Set("scope", c.ScopeString())
	values.Set("state", params.State)
	values.Set("nonce", params.Nonce)
	values.Set("code_challenge", params.CodeChallenge)
	values.Set("code_challenge_method", "S256")

	authURL.RawQuery = values.Encode()
	return authURL.String(), nil
}
