package jwks

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultCacheTTL bounds both provider load and the staleness window during
// key rotation.
const DefaultCacheTTL = time.Hour

// fallbackKeySet is the embedded key set used when the provider rate-limits
// the JWKS endpoint. Versioned alongside the system; its use weakens freshness
// guarantees and is surfaced to operators via logs and FallbackUses.
//
//go:embed fallback_jwks.json
var fallbackKeySet []byte

// KeySetUnavailableError is returned when no usable key set can be produced:
// no fresh cache exists and the remote fetch failed.
type KeySetUnavailableError struct {
	RateLimited bool
	Err         error
}

func (e *KeySetUnavailableError) Error() string {
	if e.RateLimited {
		return fmt.Sprintf("key set unavailable: provider rate limited: %v", e.Err)
	}
	return fmt.Sprintf("key set unavailable: %v", e.Err)
}

func (e *KeySetUnavailableError) Unwrap() error {
	return e.Err
}

// cachedKeySet is the process-lifetime cache state. It is replaced wholesale
// on refresh and never mutated in place, so a last-writer-wins swap between
// concurrent refreshers is safe.
type cachedKeySet struct {
	keys      []*Key
	expiresAt time.Time
}

// KeyManager fetches, filters and caches the provider's public signing keys.
type KeyManager struct {
	jwksURL    string
	httpClient *http.Client
	cacheTTL   time.Duration
	fallback   []byte

	mutex sync.RWMutex
	cache *cachedKeySet

	fallbackUses atomic.Int64
}

// KeyManagerOption is a function that configures a KeyManager.
type KeyManagerOption func(*KeyManager)

// WithHTTPClient sets the HTTP client used for JWKS fetches.
func WithHTTPClient(client *http.Client) KeyManagerOption {
	return func(m *KeyManager) {
		m.httpClient = client
	}
}

// WithCacheTTL sets the cache validity window.
func WithCacheTTL(ttl time.Duration) KeyManagerOption {
	return func(m *KeyManager) {
		m.cacheTTL = ttl
	}
}

// WithFallbackKeySet replaces the embedded rate-limit fallback key set with
// raw JWKS JSON.
func WithFallbackKeySet(raw []byte) KeyManagerOption {
	return func(m *KeyManager) {
		m.fallback = raw
	}
}

// NewKeyManager creates a key manager for the given JWKS endpoint.
func NewKeyManager(jwksURL string, opts ...KeyManagerOption) *KeyManager {
	manager := &KeyManager{
		jwksURL:    jwksURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		cacheTTL:   DefaultCacheTTL,
		fallback:   fallbackKeySet,
	}

	for _, opt := range opts {
		opt(manager)
	}

	return manager
}

// PublicKeys returns the provider's current signing keys, serving from the
// cache while it is fresh and refreshing it otherwise.
func (m *KeyManager) PublicKeys(ctx context.Context) ([]*Key, error) {
	m.mutex.RLock()
	cache := m.cache
	m.mutex.RUnlock()

	if cache != nil && time.Now().Before(cache.expiresAt) {
		return cache.keys, nil
	}

	return m.Refresh(ctx)
}

// Refresh fetches the remote key set unconditionally and replaces the cache.
// Concurrent refreshers may each fetch; each produces a self-consistent set
// and the last write wins.
func (m *KeyManager) Refresh(ctx context.Context) ([]*Key, error) {
	jwks, err := m.fetch(ctx)
	if err != nil {
		if rateErr, ok := err.(*rateLimitedError); ok {
			return m.installFallback(rateErr)
		}
		return nil, &KeySetUnavailableError{Err: err}
	}

	keys := importKeys(jwks)
	m.install(keys)

	slog.Info("JWKS cache refreshed", "keys", len(keys), "ttl", m.cacheTTL)
	return keys, nil
}

// FallbackUses returns how many times the embedded fallback key set has been
// installed. Non-zero values indicate degraded verification freshness.
func (m *KeyManager) FallbackUses() int64 {
	return m.fallbackUses.Load()
}

// rateLimitedError marks an HTTP 429 from the JWKS endpoint.
type rateLimitedError struct {
	body string
}

func (e *rateLimitedError) Error() string {
	return fmt.Sprintf("JWKS fetch rate limited: %s", e.body)
}

func (m *KeyManager) fetch(ctx context.Context) (*JWKS, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.jwksURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create JWKS request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch JWKS: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read JWKS response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &rateLimitedError{body: string(body)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("JWKS fetch failed with status %d: %s", resp.StatusCode, string(body))
	}

	var jwks JWKS
	if err := json.Unmarshal(body, &jwks); err != nil {
		return nil, fmt.Errorf("failed to parse JWKS response: %w", err)
	}

	return &jwks, nil
}

// installFallback handles the rate-limited path: embedded fallback first,
// then a stale cache, then failure.
func (m *KeyManager) installFallback(cause *rateLimitedError) ([]*Key, error) {
	var jwks JWKS
	if err := json.Unmarshal(m.fallback, &jwks); err == nil {
		if keys := importKeys(&jwks); len(keys) > 0 {
			m.install(keys)
			m.fallbackUses.Add(1)
			slog.Warn("JWKS fetch rate limited, installed embedded fallback key set",
				"keys", len(keys), "fallback_uses", m.fallbackUses.Load())
			return keys, nil
		}
	}

	m.mutex.RLock()
	cache := m.cache
	m.mutex.RUnlock()

	if cache != nil {
		slog.Warn("JWKS fetch rate limited and fallback unusable, serving stale cache",
			"keys", len(cache.keys), "stale_since", cache.expiresAt)
		return cache.keys, nil
	}

	return nil, &KeySetUnavailableError{RateLimited: true, Err: cause}
}

// install replaces the cache wholesale and resets the TTL.
func (m *KeyManager) install(keys []*Key) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.cache = &cachedKeySet{
		keys:      keys,
		expiresAt: time.Now().Add(m.cacheTTL),
	}
}

// importKeys filters and imports the entries of a key set. Entries that are
// not RSA signature keys for the pinned algorithm, or that fail to import,
// are logged and skipped; a partially populated set is acceptable.
func importKeys(jwks *JWKS) []*Key {
	keys := make([]*Key, 0, len(jwks.Keys))
	for i := range jwks.Keys {
		entry := &jwks.Keys[i]
		if !entry.Verifiable() {
			slog.Debug("Skipping non-verification JWKS entry", "kid", entry.Kid, "kty", entry.Kty, "use", entry.Use, "alg", entry.Alg)
			continue
		}

		key, err := entry.Import()
		if err != nil {
			slog.Warn("Skipping unparseable JWKS entry", "kid", entry.Kid, "error", err)
			continue
		}
		keys = append(keys, key)
	}
	return keys
}
