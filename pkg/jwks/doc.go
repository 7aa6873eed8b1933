// Package jwks fetches, filters and caches the identity provider's published
// signing keys (RFC 7517) for identity token verification.
//
// The KeyManager keeps a process-lifetime cache with a fixed TTL and replaces
// it wholesale on each successful refresh. When the provider rate-limits the
// JWKS endpoint, an embedded fallback key set is installed instead; this
// trades freshness for availability and is surfaced to operators through
// warning logs and the FallbackUses counter.
package jwks
