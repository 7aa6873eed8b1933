package authstate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryRepository(t *testing.T) {
	ctx := context.Background()

	newAttempt := func() *AuthorizationAttempt {
		return &AuthorizationAttempt{
			SessionID:    "session-1",
			State:        "state-1",
			Nonce:        "nonce-1",
			CodeVerifier: "verifier-1",
			ExpiresAt:    time.Now().UTC().Add(15 * time.Minute),
		}
	}

	t.Run("SaveAndFind", func(t *testing.T) {
		repo := NewInMemoryRepository()
		attempt := newAttempt()
		require.NoError(t, repo.Save(ctx, attempt))

		found, err := repo.FindBySessionID(ctx, "session-1")
		require.NoError(t, err)
		assert.Equal(t, attempt.State, found.State)
		assert.Equal(t, attempt.Nonce, found.Nonce)
		assert.Equal(t, attempt.CodeVerifier, found.CodeVerifier)
	})

	t.Run("FindMissing", func(t *testing.T) {
		repo := NewInMemoryRepository()
		_, err := repo.FindBySessionID(ctx, "absent")
		assert.ErrorIs(t, err, ErrAttemptNotFound)
	})

	t.Run("SaveCollision", func(t *testing.T) {
		repo := NewInMemoryRepository()
		require.NoError(t, repo.Save(ctx, newAttempt()))
		assert.Error(t, repo.Save(ctx, newAttempt()))
	})

	t.Run("DeleteIsIdempotent", func(t *testing.T) {
		repo := NewInMemoryRepository()
		require.NoError(t, repo.Save(ctx, newAttempt()))

		require.NoError(t, repo.Delete(ctx, "session-1"))
		_, err := repo.FindBySessionID(ctx, "session-1")
		assert.ErrorIs(t, err, ErrAttemptNotFound)

		// Second delete is a no-op
		require.NoError(t, repo.Delete(ctx, "session-1"))
	})

	t.Run("StoredCopyIsIsolated", func(t *testing.T) {
		repo := NewInMemoryRepository()
		attempt := newAttempt()
		require.NoError(t, repo.Save(ctx, attempt))

		attempt.State = "mutated"
		found, err := repo.FindBySessionID(ctx, "session-1")
		require.NoError(t, err)
		assert.Equal(t, "state-1", found.State)
	})
}

func TestStateCodec(t *testing.T) {
	t.Run("RoundTrip", func(t *testing.T) {
		encoded := EncodeState("abc123", "xyz789")
		sessionID, state, err := DecodeState(encoded)
		require.NoError(t, err)
		assert.Equal(t, "abc123", sessionID)
		assert.Equal(t, "xyz789", state)
	})

	t.Run("NotBase64", func(t *testing.T) {
		_, _, err := DecodeState("not base64!!")
		assert.Error(t, err)
	})

	t.Run("MissingSeparator", func(t *testing.T) {
		_, _, err := DecodeState("YWJjMTIz") // "abc123", no colon
		assert.Error(t, err)
	})

	t.Run("EmptyComponent", func(t *testing.T) {
		_, _, err := DecodeState("Onh5eg") // ":xyz"
		assert.Error(t, err)
	})
}

func TestAttemptExpired(t *testing.T) {
	now := time.Now().UTC()
	attempt := &AuthorizationAttempt{ExpiresAt: now.Add(15 * time.Minute)}

	assert.False(t, attempt.Expired(now))
	assert.False(t, attempt.Expired(now.Add(14*time.Minute)))
	assert.True(t, attempt.Expired(now.Add(16*time.Minute)))
}
