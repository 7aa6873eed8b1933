package authstate

import (
	"context"
	"fmt"
	"sync"
)

// ErrAttemptNotFound is returned when no attempt exists for a session id.
var ErrAttemptNotFound = fmt.Errorf("authorization attempt not found")

// Repository defines storage for authorization attempts. There is no update
// operation: attempts are immutable once saved.
type Repository interface {
	// Save inserts a new attempt. A session id collision is an error.
	Save(ctx context.Context, attempt *AuthorizationAttempt) error

	// FindBySessionID retrieves an attempt, ErrAttemptNotFound if absent.
	FindBySessionID(ctx context.Context, sessionID string) (*AuthorizationAttempt, error)

	// Delete removes an attempt. Idempotent; no error if absent.
	Delete(ctx context.Context, sessionID string) error
}

// InMemoryRepository implements Repository using in-memory storage.
type InMemoryRepository struct {
	attempts map[string]*AuthorizationAttempt
	mutex    sync.RWMutex
}

// NewInMemoryRepository creates a new in-memory attempt repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		attempts: make(map[string]*AuthorizationAttempt),
	}
}

// Save inserts a new attempt.
func (r *InMemoryRepository) Save(ctx context.Context, attempt *AuthorizationAttempt) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.attempts[attempt.SessionID]; exists {
		return fmt.Errorf("authorization attempt already exists: %s", attempt.SessionID)
	}

	stored := *attempt
	r.attempts[attempt.SessionID] = &stored
	return nil
}

// FindBySessionID retrieves an attempt by session id.
func (r *InMemoryRepository) FindBySessionID(ctx context.Context, sessionID string) (*AuthorizationAttempt, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	attempt, exists := r.attempts[sessionID]
	if !exists {
		return nil, ErrAttemptNotFound
	}

	found := *attempt
	return &found, nil
}

// Delete removes an attempt by session id.
func (r *InMemoryRepository) Delete(ctx context.Context, sessionID string) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	delete(r.attempts, sessionID)
	return nil
}
