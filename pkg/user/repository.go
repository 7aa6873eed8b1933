package user

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

var (
	// ErrUserNotFound is returned when no user exists for a lookup key.
	ErrUserNotFound = fmt.Errorf("user not found")

	// ErrTokensNotFound is returned when no provider tokens exist for a user.
	// For an existing user this indicates a data-integrity problem, not a
	// recoverable condition.
	ErrTokensNotFound = fmt.Errorf("provider tokens not found")
)

// Repository defines storage for local users and their provider tokens.
type Repository interface {
	// FindByProviderUserID looks a user up by the provider's subject id.
	FindByProviderUserID(ctx context.Context, providerUserID string) (*User, error)

	// FindByID looks a user up by local id.
	FindByID(ctx context.Context, id uuid.UUID) (*User, error)

	// Create inserts a new user.
	Create(ctx context.Context, u *User) error

	// GetTokens retrieves the provider tokens for a local user.
	GetTokens(ctx context.Context, userID uuid.UUID) (*ProviderTokens, error)

	// SaveTokens inserts or replaces the provider tokens for a local user.
	SaveTokens(ctx context.Context, tokens *ProviderTokens) error
}

// InMemoryRepository implements Repository using in-memory storage.
type InMemoryRepository struct {
	users  map[uuid.UUID]*User
	tokens map[uuid.UUID]*ProviderTokens
	mutex  sync.RWMutex
}

// NewInMemoryRepository creates a new in-memory user repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		users:  make(map[uuid.UUID]*User),
		tokens: make(map[uuid.UUID]*ProviderTokens),
	}
}

// FindByProviderUserID looks a user up by provider subject id.
func (r *InMemoryRepository) FindByProviderUserID(ctx context.Context, providerUserID string) (*User, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	for _, u := range r.users {
		if u.ProviderUserID == providerUserID {
			found := *u
			return &found, nil
		}
	}
	return nil, ErrUserNotFound
}

// FindByID looks a user up by local id.
func (r *InMemoryRepository) FindByID(ctx context.Context, id uuid.UUID) (*User, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	u, exists := r.users[id]
	if !exists {
		return nil, ErrUserNotFound
	}
	found := *u
	return &found, nil
}

// Create inserts a new user.
func (r *InMemoryRepository) Create(ctx context.Context, u *User) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.users[u.ID]; exists {
		return fmt.Errorf("user already exists: %s", u.ID)
	}
	for _, existing := range r.users {
		if existing.ProviderUserID == u.ProviderUserID {
			return fmt.Errorf("user already exists for provider id: %s", u.ProviderUserID)
		}
	}

	stored := *u
	r.users[u.ID] = &stored
	return nil
}

// GetTokens retrieves provider tokens for a user.
func (r *InMemoryRepository) GetTokens(ctx context.Context, userID uuid.UUID) (*ProviderTokens, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	tokens, exists := r.tokens[userID]
	if !exists {
		return nil, ErrTokensNotFound
	}
	found := *tokens
	return &found, nil
}

// SaveTokens inserts or replaces provider tokens for a user.
func (r *InMemoryRepository) SaveTokens(ctx context.Context, tokens *ProviderTokens) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	stored := *tokens
	r.tokens[tokens.UserID] = &stored
	return nil
}

// Counts returns the number of users and token rows, for tests.
func (r *InMemoryRepository) Counts() (users, tokens int) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return len(r.users), len(r.tokens)
}
