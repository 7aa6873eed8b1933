package user

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRepository implements Repository using PostgreSQL.
//
// Expected schema:
//
//	CREATE TABLE users (
//	    id               UUID PRIMARY KEY,
//	    provider_user_id TEXT NOT NULL UNIQUE,
//	    username         TEXT NOT NULL,
//	    avatar_url       TEXT NOT NULL DEFAULT '',
//	    created_at       TIMESTAMPTZ NOT NULL
//	);
//
//	CREATE TABLE provider_tokens (
//	    user_id       UUID PRIMARY KEY REFERENCES users (id),
//	    access_token  TEXT NOT NULL,
//	    refresh_token TEXT NOT NULL,
//	    expires_at    TIMESTAMPTZ NOT NULL,
//	    scope         TEXT NOT NULL DEFAULT '',
//	    token_type    TEXT NOT NULL DEFAULT ''
//	);
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL user repository.
func NewPostgresRepository(db *pgxpool.Pool) (*PostgresRepository, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection cannot be nil")
	}

	return &PostgresRepository{db: db}, nil
}

// FindByProviderUserID looks a user up by provider subject id.
func (r *PostgresRepository) FindByProviderUserID(ctx context.Context, providerUserID string) (*User, error) {
	query := `
		SELECT id, provider_user_id, username, avatar_url, created_at
		FROM users
		WHERE provider_user_id = $1
	`
	return r.scanUser(r.db.QueryRow(ctx, query, providerUserID))
}

// FindByID looks a user up by local id.
func (r *PostgresRepository) FindByID(ctx context.Context, id uuid.UUID) (*User, error) {
	query := `
		SELECT id, provider_user_id, username, avatar_url, created_at
		FROM users
		WHERE id = $1
	`
	return r.scanUser(r.db.QueryRow(ctx, query, id))
}

func (r *PostgresRepository) scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.ProviderUserID, &u.Username, &u.AvatarURL, &u.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}

// Create inserts a new user.
func (r *PostgresRepository) Create(ctx context.Context, u *User) error {
	query := `
		INSERT INTO users (id, provider_user_id, username, avatar_url, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := r.db.Exec(ctx, query, u.ID, u.ProviderUserID, u.Username, u.AvatarURL, u.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}

	return nil
}

// GetTokens retrieves provider tokens for a user.
func (r *PostgresRepository) GetTokens(ctx context.Context, userID uuid.UUID) (*ProviderTokens, error) {
	query := `
		SELECT user_id, access_token, refresh_token, expires_at, scope, token_type
		FROM provider_tokens
		WHERE user_id = $1
	`

	var tokens ProviderTokens
	err := r.db.QueryRow(ctx, query, userID).Scan(
		&tokens.UserID,
		&tokens.AccessToken,
		&tokens.RefreshToken,
		&tokens.ExpiresAt,
		&tokens.Scope,
		&tokens.TokenType,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrTokensNotFound
		}
		return nil, fmt.Errorf("failed to get provider tokens: %w", err)
	}

	return &tokens, nil
}

// SaveTokens inserts or replaces provider tokens for a user.
func (r *PostgresRepository) SaveTokens(ctx context.Context, tokens *ProviderTokens) error {
	query := `
		INSERT INTO provider_tokens (user_id, access_token, refresh_token, expires_at, scope, token_type)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id) DO UPDATE SET
			access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			expires_at = EXCLUDED.expires_at,
			scope = EXCLUDED.scope,
			token_type = EXCLUDED.token_type
	`

	_, err := r.db.Exec(ctx, query,
		tokens.UserID,
		tokens.AccessToken,
		tokens.RefreshToken,
		tokens.ExpiresAt,
		tokens.Scope,
		tokens.TokenType,
	)
	if err != nil {
		return fmt.Errorf("failed to save provider tokens: %w", err)
	}

	return nil
}
