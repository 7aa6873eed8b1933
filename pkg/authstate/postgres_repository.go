package authstate

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRepository implements Repository using PostgreSQL.
//
// Expected schema:
//
//	CREATE TABLE authorization_attempts (
//	    session_id    TEXT PRIMARY KEY,
//	    state         TEXT NOT NULL,
//	    nonce         TEXT NOT NULL,
//	    code_verifier TEXT NOT NULL,
//	    expires_at    TIMESTAMPTZ NOT NULL
//	);
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL attempt repository.
func NewPostgresRepository(db *pgxpool.Pool) (*PostgresRepository, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection cannot be nil")
	}

	return &PostgresRepository{db: db}, nil
}

// Save inserts a new attempt. The primary key constraint rejects session id
// collisions, which the caller treats as an unexpected error.
func (r *PostgresRepository) Save(ctx context.Context, attempt *AuthorizationAttempt) error {
	query := `
		INSERT INTO authorization_attempts (session_id, state, nonce, code_verifier, expires_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := r.db.Exec(ctx, query,
		attempt.SessionID,
		attempt.State,
		attempt.Nonce,
		attempt.CodeVerifier,
		attempt.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save authorization attempt: %w", err)
	}

	return nil
}

// FindBySessionID retrieves an attempt by session id.
func (r *PostgresRepository) FindBySessionID(ctx context.Context, sessionID string) (*AuthorizationAttempt, error) {
	query := `
		SELECT session_id, state, nonce, code_verifier, expires_at
		FROM authorization_attempts
		WHERE session_id = $1
	`

	var attempt AuthorizationAttempt
	err := r.db.QueryRow(ctx, query, sessionID).Scan(
		&attempt.SessionID,
		&attempt.State,
		&attempt.Nonce,
		&attempt.CodeVerifier,
		&attempt.ExpiresAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("failed to get authorization attempt: %w", err)
	}

	return &attempt, nil
}

// Delete removes an attempt by session id. Idempotent.
func (r *PostgresRepository) Delete(ctx context.Context, sessionID string) error {
	_, err := r.db.Exec(ctx, "DELETE FROM authorization_attempts WHERE session_id = $1", sessionID)
	if err != nil {
		return fmt.Errorf("failed to delete authorization attempt: %w", err)
	}

	return nil
}
