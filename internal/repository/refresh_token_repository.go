package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/taskdesk/taskdesk-api/internal/models"
)

// RefreshTokenRepository persists refresh credentials. The table holds
// at most one non-revoked row per user; Replace and Rotate both enforce
// that inside a transaction.
type RefreshTokenRepository struct {
	db *sqlx.DB
}

// NewRefreshTokenRepository creates a new instance of RefreshTokenRepository.
func NewRefreshTokenRepository(db *sqlx.DB) *RefreshTokenRepository {
	return &RefreshTokenRepository{db: db}
}

const refreshTokenColumns = `id, user_id, token, expires_at, created_at, usage_count, last_used_at, active, revoked_at, revoked_reason, created_ip, user_agent`

// FindByToken returns a refresh credential by its opaque token string.
func (r *RefreshTokenRepository) FindByToken(ctx context.Context, token string) (*models.RefreshToken, error) {
	const query = `SELECT ` + refreshTokenColumns + ` FROM refresh_tokens WHERE token = $1 LIMIT 1`
	var rt models.RefreshToken
	if err := r.db.GetContext(ctx, &rt, query, token); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find refresh token: %w", err)
	}
	return &rt, nil
}

// Replace removes any existing refresh credential for the token's user
// and stores the new one. Both statements run in one transaction so a
// login never leaves a user with zero or two active credentials.
func (r *RefreshTokenRepository) Replace(ctx context.Context, token *models.RefreshToken) error {
	if token.ID == "" {
		token.ID = uuid.NewString()
	}
	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now().UTC()
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace refresh token: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE user_id = $1`, token.UserID); err != nil {
		return fmt.Errorf("clear previous refresh token: %w", err)
	}

	const insert = `INSERT INTO refresh_tokens (id, user_id, token, expires_at, created_at, usage_count, active, created_ip, user_agent) VALUES (:id, :user_id, :token, :expires_at, :created_at, :usage_count, :active, :created_ip, :user_agent)`
	if _, err := tx.NamedExecContext(ctx, insert, token); err != nil {
		return fmt.Errorf("insert refresh token: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit replace refresh token: %w", err)
	}
	return nil
}

// Rotate consumes the presented credential and installs its successor
// in one transaction. The delete is the race arbiter: when two requests
// present the same token, exactly one delete reports an affected row,
// and the loser gets sql.ErrNoRows. The successor row carries the usage
// fields, so a recorded use commits atomically with the rotation.
func (r *RefreshTokenRepository) Rotate(ctx context.Context, presented string, next *models.RefreshToken) error {
	if next.ID == "" {
		next.ID = uuid.NewString()
	}
	if next.CreatedAt.IsZero() {
		next.CreatedAt = time.Now().UTC()
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin rotate refresh token: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE token = $1`, presented)
	if err != nil {
		return fmt.Errorf("consume refresh token: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("consume refresh token result: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE user_id = $1`, next.UserID); err != nil {
		return fmt.Errorf("clear previous refresh token: %w", err)
	}

	const insert = `INSERT INTO refresh_tokens (id, user_id, token, expires_at, created_at, usage_count, last_used_at, active, created_ip, user_agent) VALUES (:id, :user_id, :token, :expires_at, :created_at, :usage_count, :last_used_at, :active, :created_ip, :user_agent)`
	if _, err := tx.NamedExecContext(ctx, insert, next); err != nil {
		return fmt.Errorf("insert rotated refresh token: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit rotate refresh token: %w", err)
	}
	return nil
}

// DeleteByToken removes a credential by token string. Deleting a token
// that does not exist is not an error.
func (r *RefreshTokenRepository) DeleteByToken(ctx context.Context, token string) error {
	const query = `DELETE FROM refresh_tokens WHERE token = $1`
	if _, err := r.db.ExecContext(ctx, query, token); err != nil {
		return fmt.Errorf("delete refresh token: %w", err)
	}
	return nil
}

// DeleteByUserID removes every credential held by a user.
func (r *RefreshTokenRepository) DeleteByUserID(ctx context.Context, userID string) error {
	const query = `DELETE FROM refresh_tokens WHERE user_id = $1`
	if _, err := r.db.ExecContext(ctx, query, userID); err != nil {
		return fmt.Errorf("delete refresh tokens for user: %w", err)
	}
	return nil
}

// DeleteExpired purges credentials whose expiry has passed and returns
// the number of rows removed.
func (r *RefreshTokenRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	const query = `DELETE FROM refresh_tokens WHERE expires_at <= $1`
	res, err := r.db.ExecContext(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired refresh tokens: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete expired refresh tokens result: %w", err)
	}
	return affected, nil
}
