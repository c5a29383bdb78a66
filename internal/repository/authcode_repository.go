package repository

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/illustra-ai/illustra/internal/models"
)

const codeTTL = 15 * time.Minute

type AuthCodeRepository struct {
	db *pgxpool.Pool
}

func NewAuthCodeRepository(db *pgxpool.Pool) *AuthCodeRepository {
	return &AuthCodeRepository{db: db}
}

// generateCode returns a 6-digit numeric code (100000-999999).
func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}

// Create issues a fresh 6-digit code with a 15-minute expiry. Any previous
// pending codes for the same email are invalidated first.
func (r *AuthCodeRepository) Create(ctx context.Context, email string) (*models.AuthCode, error) {
	const invalidate = `
UPDATE auth_codes SET used_at = NOW()
WHERE email = $1 AND used_at IS NULL AND expires_at > NOW()`
	if _, err := r.db.Exec(ctx, invalidate, email); err != nil {
		return nil, fmt.Errorf("invalidate previous codes: %w", err)
	}

	code, err := generateCode()
	if err != nil {
		return nil, err
	}

	ac := &models.AuthCode{
		Email:     email,
		Code:      code,
		ExpiresAt: time.Now().UTC().Add(codeTTL),
	}
	const insert = `
INSERT INTO auth_codes (email, code, expires_at)
VALUES ($1, $2, $3)
RETURNING id, created_at`
	if err := r.db.QueryRow(ctx, insert, ac.Email, ac.Code, ac.ExpiresAt).Scan(&ac.ID, &ac.CreatedAt); err != nil {
		return nil, fmt.Errorf("insert auth code: %w", err)
	}
	return ac, nil
}

// FindValid returns the pending code for the email, or nil when none exists.
func (r *AuthCodeRepository) FindValid(ctx context.Context, email string) (*models.AuthCode, error) {
	const query = `
SELECT id, email, code, expires_at, used_at, attempts, created_at
FROM auth_codes
WHERE email = $1 AND used_at IS NULL AND expires_at > NOW()
ORDER BY created_at DESC
LIMIT 1`
	row := r.db.QueryRow(ctx, query, email)
	var ac models.AuthCode
	if err := row.Scan(&ac.ID, &ac.Email, &ac.Code, &ac.ExpiresAt, &ac.UsedAt, &ac.Attempts, &ac.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan auth code: %w", err)
	}
	return &ac, nil
}

func (r *AuthCodeRepository) IncrementAttempts(ctx context.Context, id int64) (int, error) {
	const query = `
UPDATE auth_codes SET attempts = attempts + 1
WHERE id = $1
RETURNING attempts`
	var attempts int
	if err := r.db.QueryRow(ctx, query, id).Scan(&attempts); err != nil {
		return 0, fmt.Errorf("increment attempts: %w", err)
	}
	return attempts, nil
}

func (r *AuthCodeRepository) MarkUsed(ctx context.Context, id int64) error {
	const query = `UPDATE auth_codes SET used_at = NOW() WHERE id = $1`
	if _, err := r.db.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("mark auth code used: %w", err)
	}
	return nil
}

func (r *AuthCodeRepository) DeleteExpired(ctx context.Context) (int64, error) {
	const query = `DELETE FROM auth_codes WHERE expires_at <= NOW()`
	tag, err := r.db.Exec(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("delete expired auth codes: %w", err)
	}
	return tag.RowsAffected(), nil
}
