package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/illustra-ai/illustra/internal/models"
)

type UserRepository struct {
	db *pgxpool.Pool
}

func NewUserRepository(db *pgxpool.Pool) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = `id, email, COALESCE(first_name, ''), COALESCE(last_name, ''), remaining_credits, billing_data, COALESCE(dodo_customer_id, ''), created_at, updated_at`

func scanUser(row pgx.Row) (*models.User, error) {
	var u models.User
	var billing []byte
	if err := row.Scan(&u.ID, &u.Email, &u.FirstName, &u.LastName, &u.RemainingCredits, &billing, &u.DodoCustomerID, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	if len(billing) > 0 {
		var addr models.BillingAddress
		if err := json.Unmarshal(billing, &addr); err != nil {
			return nil, fmt.Errorf("decode billing data: %w", err)
		}
		u.BillingAddress = &addr
	}
	return &u, nil
}

func (r *UserRepository) FindByID(ctx context.Context, id string) (*models.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUser(r.db.QueryRow(ctx, query, id))
}

func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	return scanUser(r.db.QueryRow(ctx, query, email))
}

func (r *UserRepository) Create(ctx context.Context, email string, credits int) (*models.User, error) {
	const query = `
INSERT INTO users (email, remaining_credits)
VALUES ($1, $2)
RETURNING ` + userColumns
	user, err := scanUser(r.db.QueryRow(ctx, query, email, credits))
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

func (r *UserRepository) UpdateProfile(ctx context.Context, userID, firstName, lastName string) error {
	const query = `
UPDATE users SET first_name = NULLIF($2, ''), last_name = NULLIF($3, ''), updated_at = NOW()
WHERE id = $1`
	if _, err := r.db.Exec(ctx, query, userID, firstName, lastName); err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	return nil
}

// SetBillingAddress stores the billing address only when none is recorded yet.
// Repeat submissions never overwrite the first address.
func (r *UserRepository) SetBillingAddress(ctx context.Context, userID string, addr models.BillingAddress) error {
	payload, err := json.Marshal(addr)
	if err != nil {
		return fmt.Errorf("encode billing data: %w", err)
	}
	const query = `
UPDATE users SET billing_data = $2, updated_at = NOW()
WHERE id = $1 AND billing_data IS NULL`
	if _, err := r.db.Exec(ctx, query, userID, payload); err != nil {
		return fmt.Errorf("set billing data: %w", err)
	}
	return nil
}

func (r *UserRepository) SetDodoCustomerID(ctx context.Context, userID, customerID string) error {
	const query = `UPDATE users SET dodo_customer_id = $2, updated_at = NOW() WHERE id = $1`
	if _, err := r.db.Exec(ctx, query, userID, customerID); err != nil {
		return fmt.Errorf("set dodo customer id: %w", err)
	}
	return nil
}

// ConsumeCredits decrements the balance by amount as a single guarded update.
// It reports false when the user does not hold enough credits; the balance
// can never go negative.
func (r *UserRepository) ConsumeCredits(ctx context.Context, userID string, amount int) (bool, error) {
	const query = `
UPDATE users SET remaining_credits = remaining_credits - $2, updated_at = NOW()
WHERE id = $1 AND remaining_credits >= $2`
	tag, err := r.db.Exec(ctx, query, userID, amount)
	if err != nil {
		return false, fmt.Errorf("consume credits: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *UserRepository) AddCredits(ctx context.Context, userID string, amount int) error {
	const query = `UPDATE users SET remaining_credits = remaining_credits + $2, updated_at = NOW() WHERE id = $1`
	if _, err := r.db.Exec(ctx, query, userID, amount); err != nil {
		return fmt.Errorf("add credits: %w", err)
	}
	return nil
}
