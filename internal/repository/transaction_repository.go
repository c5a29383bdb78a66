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

type TransactionRepository struct {
	db *pgxpool.Pool
}

func NewTransactionRepository(db *pgxpool.Pool) *TransactionRepository {
	return &TransactionRepository{db: db}
}

func (r *TransactionRepository) Create(ctx context.Context, tx *models.Transaction) error {
	metadata, err := json.Marshal(tx.Metadata)
	if err != nil {
		return fmt.Errorf("encode transaction metadata: %w", err)
	}
	const query = `
INSERT INTO transactions (user_id, amount, tax, currency, status, dodo_payment_id, metadata)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING id, created_at`
	if err := r.db.QueryRow(ctx, query, tx.UserID, tx.AmountCents, tx.TaxCents, tx.Currency, string(tx.Status), tx.DodoPaymentID, metadata).Scan(&tx.ID, &tx.CreatedAt); err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

func (r *TransactionRepository) FindByDodoPaymentID(ctx context.Context, paymentID string) (*models.Transaction, error) {
	const query = `
SELECT id, user_id, amount, tax, currency, status, dodo_payment_id, metadata, created_at
FROM transactions WHERE dodo_payment_id = $1`
	row := r.db.QueryRow(ctx, query, paymentID)
	var tx models.Transaction
	var status string
	var metadata []byte
	if err := row.Scan(&tx.ID, &tx.UserID, &tx.AmountCents, &tx.TaxCents, &tx.Currency, &status, &tx.DodoPaymentID, &metadata, &tx.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan transaction: %w", err)
	}
	tx.Status = models.TransactionStatus(status)
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &tx.Metadata); err != nil {
			return nil, fmt.Errorf("decode transaction metadata: %w", err)
		}
	}
	return &tx, nil
}

func (r *TransactionRepository) ListByUser(ctx context.Context, userID string) ([]models.Transaction, error) {
	const query = `
SELECT id, user_id, amount, tax, currency, status, dodo_payment_id, metadata, created_at
FROM transactions
WHERE user_id = $1
ORDER BY created_at DESC`
	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var txs []models.Transaction
	for rows.Next() {
		var tx models.Transaction
		var status string
		var metadata []byte
		if err := rows.Scan(&tx.ID, &tx.UserID, &tx.AmountCents, &tx.TaxCents, &tx.Currency, &status, &tx.DodoPaymentID, &metadata, &tx.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		tx.Status = models.TransactionStatus(status)
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &tx.Metadata); err != nil {
				return nil, fmt.Errorf("decode transaction metadata: %w", err)
			}
		}
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}
