package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/illustra-ai/illustra/internal/models"
)

type PlanRepository struct {
	db *pgxpool.Pool
}

func NewPlanRepository(db *pgxpool.Pool) *PlanRepository {
	return &PlanRepository{db: db}
}

const planColumns = `id, name, price, token_limit, dodo_product_id, is_active, is_popular, created_at, updated_at`

func scanPlan(row pgx.Row) (*models.SubscriptionPlan, error) {
	var plan models.SubscriptionPlan
	if err := row.Scan(&plan.ID, &plan.Name, &plan.PriceCents, &plan.TokenLimit, &plan.DodoProductID, &plan.IsActive, &plan.IsPopular, &plan.CreatedAt, &plan.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan plan: %w", err)
	}
	return &plan, nil
}

func (r *PlanRepository) List(ctx context.Context) ([]models.SubscriptionPlan, error) {
	const query = `SELECT ` + planColumns + ` FROM subscription_plans ORDER BY price ASC`
	return r.queryPlans(ctx, query)
}

func (r *PlanRepository) ListActive(ctx context.Context) ([]models.SubscriptionPlan, error) {
	const query = `SELECT ` + planColumns + ` FROM subscription_plans WHERE is_active ORDER BY price ASC`
	return r.queryPlans(ctx, query)
}

func (r *PlanRepository) queryPlans(ctx context.Context, query string) ([]models.SubscriptionPlan, error) {
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	defer rows.Close()

	var plans []models.SubscriptionPlan
	for rows.Next() {
		var plan models.SubscriptionPlan
		if err := rows.Scan(&plan.ID, &plan.Name, &plan.PriceCents, &plan.TokenLimit, &plan.DodoProductID, &plan.IsActive, &plan.IsPopular, &plan.CreatedAt, &plan.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan plan: %w", err)
		}
		plans = append(plans, plan)
	}
	return plans, rows.Err()
}

func (r *PlanRepository) GetByID(ctx context.Context, id string) (*models.SubscriptionPlan, error) {
	const query = `SELECT ` + planColumns + ` FROM subscription_plans WHERE id = $1`
	return scanPlan(r.db.QueryRow(ctx, query, id))
}

func (r *PlanRepository) Create(ctx context.Context, plan *models.SubscriptionPlan) (*models.SubscriptionPlan, error) {
	const query = `
INSERT INTO subscription_plans (name, price, token_limit, dodo_product_id, is_active, is_popular)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING ` + planColumns
	created, err := scanPlan(r.db.QueryRow(ctx, query, plan.Name, plan.PriceCents, plan.TokenLimit, plan.DodoProductID, plan.IsActive, plan.IsPopular))
	if err != nil {
		return nil, fmt.Errorf("create plan: %w", err)
	}
	return created, nil
}

func (r *PlanRepository) Update(ctx context.Context, plan *models.SubscriptionPlan) (*models.SubscriptionPlan, error) {
	const query = `
UPDATE subscription_plans
SET name = $2, price = $3, token_limit = $4, dodo_product_id = $5, is_active = $6, is_popular = $7, updated_at = NOW()
WHERE id = $1
RETURNING ` + planColumns
	updated, err := scanPlan(r.db.QueryRow(ctx, query, plan.ID, plan.Name, plan.PriceCents, plan.TokenLimit, plan.DodoProductID, plan.IsActive, plan.IsPopular))
	if err != nil {
		return nil, fmt.Errorf("update plan: %w", err)
	}
	return updated, nil
}

func (r *PlanRepository) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM subscription_plans WHERE id = $1`
	if _, err := r.db.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("delete plan: %w", err)
	}
	return nil
}
