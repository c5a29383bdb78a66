package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/illustra-ai/illustra/internal/models"
)

const (
	plansCacheKey = "plans:active"
	plansCacheTTL = 5 * time.Minute
)

var ErrInvalidPlan = errors.New("invalid plan")

type PlanStore interface {
	List(ctx context.Context) ([]models.SubscriptionPlan, error)
	ListActive(ctx context.Context) ([]models.SubscriptionPlan, error)
	GetByID(ctx context.Context, id string) (*models.SubscriptionPlan, error)
	Create(ctx context.Context, plan *models.SubscriptionPlan) (*models.SubscriptionPlan, error)
	Update(ctx context.Context, plan *models.SubscriptionPlan) (*models.SubscriptionPlan, error)
	Delete(ctx context.Context, id string) error
}

// PlanCache is the slice of the cache the plan catalog needs. A nil cache
// disables caching.
type PlanCache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// PlanService exposes the plan catalog. The active list is the hottest read
// in the product, so it goes through Redis with a short TTL; admin writes
// invalidate it.
type PlanService struct {
	log   *slog.Logger
	plans PlanStore
	cache PlanCache
}

func NewPlanService(log *slog.Logger, plans PlanStore, c PlanCache) *PlanService {
	return &PlanService{log: log, plans: plans, cache: c}
}

// ListActive returns purchasable plans, cheapest first.
func (s *PlanService) ListActive(ctx context.Context) ([]models.SubscriptionPlan, error) {
	if cached := s.cachedPlans(ctx); cached != nil {
		return cached, nil
	}

	plans, err := s.plans.ListActive(ctx)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if raw, err := json.Marshal(plans); err == nil {
			if err := s.cache.Set(ctx, plansCacheKey, raw, plansCacheTTL); err != nil {
				s.log.Warn("plan cache write failed", "err", err)
			}
		}
	}
	return plans, nil
}

func (s *PlanService) cachedPlans(ctx context.Context) []models.SubscriptionPlan {
	if s.cache == nil {
		return nil
	}
	raw, err := s.cache.Get(ctx, plansCacheKey)
	if err != nil {
		s.log.Warn("plan cache read failed", "err", err)
		return nil
	}
	if raw == nil {
		return nil
	}
	var plans []models.SubscriptionPlan
	if err := json.Unmarshal(raw, &plans); err != nil {
		s.log.Warn("plan cache entry corrupt, dropping", "err", err)
		_ = s.cache.Delete(ctx, plansCacheKey)
		return nil
	}
	return plans
}

// List returns every plan including inactive ones, for the admin surface.
func (s *PlanService) List(ctx context.Context) ([]models.SubscriptionPlan, error) {
	return s.plans.List(ctx)
}

func (s *PlanService) GetByID(ctx context.Context, id string) (*models.SubscriptionPlan, error) {
	return s.plans.GetByID(ctx, id)
}

func (s *PlanService) Create(ctx context.Context, plan *models.SubscriptionPlan) (*models.SubscriptionPlan, error) {
	if err := validatePlan(plan); err != nil {
		return nil, err
	}
	created, err := s.plans.Create(ctx, plan)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx)
	s.log.Info("plan created", "plan_id", created.ID, "name", created.Name)
	return created, nil
}

func (s *PlanService) Update(ctx context.Context, plan *models.SubscriptionPlan) (*models.SubscriptionPlan, error) {
	if plan.ID == "" {
		return nil, fmt.Errorf("%w: missing id", ErrInvalidPlan)
	}
	if err := validatePlan(plan); err != nil {
		return nil, err
	}
	existing, err := s.plans.GetByID(ctx, plan.ID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, ErrPlanNotFound
	}
	updated, err := s.plans.Update(ctx, plan)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx)
	s.log.Info("plan updated", "plan_id", updated.ID)
	return updated, nil
}

func (s *PlanService) Delete(ctx context.Context, id string) error {
	existing, err := s.plans.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if existing == nil {
		return ErrPlanNotFound
	}
	if err := s.plans.Delete(ctx, id); err != nil {
		return err
	}
	s.invalidate(ctx)
	s.log.Info("plan deleted", "plan_id", id)
	return nil
}

func (s *PlanService) invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, plansCacheKey); err != nil {
		s.log.Warn("plan cache invalidation failed", "err", err)
	}
}

func validatePlan(plan *models.SubscriptionPlan) error {
	if plan.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidPlan)
	}
	if plan.PriceCents < 0 {
		return fmt.Errorf("%w: price cannot be negative", ErrInvalidPlan)
	}
	if plan.TokenLimit <= 0 {
		return fmt.Errorf("%w: token limit must be positive", ErrInvalidPlan)
	}
	return nil
}
