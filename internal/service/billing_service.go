package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/illustra-ai/illustra/internal/dodo"
	"github.com/illustra-ai/illustra/internal/models"
)

var (
	ErrPlanNotFound    = errors.New("subscription plan not found")
	ErrPlanNotPayable  = errors.New("subscription plan is not available for purchase")
	ErrBillingRequired = errors.New("billing address is required")
)

type BillingUserStore interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
	SetBillingAddress(ctx context.Context, userID string, addr models.BillingAddress) error
	SetDodoCustomerID(ctx context.Context, userID, customerID string) error
}

type BillingPlanStore interface {
	GetByID(ctx context.Context, id string) (*models.SubscriptionPlan, error)
}

type PaymentProvider interface {
	CreateCustomer(ctx context.Context, email, name string) (*dodo.Customer, error)
	CreatePaymentLink(ctx context.Context, billing models.BillingAddress, customerID, productID string, quantity int, metadata dodo.PaymentMetadata) (*dodo.Payment, error)
}

// BillingService turns a plan selection into a hosted checkout link. It owns
// the write-once billing address and the lazily created provider customer.
type BillingService struct {
	log      *slog.Logger
	users    BillingUserStore
	plans    BillingPlanStore
	provider PaymentProvider
	now      func() time.Time
}

func NewBillingService(log *slog.Logger, users BillingUserStore, plans BillingPlanStore, provider PaymentProvider) *BillingService {
	return &BillingService{
		log:      log,
		users:    users,
		plans:    plans,
		provider: provider,
		now:      time.Now,
	}
}

type CheckoutResult struct {
	PaymentID   string
	PaymentLink string
}

// Checkout records the user's billing address, ensures a provider customer
// exists, and creates a payment link for the selected plan. The billing
// address write is first-wins: a user who already has one keeps it.
func (s *BillingService) Checkout(ctx context.Context, user *models.User, planID string, addr *models.BillingAddress) (*CheckoutResult, error) {
	if addr == nil && user.BillingAddress == nil {
		return nil, ErrBillingRequired
	}

	plan, err := s.plans.GetByID(ctx, planID)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, ErrPlanNotFound
	}
	if !plan.IsActive || plan.DodoProductID == "" {
		return nil, ErrPlanNotPayable
	}

	if addr != nil {
		if err := s.users.SetBillingAddress(ctx, user.ID, *addr); err != nil {
			return nil, err
		}
		// Re-read so a previously stored address wins over the one just
		// submitted.
		fresh, err := s.users.FindByID(ctx, user.ID)
		if err != nil {
			return nil, err
		}
		if fresh == nil {
			return nil, fmt.Errorf("user %s disappeared during checkout", user.ID)
		}
		user = fresh
	}
	if user.BillingAddress == nil {
		return nil, ErrBillingRequired
	}

	customerID, err := s.ensureCustomer(ctx, user)
	if err != nil {
		return nil, err
	}

	metadata := dodo.PaymentMetadata{
		UserID:                user.ID,
		PlanID:                plan.ID,
		SubscriptionTimestamp: strconv.FormatInt(s.now().UnixMilli(), 10),
	}
	payment, err := s.provider.CreatePaymentLink(ctx, *user.BillingAddress, customerID, plan.DodoProductID, plan.TokenLimit, metadata)
	if err != nil {
		return nil, err
	}

	s.log.Info("checkout created",
		"user_id", user.ID,
		"plan_id", plan.ID,
		"payment_id", payment.PaymentID,
	)
	return &CheckoutResult{
		PaymentID:   payment.PaymentID,
		PaymentLink: payment.PaymentLink,
	}, nil
}

func (s *BillingService) ensureCustomer(ctx context.Context, user *models.User) (string, error) {
	if user.DodoCustomerID != "" {
		return user.DodoCustomerID, nil
	}

	name := strings.TrimSpace(user.FirstName + " " + user.LastName)
	if name == "" {
		// The provider requires a name; fall back to the address local
		// part before giving up.
		if at := strings.Index(user.Email, "@"); at > 0 {
			name = user.Email[:at]
		} else {
			name = "User"
		}
	}

	customer, err := s.provider.CreateCustomer(ctx, user.Email, name)
	if err != nil {
		return "", err
	}
	if err := s.users.SetDodoCustomerID(ctx, user.ID, customer.CustomerID); err != nil {
		return "", err
	}
	return customer.CustomerID, nil
}
