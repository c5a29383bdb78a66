package service

import (
	"context"
	"log/slog"
	"strings"

	"github.com/illustra-ai/illustra/internal/models"
)

type UserStore interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
	UpdateProfile(ctx context.Context, userID, firstName, lastName string) error
}

type UserTransactionStore interface {
	ListByUser(ctx context.Context, userID string) ([]models.Transaction, error)
}

// UserService serves the account profile surface.
type UserService struct {
	log          *slog.Logger
	users        UserStore
	transactions UserTransactionStore
}

func NewUserService(log *slog.Logger, users UserStore, transactions UserTransactionStore) *UserService {
	return &UserService{log: log, users: users, transactions: transactions}
}

func (s *UserService) Get(ctx context.Context, userID string) (*models.User, error) {
	return s.users.FindByID(ctx, userID)
}

// UpdateProfile sets the display name fields and returns the fresh record.
func (s *UserService) UpdateProfile(ctx context.Context, userID, firstName, lastName string) (*models.User, error) {
	firstName = strings.TrimSpace(firstName)
	lastName = strings.TrimSpace(lastName)
	if err := s.users.UpdateProfile(ctx, userID, firstName, lastName); err != nil {
		return nil, err
	}
	return s.users.FindByID(ctx, userID)
}

// Transactions returns the user's payment history, newest first.
func (s *UserService) Transactions(ctx context.Context, userID string) ([]models.Transaction, error) {
	return s.transactions.ListByUser(ctx, userID)
}
