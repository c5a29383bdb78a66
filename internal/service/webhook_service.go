package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/illustra-ai/illustra/internal/dodo"
	"github.com/illustra-ai/illustra/internal/models"
)

// WebhookEnvelope is the outer shape of a Dodo webhook delivery. Only the
// routing fields are decoded here; the payment details come from the
// provider's API, never from the delivery body.
type WebhookEnvelope struct {
	Type string              `json:"type"`
	Data WebhookEnvelopeData `json:"data"`
}

type WebhookEnvelopeData struct {
	PayloadType string `json:"payload_type"`
	PaymentID   string `json:"payment_id"`
}

type SignatureVerifier interface {
	Verify(payload []byte, msgID, signature, timestamp string) error
}

type PaymentRetriever interface {
	RetrievePayment(ctx context.Context, paymentID string) (*dodo.Payment, error)
}

type TransactionStore interface {
	Create(ctx context.Context, tx *models.Transaction) error
	FindByDodoPaymentID(ctx context.Context, paymentID string) (*models.Transaction, error)
}

type WebhookUserStore interface {
	AddCredits(ctx context.Context, userID string, amount int) error
}

// WebhookService reconciles payment state from provider webhooks. Processing
// errors are logged and swallowed by the HTTP handler, which always responds
// 200 so the provider does not retry deliveries we have classified as
// unusable; the provider's record stays authoritative either way.
type WebhookService struct {
	log          *slog.Logger
	verifier     SignatureVerifier
	payments     PaymentRetriever
	transactions TransactionStore
	users        WebhookUserStore
	now          func() time.Time
}

func NewWebhookService(log *slog.Logger, verifier SignatureVerifier, payments PaymentRetriever, transactions TransactionStore, users WebhookUserStore) *WebhookService {
	return &WebhookService{
		log:          log,
		verifier:     verifier,
		payments:     payments,
		transactions: transactions,
		users:        users,
		now:          time.Now,
	}
}

// Process verifies and applies one webhook delivery. A verification failure
// means no state is touched at all.
func (s *WebhookService) Process(ctx context.Context, payload []byte, msgID, signature, timestamp string) error {
	if err := s.verifier.Verify(payload, msgID, signature, timestamp); err != nil {
		return fmt.Errorf("verify webhook: %w", err)
	}

	var envelope WebhookEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return fmt.Errorf("decode webhook payload: %w", err)
	}

	if envelope.Data.PayloadType != "Payment" {
		s.log.Info("ignoring non-payment webhook", "type", envelope.Type, "payload_type", envelope.Data.PayloadType)
		return nil
	}
	if envelope.Data.PaymentID == "" {
		return fmt.Errorf("webhook payload missing payment_id")
	}

	switch envelope.Type {
	case "payment.succeeded":
		return s.handleSucceeded(ctx, envelope.Data.PaymentID)
	case "payment.failed":
		return s.handleFailed(ctx, envelope.Data.PaymentID)
	default:
		s.log.Info("ignoring unhandled webhook event", "type", envelope.Type, "payment_id", envelope.Data.PaymentID)
		return nil
	}
}

func (s *WebhookService) handleSucceeded(ctx context.Context, paymentID string) error {
	// Fast path for redelivery: a recorded payment id means the credits
	// were already granted. The unique constraint on dodo_payment_id backs
	// this up against concurrent deliveries.
	existing, err := s.transactions.FindByDodoPaymentID(ctx, paymentID)
	if err != nil {
		return err
	}
	if existing != nil {
		s.log.Info("duplicate webhook delivery ignored", "payment_id", paymentID, "status", existing.Status)
		return nil
	}

	payment, err := s.payments.RetrievePayment(ctx, paymentID)
	if err != nil {
		return err
	}
	if payment.Metadata.UserID == "" {
		return fmt.Errorf("payment %s has no user metadata", paymentID)
	}

	credits := 0
	if len(payment.ProductCart) > 0 {
		credits = payment.ProductCart[0].Quantity
	}
	if credits <= 0 {
		return fmt.Errorf("payment %s resolves to no credits", paymentID)
	}

	tx := &models.Transaction{
		UserID:        payment.Metadata.UserID,
		AmountCents:   payment.TotalAmount,
		TaxCents:      payment.Tax,
		Currency:      payment.Currency,
		Status:        models.TransactionSucceeded,
		DodoPaymentID: paymentID,
		Metadata: models.TransactionMetadata{
			PaymentID: paymentID,
			Status:    payment.Status,
			Timestamp: s.now(),
		},
	}
	if err := s.transactions.Create(ctx, tx); err != nil {
		return err
	}

	if err := s.users.AddCredits(ctx, payment.Metadata.UserID, credits); err != nil {
		return fmt.Errorf("grant credits for payment %s: %w", paymentID, err)
	}

	s.log.Info("payment reconciled",
		"payment_id", paymentID,
		"user_id", payment.Metadata.UserID,
		"credits", credits,
		"amount", payment.TotalAmount,
	)
	return nil
}

func (s *WebhookService) handleFailed(ctx context.Context, paymentID string) error {
	existing, err := s.transactions.FindByDodoPaymentID(ctx, paymentID)
	if err != nil {
		return err
	}
	if existing != nil {
		s.log.Info("duplicate webhook delivery ignored", "payment_id", paymentID, "status", existing.Status)
		return nil
	}

	payment, err := s.payments.RetrievePayment(ctx, paymentID)
	if err != nil {
		return err
	}
	if payment.Metadata.UserID == "" {
		return fmt.Errorf("payment %s has no user metadata", paymentID)
	}

	tx := &models.Transaction{
		UserID:        payment.Metadata.UserID,
		AmountCents:   payment.TotalAmount,
		TaxCents:      payment.Tax,
		Currency:      payment.Currency,
		Status:        models.TransactionFailed,
		DodoPaymentID: paymentID,
		Metadata: models.TransactionMetadata{
			PaymentID:    paymentID,
			Status:       payment.Status,
			ErrorMessage: payment.ErrorMessage,
			Timestamp:    s.now(),
		},
	}
	if err := s.transactions.Create(ctx, tx); err != nil {
		return err
	}

	s.log.Info("failed payment recorded", "payment_id", paymentID, "user_id", payment.Metadata.UserID, "error", payment.ErrorMessage)
	return nil
}
