package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/illustra-ai/illustra/internal/dodo"
	"github.com/illustra-ai/illustra/internal/models"
)

type fakeVerifier struct {
	err   error
	calls int
}

func (f *fakeVerifier) Verify(_ []byte, _, _, _ string) error {
	f.calls++
	return f.err
}

type fakePaymentRetriever struct {
	payments map[string]*dodo.Payment
	calls    int
}

func (f *fakePaymentRetriever) RetrievePayment(_ context.Context, paymentID string) (*dodo.Payment, error) {
	f.calls++
	p, ok := f.payments[paymentID]
	if !ok {
		return nil, errors.New("payment not found")
	}
	return p, nil
}

type fakeTransactionStore struct {
	byPaymentID map[string]*models.Transaction
	created     []models.Transaction
}

func (f *fakeTransactionStore) Create(_ context.Context, tx *models.Transaction) error {
	if _, exists := f.byPaymentID[tx.DodoPaymentID]; exists {
		return errors.New("duplicate key value violates unique constraint")
	}
	tx.ID = "tx_" + tx.DodoPaymentID
	f.byPaymentID[tx.DodoPaymentID] = tx
	f.created = append(f.created, *tx)
	return nil
}

func (f *fakeTransactionStore) FindByDodoPaymentID(_ context.Context, paymentID string) (*models.Transaction, error) {
	return f.byPaymentID[paymentID], nil
}

type fakeWebhookUserStore struct {
	credits map[string]int
}

func (f *fakeWebhookUserStore) AddCredits(_ context.Context, userID string, amount int) error {
	f.credits[userID] += amount
	return nil
}

func newWebhookFixture() (*WebhookService, *fakeVerifier, *fakePaymentRetriever, *fakeTransactionStore, *fakeWebhookUserStore) {
	verifier := &fakeVerifier{}
	payments := &fakePaymentRetriever{payments: map[string]*dodo.Payment{}}
	txs := &fakeTransactionStore{byPaymentID: map[string]*models.Transaction{}}
	users := &fakeWebhookUserStore{credits: map[string]int{"u1": 3}}
	svc := NewWebhookService(discardLogger(), verifier, payments, txs, users)
	return svc, verifier, payments, txs, users
}

func succeededPayment(id string, quantity int) *dodo.Payment {
	return &dodo.Payment{
		PaymentID:   id,
		Status:      "succeeded",
		TotalAmount: 99900,
		Tax:         9900,
		Currency:    "USD",
		ProductCart: []dodo.CartItem{{ProductID: "prod_1", Quantity: quantity}},
		Metadata:    dodo.PaymentMetadata{UserID: "u1", PlanID: "plan_1"},
	}
}

const succeededBody = `{"type":"payment.succeeded","data":{"payload_type":"Payment","payment_id":"pay_1"}}`
const failedBody = `{"type":"payment.failed","data":{"payload_type":"Payment","payment_id":"pay_1"}}`

func TestWebhookProcess(t *testing.T) {
	ctx := context.Background()

	t.Run("invalid signature mutates nothing", func(t *testing.T) {
		svc, verifier, payments, txs, users := newWebhookFixture()
		verifier.err = dodo.ErrSignatureMismatch
		err := svc.Process(ctx, []byte(succeededBody), "msg", "sig", "ts")
		assert.Error(t, err)
		assert.Zero(t, payments.calls)
		assert.Empty(t, txs.created)
		assert.Equal(t, 3, users.credits["u1"])
	})

	t.Run("succeeded payment grants cart quantity", func(t *testing.T) {
		svc, _, payments, txs, users := newWebhookFixture()
		payments.payments["pay_1"] = succeededPayment("pay_1", 500)

		err := svc.Process(ctx, []byte(succeededBody), "msg", "sig", "ts")
		require.NoError(t, err)
		assert.Equal(t, 503, users.credits["u1"])
		require.Len(t, txs.created, 1)

		tx := txs.created[0]
		assert.Equal(t, "u1", tx.UserID)
		assert.Equal(t, models.TransactionSucceeded, tx.Status)
		assert.Equal(t, "pay_1", tx.DodoPaymentID)
		assert.Equal(t, int64(99900), tx.AmountCents)
		assert.Equal(t, int64(9900), tx.TaxCents)
		assert.Equal(t, "USD", tx.Currency)
	})

	t.Run("duplicate delivery does not double-credit", func(t *testing.T) {
		svc, _, payments, txs, users := newWebhookFixture()
		payments.payments["pay_1"] = succeededPayment("pay_1", 500)

		require.NoError(t, svc.Process(ctx, []byte(succeededBody), "msg", "sig", "ts"))
		require.NoError(t, svc.Process(ctx, []byte(succeededBody), "msg", "sig", "ts"))

		assert.Equal(t, 503, users.credits["u1"])
		assert.Len(t, txs.created, 1)
		assert.Equal(t, 1, payments.calls)
	})

	t.Run("failed payment records transaction without credits", func(t *testing.T) {
		svc, _, payments, txs, users := newWebhookFixture()
		p := succeededPayment("pay_1", 500)
		p.Status = "failed"
		p.ErrorMessage = "card declined"
		payments.payments["pay_1"] = p

		err := svc.Process(ctx, []byte(failedBody), "msg", "sig", "ts")
		require.NoError(t, err)
		assert.Equal(t, 3, users.credits["u1"])
		require.Len(t, txs.created, 1)
		assert.Equal(t, models.TransactionFailed, txs.created[0].Status)
		assert.Equal(t, "card declined", txs.created[0].Metadata.ErrorMessage)
	})

	t.Run("non-payment payload is ignored", func(t *testing.T) {
		svc, _, payments, txs, _ := newWebhookFixture()
		body := `{"type":"subscription.active","data":{"payload_type":"Subscription","payment_id":""}}`
		err := svc.Process(ctx, []byte(body), "msg", "sig", "ts")
		assert.NoError(t, err)
		assert.Zero(t, payments.calls)
		assert.Empty(t, txs.created)
	})

	t.Run("unhandled payment event is ignored", func(t *testing.T) {
		svc, _, payments, txs, _ := newWebhookFixture()
		body := `{"type":"payment.processing","data":{"payload_type":"Payment","payment_id":"pay_1"}}`
		err := svc.Process(ctx, []byte(body), "msg", "sig", "ts")
		assert.NoError(t, err)
		assert.Zero(t, payments.calls)
		assert.Empty(t, txs.created)
	})

	t.Run("empty cart yields error and no credits", func(t *testing.T) {
		svc, _, payments, txs, users := newWebhookFixture()
		p := succeededPayment("pay_1", 500)
		p.ProductCart = nil
		payments.payments["pay_1"] = p

		err := svc.Process(ctx, []byte(succeededBody), "msg", "sig", "ts")
		assert.Error(t, err)
		assert.Equal(t, 3, users.credits["u1"])
		assert.Empty(t, txs.created)
	})

	t.Run("missing user metadata yields error", func(t *testing.T) {
		svc, _, payments, _, _ := newWebhookFixture()
		p := succeededPayment("pay_1", 500)
		p.Metadata.UserID = ""
		payments.payments["pay_1"] = p

		err := svc.Process(ctx, []byte(succeededBody), "msg", "sig", "ts")
		assert.Error(t, err)
	})

	t.Run("malformed json yields error", func(t *testing.T) {
		svc, _, _, _, _ := newWebhookFixture()
		err := svc.Process(ctx, []byte("{not json"), "msg", "sig", "ts")
		assert.Error(t, err)
	})
}
