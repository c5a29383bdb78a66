package dodo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/illustra-ai/illustra/internal/models"
)

func TestCreateCustomer(t *testing.T) {
	t.Run("sends bearer auth and decodes id", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/customers", r.URL.Path)
			assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
			var body map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "a@example.com", body["email"])
			fmt.Fprint(w, `{"customer_id":"cus_1","email":"a@example.com","name":"A"}`)
		}))
		defer srv.Close()

		c := NewClient("key", srv.URL, "https://app.example.com/done")
		customer, err := c.CreateCustomer(context.Background(), "a@example.com", "A")
		require.NoError(t, err)
		assert.Equal(t, "cus_1", customer.CustomerID)
	})

	t.Run("empty customer id is an error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{}`)
		}))
		defer srv.Close()

		c := NewClient("key", srv.URL, "")
		_, err := c.CreateCustomer(context.Background(), "a@example.com", "A")
		assert.Error(t, err)
	})
}

func TestCreatePaymentLink(t *testing.T) {
	address := models.BillingAddress{
		Street: "12 MG Road", City: "Bengaluru", State: "Karnataka", Country: "IN", Zipcode: "560001",
	}

	t.Run("requests a hosted link with cart and metadata", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/payments", r.URL.Path)
			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, true, body["payment_link"])
			assert.Equal(t, "https://app.example.com/done", body["return_url"])

			cart := body["product_cart"].([]any)
			require.Len(t, cart, 1)
			item := cart[0].(map[string]any)
			assert.Equal(t, "prod_1", item["product_id"])
			assert.Equal(t, float64(500), item["quantity"])

			meta := body["metadata"].(map[string]any)
			assert.Equal(t, "u1", meta["userId"])
			assert.Equal(t, "plan_1", meta["planId"])

			fmt.Fprint(w, `{"payment_id":"pay_1","payment_link":"https://checkout.dodopayments.com/pay_1","status":"pending"}`)
		}))
		defer srv.Close()

		c := NewClient("key", srv.URL, "https://app.example.com/done")
		payment, err := c.CreatePaymentLink(context.Background(), address, "cus_1", "prod_1", 500, PaymentMetadata{UserID: "u1", PlanID: "plan_1"})
		require.NoError(t, err)
		assert.Equal(t, "pay_1", payment.PaymentID)
		assert.Equal(t, "https://checkout.dodopayments.com/pay_1", payment.PaymentLink)
	})

	t.Run("missing product id rejected locally", func(t *testing.T) {
		c := NewClient("key", "http://unused", "")
		_, err := c.CreatePaymentLink(context.Background(), address, "cus_1", "", 500, PaymentMetadata{})
		assert.Error(t, err)
	})

	t.Run("missing link in response is an error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"payment_id":"pay_1"}`)
		}))
		defer srv.Close()

		c := NewClient("key", srv.URL, "")
		_, err := c.CreatePaymentLink(context.Background(), address, "cus_1", "prod_1", 500, PaymentMetadata{})
		assert.Error(t, err)
	})
}

func TestRetrievePayment(t *testing.T) {
	t.Run("decodes full payment record", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/payments/pay_1", r.URL.Path)
			fmt.Fprint(w, `{
				"payment_id":"pay_1","status":"succeeded","total_amount":99900,"tax":9900,
				"currency":"USD","product_cart":[{"product_id":"prod_1","quantity":500}],
				"metadata":{"userId":"u1","planId":"plan_1","subscriptionTimestamp":"1722513600000"}
			}`)
		}))
		defer srv.Close()

		c := NewClient("key", srv.URL, "")
		payment, err := c.RetrievePayment(context.Background(), "pay_1")
		require.NoError(t, err)
		assert.Equal(t, "succeeded", payment.Status)
		assert.Equal(t, int64(99900), payment.TotalAmount)
		assert.Equal(t, "u1", payment.Metadata.UserID)
		require.Len(t, payment.ProductCart, 1)
		assert.Equal(t, 500, payment.ProductCart[0].Quantity)
	})

	t.Run("api error propagates", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, `{"message":"not found"}`, http.StatusNotFound)
		}))
		defer srv.Close()

		c := NewClient("key", srv.URL, "")
		_, err := c.RetrievePayment(context.Background(), "pay_404")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "status=404")
	})
}
