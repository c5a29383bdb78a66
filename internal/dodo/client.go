package dodo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/illustra-ai/illustra/internal/models"
)

// Client is a minimal Dodo Payments API client covering the calls this
// service needs: customer creation, payment-link creation, and payment
// retrieval.
type Client struct {
	apiKey     string
	baseURL    string
	returnURL  string
	httpClient *http.Client
}

func NewClient(apiKey, baseURL, returnURL string) *Client {
	return &Client{
		apiKey:    apiKey,
		baseURL:   strings.TrimRight(baseURL, "/"),
		returnURL: returnURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type Customer struct {
	CustomerID string `json:"customer_id"`
	Email      string `json:"email"`
	Name       string `json:"name"`
}

type CartItem struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// PaymentMetadata is attached to every payment we create and echoed back by
// the provider on retrieval. It carries the linkage back to our own records.
type PaymentMetadata struct {
	UserID                string `json:"userId"`
	PlanID                string `json:"planId"`
	SubscriptionTimestamp string `json:"subscriptionTimestamp"`
}

// Payment is the provider's authoritative payment record.
type Payment struct {
	PaymentID    string          `json:"payment_id"`
	Status       string          `json:"status"`
	TotalAmount  int64           `json:"total_amount"`
	Tax          int64           `json:"tax"`
	Currency     string          `json:"currency"`
	ErrorMessage string          `json:"error_message"`
	PaymentLink  string          `json:"payment_link"`
	ProductCart  []CartItem      `json:"product_cart"`
	Metadata     PaymentMetadata `json:"metadata"`
}

// CreateCustomer registers a customer with the provider and returns its id.
func (c *Client) CreateCustomer(ctx context.Context, email, name string) (*Customer, error) {
	payload := map[string]string{
		"email": email,
		"name":  name,
	}
	var customer Customer
	if err := c.do(ctx, http.MethodPost, "/customers", payload, &customer); err != nil {
		return nil, fmt.Errorf("create customer: %w", err)
	}
	if customer.CustomerID == "" {
		return nil, fmt.Errorf("create customer: empty customer_id in response")
	}
	return &customer, nil
}

// CreatePaymentLink creates a payment with a hosted checkout link for the
// given product and quantity.
func (c *Client) CreatePaymentLink(ctx context.Context, billing models.BillingAddress, customerID, productID string, quantity int, metadata PaymentMetadata) (*Payment, error) {
	if productID == "" {
		return nil, fmt.Errorf("product id is required")
	}
	payload := map[string]any{
		"billing": map[string]string{
			"street":  billing.Street,
			"city":    billing.City,
			"state":   billing.State,
			"country": billing.Country,
			"zipcode": billing.Zipcode,
		},
		"customer":     map[string]string{"customer_id": customerID},
		"product_cart": []CartItem{{ProductID: productID, Quantity: quantity}},
		"payment_link": true,
		"return_url":   c.returnURL,
		"metadata":     metadata,
	}
	var payment Payment
	if err := c.do(ctx, http.MethodPost, "/payments", payload, &payment); err != nil {
		return nil, fmt.Errorf("create payment link: %w", err)
	}
	if payment.PaymentLink == "" {
		return nil, fmt.Errorf("create payment link: empty payment_link in response")
	}
	return &payment, nil
}

// RetrievePayment fetches the authoritative payment record. Webhook payloads
// are never trusted for amounts; this is.
func (c *Client) RetrievePayment(ctx context.Context, paymentID string) (*Payment, error) {
	var payment Payment
	if err := c.do(ctx, http.MethodGet, "/payments/"+paymentID, nil, &payment); err != nil {
		return nil, fmt.Errorf("retrieve payment: %w", err)
	}
	return &payment, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("dodo request: %w", err)
	}
	defer resp.Body.Close()

	rawBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode >= 300 {
		return fmt.Errorf("dodo error: status=%d path=%s body=%s", resp.StatusCode, path, truncateBody(rawBody))
	}

	if out != nil {
		if err := json.Unmarshal(rawBody, out); err != nil {
			return fmt.Errorf("decode response: %w (body=%s)", err, truncateBody(rawBody))
		}
	}
	return nil
}

func truncateBody(body []byte) string {
	const limit = 512
	s := strings.TrimSpace(string(body))
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
