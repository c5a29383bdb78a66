package models

import "time"

type TransactionStatus string

const (
	TransactionPending    TransactionStatus = "pending"
	TransactionProcessing TransactionStatus = "processing"
	TransactionSucceeded  TransactionStatus = "succeeded"
	TransactionFailed     TransactionStatus = "failed"
	TransactionRefunded   TransactionStatus = "refunded"
)

type ColorMode string

const (
	ColorModeColor         ColorMode = "color"
	ColorModeBlackAndWhite ColorMode = "blackAndWhite"
	ColorModePastel        ColorMode = "pastel"
)

// BillingAddress is the persisted billing_data payload. It is validated at
// the API boundary before it ever reaches the database.
type BillingAddress struct {
	Street  string `json:"street" validate:"required"`
	City    string `json:"city" validate:"required"`
	State   string `json:"state" validate:"required"`
	Country string `json:"country" validate:"required"`
	Zipcode string `json:"zipcode" validate:"required,len=6,numeric"`
}

type User struct {
	ID               string
	Email            string
	FirstName        string
	LastName         string
	RemainingCredits int
	BillingAddress   *BillingAddress
	DodoCustomerID   string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

type SubscriptionPlan struct {
	ID            string
	Name          string
	PriceCents    int64
	TokenLimit    int
	DodoProductID string
	IsActive      bool
	IsPopular     bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Transaction records one payment attempt and its outcome. Rows are never
// mutated after insert.
type Transaction struct {
	ID            string
	UserID        string
	AmountCents   int64
	TaxCents      int64
	Currency      string
	Status        TransactionStatus
	DodoPaymentID string
	Metadata      TransactionMetadata
	CreatedAt     time.Time
}

// TransactionMetadata is the structured metadata column on transactions.
type TransactionMetadata struct {
	PaymentID    string    `json:"payment_id"`
	Status       string    `json:"status"`
	ErrorMessage string    `json:"error_message,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

type GeneratedImage struct {
	ID          string
	UserID      string
	Prompt      string
	Style       string
	ColorMode   ColorMode
	StoragePath string
	ImageURL    string
	CreatedAt   time.Time
}

type Session struct {
	Token     string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}

type AuthCode struct {
	ID        int64
	Email     string
	Code      string
	ExpiresAt time.Time
	UsedAt    *time.Time
	Attempts  int
	CreatedAt time.Time
}
