package payment

import "time"

// Status tracks a payment intent through reconciliation.
type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Transaction is a payment intent opened against the gateway. Credits are
// granted exactly once, when Status moves from pending to success.
type Transaction struct {
	ID           string    `json:"id" db:"id"`
	AccountID    string    `json:"account_id" db:"account_id"`
	OrderID      string    `json:"order_id" db:"order_id"`
	PaymentID    string    `json:"payment_id,omitempty" db:"payment_id"`
	Plan         string    `json:"plan" db:"plan"`
	Amount       int64     `json:"amount" db:"amount"`
	Currency     string    `json:"currency" db:"currency"`
	CreditsAdded int64     `json:"credits_added" db:"credits_added"`
	Status       Status    `json:"status" db:"status"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// Order is what the caller needs to open the gateway checkout.
type Order struct {
	OrderID  string `json:"orderId"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	KeyID    string `json:"keyId,omitempty"`
}

// Receipt acknowledges a verified payment.
type Receipt struct {
	OrderID      string `json:"orderId"`
	CreditsAdded int64  `json:"creditsAdded"`
	TotalCredits int64  `json:"totalCredits"`
}
