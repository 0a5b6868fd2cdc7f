package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentSource string

const (
	SourceWebhook PaymentSource = "webhook"
	SourceManual  PaymentSource = "manual"
	SourceStream  PaymentSource = "stream"
)

// IncomingPayment is one mobile-money event as received. It is never
// updated apart from the link and reject flags.
type IncomingPayment struct {
	ID                int64           `json:"id"`
	ProviderReference string          `json:"provider_reference"`
	Phone             string          `json:"phone"`
	Amount            decimal.Decimal `json:"amount"`
	Currency          string          `json:"currency"`
	AccountReference  string          `json:"account_reference,omitempty"`
	Source            PaymentSource   `json:"source"`
	OccurredAt        time.Time       `json:"occurred_at"`
	ReceivedAt        time.Time       `json:"received_at"`
	Linked            bool            `json:"linked"`
	LinkedOrderID     *int64          `json:"linked_order_id,omitempty"`
	Rejected          bool            `json:"rejected"`
}
