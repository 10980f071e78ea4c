package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MoneyEventType classifies money_events rows.
type MoneyEventType string

const (
	MoneyPurchase        MoneyEventType = "purchase"
	MoneyBidSpent        MoneyEventType = "bid_spent"
	MoneyRefund          MoneyEventType = "refund"
	MoneyAdminAdjustment MoneyEventType = "admin_adjustment"
)

// Source types recorded on money_events.
const (
	SourceStripePaymentIntent = "stripe_payment_intent"
	SourceBid                 = "Bid"
	SourceCreditTransaction   = "CreditTransaction"
)

// RefundSourceID identifies the refund money event that brings a payment
// intent's refunded total to refundedCents.
func RefundSourceID(paymentIntentID string, refundedCents int64) string {
	return fmt.Sprintf("%s:%d", paymentIntentID, refundedCents)
}

// MoneyEvent is an append-only record of a money-moving fact. At most one
// event per (SourceType, SourceID, EventType) exists.
type MoneyEvent struct {
	ID            uuid.UUID       `json:"id"`
	UserID        uuid.UUID       `json:"user_id"`
	EventType     MoneyEventType  `json:"event_type"`
	AmountCents   int64           `json:"amount_cents"`
	Currency      string          `json:"currency"`
	SourceType    *string         `json:"source_type,omitempty"`
	SourceID      *string         `json:"source_id,omitempty"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Metadata      json.RawMessage `json:"metadata"`
	StorefrontKey string          `json:"storefront_key"`
	CreatedAt     time.Time       `json:"created_at"`
}

// FormatCents renders integer minor units as a fixed two-decimal string.
func FormatCents(cents int64) string {
	return decimal.New(cents, -2).StringFixed(2)
}
