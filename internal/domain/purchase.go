package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// PurchaseStatus tracks the bid pack purchase lifecycle.
type PurchaseStatus string

const (
	PurchaseCreated           PurchaseStatus = "created"
	PurchasePaidPendingApply  PurchaseStatus = "paid_pending_apply"
	PurchaseApplied           PurchaseStatus = "applied"
	PurchaseFailed            PurchaseStatus = "failed"
	PurchasePartiallyRefunded PurchaseStatus = "partially_refunded"
	PurchaseRefunded          PurchaseStatus = "refunded"
	PurchaseVoided            PurchaseStatus = "voided"
)

// IsRefunded reports whether the full price has been refunded. A partially
// refunded purchase still accepts further refunds.
func (s PurchaseStatus) IsRefunded() bool {
	return s == PurchaseRefunded
}

// Valid reports whether s is one of the canonical statuses.
func (s PurchaseStatus) Valid() bool {
	switch s {
	case PurchaseCreated, PurchasePaidPendingApply, PurchaseApplied, PurchaseFailed,
		PurchasePartiallyRefunded, PurchaseRefunded, PurchaseVoided:
		return true
	}
	return false
}

// Purchase is a purchases row. LedgerGrantCreditTransactionID is set exactly
// once and is the authoritative "already applied" marker.
type Purchase struct {
	ID                             uuid.UUID      `json:"id"`
	UserID                         uuid.UUID      `json:"user_id"`
	BidPackID                      uuid.UUID      `json:"bid_pack_id"`
	Status                         PurchaseStatus `json:"status"`
	AmountCents                    int64          `json:"amount_cents"`
	Currency                       string         `json:"currency"`
	StripeCheckoutSessionID        *string        `json:"stripe_checkout_session_id,omitempty"`
	StripePaymentIntentID          *string        `json:"stripe_payment_intent_id,omitempty"`
	StripeEventID                  *string        `json:"stripe_event_id,omitempty"`
	RefundedCents                  int64          `json:"refunded_cents"`
	ReceiptURL                     *string        `json:"receipt_url,omitempty"`
	ReceiptEmail                   *string        `json:"receipt_email,omitempty"`
	LedgerGrantCreditTransactionID *uuid.UUID     `json:"ledger_grant_credit_transaction_id,omitempty"`
	StorefrontKey                  string         `json:"storefront_key"`
	CreatedAt                      time.Time      `json:"created_at"`
	UpdatedAt                      time.Time      `json:"updated_at"`
}

// IsApplied reports whether the purchase's credits have been granted.
func (p *Purchase) IsApplied() bool {
	return p.LedgerGrantCreditTransactionID != nil
}

// BidPack is a purchasable bundle of bid credits.
type BidPack struct {
	ID         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	Bids       int64     `json:"bids"`
	PriceCents int64     `json:"price_cents"`
	Currency   string    `json:"currency"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"created_at"`
}

// StripeEvent records a received webhook event. ProcessedAt is set only
// after the event's side effects have committed.
type StripeEvent struct {
	ID            uuid.UUID       `json:"id"`
	StripeEventID string          `json:"stripe_event_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	Outcome       *string         `json:"outcome,omitempty"`
	ProcessedAt   *time.Time      `json:"processed_at,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// PaymentSource names the entry point that asked for a purchase to be applied.
type PaymentSource string

const (
	SourceWebhook         PaymentSource = "webhook"
	SourceCheckoutSuccess PaymentSource = "checkout_success"
	SourceStatusPoll      PaymentSource = "status_poll"
	SourceAdmin           PaymentSource = "admin"
)
