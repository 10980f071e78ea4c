package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreditKind is the direction of a ledger row.
type CreditKind string

const (
	CreditGrant      CreditKind = "grant"
	CreditDebit      CreditKind = "debit"
	CreditAdjustment CreditKind = "adjustment"
)

// CreditReason explains why a ledger row exists.
type CreditReason string

const (
	ReasonBidPlaced             CreditReason = "bid_placed"
	ReasonBidPackPurchase       CreditReason = "bid_pack_purchase"
	ReasonPurchaseRefundReverse CreditReason = "purchase_refund_credit_reversal"
	ReasonAdminAdjustment       CreditReason = "admin_adjustment"
)

// CreditTransaction is one immutable credit_transactions row. Amount is
// signed: grants are positive, debits negative.
type CreditTransaction struct {
	ID                      uuid.UUID       `json:"id"`
	UserID                  uuid.UUID       `json:"user_id"`
	Kind                    CreditKind      `json:"kind"`
	Amount                  int64           `json:"amount"`
	Reason                  CreditReason    `json:"reason"`
	IdempotencyKey          string          `json:"idempotency_key"`
	PurchaseID              *uuid.UUID      `json:"purchase_id,omitempty"`
	AuctionID               *uuid.UUID      `json:"auction_id,omitempty"`
	AdminUserID             *uuid.UUID      `json:"admin_user_id,omitempty"`
	StripeEventID           *string         `json:"stripe_event_id,omitempty"`
	StripePaymentIntentID   *string         `json:"stripe_payment_intent_id,omitempty"`
	StripeCheckoutSessionID *string         `json:"stripe_checkout_session_id,omitempty"`
	Metadata                json.RawMessage `json:"metadata"`
	StorefrontKey           string          `json:"storefront_key"`
	CreatedAt               time.Time       `json:"created_at"`
}

// ValidateCreditAmount checks that the sign of amount agrees with kind.
func ValidateCreditAmount(kind CreditKind, amount int64) error {
	switch kind {
	case CreditGrant:
		if amount <= 0 {
			return fmt.Errorf("grant amount must be positive, got %d", amount)
		}
	case CreditDebit:
		if amount >= 0 {
			return fmt.Errorf("debit amount must be negative, got %d", amount)
		}
	case CreditAdjustment:
		if amount == 0 {
			return fmt.Errorf("adjustment amount must be non-zero")
		}
	default:
		return fmt.Errorf("unknown credit kind %q", kind)
	}
	return nil
}

// Deterministic idempotency keys. Every retry of the same logical operation
// must derive the same key.

func PurchaseGrantKey(purchaseID uuid.UUID) string {
	return fmt.Sprintf("purchase:%s:grant", purchaseID)
}

// PurchaseRefundKey is keyed by the cumulative refunded cents, so each
// further partial refund gets its own reversal.
func PurchaseRefundKey(purchaseID uuid.UUID, refundedCents int64) string {
	return fmt.Sprintf("purchase:%s:refund:%d", purchaseID, refundedCents)
}

func BidDebitKey(bidID uuid.UUID) string {
	return fmt.Sprintf("bid:%s:debit", bidID)
}

func AdminAdjustmentKey(requestKey string) string {
	return "admin_adjustment:" + requestKey
}

// BalanceAudit compares the cached balance to the ledger sum.
type BalanceAudit struct {
	UserID  uuid.UUID `json:"user_id"`
	Cached  int64     `json:"cached"`
	Derived int64     `json:"derived"`
	Matches bool      `json:"matches"`
}
