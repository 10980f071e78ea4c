package domain

// Outcomes are the success variants of the core operations. Failures are
// always *AppError values; an outcome never carries an error.

// PurchaseOutcome is the result tag of applying a bid pack purchase.
type PurchaseOutcome string

const (
	PurchaseOutcomeApplied    PurchaseOutcome = "applied"
	PurchaseOutcomeIdempotent PurchaseOutcome = "idempotent"
	PurchaseOutcomeIgnored    PurchaseOutcome = "ignored"
)

// PurchaseResult is returned by the payment application engine.
type PurchaseResult struct {
	Outcome           PurchaseOutcome    `json:"outcome"`
	Purchase          *Purchase          `json:"purchase,omitempty"`
	CreditTransaction *CreditTransaction `json:"credit_transaction,omitempty"`
	Balance           int64              `json:"balance"`
}

// Idempotent mirrors the wire flag returned to callers.
func (r *PurchaseResult) Idempotent() bool {
	return r.Outcome == PurchaseOutcomeIdempotent
}

// RefundOutcome is the result tag of refund reconciliation.
type RefundOutcome string

const (
	RefundOutcomeReversed        RefundOutcome = "reversed"
	RefundOutcomeAlreadyRefunded RefundOutcome = "already_refunded"
	RefundOutcomeDuplicate       RefundOutcome = "duplicate"
	RefundOutcomeDeferred        RefundOutcome = "deferred"
	RefundOutcomeVoided          RefundOutcome = "voided"
)

// RefundResult is returned by refund reconciliation.
type RefundResult struct {
	Outcome         RefundOutcome      `json:"outcome"`
	Purchase        *Purchase          `json:"purchase,omitempty"`
	Reversal        *CreditTransaction `json:"reversal,omitempty"`
	CreditsReversed int64              `json:"credits_reversed"`
}

// WebhookOutcome is the result tag of processing one Stripe event.
type WebhookOutcome string

const (
	WebhookProcessed WebhookOutcome = "processed"
	WebhookDuplicate WebhookOutcome = "duplicate"
	WebhookIgnored   WebhookOutcome = "ignored"
	WebhookDeferred  WebhookOutcome = "deferred"
	WebhookRejected  WebhookOutcome = "rejected"
)

// WebhookResult is returned by the webhook processor.
type WebhookResult struct {
	Outcome   WebhookOutcome `json:"outcome"`
	EventID   string         `json:"event_id"`
	EventType string         `json:"event_type"`
	Code      string         `json:"code,omitempty"`
}

// ApplyResult is returned by the ledger engine.
type ApplyResult struct {
	Transaction *CreditTransaction
	User        *User
	Idempotent  bool
}

// PlaceBidResult is returned by the bid placement engine.
type PlaceBidResult struct {
	Bid      *Bid      `json:"bid"`
	Auction  *Auction  `json:"auction"`
	Balance  int64     `json:"balance"`
	Extended bool      `json:"extended"`
	Event    BidPlaced `json:"-"`
}
