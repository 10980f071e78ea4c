package repository

import (
	"context"
	"time"

	"github.com/biddersweet/platform/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX abstracts pgx.Tx and pgxpool.Pool so repositories work with both.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// UserRepository provides access to users.
type UserRepository interface {
	// FindByID returns a user by ID, or nil if absent.
	FindByID(ctx context.Context, db DBTX, id uuid.UUID) (*domain.User, error)

	// LockForUpdate acquires a row-level lock (SELECT FOR UPDATE) and returns the user.
	LockForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.User, error)

	// Create inserts a new user.
	Create(ctx context.Context, db DBTX, user *domain.User) error

	// AddCredits applies delta to bid_credits with server-side arithmetic.
	// The users_bid_credits_non_negative check rejects a negative result.
	AddCredits(ctx context.Context, tx pgx.Tx, id uuid.UUID, delta int64) (*domain.User, error)
}

// CreditTransactionRepository provides access to the credit ledger.
type CreditTransactionRepository interface {
	// FindByIdempotencyKey returns the ledger row for key, or nil.
	FindByIdempotencyKey(ctx context.Context, db DBTX, key string) (*domain.CreditTransaction, error)

	// InsertIfAbsent inserts the row unless its idempotency key already exists.
	// Returns false when a row with the same key was already committed.
	InsertIfAbsent(ctx context.Context, db DBTX, ct *domain.CreditTransaction) (bool, error)

	// SumByUser derives the balance from the ledger.
	SumByUser(ctx context.Context, db DBTX, userID uuid.UUID) (int64, error)

	// ListByUser returns the newest ledger rows first.
	ListByUser(ctx context.Context, db DBTX, userID uuid.UUID, limit int) ([]domain.CreditTransaction, error)
}

// MoneyEventRepository provides append-only access to money_events.
type MoneyEventRepository interface {
	// InsertIfAbsent appends the event unless (source_type, source_id, event_type)
	// already exists. Returns false on a duplicate.
	InsertIfAbsent(ctx context.Context, db DBTX, ev *domain.MoneyEvent) (bool, error)

	// Exists reports whether an event for the source is recorded.
	Exists(ctx context.Context, db DBTX, sourceType, sourceID string, eventType domain.MoneyEventType) (bool, error)

	// ListByUser returns the newest events first.
	ListByUser(ctx context.Context, db DBTX, userID uuid.UUID, limit int) ([]domain.MoneyEvent, error)
}

// PurchaseRepository provides access to purchases.
type PurchaseRepository interface {
	// Create inserts a purchase. Unique violations are returned unchanged so
	// concurrent creators can detect the race and re-fetch.
	Create(ctx context.Context, db DBTX, p *domain.Purchase) error

	FindByID(ctx context.Context, db DBTX, id uuid.UUID) (*domain.Purchase, error)
	FindByPaymentIntentID(ctx context.Context, db DBTX, paymentIntentID string) (*domain.Purchase, error)
	FindByCheckoutSessionID(ctx context.Context, db DBTX, sessionID string) (*domain.Purchase, error)

	// LockForUpdate acquires a row-level lock on the purchase.
	LockForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Purchase, error)

	// AttachPaymentIntent sets the payment intent on a purchase that has none.
	// Returns false if the purchase already carried one.
	AttachPaymentIntent(ctx context.Context, db DBTX, id uuid.UUID, paymentIntentID string, stripeEventID *string) (bool, error)

	// MarkApplied stamps the grant reference and sets status applied.
	MarkApplied(ctx context.Context, db DBTX, id, creditTransactionID uuid.UUID) (*domain.Purchase, error)

	// MarkRefunded records a reconciled refund.
	MarkRefunded(ctx context.Context, db DBTX, id uuid.UUID, status domain.PurchaseStatus, refundedCents int64) (*domain.Purchase, error)

	// UpdateStatus sets status without touching amounts.
	UpdateStatus(ctx context.Context, db DBTX, id uuid.UUID, status domain.PurchaseStatus) error

	// ListByUser returns the newest purchases first.
	ListByUser(ctx context.Context, db DBTX, userID uuid.UUID, limit int) ([]domain.Purchase, error)
}

// StripeEventRepository records webhook deliveries.
type StripeEventRepository interface {
	// Record inserts the event unless its Stripe id is already known.
	Record(ctx context.Context, db DBTX, ev *domain.StripeEvent) (bool, error)

	FindByStripeID(ctx context.Context, db DBTX, stripeEventID string) (*domain.StripeEvent, error)

	// MarkProcessed stamps processed_at and the outcome.
	MarkProcessed(ctx context.Context, db DBTX, stripeEventID, outcome string) error

	// ListPending returns unstamped events of a type whose object references
	// the payment intent, oldest first.
	ListPending(ctx context.Context, db DBTX, eventType, paymentIntentID string) ([]domain.StripeEvent, error)
}

// AuctionRepository provides access to auctions.
type AuctionRepository interface {
	FindByID(ctx context.Context, db DBTX, id uuid.UUID) (*domain.Auction, error)

	// LockForUpdate acquires a row-level lock on the auction.
	LockForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Auction, error)

	Create(ctx context.Context, db DBTX, a *domain.Auction) error

	// ApplyBid moves price, winner and end time after a bid.
	ApplyBid(ctx context.Context, tx pgx.Tx, id uuid.UUID, price int64, winner uuid.UUID, endTime time.Time) (*domain.Auction, error)

	// CloseExpired ends active auctions whose end time is at or before now.
	CloseExpired(ctx context.Context, db DBTX, now time.Time, limit int) ([]domain.Auction, error)
}

// BidRepository provides access to bids.
type BidRepository interface {
	Insert(ctx context.Context, db DBTX, bid *domain.Bid) error
	ListByAuction(ctx context.Context, db DBTX, auctionID uuid.UUID, limit int) ([]domain.Bid, error)
}

// BidPackRepository provides access to bid_packs.
type BidPackRepository interface {
	FindByID(ctx context.Context, db DBTX, id uuid.UUID) (*domain.BidPack, error)
	Create(ctx context.Context, db DBTX, bp *domain.BidPack) error
	ListActive(ctx context.Context, db DBTX) ([]domain.BidPack, error)
}

// OutboxRepository provides access to the event_outbox table. Relaying is
// done by infra.OutboxPoller.
type OutboxRepository interface {
	// Insert writes an outbox event (within the same transaction as the ledger entry).
	Insert(ctx context.Context, db DBTX, draft domain.OutboxDraft) error
}
