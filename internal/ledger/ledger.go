package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/biddersweet/platform/internal/domain"
	"github.com/biddersweet/platform/internal/infra"
	"github.com/biddersweet/platform/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Engine is the only writer of users.bid_credits. Every balance change goes
// through Apply, which appends a credit_transactions row and moves the cached
// balance inside the caller's transaction.
type Engine struct {
	users   repository.UserRepository
	credits repository.CreditTransactionRepository
	money   repository.MoneyEventRepository
	outbox  repository.OutboxRepository
	metrics *infra.Metrics
	logger  *slog.Logger
}

// NewEngine creates a ledger engine with the given repositories.
func NewEngine(
	users repository.UserRepository,
	credits repository.CreditTransactionRepository,
	money repository.MoneyEventRepository,
	outbox repository.OutboxRepository,
	metrics *infra.Metrics,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		users:   users,
		credits: credits,
		money:   money,
		outbox:  outbox,
		metrics: metrics,
		logger:  logger,
	}
}

// ApplyParams describes one ledger movement.
type ApplyParams struct {
	UserID                  uuid.UUID
	Kind                    domain.CreditKind
	Reason                  domain.CreditReason
	Amount                  int64
	IdempotencyKey          string
	PurchaseID              *uuid.UUID
	AuctionID               *uuid.UUID
	AdminUserID             *uuid.UUID
	StripeEventID           *string
	StripePaymentIntentID   *string
	StripeCheckoutSessionID *string
	Metadata                json.RawMessage
}

// LockUserForUpdate acquires a row-level lock and returns the user.
// Must be called within a transaction.
func (e *Engine) LockUserForUpdate(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (*domain.User, error) {
	user, err := e.users.LockForUpdate(ctx, tx, userID)
	if err != nil {
		return nil, fmt.Errorf("lock user: %w", err)
	}
	if user == nil {
		return nil, domain.ErrUserNotFound(userID.String())
	}
	return user, nil
}

// Apply records a ledger row and moves the cached balance.
//
// Steps, all in tx:
//  1. Lock the user row
//  2. Return the existing row if the idempotency key was already used
//  3. Reject a debit that would take the balance below zero
//  4. Insert the ledger row (ON CONFLICT on the key is a no-op success)
//  5. Update bid_credits with server-side arithmetic
//  6. Insert the outbox event
func (e *Engine) Apply(ctx context.Context, tx pgx.Tx, rc domain.RequestContext, p ApplyParams) (*domain.ApplyResult, error) {
	if p.IdempotencyKey == "" {
		return nil, domain.ErrValidation("idempotency key is required")
	}
	if err := domain.ValidateCreditAmount(p.Kind, p.Amount); err != nil {
		return nil, domain.ErrValidation(err.Error())
	}

	user, err := e.LockUserForUpdate(ctx, tx, p.UserID)
	if err != nil {
		return nil, err
	}

	existing, err := e.credits.FindByIdempotencyKey(ctx, tx, p.IdempotencyKey)
	if err != nil {
		return nil, fmt.Errorf("find existing credit transaction: %w", err)
	}
	if existing != nil {
		return e.idempotentResult(existing, user)
	}

	if user.BidCredits+p.Amount < 0 {
		return nil, domain.ErrInsufficientCredits()
	}

	entry := &domain.CreditTransaction{
		UserID:                  p.UserID,
		Kind:                    p.Kind,
		Amount:                  p.Amount,
		Reason:                  p.Reason,
		IdempotencyKey:          p.IdempotencyKey,
		PurchaseID:              p.PurchaseID,
		AuctionID:               p.AuctionID,
		AdminUserID:             p.AdminUserID,
		StripeEventID:           p.StripeEventID,
		StripePaymentIntentID:   p.StripePaymentIntentID,
		StripeCheckoutSessionID: p.StripeCheckoutSessionID,
		Metadata:                ensureJSON(p.Metadata),
		StorefrontKey:           rc.StorefrontKey,
	}
	inserted, err := e.credits.InsertIfAbsent(ctx, tx, entry)
	if err != nil {
		return nil, err
	}
	if !inserted {
		winner, err := e.credits.FindByIdempotencyKey(ctx, tx, p.IdempotencyKey)
		if err != nil {
			return nil, fmt.Errorf("reload credit transaction: %w", err)
		}
		if winner == nil {
			return nil, fmt.Errorf("credit transaction %q conflicted but is not visible", p.IdempotencyKey)
		}
		return e.idempotentResult(winner, user)
	}

	updated, err := e.users.AddCredits(ctx, tx, p.UserID, p.Amount)
	if err != nil {
		if repository.IsCheckViolation(err, repository.ConstraintNonNegativeCredits) {
			return nil, domain.ErrInsufficientCredits()
		}
		return nil, fmt.Errorf("update bid credits: %w", err)
	}

	if err := e.outbox.Insert(ctx, tx, domain.NewCreditAppliedEvent(rc, entry, updated.BidCredits)); err != nil {
		return nil, fmt.Errorf("insert outbox event: %w", err)
	}

	e.metrics.AddCredits(string(p.Reason), p.Amount)
	return &domain.ApplyResult{Transaction: entry, User: updated}, nil
}

func (e *Engine) idempotentResult(existing *domain.CreditTransaction, user *domain.User) (*domain.ApplyResult, error) {
	if existing.UserID != user.ID {
		return nil, domain.ErrConflict(fmt.Sprintf("idempotency key %s belongs to another user", existing.IdempotencyKey))
	}
	return &domain.ApplyResult{Transaction: existing, User: user, Idempotent: true}, nil
}
