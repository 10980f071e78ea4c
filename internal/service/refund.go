package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/biddersweet/platform/internal/domain"
	"github.com/biddersweet/platform/internal/ledger"
	"github.com/biddersweet/platform/internal/provider"
	"github.com/biddersweet/platform/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// errRefundRecorded aborts a reconciliation whose refund money event was
// committed by a concurrent caller.
var errRefundRecorded = errors.New("refund already recorded")

// RefundService reconciles Stripe refunds with the credit ledger and lets
// admins issue refunds.
type RefundService struct {
	deps Deps
}

// NewRefundService creates a RefundService.
func NewRefundService(deps Deps) *RefundService {
	return &RefundService{deps: deps.withDefaults()}
}

// RefundParams describes a refund observed on a payment intent.
// RefundedCents is the cumulative refunded amount; zero means the full price.
type RefundParams struct {
	PaymentIntentID string
	RefundedCents   int64
	StripeEventID   string
	Source          domain.PaymentSource
}

// ReconcileRefund reverses the credits of a refunded purchase exactly once.
func (s *RefundService) ReconcileRefund(ctx context.Context, rc domain.RequestContext, p RefundParams) (*domain.RefundResult, error) {
	result, err := s.reconcile(ctx, rc, p)
	if err != nil {
		s.deps.Metrics.IncRefund(string(p.Source), "error")
		s.deps.Logger.Info("audit",
			"action", "purchase_refunded",
			"actor_type", rc.ActorType,
			"actor_id", rc.ActorString(),
			"target", p.PaymentIntentID,
			"outcome", outcomeCode(err),
			"source", p.Source,
			"request_id", rc.RequestID,
		)
		return nil, err
	}

	s.deps.Metrics.IncRefund(string(p.Source), string(result.Outcome))
	s.deps.Logger.Info("audit",
		"action", "purchase_refunded",
		"actor_type", rc.ActorType,
		"actor_id", rc.ActorString(),
		"target", p.PaymentIntentID,
		"outcome", result.Outcome,
		"source", p.Source,
		"credits_reversed", result.CreditsReversed,
		"request_id", rc.RequestID,
	)
	return result, nil
}

func (s *RefundService) reconcile(ctx context.Context, rc domain.RequestContext, p RefundParams) (*domain.RefundResult, error) {
	if p.PaymentIntentID == "" {
		return nil, domain.ErrMissingMetadata("payment_intent")
	}
	db := s.deps.DB

	purchase, err := s.deps.Purchases.FindByPaymentIntentID(ctx, db, p.PaymentIntentID)
	if err != nil {
		return nil, domain.ErrInternal("find purchase", err)
	}
	if purchase == nil || !purchase.IsApplied() {
		return &domain.RefundResult{Outcome: domain.RefundOutcomeDeferred, Purchase: purchase}, nil
	}
	target := refundedAmount(p.RefundedCents, purchase.AmountCents)
	if purchase.Status.IsRefunded() || target <= purchase.RefundedCents {
		return &domain.RefundResult{Outcome: domain.RefundOutcomeAlreadyRefunded, Purchase: purchase}, nil
	}
	recorded, err := s.deps.Money.Exists(ctx, db, domain.SourceStripePaymentIntent, domain.RefundSourceID(p.PaymentIntentID, target), domain.MoneyRefund)
	if err != nil {
		return nil, domain.ErrInternal("check refund money event", err)
	}
	if recorded {
		return &domain.RefundResult{Outcome: domain.RefundOutcomeAlreadyRefunded, Purchase: purchase}, nil
	}

	grant, err := s.deps.Credits.FindByIdempotencyKey(ctx, db, domain.PurchaseGrantKey(purchase.ID))
	if err != nil {
		return nil, domain.ErrInternal("load purchase grant", err)
	}
	if grant == nil {
		return nil, domain.ErrInternal(fmt.Sprintf("purchase %s is applied but has no grant", purchase.ID), nil)
	}

	var (
		result  *domain.RefundResult
		balance int64
	)
	err = repository.RunTx(ctx, db, s.deps.txOptions("reconcile_refund"), func(ctx context.Context, tx pgx.Tx) error {
		r, b, err := s.reverseLocked(ctx, tx, rc, purchase.ID, purchase.UserID, grant.Amount, target, p)
		if err != nil {
			return err
		}
		result, balance = r, b
		return nil
	})
	if errors.Is(err, errRefundRecorded) {
		return &domain.RefundResult{Outcome: domain.RefundOutcomeDuplicate, Purchase: purchase}, nil
	}
	if err != nil {
		return nil, appError(err, "reconcile refund failed")
	}
	if result.Outcome == domain.RefundOutcomeReversed {
		s.deps.recordBalance(ctx, &domain.User{ID: purchase.UserID, BidCredits: balance})
	}
	return result, nil
}

func (s *RefundService) reverseLocked(
	ctx context.Context,
	tx pgx.Tx,
	rc domain.RequestContext,
	purchaseID, userID uuid.UUID,
	granted, target int64,
	p RefundParams,
) (*domain.RefundResult, int64, error) {
	user, err := s.deps.Ledger.LockUserForUpdate(ctx, tx, userID)
	if err != nil {
		return nil, 0, err
	}
	locked, err := s.deps.Purchases.LockForUpdate(ctx, tx, purchaseID)
	if err != nil {
		return nil, 0, fmt.Errorf("lock purchase: %w", err)
	}
	if locked == nil {
		return nil, 0, domain.ErrNotFound("purchase", purchaseID.String())
	}
	if locked.Status.IsRefunded() || target <= locked.RefundedCents {
		return &domain.RefundResult{Outcome: domain.RefundOutcomeAlreadyRefunded, Purchase: locked}, user.BidCredits, nil
	}

	credits := refundCredits(granted, locked.RefundedCents, target, locked.AmountCents, user.BidCredits)

	sourceType := domain.SourceStripePaymentIntent
	sourceID := domain.RefundSourceID(p.PaymentIntentID, target)
	inserted, err := s.deps.Money.InsertIfAbsent(ctx, tx, &domain.MoneyEvent{
		UserID:        locked.UserID,
		EventType:     domain.MoneyRefund,
		AmountCents:   -(target - locked.RefundedCents),
		Currency:      locked.Currency,
		SourceType:    &sourceType,
		SourceID:      &sourceID,
		OccurredAt:    time.Now().UTC(),
		Metadata:      refundMetadata(p, credits),
		StorefrontKey: locked.StorefrontKey,
	})
	if err != nil {
		return nil, 0, fmt.Errorf("record refund money event: %w", err)
	}
	if !inserted {
		return nil, 0, errRefundRecorded
	}

	var reversal *domain.CreditTransaction
	balance := user.BidCredits
	if credits > 0 {
		rev, err := s.deps.Ledger.ReversePurchase(ctx, tx, rc, ledger.ReversePurchaseParams{
			Purchase:      locked,
			Credits:       credits,
			RefundedCents: target,
			StripeEventID: p.StripeEventID,
			Source:        p.Source,
		})
		if err != nil {
			return nil, 0, err
		}
		reversal = rev.Transaction
		balance = rev.User.BidCredits
	}

	updated, err := s.deps.Purchases.MarkRefunded(ctx, tx, locked.ID, refundStatus(target, locked.AmountCents), target)
	if err != nil {
		return nil, 0, err
	}
	if err := s.deps.Outbox.Insert(ctx, tx, domain.NewPurchaseRefundedEvent(rc, updated, credits)); err != nil {
		return nil, 0, fmt.Errorf("insert outbox event: %w", err)
	}

	return &domain.RefundResult{
		Outcome:         domain.RefundOutcomeReversed,
		Purchase:        updated,
		Reversal:        reversal,
		CreditsReversed: credits,
	}, balance, nil
}

// SettleDeferred reconciles the charge.refunded events that were left
// unstamped because they arrived before the purchase was applied. Failures
// are logged; those events stay pending for the next delivery or apply.
// It reports whether any credits were reversed.
func (s *RefundService) SettleDeferred(ctx context.Context, purchase *domain.Purchase) bool {
	if purchase == nil || purchase.StripePaymentIntentID == nil || !purchase.IsApplied() {
		return false
	}
	pi := *purchase.StripePaymentIntentID
	pending, err := s.deps.Events.ListPending(ctx, s.deps.DB, provider.EventChargeRefunded, pi)
	if err != nil {
		s.deps.Logger.Warn("list deferred refunds failed", "payment_intent", pi, "error", err)
		return false
	}
	reversed := false
	for _, ev := range pending {
		outcome, err := s.settleEvent(ctx, purchase, ev)
		if err != nil {
			s.deps.Logger.Warn("deferred refund not settled",
				"event_id", ev.StripeEventID,
				"payment_intent", pi,
				"error", err,
			)
			continue
		}
		reversed = reversed || outcome == domain.RefundOutcomeReversed
	}
	return reversed
}

func (s *RefundService) settleEvent(ctx context.Context, purchase *domain.Purchase, ev domain.StripeEvent) (domain.RefundOutcome, error) {
	evt, err := provider.ParseStoredEvent(ev.Payload)
	if err != nil {
		return "", err
	}
	charge, err := provider.ParseChargeRefund(evt.Object)
	if err != nil {
		return "", err
	}

	rc := domain.NewRequestContext(purchase.StorefrontKey, domain.ActorStripe, nil, ev.StripeEventID)
	res, err := s.ReconcileRefund(ctx, rc, RefundParams{
		PaymentIntentID: charge.PaymentIntentID,
		RefundedCents:   charge.RefundedCents,
		StripeEventID:   ev.StripeEventID,
		Source:          domain.SourceWebhook,
	})
	var stamp string
	switch {
	case err != nil && domain.IsPermanent(err):
		stamp = rejectedOutcome(outcomeCode(err))
	case err != nil:
		return "", err
	case res.Outcome == domain.RefundOutcomeDeferred:
		return res.Outcome, nil
	default:
		stamp = string(refundWebhookOutcome(res.Outcome))
	}
	if err := s.deps.Events.MarkProcessed(ctx, s.deps.DB, ev.StripeEventID, stamp); err != nil {
		return "", err
	}
	if res == nil {
		return "", nil
	}
	return res.Outcome, nil
}

// IssueRefundParams is an admin refund request. AmountCents is added to
// what was already refunded; zero refunds the remainder.
type IssueRefundParams struct {
	PurchaseID  uuid.UUID
	AmountCents int64
}

// IssueRefund refunds a purchase through Stripe and reconciles it at once.
// A purchase already refunded or never paid is settled without calling
// Stripe. A paid purchase whose credits are not applied yet is rejected
// before Stripe is called.
func (s *RefundService) IssueRefund(ctx context.Context, rc domain.RequestContext, p IssueRefundParams) (*domain.RefundResult, error) {
	if rc.ActorType != domain.ActorAdmin || rc.ActorID == nil {
		return nil, domain.ErrForbidden("refunds require an admin actor")
	}
	db := s.deps.DB

	purchase, err := s.deps.Purchases.FindByID(ctx, db, p.PurchaseID)
	if err != nil {
		return nil, domain.ErrInternal("find purchase", err)
	}
	if purchase == nil {
		return nil, domain.ErrNotFound("purchase", p.PurchaseID.String())
	}

	switch {
	case purchase.Status.IsRefunded():
		return s.settled(rc, purchase, domain.RefundOutcomeAlreadyRefunded), nil
	case purchase.Status == domain.PurchaseVoided:
		return s.settled(rc, purchase, domain.RefundOutcomeVoided), nil
	case purchase.StripePaymentIntentID == nil:
		if err := s.deps.Purchases.UpdateStatus(ctx, db, purchase.ID, domain.PurchaseVoided); err != nil {
			return nil, domain.ErrInternal("void purchase", err)
		}
		purchase.Status = domain.PurchaseVoided
		return s.settled(rc, purchase, domain.RefundOutcomeVoided), nil
	case !purchase.IsApplied():
		return nil, domain.ErrConflict(fmt.Sprintf("purchase %s is %s; credits are not applied yet", purchase.ID, purchase.Status))
	}

	remaining := purchase.AmountCents - purchase.RefundedCents
	amount := p.AmountCents
	if amount == 0 {
		amount = remaining
	}
	if amount < 0 || amount > remaining {
		return nil, domain.ErrValidation(fmt.Sprintf("refund amount must be between 1 and %d", remaining))
	}
	target := purchase.RefundedCents + amount

	pi := *purchase.StripePaymentIntentID
	err = s.deps.callGateway(ctx, func(ctx context.Context) error {
		_, err := s.deps.Gateway.CreateRefund(ctx, provider.RefundRequest{
			PaymentIntentID: pi,
			AmountCents:     amount,
			IdempotencyKey:  domain.PurchaseRefundKey(purchase.ID, target),
			Metadata: map[string]string{
				provider.MetaPurchaseID: purchase.ID.String(),
				"admin_user_id":         rc.ActorString(),
			},
		})
		return err
	})
	if err != nil {
		return nil, appError(err, "create refund")
	}

	return s.ReconcileRefund(ctx, rc, RefundParams{
		PaymentIntentID: pi,
		RefundedCents:   target,
		Source:          domain.SourceAdmin,
	})
}

func (s *RefundService) settled(rc domain.RequestContext, p *domain.Purchase, outcome domain.RefundOutcome) *domain.RefundResult {
	s.deps.Metrics.IncRefund(string(domain.SourceAdmin), string(outcome))
	s.deps.Logger.Info("audit",
		"action", "purchase_refunded",
		"actor_type", rc.ActorType,
		"actor_id", rc.ActorString(),
		"target", p.ID,
		"outcome", outcome,
		"source", domain.SourceAdmin,
		"request_id", rc.RequestID,
	)
	return &domain.RefundResult{Outcome: outcome, Purchase: p}
}

// refundedAmount clamps the refunded cents to the purchase price. Zero or
// less means the whole price.
func refundedAmount(refundedCents, priceCents int64) int64 {
	if refundedCents <= 0 || refundedCents > priceCents {
		return priceCents
	}
	return refundedCents
}

// refundCredits is the number of granted credits to take back when the
// refunded total moves from alreadyCents to refundedCents: the difference of
// the floor-rounded shares, never more than the user still holds.
func refundCredits(granted, alreadyCents, refundedCents, priceCents, balance int64) int64 {
	credits := refundShare(granted, refundedCents, priceCents) - refundShare(granted, alreadyCents, priceCents)
	if credits > balance {
		credits = balance
	}
	if credits < 0 {
		credits = 0
	}
	return credits
}

func refundShare(granted, cents, priceCents int64) int64 {
	switch {
	case cents <= 0:
		return 0
	case cents >= priceCents:
		return granted
	}
	return granted * cents / priceCents
}

func refundStatus(refundedCents, priceCents int64) domain.PurchaseStatus {
	if refundedCents >= priceCents {
		return domain.PurchaseRefunded
	}
	return domain.PurchasePartiallyRefunded
}

func refundMetadata(p RefundParams, credits int64) json.RawMessage {
	raw, _ := json.Marshal(map[string]interface{}{
		"source":           p.Source,
		"stripe_event_id":  p.StripeEventID,
		"credits_reversed": credits,
	})
	return raw
}
