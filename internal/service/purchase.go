package service

import (
	"context"
	"fmt"
	"time"

	"github.com/biddersweet/platform/internal/domain"
	"github.com/biddersweet/platform/internal/ledger"
	"github.com/biddersweet/platform/internal/provider"
	"github.com/biddersweet/platform/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// PurchaseService applies paid bid pack purchases. The webhook, the checkout
// success redirect and the status poll all converge here; the grant key is
// derived from the purchase id so at most one of them credits the user.
type PurchaseService struct {
	deps    Deps
	refunds *RefundService
}

// NewPurchaseService creates a PurchaseService.
func NewPurchaseService(deps Deps) *PurchaseService {
	deps = deps.withDefaults()
	return &PurchaseService{deps: deps, refunds: NewRefundService(deps)}
}

// ApplyPurchaseParams carries what a payment entry point knows about a paid
// checkout. CheckoutSessionID is empty for payment_intent events.
type ApplyPurchaseParams struct {
	UserID    uuid.UUID
	BidPackID uuid.UUID
	// PurchaseID is the purchase created at checkout, when the metadata
	// carries one.
	PurchaseID        uuid.UUID
	CheckoutSessionID string
	PaymentIntentID   string
	StripeEventID     string
	AmountCents       int64
	Currency          string
	ReceiptEmail      string
	StorefrontKey     string
	Source            domain.PaymentSource
}

// ApplyBidPackPurchase grants the bid pack credits for a paid purchase.
func (s *PurchaseService) ApplyBidPackPurchase(ctx context.Context, rc domain.RequestContext, p ApplyPurchaseParams) (*domain.PurchaseResult, error) {
	result, err := s.apply(ctx, rc, p)
	if err != nil {
		s.deps.Metrics.IncPurchase(string(p.Source), "error")
		s.deps.Logger.Info("audit",
			"action", "purchase_applied",
			"actor_type", rc.ActorType,
			"actor_id", rc.ActorString(),
			"target", p.PaymentIntentID,
			"outcome", outcomeCode(err),
			"source", p.Source,
			"request_id", rc.RequestID,
		)
		return nil, err
	}

	s.deps.Metrics.IncPurchase(string(p.Source), string(result.Outcome))
	s.deps.Logger.Info("audit",
		"action", "purchase_applied",
		"actor_type", rc.ActorType,
		"actor_id", rc.ActorString(),
		"target", result.Purchase.ID,
		"outcome", result.Outcome,
		"source", p.Source,
		"user_id", result.Purchase.UserID,
		"balance", result.Balance,
		"request_id", rc.RequestID,
	)

	// Refunds delivered before the credits existed were deferred.
	if s.refunds.SettleDeferred(ctx, result.Purchase) {
		s.reload(ctx, result)
	}
	return result, nil
}

// reload refreshes the purchase and balance of a result after a deferred
// refund changed them. On failure the result keeps its earlier values.
func (s *PurchaseService) reload(ctx context.Context, result *domain.PurchaseResult) {
	purchase, err := s.deps.Purchases.FindByID(ctx, s.deps.DB, result.Purchase.ID)
	if err != nil || purchase == nil {
		s.deps.Logger.Warn("reload purchase failed", "purchase_id", result.Purchase.ID, "error", err)
		return
	}
	balance, err := s.deps.Ledger.Balance(ctx, s.deps.DB, purchase.UserID)
	if err != nil {
		s.deps.Logger.Warn("reload balance failed", "user_id", purchase.UserID, "error", err)
		return
	}
	result.Purchase = purchase
	result.Balance = balance
}

func (s *PurchaseService) apply(ctx context.Context, rc domain.RequestContext, p ApplyPurchaseParams) (*domain.PurchaseResult, error) {
	pack, err := s.validate(ctx, p)
	if err != nil {
		return nil, err
	}

	purchase, err := s.findOrCreate(ctx, p, pack)
	if err != nil {
		return nil, err
	}
	if purchase.IsApplied() {
		return s.idempotentResult(ctx, purchase)
	}

	var result *domain.PurchaseResult
	err = repository.RunTx(ctx, s.deps.DB, s.deps.txOptions("apply_purchase"), func(ctx context.Context, tx pgx.Tx) error {
		r, err := s.applyLocked(ctx, tx, rc, purchase.ID, purchase.UserID, pack, p)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		return nil, appError(err, "apply purchase failed")
	}
	if result.Outcome == domain.PurchaseOutcomeApplied {
		s.deps.recordBalance(ctx, &domain.User{ID: result.Purchase.UserID, BidCredits: result.Balance})
	}
	return result, nil
}

// validate runs every business check before anything is written.
func (s *PurchaseService) validate(ctx context.Context, p ApplyPurchaseParams) (*domain.BidPack, error) {
	switch {
	case p.PaymentIntentID == "":
		return nil, domain.ErrMissingMetadata("payment_intent")
	case p.UserID == uuid.Nil:
		return nil, domain.ErrMissingMetadata(provider.MetaUserID)
	case p.BidPackID == uuid.Nil:
		return nil, domain.ErrMissingMetadata(provider.MetaBidPackID)
	}

	user, err := s.deps.Users.FindByID(ctx, s.deps.DB, p.UserID)
	if err != nil {
		return nil, domain.ErrInternal("load user", err)
	}
	if user == nil {
		return nil, domain.ErrUserNotFound(p.UserID.String())
	}

	pack, err := s.deps.BidPacks.FindByID(ctx, s.deps.DB, p.BidPackID)
	if err != nil {
		return nil, domain.ErrInternal("load bid pack", err)
	}
	if pack == nil {
		return nil, domain.ErrBidPackNotFound(p.BidPackID.String())
	}

	if err := checkPaidAmount(pack, p.AmountCents, p.Currency); err != nil {
		return nil, err
	}
	return pack, nil
}

// checkPaidAmount rejects a payment whose amount or currency differs from
// the bid pack price.
func checkPaidAmount(pack *domain.BidPack, amountCents int64, currency string) error {
	if amountCents != pack.PriceCents {
		return domain.ErrValidation(fmt.Sprintf("paid amount %d does not match bid pack price %d", amountCents, pack.PriceCents))
	}
	if domain.NormalizeCurrency(currency) != domain.NormalizeCurrency(pack.Currency) {
		return domain.ErrValidation(fmt.Sprintf("paid currency %q does not match bid pack currency %q", currency, pack.Currency))
	}
	return nil
}

// findOrCreate returns the purchase for the payment intent. A purchase made
// by CreateCheckout, named in the metadata or sharing the session, is
// adopted. Otherwise a new row is inserted and a concurrent insert is
// resolved by re-reading the winner.
func (s *PurchaseService) findOrCreate(ctx context.Context, p ApplyPurchaseParams, pack *domain.BidPack) (*domain.Purchase, error) {
	db := s.deps.DB

	existing, err := s.deps.Purchases.FindByPaymentIntentID(ctx, db, p.PaymentIntentID)
	if err != nil {
		return nil, domain.ErrInternal("find purchase", err)
	}
	if existing != nil {
		return ownedPurchase(existing, p)
	}

	pending, err := s.pendingPurchase(ctx, p)
	if err != nil {
		return nil, err
	}
	if pending != nil && pending.StripePaymentIntentID == nil {
		if _, err := ownedPurchase(pending, p); err != nil {
			return nil, err
		}
		attached, err := s.deps.Purchases.AttachPaymentIntent(ctx, db, pending.ID, p.PaymentIntentID, strPtr(p.StripeEventID))
		if err != nil && !repository.IsUniqueViolation(err, "") {
			return nil, domain.ErrInternal("attach payment intent", err)
		}
		if attached {
			found, err := s.deps.Purchases.FindByID(ctx, db, pending.ID)
			if err != nil {
				return nil, domain.ErrInternal("reload purchase", err)
			}
			return ownedPurchase(found, p)
		}
		return s.refetch(ctx, p)
	}

	storefront := p.StorefrontKey
	if storefront == "" {
		storefront = domain.DefaultStorefront
	}
	created := &domain.Purchase{
		ID:                      uuid.New(),
		UserID:                  p.UserID,
		BidPackID:               pack.ID,
		Status:                  domain.PurchasePaidPendingApply,
		AmountCents:             p.AmountCents,
		Currency:                domain.NormalizeCurrency(pack.Currency),
		StripeCheckoutSessionID: strPtr(p.CheckoutSessionID),
		StripePaymentIntentID:   strPtr(p.PaymentIntentID),
		StripeEventID:           strPtr(p.StripeEventID),
		ReceiptEmail:            strPtr(p.ReceiptEmail),
		StorefrontKey:           storefront,
	}
	if err := s.deps.Purchases.Create(ctx, db, created); err != nil {
		if repository.IsUniqueViolation(err, "") {
			return s.refetch(ctx, p)
		}
		return nil, domain.ErrInternal("create purchase", err)
	}
	return created, nil
}

// pendingPurchase finds the purchase recorded at checkout: by the purchase id
// in the payment metadata, then by checkout session.
func (s *PurchaseService) pendingPurchase(ctx context.Context, p ApplyPurchaseParams) (*domain.Purchase, error) {
	db := s.deps.DB
	if p.PurchaseID != uuid.Nil {
		found, err := s.deps.Purchases.FindByID(ctx, db, p.PurchaseID)
		if err != nil {
			return nil, domain.ErrInternal("find purchase by id", err)
		}
		if found != nil {
			return found, nil
		}
	}
	if p.CheckoutSessionID == "" {
		return nil, nil
	}
	found, err := s.deps.Purchases.FindByCheckoutSessionID(ctx, db, p.CheckoutSessionID)
	if err != nil {
		return nil, domain.ErrInternal("find purchase by session", err)
	}
	return found, nil
}

func (s *PurchaseService) refetch(ctx context.Context, p ApplyPurchaseParams) (*domain.Purchase, error) {
	winner, err := s.deps.Purchases.FindByPaymentIntentID(ctx, s.deps.DB, p.PaymentIntentID)
	if err != nil {
		return nil, domain.ErrInternal("refetch purchase", err)
	}
	if winner == nil {
		return nil, domain.ErrInternal(fmt.Sprintf("purchase for payment intent %s conflicted but is not visible", p.PaymentIntentID), nil)
	}
	return ownedPurchase(winner, p)
}

// ownedPurchase hides purchases of other users behind NOT_FOUND.
func ownedPurchase(purchase *domain.Purchase, p ApplyPurchaseParams) (*domain.Purchase, error) {
	if purchase == nil {
		return nil, domain.ErrNotFound("purchase", p.PaymentIntentID)
	}
	if purchase.UserID != p.UserID {
		return nil, domain.ErrNotFound("purchase", p.PaymentIntentID)
	}
	if purchase.BidPackID != p.BidPackID {
		return nil, domain.ErrValidation("payment bid pack does not match the purchase")
	}
	return purchase, nil
}

func (s *PurchaseService) applyLocked(
	ctx context.Context,
	tx pgx.Tx,
	rc domain.RequestContext,
	purchaseID, userID uuid.UUID,
	pack *domain.BidPack,
	p ApplyPurchaseParams,
) (*domain.PurchaseResult, error) {
	user, err := s.deps.Ledger.LockUserForUpdate(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	locked, err := s.deps.Purchases.LockForUpdate(ctx, tx, purchaseID)
	if err != nil {
		return nil, fmt.Errorf("lock purchase: %w", err)
	}
	if locked == nil {
		return nil, domain.ErrNotFound("purchase", purchaseID.String())
	}
	if locked.IsApplied() {
		return &domain.PurchaseResult{
			Outcome:  domain.PurchaseOutcomeIdempotent,
			Purchase: locked,
			Balance:  user.BidCredits,
		}, nil
	}

	grant, err := s.deps.Ledger.GrantPurchase(ctx, tx, rc, ledger.GrantPurchaseParams{
		Purchase:      locked,
		Credits:       pack.Bids,
		StripeEventID: p.StripeEventID,
	})
	if err != nil {
		return nil, err
	}

	sourceType := domain.SourceStripePaymentIntent
	sourceID := p.PaymentIntentID
	if _, err := s.deps.Money.InsertIfAbsent(ctx, tx, &domain.MoneyEvent{
		UserID:        locked.UserID,
		EventType:     domain.MoneyPurchase,
		AmountCents:   locked.AmountCents,
		Currency:      locked.Currency,
		SourceType:    &sourceType,
		SourceID:      &sourceID,
		OccurredAt:    time.Now().UTC(),
		StorefrontKey: locked.StorefrontKey,
	}); err != nil {
		return nil, fmt.Errorf("record purchase money event: %w", err)
	}

	applied, err := s.deps.Purchases.MarkApplied(ctx, tx, locked.ID, grant.Transaction.ID)
	if err != nil {
		return nil, err
	}
	if err := s.deps.Outbox.Insert(ctx, tx, domain.NewPurchaseAppliedEvent(rc, applied, pack.Bids)); err != nil {
		return nil, fmt.Errorf("insert outbox event: %w", err)
	}

	return &domain.PurchaseResult{
		Outcome:           domain.PurchaseOutcomeApplied,
		Purchase:          applied,
		CreditTransaction: grant.Transaction,
		Balance:           grant.User.BidCredits,
	}, nil
}

func (s *PurchaseService) idempotentResult(ctx context.Context, purchase *domain.Purchase) (*domain.PurchaseResult, error) {
	balance, err := s.deps.Ledger.Balance(ctx, s.deps.DB, purchase.UserID)
	if err != nil {
		return nil, appError(err, "load balance")
	}
	return &domain.PurchaseResult{
		Outcome:  domain.PurchaseOutcomeIdempotent,
		Purchase: purchase,
		Balance:  balance,
	}, nil
}

// outcomeCode labels a failed operation for audit records.
func outcomeCode(err error) string {
	if appErr, ok := domain.AsAppError(err); ok {
		return appErr.Code
	}
	return "error"
}
