package service

import (
	"context"
	"strings"

	"github.com/biddersweet/platform/internal/domain"
	"github.com/biddersweet/platform/internal/provider"
	"github.com/google/uuid"
)

// CheckoutService starts bid pack checkouts and confirms them from the
// browser side: the success redirect and status polling.
type CheckoutService struct {
	deps      Deps
	purchases *PurchaseService
	urls      CheckoutURLs
}

// CheckoutURLs are the Stripe redirect targets. The literal
// {CHECKOUT_SESSION_ID} is expanded by Stripe.
type CheckoutURLs struct {
	Success string
	Cancel  string
}

// NewCheckoutService creates a CheckoutService.
func NewCheckoutService(deps Deps, purchases *PurchaseService, urls CheckoutURLs) *CheckoutService {
	return &CheckoutService{deps: deps.withDefaults(), purchases: purchases, urls: urls}
}

// ListBidPacks returns the packs a user may buy, cheapest first.
func (s *CheckoutService) ListBidPacks(ctx context.Context) ([]domain.BidPack, error) {
	packs, err := s.deps.BidPacks.ListActive(ctx, s.deps.DB)
	if err != nil {
		return nil, domain.ErrInternal("list bid packs", err)
	}
	if packs == nil {
		packs = []domain.BidPack{}
	}
	return packs, nil
}

// CheckoutResult is returned to the client that starts a checkout.
type CheckoutResult struct {
	PurchaseID uuid.UUID `json:"purchase_id"`
	SessionID  string    `json:"session_id"`
	URL        string    `json:"url"`
}

// CreateCheckout opens a Stripe checkout session for a bid pack and records
// the purchase in state created.
func (s *CheckoutService) CreateCheckout(ctx context.Context, rc domain.RequestContext, userID, bidPackID uuid.UUID) (*CheckoutResult, error) {
	user, err := s.deps.Users.FindByID(ctx, s.deps.DB, userID)
	if err != nil {
		return nil, domain.ErrInternal("load user", err)
	}
	if user == nil {
		return nil, domain.ErrUserNotFound(userID.String())
	}
	pack, err := s.deps.BidPacks.FindByID(ctx, s.deps.DB, bidPackID)
	if err != nil {
		return nil, domain.ErrInternal("load bid pack", err)
	}
	if pack == nil || !pack.Active {
		return nil, domain.ErrBidPackNotFound(bidPackID.String())
	}

	purchaseID := uuid.New()
	var session *provider.CheckoutSession
	err = s.deps.callGateway(ctx, func(ctx context.Context) error {
		var err error
		session, err = s.deps.Gateway.CreateCheckoutSession(ctx, provider.CheckoutRequest{
			PurchaseID:    purchaseID,
			UserID:        userID,
			BidPackID:     pack.ID,
			BidPackName:   pack.Name,
			Credits:       pack.Bids,
			AmountCents:   pack.PriceCents,
			Currency:      pack.Currency,
			StorefrontKey: rc.StorefrontKey,
			SuccessURL:    s.urls.Success,
			CancelURL:     s.urls.Cancel,
		})
		return err
	})
	if err != nil {
		return nil, appError(err, "create checkout session")
	}

	purchase := &domain.Purchase{
		ID:                      purchaseID,
		UserID:                  userID,
		BidPackID:               pack.ID,
		Status:                  domain.PurchaseCreated,
		AmountCents:             pack.PriceCents,
		Currency:                domain.NormalizeCurrency(pack.Currency),
		StripeCheckoutSessionID: strPtr(session.ID),
		ReceiptEmail:            strPtr(user.Email),
		StorefrontKey:           rc.StorefrontKey,
	}
	if err := s.deps.Purchases.Create(ctx, s.deps.DB, purchase); err != nil {
		return nil, domain.ErrInternal("record purchase", err)
	}

	s.deps.Logger.Info("audit",
		"action", "checkout_created",
		"actor_type", rc.ActorType,
		"actor_id", rc.ActorString(),
		"target", purchase.ID,
		"outcome", "created",
		"bid_pack_id", pack.ID,
		"session_id", session.ID,
		"request_id", rc.RequestID,
	)
	return &CheckoutResult{PurchaseID: purchase.ID, SessionID: session.ID, URL: session.URL}, nil
}

// HandleSuccess confirms a checkout after the success redirect. The session
// is re-read from Stripe; nothing in the redirect itself is trusted.
func (s *CheckoutService) HandleSuccess(ctx context.Context, rc domain.RequestContext, userID uuid.UUID, sessionID string, bidPackID *uuid.UUID) (*domain.PurchaseResult, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, domain.ErrValidation("session_id is required")
	}
	session, err := s.fetchSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !session.Paid() {
		return &domain.PurchaseResult{Outcome: domain.PurchaseOutcomeIgnored}, nil
	}

	meta := ParseCheckoutMetadata(session.Metadata)
	if meta.UserID != userID {
		return nil, domain.ErrNotFound("checkout session", sessionID)
	}
	if bidPackID != nil && meta.BidPackID != *bidPackID {
		return nil, domain.ErrValidation("bid pack does not match the checkout session")
	}

	return s.purchases.ApplyBidPackPurchase(ctx, rc, sessionPurchaseParams(session, meta, "", domain.SourceCheckoutSuccess))
}

// PurchaseStatus is the client view of a purchase.
type PurchaseStatus struct {
	PurchaseID uuid.UUID             `json:"purchase_id"`
	Status     domain.PurchaseStatus `json:"status"`
	Applied    bool                  `json:"applied"`
	Amount     string                `json:"amount"`
	Currency   string                `json:"currency"`
	Balance    *int64                `json:"balance,omitempty"`
}

// PollStatus reports the purchase behind a checkout session. A purchase the
// webhook has not applied yet is applied here once Stripe reports it paid.
func (s *CheckoutService) PollStatus(ctx context.Context, rc domain.RequestContext, userID uuid.UUID, sessionID string) (*PurchaseStatus, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, domain.ErrValidation("session_id is required")
	}
	purchase, err := s.deps.Purchases.FindByCheckoutSessionID(ctx, s.deps.DB, sessionID)
	if err != nil {
		return nil, domain.ErrInternal("find purchase", err)
	}
	if purchase == nil || purchase.UserID != userID {
		return nil, domain.ErrNotFound("purchase", sessionID)
	}

	if purchase.IsApplied() || !pollable(purchase.Status) {
		return statusView(purchase, nil), nil
	}

	session, err := s.fetchSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !session.Paid() {
		return statusView(purchase, nil), nil
	}

	meta := ParseCheckoutMetadata(session.Metadata)
	if meta.UserID != userID {
		return nil, domain.ErrNotFound("purchase", sessionID)
	}
	result, err := s.purchases.ApplyBidPackPurchase(ctx, rc, sessionPurchaseParams(session, meta, "", domain.SourceStatusPoll))
	if err != nil {
		return nil, err
	}
	return statusView(result.Purchase, &result.Balance), nil
}

func (s *CheckoutService) fetchSession(ctx context.Context, sessionID string) (*provider.CheckoutSession, error) {
	var session *provider.CheckoutSession
	err := s.deps.callGateway(ctx, func(ctx context.Context) error {
		var err error
		session, err = s.deps.Gateway.GetCheckoutSession(ctx, sessionID)
		return err
	})
	if err != nil {
		return nil, appError(err, "get checkout session")
	}
	return session, nil
}

// pollable reports whether a status can still move to applied.
func pollable(status domain.PurchaseStatus) bool {
	return status == domain.PurchaseCreated || status == domain.PurchasePaidPendingApply
}

func statusView(p *domain.Purchase, balance *int64) *PurchaseStatus {
	return &PurchaseStatus{
		PurchaseID: p.ID,
		Status:     p.Status,
		Applied:    p.IsApplied(),
		Amount:     domain.FormatCents(p.AmountCents),
		Currency:   p.Currency,
		Balance:    balance,
	}
}
