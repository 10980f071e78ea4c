package ledger

import (
	"context"
	"fmt"

	"github.com/biddersweet/platform/internal/domain"
	"github.com/jackc/pgx/v5"
)

// GrantPurchaseParams identifies the purchase whose credits are granted.
type GrantPurchaseParams struct {
	Purchase      *domain.Purchase
	Credits       int64
	StripeEventID string
}

// GrantPurchase credits a bid pack purchase. The key is derived from the
// purchase id, so every entry point grants at most once.
func (e *Engine) GrantPurchase(ctx context.Context, tx pgx.Tx, rc domain.RequestContext, params GrantPurchaseParams) (*domain.ApplyResult, error) {
	p := params.Purchase
	if err := domain.ValidatePositiveAmount(params.Credits); err != nil {
		return nil, domain.ErrValidation(err.Error())
	}

	result, err := e.Apply(ctx, tx, rc, ApplyParams{
		UserID:                  p.UserID,
		Kind:                    domain.CreditGrant,
		Reason:                  domain.ReasonBidPackPurchase,
		Amount:                  params.Credits,
		IdempotencyKey:          domain.PurchaseGrantKey(p.ID),
		PurchaseID:              &p.ID,
		StripeEventID:           strPtr(params.StripeEventID),
		StripePaymentIntentID:   p.StripePaymentIntentID,
		StripeCheckoutSessionID: p.StripeCheckoutSessionID,
		Metadata: mergeMeta(nil, map[string]interface{}{
			"bid_pack_id":  p.BidPackID.String(),
			"amount_cents": p.AmountCents,
			"currency":     p.Currency,
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("grant purchase: %w", err)
	}
	return result, nil
}
