package ledger

import (
	"context"
	"fmt"

	"github.com/biddersweet/platform/internal/domain"
	"github.com/jackc/pgx/v5"
)

// ReversePurchaseParams describes a refund-driven credit reversal.
type ReversePurchaseParams struct {
	Purchase      *domain.Purchase
	Credits       int64
	RefundedCents int64
	StripeEventID string
	Source        domain.PaymentSource
}

// ReversePurchase debits credits granted by a refunded purchase. Every
// refund path shares one key per purchase and cumulative refunded total.
func (e *Engine) ReversePurchase(ctx context.Context, tx pgx.Tx, rc domain.RequestContext, params ReversePurchaseParams) (*domain.ApplyResult, error) {
	p := params.Purchase
	result, err := e.Apply(ctx, tx, rc, ApplyParams{
		UserID:                p.UserID,
		Kind:                  domain.CreditDebit,
		Reason:                domain.ReasonPurchaseRefundReverse,
		Amount:                -params.Credits,
		IdempotencyKey:        domain.PurchaseRefundKey(p.ID, params.RefundedCents),
		PurchaseID:            &p.ID,
		AdminUserID:           adminActor(rc),
		StripeEventID:         strPtr(params.StripeEventID),
		StripePaymentIntentID: p.StripePaymentIntentID,
		Metadata: mergeMeta(nil, map[string]interface{}{
			"refunded_cents": params.RefundedCents,
			"source":         string(params.Source),
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("reverse purchase: %w", err)
	}
	return result, nil
}
