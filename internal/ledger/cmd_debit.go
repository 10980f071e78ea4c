package ledger

import (
	"context"
	"fmt"

	"github.com/biddersweet/platform/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// DebitBidParams identifies the pending bid paying for itself.
type DebitBidParams struct {
	UserID    uuid.UUID
	AuctionID uuid.UUID
	BidID     uuid.UUID
	Credits   int64
}

// DebitBid spends credits for a bid. The key is derived from the pending bid
// id, which the caller keeps stable across transaction retries.
func (e *Engine) DebitBid(ctx context.Context, tx pgx.Tx, rc domain.RequestContext, params DebitBidParams) (*domain.ApplyResult, error) {
	if params.Credits <= 0 {
		return nil, domain.ErrValidation(fmt.Sprintf("bid cost must be positive, got %d", params.Credits))
	}
	result, err := e.Apply(ctx, tx, rc, ApplyParams{
		UserID:         params.UserID,
		Kind:           domain.CreditDebit,
		Reason:         domain.ReasonBidPlaced,
		Amount:         -params.Credits,
		IdempotencyKey: domain.BidDebitKey(params.BidID),
		AuctionID:      &params.AuctionID,
		Metadata:       mergeMeta(nil, map[string]interface{}{"bid_id": params.BidID.String()}),
	})
	if err != nil {
		return nil, fmt.Errorf("debit bid: %w", err)
	}
	return result, nil
}
