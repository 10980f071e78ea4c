package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

func newDraft(agg AggregateType, aggID string, evt EventType, rc RequestContext, payload any) OutboxDraft {
	body, _ := json.Marshal(payload)
	headers, _ := json.Marshal(map[string]string{
		"storefront_key": rc.StorefrontKey,
		"actor_type":     string(rc.ActorType),
		"actor_id":       rc.ActorString(),
		"request_id":     rc.RequestID,
	})
	return OutboxDraft{
		EventID:       uuid.New(),
		AggregateType: agg,
		AggregateID:   aggID,
		EventType:     evt,
		PartitionKey:  aggID,
		Headers:       headers,
		Payload:       body,
		OccurredAt:    time.Now(),
	}
}

// NewCreditAppliedEvent is written alongside every ledger row.
func NewCreditAppliedEvent(rc RequestContext, tx *CreditTransaction, balanceAfter int64) OutboxDraft {
	return newDraft(AggregateUser, tx.UserID.String(), EventCreditApplied, rc, map[string]interface{}{
		"credit_transaction_id": tx.ID.String(),
		"user_id":               tx.UserID.String(),
		"kind":                  tx.Kind,
		"reason":                tx.Reason,
		"amount":                tx.Amount,
		"balance_after":         balanceAfter,
	})
}

// NewBidPlacedEvent partitions by auction so watchers see bids in order.
func NewBidPlacedEvent(rc RequestContext, evt BidPlaced) OutboxDraft {
	return newDraft(AggregateAuction, evt.AuctionID.String(), EventBidPlaced, rc, evt)
}

// NewAuctionClosedEvent records an auction reaching its end.
func NewAuctionClosedEvent(rc RequestContext, a *Auction) OutboxDraft {
	payload := map[string]interface{}{
		"auction_id":   a.ID.String(),
		"final_price":  a.CurrentPrice,
		"bid_count":    a.BidCount,
		"end_time":     a.EndTime,
		"winning_user": nil,
	}
	if a.WinningUserID != nil {
		payload["winning_user"] = a.WinningUserID.String()
	}
	return newDraft(AggregateAuction, a.ID.String(), EventAuctionClosed, rc, payload)
}

// NewPurchaseAppliedEvent records credits granted for a purchase.
func NewPurchaseAppliedEvent(rc RequestContext, p *Purchase, credits int64) OutboxDraft {
	return newDraft(AggregatePurchase, p.ID.String(), EventPurchaseApplied, rc, map[string]interface{}{
		"purchase_id":  p.ID.String(),
		"user_id":      p.UserID.String(),
		"bid_pack_id":  p.BidPackID.String(),
		"credits":      credits,
		"amount_cents": p.AmountCents,
		"currency":     p.Currency,
	})
}

// NewPurchaseRefundedEvent records a reconciled refund.
func NewPurchaseRefundedEvent(rc RequestContext, p *Purchase, creditsReversed int64) OutboxDraft {
	return newDraft(AggregatePurchase, p.ID.String(), EventPurchaseRefunded, rc, map[string]interface{}{
		"purchase_id":      p.ID.String(),
		"user_id":          p.UserID.String(),
		"refunded_cents":   p.RefundedCents,
		"status":           p.Status,
		"credits_reversed": creditsReversed,
	})
}
