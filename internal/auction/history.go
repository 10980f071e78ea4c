package auction

import (
	"context"
	"fmt"

	"github.com/biddersweet/platform/internal/domain"
	"github.com/biddersweet/platform/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Snapshot is an auction with its highest bids.
type Snapshot struct {
	Auction domain.Auction `json:"auction"`
	Bids    []domain.Bid   `json:"bids"`
}

// RecentBids loads an auction and up to limit of its bids, highest first.
func (e *Engine) RecentBids(ctx context.Context, auctionID uuid.UUID, limit int) (*Snapshot, error) {
	var snap *Snapshot
	opts := repository.TxOptions{MaxAttempts: e.cfg.MaxAttempts}
	err := repository.RunTx(ctx, e.db, opts, func(ctx context.Context, tx pgx.Tx) error {
		a, err := e.auctions.FindByID(ctx, tx, auctionID)
		if err != nil {
			return fmt.Errorf("load auction: %w", err)
		}
		if a == nil {
			return domain.ErrNotFound("auction", auctionID.String())
		}
		bids, err := e.bids.ListByAuction(ctx, tx, auctionID, limit)
		if err != nil {
			return err
		}
		if bids == nil {
			bids = []domain.Bid{}
		}
		snap = &Snapshot{Auction: *a, Bids: bids}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}
