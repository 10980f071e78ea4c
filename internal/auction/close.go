package auction

import (
	"context"
	"fmt"

	"github.com/biddersweet/platform/internal/domain"
	"github.com/biddersweet/platform/internal/repository"
	"github.com/jackc/pgx/v5"
)

// CloseExpired ends active auctions past their end time and records an
// auction.closed event for each. Safe to run from several workers.
func (e *Engine) CloseExpired(ctx context.Context, rc domain.RequestContext) ([]domain.Auction, error) {
	var closed []domain.Auction
	opts := repository.TxOptions{MaxAttempts: e.cfg.MaxAttempts, LockTimeout: e.cfg.LockTimeout}
	err := repository.RunTx(ctx, e.db, opts, func(ctx context.Context, tx pgx.Tx) error {
		rows, err := e.auctions.CloseExpired(ctx, tx, e.clock.Now(), e.cfg.CloseBatchSize)
		if err != nil {
			return err
		}
		for i := range rows {
			if err := e.outbox.Insert(ctx, tx, domain.NewAuctionClosedEvent(rc, &rows[i])); err != nil {
				return fmt.Errorf("insert outbox event: %w", err)
			}
		}
		closed = rows
		return nil
	})
	if err != nil {
		return nil, err
	}

	pubCtx := context.WithoutCancel(ctx)
	for _, a := range closed {
		e.logger.Info("audit",
			"action", "auction_closed",
			"actor_type", rc.ActorType,
			"actor_id", rc.ActorString(),
			"target", a.ID,
			"outcome", "ended",
			"final_price", a.CurrentPrice,
			"bid_count", a.BidCount,
		)
		if e.publisher == nil {
			continue
		}
		if err := e.publisher.AuctionClosed(pubCtx, a); err != nil {
			e.logger.Warn("broadcast auction close failed", "auction_id", a.ID, "error", err)
		}
	}
	return closed, nil
}
