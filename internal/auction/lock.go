package auction

import (
	"context"
	"fmt"

	"github.com/biddersweet/platform/internal/domain"
	"github.com/biddersweet/platform/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// LockedFunc runs while both the user and the auction rows are locked.
type LockedFunc func(ctx context.Context, tx pgx.Tx, user *domain.User, a *domain.Auction) error

// WithUserAndAuctionLock runs fn in a transaction holding the user lock, then
// the auction lock. Every path touching both rows takes them in this order.
// The transaction is retried on lock contention; op labels the retry metric.
func (e *Engine) WithUserAndAuctionLock(ctx context.Context, op string, userID, auctionID uuid.UUID, fn LockedFunc) error {
	opts := repository.TxOptions{
		MaxAttempts: e.cfg.MaxAttempts,
		LockTimeout: e.cfg.LockTimeout,
		OnRetry: func(attempt int, err error) {
			e.metrics.IncRetry(op)
			e.logger.Warn("retrying transaction", "op", op, "attempt", attempt, "error", err)
		},
	}
	return repository.RunTx(ctx, e.db, opts, func(ctx context.Context, tx pgx.Tx) error {
		user, err := e.ledger.LockUserForUpdate(ctx, tx, userID)
		if err != nil {
			return err
		}
		a, err := e.auctions.LockForUpdate(ctx, tx, auctionID)
		if err != nil {
			return fmt.Errorf("lock auction: %w", err)
		}
		if a == nil {
			return domain.ErrNotFound("auction", auctionID.String())
		}
		return fn(ctx, tx, user, a)
	})
}
