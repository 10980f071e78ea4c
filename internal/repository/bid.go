package repository

import (
	"context"
	"fmt"

	"github.com/biddersweet/platform/internal/domain"
	"github.com/biddersweet/platform/internal/infra"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

type bidRepo struct{}

// NewBidRepository returns a pgx-backed BidRepository.
func NewBidRepository() BidRepository {
	return &bidRepo{}
}

// Insert returns the raw error so a bids_auction_amount_unique violation can
// be told apart from other failures.
func (r *bidRepo) Insert(ctx context.Context, db DBTX, b *domain.Bid) error {
	return db.QueryRow(ctx, `
		INSERT INTO bids (id, user_id, auction_id, amount)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at`,
		b.ID, b.UserID, b.AuctionID, infra.CentsToNumeric(b.Amount),
	).Scan(&b.CreatedAt)
}

func (r *bidRepo) ListByAuction(ctx context.Context, db DBTX, auctionID uuid.UUID, limit int) ([]domain.Bid, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := db.Query(ctx, `
		SELECT id, user_id, auction_id, amount, created_at
		FROM bids WHERE auction_id = $1
		ORDER BY amount DESC LIMIT $2`, auctionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query bids: %w", err)
	}
	defer rows.Close()

	var out []domain.Bid
	for rows.Next() {
		var b domain.Bid
		var amount pgtype.Numeric
		if err := rows.Scan(&b.ID, &b.UserID, &b.AuctionID, &amount, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan bid: %w", err)
		}
		if b.Amount, err = infra.CentsFromNumeric(amount); err != nil {
			return nil, fmt.Errorf("convert bid amount: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
