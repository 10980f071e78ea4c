package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/biddersweet/platform/internal/domain"
	"github.com/biddersweet/platform/internal/infra"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

type auctionRepo struct{}

// NewAuctionRepository returns a pgx-backed AuctionRepository.
func NewAuctionRepository() AuctionRepository {
	return &auctionRepo{}
}

const auctionColumns = `id, title, status, current_price, winning_user_id, bid_count,
	start_time, end_time, storefront_key, created_at, updated_at`

func (r *auctionRepo) FindByID(ctx context.Context, db DBTX, id uuid.UUID) (*domain.Auction, error) {
	return scanAuction(db.QueryRow(ctx, `SELECT `+auctionColumns+` FROM auctions WHERE id = $1`, id))
}

func (r *auctionRepo) LockForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Auction, error) {
	return scanAuction(tx.QueryRow(ctx, `SELECT `+auctionColumns+` FROM auctions WHERE id = $1 FOR UPDATE`, id))
}

func (r *auctionRepo) Create(ctx context.Context, db DBTX, a *domain.Auction) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.StorefrontKey == "" {
		a.StorefrontKey = domain.DefaultStorefront
	}
	if a.StartTime.IsZero() {
		a.StartTime = time.Now().UTC()
	}
	err := db.QueryRow(ctx, `
		INSERT INTO auctions (id, title, status, current_price, start_time, end_time, storefront_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at`,
		a.ID, a.Title, string(a.Status), infra.CentsToNumeric(a.CurrentPrice), a.StartTime, a.EndTime, a.StorefrontKey,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert auction: %w", err)
	}
	return nil
}

func (r *auctionRepo) ApplyBid(ctx context.Context, tx pgx.Tx, id uuid.UUID, price int64, winner uuid.UUID, endTime time.Time) (*domain.Auction, error) {
	a, err := scanAuction(tx.QueryRow(ctx, `
		UPDATE auctions
		SET current_price = $2, winning_user_id = $3, end_time = $4,
		    bid_count = bid_count + 1, updated_at = now()
		WHERE id = $1
		RETURNING `+auctionColumns, id, infra.CentsToNumeric(price), winner, endTime))
	if err != nil {
		return nil, fmt.Errorf("apply bid to auction: %w", err)
	}
	if a == nil {
		return nil, fmt.Errorf("apply bid to auction: auction %s not found", id)
	}
	return a, nil
}

// CloseExpired skips rows another closer holds so concurrent runs never block each other.
func (r *auctionRepo) CloseExpired(ctx context.Context, db DBTX, now time.Time, limit int) ([]domain.Auction, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(ctx, `
		UPDATE auctions SET status = 'ended', updated_at = now()
		WHERE id IN (
			SELECT id FROM auctions
			WHERE status = 'active' AND end_time <= $1
			ORDER BY end_time ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+auctionColumns, now, limit)
	if err != nil {
		return nil, fmt.Errorf("close expired auctions: %w", err)
	}
	defer rows.Close()

	var out []domain.Auction
	for rows.Next() {
		a, err := scanAuction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func scanAuction(row pgx.Row) (*domain.Auction, error) {
	var a domain.Auction
	var price pgtype.Numeric
	err := row.Scan(&a.ID, &a.Title, &a.Status, &price, &a.WinningUserID, &a.BidCount,
		&a.StartTime, &a.EndTime, &a.StorefrontKey, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan auction: %w", err)
	}
	if a.CurrentPrice, err = infra.CentsFromNumeric(price); err != nil {
		return nil, fmt.Errorf("convert current price: %w", err)
	}
	return &a, nil
}
