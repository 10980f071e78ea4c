package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/biddersweet/platform/internal/domain"
	"github.com/biddersweet/platform/internal/infra"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

type bidPackRepo struct{}

// NewBidPackRepository returns a pgx-backed BidPackRepository.
func NewBidPackRepository() BidPackRepository {
	return &bidPackRepo{}
}

func (r *bidPackRepo) FindByID(ctx context.Context, db DBTX, id uuid.UUID) (*domain.BidPack, error) {
	return scanBidPack(db.QueryRow(ctx, `
		SELECT id, name, bids, price_cents, currency, active, created_at
		FROM bid_packs WHERE id = $1`, id))
}

func (r *bidPackRepo) Create(ctx context.Context, db DBTX, bp *domain.BidPack) error {
	if bp.ID == uuid.Nil {
		bp.ID = uuid.New()
	}
	err := db.QueryRow(ctx, `
		INSERT INTO bid_packs (id, name, bids, price_cents, currency, active)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`,
		bp.ID, bp.Name, bp.Bids, infra.CentsToNumeric(bp.PriceCents), bp.Currency, bp.Active,
	).Scan(&bp.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert bid pack: %w", err)
	}
	return nil
}

func (r *bidPackRepo) ListActive(ctx context.Context, db DBTX) ([]domain.BidPack, error) {
	rows, err := db.Query(ctx, `
		SELECT id, name, bids, price_cents, currency, active, created_at
		FROM bid_packs WHERE active ORDER BY price_cents ASC`)
	if err != nil {
		return nil, fmt.Errorf("query bid packs: %w", err)
	}
	defer rows.Close()

	var out []domain.BidPack
	for rows.Next() {
		bp, err := scanBidPack(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *bp)
	}
	return out, rows.Err()
}

func scanBidPack(row pgx.Row) (*domain.BidPack, error) {
	var bp domain.BidPack
	var price pgtype.Numeric
	err := row.Scan(&bp.ID, &bp.Name, &bp.Bids, &price, &bp.Currency, &bp.Active, &bp.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan bid pack: %w", err)
	}
	if bp.PriceCents, err = infra.CentsFromNumeric(price); err != nil {
		return nil, fmt.Errorf("convert bid pack price: %w", err)
	}
	return &bp, nil
}
