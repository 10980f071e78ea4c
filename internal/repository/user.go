package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/biddersweet/platform/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type userRepo struct{}

// NewUserRepository returns a pgx-backed UserRepository.
func NewUserRepository() UserRepository {
	return &userRepo{}
}

const userColumns = `id, email, bid_credits, role, storefront_key, created_at, updated_at`

func (r *userRepo) FindByID(ctx context.Context, db DBTX, id uuid.UUID) (*domain.User, error) {
	row := db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

func (r *userRepo) LockForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.User, error) {
	row := tx.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1 FOR UPDATE`, id)
	return scanUser(row)
}

func (r *userRepo) Create(ctx context.Context, db DBTX, u *domain.User) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	if u.Role == "" {
		u.Role = "user"
	}
	if u.StorefrontKey == "" {
		u.StorefrontKey = domain.DefaultStorefront
	}
	err := db.QueryRow(ctx, `
		INSERT INTO users (id, email, bid_credits, role, storefront_key)
		VALUES ($1, $2, 0, $3, $4)
		RETURNING bid_credits, created_at, updated_at`,
		u.ID, u.Email, u.Role, u.StorefrontKey,
	).Scan(&u.BidCredits, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (r *userRepo) AddCredits(ctx context.Context, tx pgx.Tx, id uuid.UUID, delta int64) (*domain.User, error) {
	row := tx.QueryRow(ctx, `
		UPDATE users SET bid_credits = bid_credits + $2, updated_at = now()
		WHERE id = $1
		RETURNING `+userColumns, id, delta)
	return scanUser(row)
}

func scanUser(row pgx.Row) (*domain.User, error) {
	var u domain.User
	err := row.Scan(&u.ID, &u.Email, &u.BidCredits, &u.Role, &u.StorefrontKey, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return &u, nil
}
