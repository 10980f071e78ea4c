package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/biddersweet/platform/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type creditTxRepo struct{}

// NewCreditTransactionRepository returns a pgx-backed CreditTransactionRepository.
func NewCreditTransactionRepository() CreditTransactionRepository {
	return &creditTxRepo{}
}

const creditTxColumns = `id, user_id, kind, amount, reason, idempotency_key,
	purchase_id, auction_id, admin_user_id, stripe_event_id,
	stripe_payment_intent_id, stripe_checkout_session_id,
	metadata, storefront_key, created_at`

func (r *creditTxRepo) FindByIdempotencyKey(ctx context.Context, db DBTX, key string) (*domain.CreditTransaction, error) {
	row := db.QueryRow(ctx, `SELECT `+creditTxColumns+` FROM credit_transactions WHERE idempotency_key = $1`, key)
	return scanCreditTx(row)
}

// InsertIfAbsent relies on the unique idempotency key: the insert is always
// attempted and a conflict means another writer already committed the row.
func (r *creditTxRepo) InsertIfAbsent(ctx context.Context, db DBTX, ct *domain.CreditTransaction) (bool, error) {
	if ct.ID == uuid.Nil {
		ct.ID = uuid.New()
	}
	meta := ct.Metadata
	if meta == nil {
		meta = json.RawMessage(`{}`)
	}
	err := db.QueryRow(ctx, `
		INSERT INTO credit_transactions (id, user_id, kind, amount, reason, idempotency_key,
			purchase_id, auction_id, admin_user_id, stripe_event_id,
			stripe_payment_intent_id, stripe_checkout_session_id, metadata, storefront_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (idempotency_key) DO NOTHING
		RETURNING created_at`,
		ct.ID, ct.UserID, string(ct.Kind), ct.Amount, string(ct.Reason), ct.IdempotencyKey,
		ct.PurchaseID, ct.AuctionID, ct.AdminUserID, ct.StripeEventID,
		ct.StripePaymentIntentID, ct.StripeCheckoutSessionID, meta, ct.StorefrontKey,
	).Scan(&ct.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("insert credit transaction: %w", err)
	}
	ct.Metadata = meta
	return true, nil
}

func (r *creditTxRepo) SumByUser(ctx context.Context, db DBTX, userID uuid.UUID) (int64, error) {
	var sum int64
	err := db.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0)::bigint FROM credit_transactions WHERE user_id = $1`, userID,
	).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("sum credit transactions: %w", err)
	}
	return sum, nil
}

func (r *creditTxRepo) ListByUser(ctx context.Context, db DBTX, userID uuid.UUID, limit int) ([]domain.CreditTransaction, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	rows, err := db.Query(ctx, `
		SELECT `+creditTxColumns+` FROM credit_transactions
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query credit transactions: %w", err)
	}
	defer rows.Close()

	var out []domain.CreditTransaction
	for rows.Next() {
		ct, err := scanCreditTx(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *ct)
	}
	return out, rows.Err()
}

func scanCreditTx(row pgx.Row) (*domain.CreditTransaction, error) {
	var ct domain.CreditTransaction
	err := row.Scan(
		&ct.ID, &ct.UserID, &ct.Kind, &ct.Amount, &ct.Reason, &ct.IdempotencyKey,
		&ct.PurchaseID, &ct.AuctionID, &ct.AdminUserID, &ct.StripeEventID,
		&ct.StripePaymentIntentID, &ct.StripeCheckoutSessionID,
		&ct.Metadata, &ct.StorefrontKey, &ct.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan credit transaction: %w", err)
	}
	return &ct, nil
}
