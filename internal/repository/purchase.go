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

type purchaseRepo struct{}

// NewPurchaseRepository returns a pgx-backed PurchaseRepository.
func NewPurchaseRepository() PurchaseRepository {
	return &purchaseRepo{}
}

const purchaseColumns = `id, user_id, bid_pack_id, status, amount_cents, currency,
	stripe_checkout_session_id, stripe_payment_intent_id, stripe_event_id,
	refunded_cents, receipt_url, receipt_email, ledger_grant_credit_transaction_id,
	storefront_key, created_at, updated_at`

func (r *purchaseRepo) Create(ctx context.Context, db DBTX, p *domain.Purchase) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.Status == "" {
		p.Status = domain.PurchaseCreated
	}
	err := db.QueryRow(ctx, `
		INSERT INTO purchases (id, user_id, bid_pack_id, status, amount_cents, currency,
			stripe_checkout_session_id, stripe_payment_intent_id, stripe_event_id,
			receipt_email, storefront_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at, updated_at`,
		p.ID, p.UserID, p.BidPackID, string(p.Status), infra.CentsToNumeric(p.AmountCents), p.Currency,
		p.StripeCheckoutSessionID, p.StripePaymentIntentID, p.StripeEventID,
		p.ReceiptEmail, p.StorefrontKey,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert purchase: %w", err)
	}
	return nil
}

func (r *purchaseRepo) FindByID(ctx context.Context, db DBTX, id uuid.UUID) (*domain.Purchase, error) {
	return scanPurchase(db.QueryRow(ctx, `SELECT `+purchaseColumns+` FROM purchases WHERE id = $1`, id))
}

func (r *purchaseRepo) FindByPaymentIntentID(ctx context.Context, db DBTX, paymentIntentID string) (*domain.Purchase, error) {
	return scanPurchase(db.QueryRow(ctx,
		`SELECT `+purchaseColumns+` FROM purchases WHERE stripe_payment_intent_id = $1`, paymentIntentID))
}

func (r *purchaseRepo) FindByCheckoutSessionID(ctx context.Context, db DBTX, sessionID string) (*domain.Purchase, error) {
	return scanPurchase(db.QueryRow(ctx, `
		SELECT `+purchaseColumns+` FROM purchases
		WHERE stripe_checkout_session_id = $1
		ORDER BY created_at ASC
		LIMIT 1`, sessionID))
}

func (r *purchaseRepo) LockForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Purchase, error) {
	return scanPurchase(tx.QueryRow(ctx, `SELECT `+purchaseColumns+` FROM purchases WHERE id = $1 FOR UPDATE`, id))
}

func (r *purchaseRepo) AttachPaymentIntent(ctx context.Context, db DBTX, id uuid.UUID, paymentIntentID string, stripeEventID *string) (bool, error) {
	tag, err := db.Exec(ctx, `
		UPDATE purchases
		SET stripe_payment_intent_id = $2,
		    stripe_event_id = COALESCE(stripe_event_id, $3),
		    status = CASE WHEN status = 'created' THEN 'paid_pending_apply' ELSE status END,
		    updated_at = now()
		WHERE id = $1 AND stripe_payment_intent_id IS NULL`,
		id, paymentIntentID, stripeEventID)
	if err != nil {
		return false, fmt.Errorf("attach payment intent: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *purchaseRepo) MarkApplied(ctx context.Context, db DBTX, id, creditTransactionID uuid.UUID) (*domain.Purchase, error) {
	p, err := scanPurchase(db.QueryRow(ctx, `
		UPDATE purchases
		SET status = 'applied', ledger_grant_credit_transaction_id = $2, updated_at = now()
		WHERE id = $1 AND ledger_grant_credit_transaction_id IS NULL
		RETURNING `+purchaseColumns, id, creditTransactionID))
	if err != nil {
		return nil, fmt.Errorf("mark purchase applied: %w", err)
	}
	if p == nil {
		return nil, fmt.Errorf("mark purchase applied: purchase %s missing or already applied", id)
	}
	return p, nil
}

func (r *purchaseRepo) MarkRefunded(ctx context.Context, db DBTX, id uuid.UUID, status domain.PurchaseStatus, refundedCents int64) (*domain.Purchase, error) {
	p, err := scanPurchase(db.QueryRow(ctx, `
		UPDATE purchases
		SET status = $2, refunded_cents = $3, updated_at = now()
		WHERE id = $1
		RETURNING `+purchaseColumns, id, string(status), infra.CentsToNumeric(refundedCents)))
	if err != nil {
		return nil, fmt.Errorf("mark purchase refunded: %w", err)
	}
	if p == nil {
		return nil, fmt.Errorf("mark purchase refunded: purchase %s not found", id)
	}
	return p, nil
}

func (r *purchaseRepo) UpdateStatus(ctx context.Context, db DBTX, id uuid.UUID, status domain.PurchaseStatus) error {
	_, err := db.Exec(ctx, `UPDATE purchases SET status = $2, updated_at = now() WHERE id = $1`, id, string(status))
	if err != nil {
		return fmt.Errorf("update purchase status: %w", err)
	}
	return nil
}

func (r *purchaseRepo) ListByUser(ctx context.Context, db DBTX, userID uuid.UUID, limit int) ([]domain.Purchase, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	rows, err := db.Query(ctx, `
		SELECT `+purchaseColumns+` FROM purchases
		WHERE user_id = $1
		ORDER BY created_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query purchases: %w", err)
	}
	defer rows.Close()

	var out []domain.Purchase
	for rows.Next() {
		p, err := scanPurchase(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func scanPurchase(row pgx.Row) (*domain.Purchase, error) {
	var p domain.Purchase
	var amount, refunded pgtype.Numeric
	err := row.Scan(
		&p.ID, &p.UserID, &p.BidPackID, &p.Status, &amount, &p.Currency,
		&p.StripeCheckoutSessionID, &p.StripePaymentIntentID, &p.StripeEventID,
		&refunded, &p.ReceiptURL, &p.ReceiptEmail, &p.LedgerGrantCreditTransactionID,
		&p.StorefrontKey, &p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan purchase: %w", err)
	}
	if p.AmountCents, err = infra.CentsFromNumeric(amount); err != nil {
		return nil, fmt.Errorf("convert purchase amount: %w", err)
	}
	if p.RefundedCents, err = infra.CentsFromNumeric(refunded); err != nil {
		return nil, fmt.Errorf("convert refunded amount: %w", err)
	}
	return &p, nil
}
