package repository

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// PostgreSQL SQLSTATE codes the core reacts to.
const (
	pgUniqueViolation      = "23505"
	pgCheckViolation       = "23514"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgLockNotAvailable     = "55P03"
)

// Named constraints from db/migrations.
const (
	ConstraintNonNegativeCredits    = "users_bid_credits_non_negative"
	ConstraintCreditIdempotencyKey  = "credit_transactions_idempotency_key_key"
	ConstraintPurchasePaymentIntent = "purchases_stripe_payment_intent_id_key"
	ConstraintPurchaseStripeEvent   = "purchases_stripe_event_id_key"
	ConstraintBidAuctionAmount      = "bids_auction_amount_unique"
)

func pgError(err error) *pgconn.PgError {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr
	}
	return nil
}

// IsUniqueViolation reports a unique constraint violation. When constraint
// is non-empty only that constraint matches.
func IsUniqueViolation(err error, constraint string) bool {
	pgErr := pgError(err)
	if pgErr == nil || pgErr.Code != pgUniqueViolation {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}

// IsCheckViolation reports a CHECK constraint violation.
func IsCheckViolation(err error, constraint string) bool {
	pgErr := pgError(err)
	if pgErr == nil || pgErr.Code != pgCheckViolation {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}

// IsIntegrityViolation reports any class 23 error.
func IsIntegrityViolation(err error) bool {
	pgErr := pgError(err)
	return pgErr != nil && len(pgErr.Code) == 5 && pgErr.Code[:2] == "23"
}

// IsRetryable reports lock contention errors after which the whole
// transaction may be retried.
func IsRetryable(err error) bool {
	pgErr := pgError(err)
	if pgErr == nil {
		return false
	}
	switch pgErr.Code {
	case pgDeadlockDetected, pgSerializationFailure, pgLockNotAvailable:
		return true
	}
	return false
}
