package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/biddersweet/platform/internal/domain"
	"github.com/biddersweet/platform/internal/guard"
	"github.com/biddersweet/platform/internal/infra"
	"github.com/biddersweet/platform/internal/ledger"
	"github.com/biddersweet/platform/internal/repository"
)

// DB is satisfied by *pgxpool.Pool.
type DB interface {
	repository.DBTX
	repository.Beginner
}

// Deps groups the collaborators shared by the payment services.
// Balances, Breaker and Metrics are optional.
type Deps struct {
	DB        DB
	Ledger    *ledger.Engine
	Users     repository.UserRepository
	Credits   repository.CreditTransactionRepository
	Purchases repository.PurchaseRepository
	BidPacks  repository.BidPackRepository
	Money     repository.MoneyEventRepository
	Outbox    repository.OutboxRepository
	Events    repository.StripeEventRepository
	Gateway   PaymentGateway
	Breaker   *guard.CircuitBreaker
	Balances  BalanceRecorder
	Metrics   *infra.Metrics
	Logger    *slog.Logger

	MaxAttempts int
	LockTimeout time.Duration
}

// gatewayCircuit is the circuit breaker key for Stripe calls.
const gatewayCircuit = "stripe"

func (d Deps) withDefaults() Deps {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.MaxAttempts <= 0 {
		d.MaxAttempts = 3
	}
	return d
}

func (d Deps) txOptions(op string) repository.TxOptions {
	return repository.TxOptions{
		MaxAttempts: d.MaxAttempts,
		LockTimeout: d.LockTimeout,
		OnRetry: func(attempt int, err error) {
			d.Metrics.IncRetry(op)
			d.Logger.Warn("retrying transaction", "op", op, "attempt", attempt, "error", err)
		},
	}
}

// callGateway runs fn behind the Stripe circuit breaker when one is configured.
func (d Deps) callGateway(ctx context.Context, fn func(ctx context.Context) error) error {
	if d.Breaker == nil {
		return fn(ctx)
	}
	return d.Breaker.Execute(ctx, gatewayCircuit, fn)
}

// recordBalance refreshes the read projection after a commit. Failures are
// logged; the projection falls back to the database.
func (d Deps) recordBalance(ctx context.Context, user *domain.User) {
	if d.Balances == nil || user == nil {
		return
	}
	if err := d.Balances.RecordBalance(context.WithoutCancel(ctx), user.ID, user.BidCredits); err != nil {
		d.Logger.Warn("record balance projection failed", "user_id", user.ID, "error", err)
	}
}

// appError keeps application errors intact and hides everything else
// behind INTERNAL_ERROR.
func appError(err error, msg string) error {
	if err == nil {
		return nil
	}
	if appErr, ok := domain.AsAppError(err); ok {
		return appErr
	}
	return domain.ErrInternal(msg, err)
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
