package service

import (
	"context"

	"github.com/biddersweet/platform/internal/domain"
	"github.com/biddersweet/platform/internal/ledger"
	"github.com/biddersweet/platform/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// BalanceReader serves cached balances. projection.Balances implements it.
type BalanceReader interface {
	Lookup(ctx context.Context, userID uuid.UUID) (int64, bool)
}

// CreditService exposes balances to users and credit corrections to admins.
type CreditService struct {
	deps     Deps
	cache    BalanceReader
	currency string
	value    int64
}

// NewCreditService creates a CreditService. creditValueCents and currency
// price admin adjustments in money_events.
func NewCreditService(deps Deps, cache BalanceReader, creditValueCents int64, currency string) *CreditService {
	return &CreditService{deps: deps.withDefaults(), cache: cache, currency: currency, value: creditValueCents}
}

// Balance is the user-facing balance view.
type Balance struct {
	UserID     uuid.UUID `json:"user_id"`
	BidCredits int64     `json:"bid_credits"`
	Cached     bool      `json:"cached"`
}

// Balance serves the projection when it has the user and the database
// otherwise.
func (s *CreditService) Balance(ctx context.Context, userID uuid.UUID) (*Balance, error) {
	if s.cache != nil {
		if credits, ok := s.cache.Lookup(ctx, userID); ok {
			return &Balance{UserID: userID, BidCredits: credits, Cached: true}, nil
		}
	}
	credits, err := s.deps.Ledger.Balance(ctx, s.deps.DB, userID)
	if err != nil {
		return nil, appError(err, "load balance")
	}
	s.deps.recordBalance(ctx, &domain.User{ID: userID, BidCredits: credits})
	return &Balance{UserID: userID, BidCredits: credits}, nil
}

// AdjustParams is an admin credit correction.
type AdjustParams struct {
	UserID     uuid.UUID
	Amount     int64
	RequestKey string
	Note       string
}

// Adjust applies an admin adjustment. Repeating a request key returns the
// original ledger row.
func (s *CreditService) Adjust(ctx context.Context, rc domain.RequestContext, p AdjustParams) (*domain.ApplyResult, error) {
	var result *domain.ApplyResult
	err := repository.RunTx(ctx, s.deps.DB, s.deps.txOptions("adjust_credits"), func(ctx context.Context, tx pgx.Tx) error {
		r, err := s.deps.Ledger.Adjust(ctx, tx, rc, ledger.AdjustParams{
			UserID:           p.UserID,
			Amount:           p.Amount,
			RequestKey:       p.RequestKey,
			Note:             p.Note,
			CreditValueCents: s.value,
			Currency:         s.currency,
		})
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	outcome := "adjusted"
	switch {
	case err != nil:
		outcome = outcomeCode(err)
	case result.Idempotent:
		outcome = string(domain.PurchaseOutcomeIdempotent)
	}
	s.deps.Logger.Info("audit",
		"action", "credits_adjusted",
		"actor_type", rc.ActorType,
		"actor_id", rc.ActorString(),
		"target", p.UserID,
		"outcome", outcome,
		"amount", p.Amount,
		"request_id", rc.RequestID,
	)
	if err != nil {
		return nil, appError(err, "adjust credits failed")
	}
	if !result.Idempotent {
		s.deps.recordBalance(ctx, result.User)
	}
	return result, nil
}

// Audit compares the cached balance with the ledger and checks recent rows.
func (s *CreditService) Audit(ctx context.Context, userID uuid.UUID, limit int) (*ledger.AuditReport, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	report, err := s.deps.Ledger.AuditReport(ctx, s.deps.DB, userID, limit)
	if err != nil {
		return nil, appError(err, "audit balance")
	}
	return report, nil
}
