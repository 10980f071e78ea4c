package ledger

import (
	"context"
	"fmt"

	"github.com/biddersweet/platform/internal/domain"
	"github.com/biddersweet/platform/internal/repository"
	"github.com/google/uuid"
)

// InvariantCheck records a single invariant validation.
type InvariantCheck struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail"`
}

// AuditReport is the detailed admin view of one user's ledger.
type AuditReport struct {
	domain.BalanceAudit
	Invariants []InvariantCheck `json:"invariants"`
	AllPassed  bool             `json:"all_passed"`
}

// Balance returns the cached balance.
func (e *Engine) Balance(ctx context.Context, db repository.DBTX, userID uuid.UUID) (int64, error) {
	user, err := e.users.FindByID(ctx, db, userID)
	if err != nil {
		return 0, fmt.Errorf("load user: %w", err)
	}
	if user == nil {
		return 0, domain.ErrUserNotFound(userID.String())
	}
	return user.BidCredits, nil
}

// DerivedBalance sums the ledger. Used for audits, never on hot paths.
func (e *Engine) DerivedBalance(ctx context.Context, db repository.DBTX, userID uuid.UUID) (int64, error) {
	return e.credits.SumByUser(ctx, db, userID)
}

// AuditBalance compares cached and derived balances. A mismatch is logged
// and counted; it never blocks anything.
func (e *Engine) AuditBalance(ctx context.Context, db repository.DBTX, userID uuid.UUID) (*domain.BalanceAudit, error) {
	cached, err := e.Balance(ctx, db, userID)
	if err != nil {
		return nil, err
	}
	derived, err := e.DerivedBalance(ctx, db, userID)
	if err != nil {
		return nil, err
	}
	audit := &domain.BalanceAudit{UserID: userID, Cached: cached, Derived: derived, Matches: cached == derived}
	if !audit.Matches {
		e.metrics.IncAuditMismatch()
		e.logger.Warn("credit balance mismatch",
			"user_id", userID,
			"cached", cached,
			"derived", derived,
			"difference", cached-derived,
		)
	}
	return audit, nil
}

// AuditReport runs AuditBalance and checks the recent ledger rows.
func (e *Engine) AuditReport(ctx context.Context, db repository.DBTX, userID uuid.UUID, limit int) (*AuditReport, error) {
	audit, err := e.AuditBalance(ctx, db, userID)
	if err != nil {
		return nil, err
	}
	rows, err := e.credits.ListByUser(ctx, db, userID, limit)
	if err != nil {
		return nil, err
	}
	checks := evaluateInvariants(*audit, rows)
	report := &AuditReport{BalanceAudit: *audit, Invariants: checks, AllPassed: true}
	for _, c := range checks {
		if !c.Passed {
			report.AllPassed = false
		}
	}
	return report, nil
}

func evaluateInvariants(audit domain.BalanceAudit, rows []domain.CreditTransaction) []InvariantCheck {
	checks := make([]InvariantCheck, 0, 4)

	checks = append(checks, InvariantCheck{
		Name:   "balance_non_negative",
		Passed: audit.Cached >= 0,
		Detail: fmt.Sprintf("cached=%d", audit.Cached),
	})

	checks = append(checks, InvariantCheck{
		Name:   "ledger_parity",
		Passed: audit.Matches,
		Detail: fmt.Sprintf("cached=%d derived=%d", audit.Cached, audit.Derived),
	})

	var badSign []string
	for _, r := range rows {
		if err := domain.ValidateCreditAmount(r.Kind, r.Amount); err != nil {
			badSign = append(badSign, r.ID.String())
		}
	}
	checks = append(checks, InvariantCheck{
		Name:   "amount_sign_matches_kind",
		Passed: len(badSign) == 0,
		Detail: fmt.Sprintf("checked=%d violations=%v", len(rows), badSign),
	})

	seen := make(map[string]bool, len(rows))
	var dupes []string
	for _, r := range rows {
		if seen[r.IdempotencyKey] {
			dupes = append(dupes, r.IdempotencyKey)
		}
		seen[r.IdempotencyKey] = true
	}
	checks = append(checks, InvariantCheck{
		Name:   "idempotency_keys_unique",
		Passed: len(dupes) == 0,
		Detail: fmt.Sprintf("duplicates=%v", dupes),
	})

	return checks
}
