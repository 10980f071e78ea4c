package projection

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/biddersweet/platform/internal/domain"
	"github.com/biddersweet/platform/internal/infra"
	"github.com/google/uuid"
)

// CreditProjector keeps the balance projection honest for writers that do
// not update it themselves, such as other instances or manual repairs.
//
// Relayed events may arrive after a newer post-commit write, so the projector
// drops the cached balance instead of writing balance_after. The next read
// repopulates it from users.bid_credits.
type CreditProjector struct {
	balances *Balances
}

// NewCreditProjector creates a projector over balances.
func NewCreditProjector(balances *Balances) *CreditProjector {
	return &CreditProjector{balances: balances}
}

type creditAppliedPayload struct {
	UserID string `json:"user_id"`
}

// Handle applies one relayed outbox event. Events other than
// ledger.credit.applied are ignored.
func (p *CreditProjector) Handle(ctx context.Context, env *infra.OutboxEnvelope) error {
	if env.EventType != string(domain.EventCreditApplied) {
		return nil
	}
	var payload creditAppliedPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return fmt.Errorf("decode %s payload: %w", env.EventType, err)
	}
	userID, err := uuid.Parse(payload.UserID)
	if err != nil {
		return fmt.Errorf("decode %s user_id: %w", env.EventType, err)
	}
	return p.balances.Invalidate(ctx, userID)
}

// Topics lists the topics the projector consumes.
func (p *CreditProjector) Topics() []string {
	return []string{domain.Topic(domain.AggregateUser, domain.EventCreditApplied)}
}
