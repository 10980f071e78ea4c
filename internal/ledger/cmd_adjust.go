package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/biddersweet/platform/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// AdjustParams is an admin correction of a user's credits.
type AdjustParams struct {
	UserID uuid.UUID
	Amount int64
	// RequestKey is supplied by the admin client and makes retries safe.
	RequestKey       string
	Note             string
	CreditValueCents int64
	Currency         string
}

// Adjust applies an admin adjustment and records its money event.
func (e *Engine) Adjust(ctx context.Context, tx pgx.Tx, rc domain.RequestContext, params AdjustParams) (*domain.ApplyResult, error) {
	if rc.ActorType != domain.ActorAdmin || rc.ActorID == nil {
		return nil, domain.ErrForbidden("credit adjustments require an admin actor")
	}
	if params.RequestKey == "" {
		return nil, domain.ErrValidation("request key is required")
	}

	result, err := e.Apply(ctx, tx, rc, ApplyParams{
		UserID:         params.UserID,
		Kind:           domain.CreditAdjustment,
		Reason:         domain.ReasonAdminAdjustment,
		Amount:         params.Amount,
		IdempotencyKey: domain.AdminAdjustmentKey(params.RequestKey),
		AdminUserID:    rc.ActorID,
		Metadata:       mergeMeta(nil, map[string]interface{}{"note": params.Note}),
	})
	if err != nil {
		return nil, fmt.Errorf("adjust credits: %w", err)
	}
	if result.Idempotent {
		return result, nil
	}

	sourceType := domain.SourceCreditTransaction
	sourceID := result.Transaction.ID.String()
	_, err = e.money.InsertIfAbsent(ctx, tx, &domain.MoneyEvent{
		UserID:        params.UserID,
		EventType:     domain.MoneyAdminAdjustment,
		AmountCents:   params.Amount * params.CreditValueCents,
		Currency:      params.Currency,
		SourceType:    &sourceType,
		SourceID:      &sourceID,
		OccurredAt:    time.Now().UTC(),
		Metadata:      mergeMeta(nil, map[string]interface{}{"admin_user_id": rc.ActorString(), "note": params.Note}),
		StorefrontKey: rc.StorefrontKey,
	})
	if err != nil {
		return nil, fmt.Errorf("record adjustment money event: %w", err)
	}
	return result, nil
}

func adminActor(rc domain.RequestContext) *uuid.UUID {
	if rc.ActorType == domain.ActorAdmin {
		return rc.ActorID
	}
	return nil
}
