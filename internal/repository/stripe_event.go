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

type stripeEventRepo struct{}

// NewStripeEventRepository returns a pgx-backed StripeEventRepository.
func NewStripeEventRepository() StripeEventRepository {
	return &stripeEventRepo{}
}

func (r *stripeEventRepo) Record(ctx context.Context, db DBTX, ev *domain.StripeEvent) (bool, error) {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	payload := ev.Payload
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	err := db.QueryRow(ctx, `
		INSERT INTO stripe_events (id, stripe_event_id, event_type, payload)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (stripe_event_id) DO NOTHING
		RETURNING created_at`,
		ev.ID, ev.StripeEventID, ev.EventType, payload,
	).Scan(&ev.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("record stripe event: %w", err)
	}
	return true, nil
}

func (r *stripeEventRepo) FindByStripeID(ctx context.Context, db DBTX, stripeEventID string) (*domain.StripeEvent, error) {
	var ev domain.StripeEvent
	err := db.QueryRow(ctx, `
		SELECT id, stripe_event_id, event_type, payload, outcome, processed_at, created_at
		FROM stripe_events WHERE stripe_event_id = $1`, stripeEventID,
	).Scan(&ev.ID, &ev.StripeEventID, &ev.EventType, &ev.Payload, &ev.Outcome, &ev.ProcessedAt, &ev.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan stripe event: %w", err)
	}
	return &ev, nil
}

func (r *stripeEventRepo) ListPending(ctx context.Context, db DBTX, eventType, paymentIntentID string) ([]domain.StripeEvent, error) {
	rows, err := db.Query(ctx, `
		SELECT id, stripe_event_id, event_type, payload, outcome, processed_at, created_at
		FROM stripe_events
		WHERE event_type = $1
		  AND processed_at IS NULL
		  AND payload->'data'->'object'->>'payment_intent' = $2
		ORDER BY created_at, id`, eventType, paymentIntentID)
	if err != nil {
		return nil, fmt.Errorf("list pending stripe events: %w", err)
	}
	defer rows.Close()

	var out []domain.StripeEvent
	for rows.Next() {
		var ev domain.StripeEvent
		if err := rows.Scan(&ev.ID, &ev.StripeEventID, &ev.EventType, &ev.Payload, &ev.Outcome, &ev.ProcessedAt, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan stripe event: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (r *stripeEventRepo) MarkProcessed(ctx context.Context, db DBTX, stripeEventID, outcome string) error {
	_, err := db.Exec(ctx, `
		UPDATE stripe_events SET processed_at = now(), outcome = $2
		WHERE stripe_event_id = $1`, stripeEventID, outcome)
	if err != nil {
		return fmt.Errorf("mark stripe event processed: %w", err)
	}
	return nil
}
