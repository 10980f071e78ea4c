package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/biddersweet/platform/internal/domain"
	"github.com/biddersweet/platform/internal/infra"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

type moneyEventRepo struct{}

// NewMoneyEventRepository returns a pgx-backed MoneyEventRepository.
func NewMoneyEventRepository() MoneyEventRepository {
	return &moneyEventRepo{}
}

func (r *moneyEventRepo) InsertIfAbsent(ctx context.Context, db DBTX, ev *domain.MoneyEvent) (bool, error) {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	meta := ev.Metadata
	if meta == nil {
		meta = json.RawMessage(`{}`)
	}
	err := db.QueryRow(ctx, `
		INSERT INTO money_events (id, user_id, event_type, amount_cents, currency,
			source_type, source_id, occurred_at, metadata, storefront_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (source_type, source_id, event_type)
			WHERE source_type IS NOT NULL AND source_id IS NOT NULL
			DO NOTHING
		RETURNING created_at`,
		ev.ID, ev.UserID, string(ev.EventType), infra.CentsToNumeric(ev.AmountCents), ev.Currency,
		ev.SourceType, ev.SourceID, ev.OccurredAt, meta, ev.StorefrontKey,
	).Scan(&ev.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("insert money event: %w", err)
	}
	ev.Metadata = meta
	return true, nil
}

func (r *moneyEventRepo) Exists(ctx context.Context, db DBTX, sourceType, sourceID string, eventType domain.MoneyEventType) (bool, error) {
	var exists bool
	err := db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM money_events
			WHERE source_type = $1 AND source_id = $2 AND event_type = $3
		)`, sourceType, sourceID, string(eventType)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check money event: %w", err)
	}
	return exists, nil
}

func (r *moneyEventRepo) ListByUser(ctx context.Context, db DBTX, userID uuid.UUID, limit int) ([]domain.MoneyEvent, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	rows, err := db.Query(ctx, `
		SELECT id, user_id, event_type, amount_cents, currency, source_type, source_id,
		       occurred_at, metadata, storefront_key, created_at
		FROM money_events
		WHERE user_id = $1
		ORDER BY occurred_at DESC, id DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query money events: %w", err)
	}
	defer rows.Close()

	var out []domain.MoneyEvent
	for rows.Next() {
		var ev domain.MoneyEvent
		var amount pgtype.Numeric
		if err := rows.Scan(&ev.ID, &ev.UserID, &ev.EventType, &amount, &ev.Currency,
			&ev.SourceType, &ev.SourceID, &ev.OccurredAt, &ev.Metadata, &ev.StorefrontKey, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan money event: %w", err)
		}
		if ev.AmountCents, err = infra.CentsFromNumeric(amount); err != nil {
			return nil, fmt.Errorf("convert money event amount: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
