package infra

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/biddersweet/platform/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/segmentio/kafka-go"
)

// Relay receives outbox rows on their way out of the database.
type Relay interface {
	Publish(ctx context.Context, msgs ...kafka.Message) error
}

// OutboxRow is one unpublished event_outbox row.
type OutboxRow struct {
	SeqID         int64
	EventID       uuid.UUID
	AggregateType string
	AggregateID   string
	EventType     string
	PartitionKey  string
	Headers       json.RawMessage
	Payload       json.RawMessage
	OccurredAt    time.Time
}

// OutboxPoller polls the event_outbox table and relays events to Kafka.
type OutboxPoller struct {
	pool      *pgxpool.Pool
	relay     Relay
	logger    *slog.Logger
	interval  time.Duration
	batchSize int
}

// NewOutboxPoller creates a new outbox poller.
func NewOutboxPoller(pool *pgxpool.Pool, relay Relay, interval time.Duration, batchSize int, logger *slog.Logger) *OutboxPoller {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &OutboxPoller{
		pool:      pool,
		relay:     relay,
		logger:    logger,
		interval:  interval,
		batchSize: batchSize,
	}
}

// Start begins polling in a goroutine. Stops when ctx is cancelled.
func (p *OutboxPoller) Start(ctx context.Context) {
	p.logger.Info("outbox poller started", "interval", p.interval, "batch_size", p.batchSize)

	go func() {
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				p.logger.Info("outbox poller stopped")
				return
			case <-ticker.C:
				if n, err := p.Poll(ctx); err != nil {
					p.logger.Error("outbox poll error", "error", err)
				} else if n > 0 {
					p.logger.Debug("outbox poll complete", "published", n)
				}
			}
		}
	}()
}

// Poll relays one batch. Rows are claimed with SKIP LOCKED so several pollers
// can run; a failed relay rolls back and the batch is retried next tick.
func (p *OutboxPoller) Poll(ctx context.Context) (int, error) {
	var published int
	err := pgx.BeginTxFunc(ctx, p.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT "id", "eventId", "aggregateType", "aggregateId", "eventType",
			       "partitionKey", "headers", "payload", "occurredAt"
			FROM event_outbox
			WHERE "publishedAt" IS NULL
			ORDER BY "id" ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED`, p.batchSize)
		if err != nil {
			return fmt.Errorf("fetch outbox: %w", err)
		}
		batch, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (OutboxRow, error) {
			var r OutboxRow
			err := row.Scan(&r.SeqID, &r.EventID, &r.AggregateType, &r.AggregateID, &r.EventType,
				&r.PartitionKey, &r.Headers, &r.Payload, &r.OccurredAt)
			return r, err
		})
		if err != nil {
			return fmt.Errorf("scan outbox: %w", err)
		}
		if len(batch) == 0 {
			return nil
		}

		msgs := make([]kafka.Message, 0, len(batch))
		ids := make([]int64, 0, len(batch))
		for _, r := range batch {
			msgs = append(msgs, OutboxMessage(r))
			ids = append(ids, r.SeqID)
		}
		if err := p.relay.Publish(ctx, msgs...); err != nil {
			return fmt.Errorf("relay outbox batch: %w", err)
		}

		if _, err := tx.Exec(ctx,
			`UPDATE event_outbox SET "publishedAt" = now() WHERE "id" = ANY($1)`, ids); err != nil {
			return fmt.Errorf("mark published: %w", err)
		}
		published = len(batch)
		return nil
	})
	return published, err
}

// OutboxMessage maps a row to its Kafka message.
func OutboxMessage(r OutboxRow) kafka.Message {
	body, _ := json.Marshal(map[string]interface{}{
		"event_id":       r.EventID,
		"aggregate_type": r.AggregateType,
		"aggregate_id":   r.AggregateID,
		"event_type":     r.EventType,
		"payload":        r.Payload,
		"occurred_at":    r.OccurredAt,
	})

	key := r.PartitionKey
	if key == "" {
		key = r.AggregateID
	}

	var hdrs map[string]string
	_ = json.Unmarshal(r.Headers, &hdrs)
	headers := []kafka.Header{{Key: "event_id", Value: []byte(r.EventID.String())}}
	for k, v := range hdrs {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}

	return kafka.Message{
		Topic:   domain.Topic(domain.AggregateType(r.AggregateType), domain.EventType(r.EventType)),
		Key:     []byte(key),
		Value:   body,
		Headers: headers,
		Time:    r.OccurredAt,
	}
}

// OutboxEnvelope is the decoded form of a relayed message.
type OutboxEnvelope struct {
	EventID       uuid.UUID       `json:"event_id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	OccurredAt    time.Time       `json:"occurred_at"`
}

// DecodeOutboxMessage parses the value of a relayed message.
func DecodeOutboxMessage(value []byte) (*OutboxEnvelope, error) {
	var env OutboxEnvelope
	if err := json.Unmarshal(value, &env); err != nil {
		return nil, fmt.Errorf("decode outbox message: %w", err)
	}
	return &env, nil
}
