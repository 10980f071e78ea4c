package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType enumerates the domain events written to the outbox.
type EventType string

const (
	EventCreditApplied    EventType = "ledger.credit.applied"
	EventBidPlaced        EventType = "auction.bid.placed"
	EventAuctionClosed    EventType = "auction.closed"
	EventPurchaseApplied  EventType = "payment.purchase.applied"
	EventPurchaseRefunded EventType = "payment.purchase.refunded"
)

// AggregateType enumerates the aggregate root types for outbox events.
type AggregateType string

const (
	AggregateUser     AggregateType = "user"
	AggregateAuction  AggregateType = "auction"
	AggregatePurchase AggregateType = "purchase"
)

// OutboxDraft is the payload written to the event_outbox table.
type OutboxDraft struct {
	EventID       uuid.UUID       `json:"eventId"`
	AggregateType AggregateType   `json:"aggregateType"`
	AggregateID   string          `json:"aggregateId"`
	EventType     EventType       `json:"eventType"`
	PartitionKey  string          `json:"partitionKey"`
	Headers       json.RawMessage `json:"headers"`
	Payload       json.RawMessage `json:"payload"`
	OccurredAt    time.Time       `json:"occurredAt"`
}

// Topic is the Kafka topic an outbox row is relayed to.
func (d OutboxDraft) Topic() string {
	return Topic(d.AggregateType, d.EventType)
}

// Topic builds the relay topic name.
func Topic(agg AggregateType, evt EventType) string {
	return "biddersweet." + string(agg) + "." + string(evt)
}
