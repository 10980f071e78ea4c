package infra

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/biddersweet/platform/internal/domain"
	"github.com/redis/go-redis/v9"
)

// NewRedisClient parses a redis:// URL and verifies connectivity.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	if url == "" {
		return nil, errors.New("redis url is required")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// RedisPinger adapts a go-redis client to Pinger.
type RedisPinger struct {
	Client redis.UniversalClient
}

func (p RedisPinger) Ping(ctx context.Context) error {
	return p.Client.Ping(ctx).Err()
}

type publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// envelope is the cross-instance wire form of a hub message.
type envelope struct {
	Room    string          `json:"room"`
	Message json.RawMessage `json:"message"`
}

// Broadcaster delivers committed auction events to live watchers. With a
// Redis client, events go through a pub/sub channel so watchers connected to
// any instance receive them; Run relays the channel into the local hub.
// Without one, events go straight to the local hub.
type Broadcaster struct {
	hub     *Hub
	client  publisher
	sub     *redis.Client
	channel string
	logger  *slog.Logger
}

// NewBroadcaster creates a broadcaster. client may be nil.
func NewBroadcaster(hub *Hub, client *redis.Client, channel string, logger *slog.Logger) *Broadcaster {
	b := &Broadcaster{hub: hub, channel: channel, logger: logger}
	if client != nil {
		b.client = client
		b.sub = client
	}
	return b
}

// BidPlaced broadcasts a committed bid to the auction room.
func (b *Broadcaster) BidPlaced(ctx context.Context, evt domain.BidPlaced) error {
	return b.broadcast(ctx, AuctionRoom(evt.AuctionID), "bid_placed", evt)
}

// AuctionClosed broadcasts the final state of an ended auction.
func (b *Broadcaster) AuctionClosed(ctx context.Context, a domain.Auction) error {
	return b.broadcast(ctx, AuctionRoom(a.ID), "auction_closed", a)
}

func (b *Broadcaster) broadcast(ctx context.Context, room, event string, data interface{}) error {
	msg, err := json.Marshal(Message{Event: event, Data: data})
	if err != nil {
		return fmt.Errorf("marshal %s: %w", event, err)
	}
	if b.client == nil {
		b.hub.PublishRaw(room, msg)
		return nil
	}
	payload, err := json.Marshal(envelope{Room: room, Message: msg})
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Run relays the Redis channel into the local hub until ctx is cancelled.
// It returns immediately when no Redis client is configured.
func (b *Broadcaster) Run(ctx context.Context) {
	if b.sub == nil {
		return
	}
	ps := b.sub.Subscribe(ctx, b.channel)
	defer ps.Close()

	b.logger.Info("broadcast relay started", "channel", b.channel)
	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			b.logger.Info("broadcast relay stopped")
			return
		case m, ok := <-ch:
			if !ok {
				return
			}
			b.relay(m.Payload)
		}
	}
}

func (b *Broadcaster) relay(payload string) {
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		b.logger.Warn("dropping malformed broadcast", "error", err)
		return
	}
	b.hub.PublishRaw(env.Room, env.Message)
}
