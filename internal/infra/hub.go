package infra

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Hub fans messages out to live subscribers grouped into rooms. Each API
// instance has its own hub; Broadcaster relays across instances via Redis.
type Hub struct {
	mu     sync.RWMutex
	rooms  map[string]map[string]*Subscriber // room -> subscriber ID -> subscriber
	logger *slog.Logger
}

// Subscriber is one live stream. Send is buffered; a full buffer drops messages.
type Subscriber struct {
	ID     string
	UserID string
	Send   chan []byte
}

// Message is the payload delivered to subscribers.
type Message struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// NewHub creates a new hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		rooms:  make(map[string]map[string]*Subscriber),
		logger: logger,
	}
}

// NewSubscriber creates a subscriber with a buffered send channel.
func NewSubscriber(userID string, buffer int) *Subscriber {
	return &Subscriber{ID: uuid.NewString(), UserID: userID, Send: make(chan []byte, buffer)}
}

// AuctionRoom names the room watchers of an auction join.
func AuctionRoom(auctionID uuid.UUID) string {
	return "auction:" + auctionID.String()
}

// Join adds a subscriber to a room.
func (h *Hub) Join(room string, sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[string]*Subscriber)
	}
	h.rooms[room][sub.ID] = sub
}

// Leave removes a subscriber from a room.
func (h *Hub) Leave(room string, subID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if subs, ok := h.rooms[room]; ok {
		delete(subs, subID)
		if len(subs) == 0 {
			delete(h.rooms, room)
		}
	}
}

// Publish sends an event to all subscribers in a room.
func (h *Hub) Publish(room string, event string, data interface{}) {
	payload, err := json.Marshal(Message{Event: event, Data: data})
	if err != nil {
		h.logger.Error("hub marshal error", "error", err, "room", room, "event", event)
		return
	}
	h.PublishRaw(room, payload)
}

// PublishRaw delivers an already encoded Message.
func (h *Hub) PublishRaw(room string, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.rooms[room] {
		select {
		case sub.Send <- payload:
		default:
			h.logger.Warn("subscriber buffer full", "subscriber_id", sub.ID, "room", room)
		}
	}
}

// ConnectionCount returns the total number of active subscribers.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	count := 0
	for _, subs := range h.rooms {
		count += len(subs)
	}
	return count
}

// RoomCount returns the number of active rooms.
func (h *Hub) RoomCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}

// Shutdown closes every subscriber channel.
func (h *Hub) Shutdown(_ context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for room, subs := range h.rooms {
		for _, sub := range subs {
			close(sub.Send)
		}
		delete(h.rooms, room)
	}
}
