package infra

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHub_PublishToRoom(t *testing.T) {
	hub := NewHub(testLogger())
	room := AuctionRoom(uuid.New())
	a := NewSubscriber("u1", 4)
	b := NewSubscriber("u2", 4)
	other := NewSubscriber("u3", 4)

	hub.Join(room, a)
	hub.Join(room, b)
	hub.Join("auction:other", other)

	hub.Publish(room, "bid_placed", map[string]int{"amount": 101})

	for _, sub := range []*Subscriber{a, b} {
		select {
		case raw := <-sub.Send:
			var msg struct {
				Event string         `json:"event"`
				Data  map[string]int `json:"data"`
			}
			require.NoError(t, json.Unmarshal(raw, &msg))
			assert.Equal(t, "bid_placed", msg.Event)
			assert.Equal(t, 101, msg.Data["amount"])
		default:
			t.Fatalf("subscriber %s got nothing", sub.UserID)
		}
	}
	assert.Len(t, other.Send, 0)
}

func TestHub_FullBufferDrops(t *testing.T) {
	hub := NewHub(testLogger())
	sub := NewSubscriber("u1", 1)
	hub.Join("r", sub)

	hub.Publish("r", "e", 1)
	hub.Publish("r", "e", 2)

	assert.Len(t, sub.Send, 1)
}

func TestHub_LeaveAndCounts(t *testing.T) {
	hub := NewHub(testLogger())
	a := NewSubscriber("u1", 1)
	b := NewSubscriber("u2", 1)
	hub.Join("r1", a)
	hub.Join("r2", b)

	assert.Equal(t, 2, hub.ConnectionCount())
	assert.Equal(t, 2, hub.RoomCount())

	hub.Leave("r1", a.ID)
	assert.Equal(t, 1, hub.ConnectionCount())
	assert.Equal(t, 1, hub.RoomCount())
}

func TestHub_ShutdownClosesChannels(t *testing.T) {
	hub := NewHub(testLogger())
	sub := NewSubscriber("u1", 1)
	hub.Join("r", sub)

	hub.Shutdown(context.Background())

	_, open := <-sub.Send
	assert.False(t, open)
	assert.Equal(t, 0, hub.RoomCount())
}
