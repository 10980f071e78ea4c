package handler

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/biddersweet/platform/internal/infra"
)

const (
	eventBuffer       = 32
	heartbeatInterval = 15 * time.Second
)

// AuctionEventsHandler streams auction events as server-sent events.
type AuctionEventsHandler struct {
	hub    *infra.Hub
	logger *slog.Logger
}

// NewAuctionEventsHandler creates a new AuctionEventsHandler.
func NewAuctionEventsHandler(hub *infra.Hub, logger *slog.Logger) *AuctionEventsHandler {
	return &AuctionEventsHandler{hub: hub, logger: logger}
}

// Stream handles GET /auctions/{id}/events.
func (h *AuctionEventsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	auctionID, err := PathUUID(r, "id")
	if err != nil {
		RespondError(w, err)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		RespondJSON(w, http.StatusInternalServerError, map[string]string{
			"code":    "INTERNAL_ERROR",
			"message": "streaming unsupported",
		})
		return
	}

	room := infra.AuctionRoom(auctionID)
	sub := infra.NewSubscriber("", eventBuffer)
	h.hub.Join(room, sub)
	defer h.hub.Leave(room, sub.ID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case msg, ok := <-sub.Send:
			if !ok {
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", msg)
			flusher.Flush()
		case <-heartbeat.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		}
	}
}
