package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/biddersweet/platform/internal/auction"
	"github.com/biddersweet/platform/internal/domain"
	"github.com/google/uuid"
)

const maxBidHistory = 200

// BidHistory reads an auction's bids. auction.Engine implements it.
type BidHistory interface {
	RecentBids(ctx context.Context, auctionID uuid.UUID, limit int) (*auction.Snapshot, error)
}

// AuctionHandler serves public auction reads.
type AuctionHandler struct {
	history BidHistory
}

// NewAuctionHandler creates a new AuctionHandler.
func NewAuctionHandler(history BidHistory) *AuctionHandler {
	return &AuctionHandler{history: history}
}

// ListBids handles GET /auctions/{id}/bids?limit=N.
func (h *AuctionHandler) ListBids(w http.ResponseWriter, r *http.Request) {
	auctionID, err := PathUUID(r, "id")
	if err != nil {
		RespondError(w, err)
		return
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxBidHistory {
			RespondError(w, domain.ErrValidation("limit must be between 1 and 200"))
			return
		}
		limit = n
	}

	snap, err := h.history.RecentBids(r.Context(), auctionID, limit)
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, snap)
}
