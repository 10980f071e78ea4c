package handler

import (
	"context"
	"math"
	"net/http"
	"strconv"

	"github.com/biddersweet/platform/internal/auction"
	"github.com/biddersweet/platform/internal/domain"
	"github.com/biddersweet/platform/internal/guard"
)

// BidPlacer places bids. auction.Engine implements it.
type BidPlacer interface {
	PlaceBid(ctx context.Context, rc domain.RequestContext, params auction.PlaceBidParams) (*domain.PlaceBidResult, error)
}

// BidHandler handles bid placement.
type BidHandler struct {
	bids       BidPlacer
	limiter    guard.Limiter
	storefront string
}

// NewBidHandler creates a new BidHandler. limiter may be nil.
func NewBidHandler(bids BidPlacer, limiter guard.Limiter, defaultStorefront string) *BidHandler {
	return &BidHandler{bids: bids, limiter: limiter, storefront: defaultStorefront}
}

type placeBidRequest struct {
	// ExpectedPrice is the price the bidder saw, in cents.
	ExpectedPrice *int64 `json:"expected_price,omitempty" validate:"omitempty,gte=0"`
}

// PlaceBid handles POST /auctions/{id}/bids.
func (h *BidHandler) PlaceBid(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromContext(r)
	if err != nil {
		RespondError(w, err)
		return
	}
	auctionID, err := PathUUID(r, "id")
	if err != nil {
		RespondError(w, err)
		return
	}
	rc, err := RequestContextFrom(r, h.storefront)
	if err != nil {
		RespondError(w, err)
		return
	}

	var req placeBidRequest
	if r.ContentLength != 0 {
		if err := DecodeAndValidate(r, &req); err != nil {
			RespondError(w, err)
			return
		}
	}

	if h.limiter != nil {
		if res := h.limiter.Check(r.Context(), "bid:"+userID.String()); !res.Allowed {
			if res.RetryAfter > 0 {
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(res.RetryAfter.Seconds()))))
			}
			RespondError(w, domain.ErrRateLimited(res.Reason))
			return
		}
	}

	result, err := h.bids.PlaceBid(r.Context(), rc, auction.PlaceBidParams{
		UserID:        userID,
		AuctionID:     auctionID,
		ExpectedPrice: req.ExpectedPrice,
	})
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusCreated, result)
}
