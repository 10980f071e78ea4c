package admin

import (
	"context"
	"net/http"

	"github.com/biddersweet/platform/internal/domain"
	"github.com/biddersweet/platform/internal/handler"
)

// AuctionCloser ends expired auctions. auction.Engine implements it.
type AuctionCloser interface {
	CloseExpired(ctx context.Context, rc domain.RequestContext) ([]domain.Auction, error)
}

// AuctionAdminHandler handles admin auction maintenance.
type AuctionAdminHandler struct {
	closer     AuctionCloser
	storefront string
}

// NewAuctionAdminHandler creates a new AuctionAdminHandler.
func NewAuctionAdminHandler(closer AuctionCloser, defaultStorefront string) *AuctionAdminHandler {
	return &AuctionAdminHandler{closer: closer, storefront: defaultStorefront}
}

// CloseExpired handles POST /admin/auctions/close-expired.
func (h *AuctionAdminHandler) CloseExpired(w http.ResponseWriter, r *http.Request) {
	rc, err := handler.RequestContextFrom(r, h.storefront)
	if err != nil {
		handler.RespondError(w, err)
		return
	}
	closed, err := h.closer.CloseExpired(r.Context(), rc)
	if err != nil {
		handler.RespondError(w, domain.ErrInternal("close expired auctions", err))
		return
	}
	if closed == nil {
		closed = []domain.Auction{}
	}
	handler.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"closed":   len(closed),
		"auctions": closed,
	})
}
