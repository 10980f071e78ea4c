package handler

import (
	"net/http"

	"github.com/biddersweet/platform/internal/service"
	"github.com/google/uuid"
)

// CheckoutHandler handles bid pack checkout endpoints.
type CheckoutHandler struct {
	svc        *service.CheckoutService
	storefront string
}

// NewCheckoutHandler creates a new CheckoutHandler.
func NewCheckoutHandler(svc *service.CheckoutService, defaultStorefront string) *CheckoutHandler {
	return &CheckoutHandler{svc: svc, storefront: defaultStorefront}
}

// ListBidPacks handles GET /bid-packs.
func (h *CheckoutHandler) ListBidPacks(w http.ResponseWriter, r *http.Request) {
	packs, err := h.svc.ListBidPacks(r.Context())
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{"bid_packs": packs})
}

type createCheckoutRequest struct {
	BidPackID uuid.UUID `json:"bid_pack_id" validate:"required"`
}

// CreateCheckout handles POST /checkout.
func (h *CheckoutHandler) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromContext(r)
	if err != nil {
		RespondError(w, err)
		return
	}
	rc, err := RequestContextFrom(r, h.storefront)
	if err != nil {
		RespondError(w, err)
		return
	}
	var req createCheckoutRequest
	if err := DecodeAndValidate(r, &req); err != nil {
		RespondError(w, err)
		return
	}

	res, err := h.svc.CreateCheckout(r.Context(), rc, userID, req.BidPackID)
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusCreated, res)
}

type checkoutSuccessRequest struct {
	SessionID string     `json:"session_id" validate:"required,max=255"`
	BidPackID *uuid.UUID `json:"bid_pack_id,omitempty"`
}

// HandleSuccess handles POST /checkout/success.
func (h *CheckoutHandler) HandleSuccess(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromContext(r)
	if err != nil {
		RespondError(w, err)
		return
	}
	rc, err := RequestContextFrom(r, h.storefront)
	if err != nil {
		RespondError(w, err)
		return
	}
	var req checkoutSuccessRequest
	if err := DecodeAndValidate(r, &req); err != nil {
		RespondError(w, err)
		return
	}

	res, err := h.svc.HandleSuccess(r.Context(), rc, userID, req.SessionID, req.BidPackID)
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, map[string]interface{}{
		"outcome":    res.Outcome,
		"idempotent": res.Idempotent(),
		"purchase":   res.Purchase,
		"balance":    res.Balance,
	})
}

// PollStatus handles GET /purchases/status?session_id=.
func (h *CheckoutHandler) PollStatus(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromContext(r)
	if err != nil {
		RespondError(w, err)
		return
	}
	rc, err := RequestContextFrom(r, h.storefront)
	if err != nil {
		RespondError(w, err)
		return
	}

	status, err := h.svc.PollStatus(r.Context(), rc, userID, r.URL.Query().Get("session_id"))
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, status)
}
