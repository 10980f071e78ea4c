package handler

import (
	"net/http"

	"github.com/biddersweet/platform/internal/service"
)

// CreditsHandler serves the user's credit balance.
type CreditsHandler struct {
	svc *service.CreditService
}

// NewCreditsHandler creates a new CreditsHandler.
func NewCreditsHandler(svc *service.CreditService) *CreditsHandler {
	return &CreditsHandler{svc: svc}
}

// GetBalance handles GET /credits/balance.
func (h *CreditsHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromContext(r)
	if err != nil {
		RespondError(w, err)
		return
	}
	balance, err := h.svc.Balance(r.Context(), userID)
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, balance)
}
