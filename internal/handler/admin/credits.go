package admin

import (
	"net/http"
	"strconv"

	"github.com/biddersweet/platform/internal/handler"
	"github.com/biddersweet/platform/internal/service"
)

// CreditAdminHandler handles admin credit corrections and audits.
type CreditAdminHandler struct {
	svc        *service.CreditService
	storefront string
}

// NewCreditAdminHandler creates a new CreditAdminHandler.
func NewCreditAdminHandler(svc *service.CreditService, defaultStorefront string) *CreditAdminHandler {
	return &CreditAdminHandler{svc: svc, storefront: defaultStorefront}
}

type adjustCreditsRequest struct {
	Amount     int64  `json:"amount" validate:"ne=0"`
	RequestKey string `json:"request_key" validate:"required,max=128"`
	Note       string `json:"note" validate:"max=500"`
}

// Adjust handles POST /admin/users/{id}/credits.
func (h *CreditAdminHandler) Adjust(w http.ResponseWriter, r *http.Request) {
	userID, err := handler.PathUUID(r, "id")
	if err != nil {
		handler.RespondError(w, err)
		return
	}
	rc, err := handler.RequestContextFrom(r, h.storefront)
	if err != nil {
		handler.RespondError(w, err)
		return
	}
	var req adjustCreditsRequest
	if err := handler.DecodeAndValidate(r, &req); err != nil {
		handler.RespondError(w, err)
		return
	}

	res, err := h.svc.Adjust(r.Context(), rc, service.AdjustParams{
		UserID:     userID,
		Amount:     req.Amount,
		RequestKey: req.RequestKey,
		Note:       req.Note,
	})
	if err != nil {
		handler.RespondError(w, err)
		return
	}

	status := http.StatusCreated
	if res.Idempotent {
		status = http.StatusOK
	}
	handler.RespondJSON(w, status, map[string]interface{}{
		"transaction": res.Transaction,
		"balance":     res.User.BidCredits,
		"idempotent":  res.Idempotent,
	})
}

// Audit handles GET /admin/users/{id}/credits/audit?limit=.
func (h *CreditAdminHandler) Audit(w http.ResponseWriter, r *http.Request) {
	userID, err := handler.PathUUID(r, "id")
	if err != nil {
		handler.RespondError(w, err)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	report, err := h.svc.Audit(r.Context(), userID, limit)
	if err != nil {
		handler.RespondError(w, err)
		return
	}
	handler.RespondJSON(w, http.StatusOK, report)
}
