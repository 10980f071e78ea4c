package admin

import (
	"net/http"

	"github.com/biddersweet/platform/internal/handler"
	"github.com/biddersweet/platform/internal/service"
)

// RefundAdminHandler lets admins refund purchases.
type RefundAdminHandler struct {
	svc        *service.RefundService
	storefront string
}

// NewRefundAdminHandler creates a new RefundAdminHandler.
func NewRefundAdminHandler(svc *service.RefundService, defaultStorefront string) *RefundAdminHandler {
	return &RefundAdminHandler{svc: svc, storefront: defaultStorefront}
}

type issueRefundRequest struct {
	// AmountCents defaults to the full purchase price.
	AmountCents int64 `json:"amount_cents" validate:"gte=0"`
}

// IssueRefund handles POST /admin/purchases/{id}/refund.
func (h *RefundAdminHandler) IssueRefund(w http.ResponseWriter, r *http.Request) {
	purchaseID, err := handler.PathUUID(r, "id")
	if err != nil {
		handler.RespondError(w, err)
		return
	}
	rc, err := handler.RequestContextFrom(r, h.storefront)
	if err != nil {
		handler.RespondError(w, err)
		return
	}
	var req issueRefundRequest
	if r.ContentLength != 0 {
		if err := handler.DecodeAndValidate(r, &req); err != nil {
			handler.RespondError(w, err)
			return
		}
	}

	res, err := h.svc.IssueRefund(r.Context(), rc, service.IssueRefundParams{
		PurchaseID:  purchaseID,
		AmountCents: req.AmountCents,
	})
	if err != nil {
		handler.RespondError(w, err)
		return
	}
	handler.RespondJSON(w, http.StatusOK, res)
}
