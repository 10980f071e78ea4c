package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/biddersweet/platform/internal/domain"
	"github.com/biddersweet/platform/internal/service"
)

// WebhookHandler receives Stripe event deliveries.
type WebhookHandler struct {
	svc    *service.WebhookService
	logger *slog.Logger
}

// NewWebhookHandler creates a new WebhookHandler.
func NewWebhookHandler(svc *service.WebhookService, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{svc: svc, logger: logger}
}

// HandleStripeWebhook handles POST /webhooks/stripe.
//
// The body is read unparsed because the signature covers the exact bytes.
// Any non-2xx answer makes Stripe redeliver, so only signature failures and
// transient errors are reported as errors; business rejections are 200.
func (h *WebhookHandler) HandleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			RespondError(w, &domain.AppError{
				Code:    domain.CodeValidation,
				Message: "webhook payload too large",
				Status:  http.StatusRequestEntityTooLarge,
			})
			return
		}
		h.logger.Error("read stripe webhook body", "error", err, "request_id", GetRequestID(r.Context()))
		RespondError(w, domain.ErrValidation("unreadable webhook body"))
		return
	}

	result, err := h.svc.Process(r.Context(), payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, result)
}
