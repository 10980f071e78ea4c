package service

import (
	"context"
	"fmt"

	"github.com/biddersweet/platform/internal/domain"
	"github.com/biddersweet/platform/internal/provider"
)

// WebhookService verifies and dispatches Stripe webhook deliveries.
//
// Every event is recorded before any side effect. processed_at is stamped
// only once the side effects committed, so a redelivery of an unstamped
// event is processed again and relies on the engines' idempotency keys.
type WebhookService struct {
	deps      Deps
	purchases *PurchaseService
	refunds   *RefundService
}

// NewWebhookService creates a WebhookService.
func NewWebhookService(deps Deps, purchases *PurchaseService, refunds *RefundService) *WebhookService {
	return &WebhookService{deps: deps.withDefaults(), purchases: purchases, refunds: refunds}
}

// Process handles one delivery. A returned error means Stripe should retry;
// permanent business rejections are answered with a result instead.
func (s *WebhookService) Process(ctx context.Context, payload []byte, sigHeader string) (*domain.WebhookResult, error) {
	evt, err := s.deps.Gateway.VerifyWebhook(payload, sigHeader)
	if err != nil {
		return nil, err
	}
	result := &domain.WebhookResult{EventID: evt.ID, EventType: evt.Type}

	recorded, err := s.deps.Events.Record(ctx, s.deps.DB, &domain.StripeEvent{
		StripeEventID: evt.ID,
		EventType:     evt.Type,
		Payload:       payload,
	})
	if err != nil {
		return nil, domain.ErrInternal("record stripe event", err)
	}
	if !recorded {
		// An unstamped event runs again, including one whose first delivery
		// is still in flight. The purchase and refund idempotency keys make
		// the second run a no-op.
		existing, err := s.deps.Events.FindByStripeID(ctx, s.deps.DB, evt.ID)
		if err != nil {
			return nil, domain.ErrInternal("load stripe event", err)
		}
		if existing != nil && existing.ProcessedAt != nil {
			result.Outcome = domain.WebhookDuplicate
			s.finish(evt, result)
			return result, nil
		}
	}

	rc := domain.NewRequestContext(domain.DefaultStorefront, domain.ActorStripe, nil, evt.ID)
	outcome, err := s.dispatch(ctx, rc, evt)
	if err != nil {
		if !domain.IsPermanent(err) {
			s.deps.Metrics.IncWebhookEvent(evt.Type, "error")
			s.deps.Logger.Error("stripe webhook failed", "event_id", evt.ID, "type", evt.Type, "error", err)
			return nil, err
		}
		result.Outcome = domain.WebhookRejected
		result.Code = outcomeCode(err)
		if err := s.deps.Events.MarkProcessed(ctx, s.deps.DB, evt.ID, rejectedOutcome(result.Code)); err != nil {
			return nil, domain.ErrInternal("mark stripe event processed", err)
		}
		s.deps.Logger.Warn("stripe webhook rejected", "event_id", evt.ID, "type", evt.Type, "code", result.Code, "error", err)
		s.finish(evt, result)
		return result, nil
	}

	result.Outcome = outcome
	if outcome != domain.WebhookDeferred {
		if err := s.deps.Events.MarkProcessed(ctx, s.deps.DB, evt.ID, string(outcome)); err != nil {
			return nil, domain.ErrInternal("mark stripe event processed", err)
		}
	}
	s.finish(evt, result)
	return result, nil
}

func (s *WebhookService) dispatch(ctx context.Context, rc domain.RequestContext, evt *provider.WebhookEvent) (domain.WebhookOutcome, error) {
	switch evt.Type {
	case provider.EventCheckoutCompleted:
		session, err := provider.ParseCheckoutSession(evt.Object)
		if err != nil {
			return "", err
		}
		if !session.Paid() {
			return domain.WebhookIgnored, nil
		}
		meta := ParseCheckoutMetadata(session.Metadata)
		rc.StorefrontKey = meta.StorefrontKey
		_, err = s.purchases.ApplyBidPackPurchase(ctx, rc, sessionPurchaseParams(session, meta, evt.ID, domain.SourceWebhook))
		if err != nil {
			return "", err
		}
		return domain.WebhookProcessed, nil

	case provider.EventPaymentIntentSucceeded:
		pi, err := provider.ParsePaymentIntent(evt.Object)
		if err != nil {
			return "", err
		}
		if !pi.Succeeded {
			return domain.WebhookIgnored, nil
		}
		meta := ParseCheckoutMetadata(pi.Metadata)
		rc.StorefrontKey = meta.StorefrontKey
		_, err = s.purchases.ApplyBidPackPurchase(ctx, rc, paymentIntentPurchaseParams(pi, meta, evt.ID))
		if err != nil {
			return "", err
		}
		return domain.WebhookProcessed, nil

	case provider.EventChargeRefunded:
		charge, err := provider.ParseChargeRefund(evt.Object)
		if err != nil {
			return "", err
		}
		res, err := s.refunds.ReconcileRefund(ctx, rc, RefundParams{
			PaymentIntentID: charge.PaymentIntentID,
			RefundedCents:   charge.RefundedCents,
			StripeEventID:   evt.ID,
			Source:          domain.SourceWebhook,
		})
		if err != nil {
			return "", err
		}
		return refundWebhookOutcome(res.Outcome), nil
	}
	return domain.WebhookIgnored, nil
}

func (s *WebhookService) finish(evt *provider.WebhookEvent, result *domain.WebhookResult) {
	s.deps.Metrics.IncWebhookEvent(evt.Type, string(result.Outcome))
	s.deps.Logger.Info("stripe webhook handled",
		"event_id", evt.ID,
		"type", evt.Type,
		"outcome", result.Outcome,
	)
}

// refundWebhookOutcome maps a reconciliation result onto the event outcome.
// Only a deferred refund leaves the event unstamped.
func refundWebhookOutcome(o domain.RefundOutcome) domain.WebhookOutcome {
	if o == domain.RefundOutcomeDeferred {
		return domain.WebhookDeferred
	}
	return domain.WebhookProcessed
}

func rejectedOutcome(code string) string {
	return fmt.Sprintf("%s:%s", domain.WebhookRejected, code)
}
