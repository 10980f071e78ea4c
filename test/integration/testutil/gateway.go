//go:build integration

package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/biddersweet/platform/internal/domain"
	"github.com/biddersweet/platform/internal/provider"
	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"
)

// StubGateway stands in for the Stripe API. Webhook verification is the real
// stripe-go signature check; sessions and refunds live in memory.
type StubGateway struct {
	*provider.StripeGateway

	secret string

	mu       sync.Mutex
	sessions map[string]*provider.CheckoutSession
	refunds  []provider.RefundRequest
	failing  bool
}

// NewStubGateway creates a stub that verifies webhooks signed with secret.
func NewStubGateway(secret string) *StubGateway {
	return &StubGateway{
		StripeGateway: provider.NewStripeGateway("", secret),
		secret:        secret,
		sessions:      make(map[string]*provider.CheckoutSession),
	}
}

// FailRequests makes every API call fail until reset.
func (g *StubGateway) FailRequests(fail bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failing = fail
}

func (g *StubGateway) CreateCheckoutSession(_ context.Context, req provider.CheckoutRequest) (*provider.CheckoutSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failing {
		return nil, domain.ErrGateway("stripe unavailable", nil)
	}
	s := &provider.CheckoutSession{
		ID:            "cs_test_" + strings.ReplaceAll(uuid.NewString(), "-", ""),
		URL:           "https://checkout.stripe.test/" + req.PurchaseID.String(),
		PaymentStatus: string(stripe.CheckoutSessionPaymentStatusUnpaid),
		AmountTotal:   req.AmountCents,
		Currency:      strings.ToLower(req.Currency),
		Metadata:      provider.CheckoutMetadata(req),
	}
	g.sessions[s.ID] = s
	cp := *s
	return &cp, nil
}

func (g *StubGateway) GetCheckoutSession(_ context.Context, id string) (*provider.CheckoutSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failing {
		return nil, domain.ErrGateway("stripe unavailable", nil)
	}
	s, ok := g.sessions[id]
	if !ok {
		return nil, domain.ErrNotFound("checkout session", id)
	}
	cp := *s
	return &cp, nil
}

func (g *StubGateway) CreateRefund(_ context.Context, req provider.RefundRequest) (*provider.Refund, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failing {
		return nil, domain.ErrGateway("stripe unavailable", nil)
	}
	g.refunds = append(g.refunds, req)
	return &provider.Refund{ID: "re_" + uuid.NewString()[:8], Status: "succeeded", AmountCents: req.AmountCents}, nil
}

// MarkPaid completes a session as Stripe would after a successful payment
// and returns its payment intent id.
func (g *StubGateway) MarkPaid(sessionID string) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.sessions[sessionID]
	if !ok {
		panic(fmt.Sprintf("unknown checkout session %s", sessionID))
	}
	s.PaymentStatus = string(stripe.CheckoutSessionPaymentStatusPaid)
	s.PaymentIntentID = "pi_test_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
	s.CustomerEmail = "buyer@test.com"
	return s.PaymentIntentID
}

// Session returns a copy of a stored session.
func (g *StubGateway) Session(sessionID string) provider.CheckoutSession {
	g.mu.Lock()
	defer g.mu.Unlock()
	return *g.sessions[sessionID]
}

// Refunds returns the refund requests sent so far.
func (g *StubGateway) Refunds() []provider.RefundRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]provider.RefundRequest(nil), g.refunds...)
}

// SignEvent builds a Stripe event around object and signs it like Stripe.
func (g *StubGateway) SignEvent(eventID string, eventType stripe.EventType, object interface{}) ([]byte, string) {
	raw, err := json.Marshal(object)
	if err != nil {
		panic(err)
	}
	payload, err := json.Marshal(map[string]interface{}{
		"id":          eventID,
		"object":      "event",
		"type":        eventType,
		"api_version": stripe.APIVersion,
		"created":     time.Now().Unix(),
		"data":        map[string]json.RawMessage{"object": raw},
	})
	if err != nil {
		panic(err)
	}
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    g.secret,
		Timestamp: time.Now(),
	})
	return payload, signed.Header
}

// CheckoutCompletedObject is the data.object of checkout.session.completed.
func CheckoutCompletedObject(s provider.CheckoutSession) map[string]interface{} {
	return map[string]interface{}{
		"id":             s.ID,
		"object":         "checkout.session",
		"payment_status": s.PaymentStatus,
		"payment_intent": s.PaymentIntentID,
		"amount_total":   s.AmountTotal,
		"currency":       s.Currency,
		"metadata":       s.Metadata,
	}
}

// PaymentIntentObject is the data.object of payment_intent.succeeded.
func PaymentIntentObject(piID string, amount int64, currency string, meta map[string]string) map[string]interface{} {
	return map[string]interface{}{
		"id":       piID,
		"object":   "payment_intent",
		"status":   "succeeded",
		"amount":   amount,
		"currency": currency,
		"metadata": meta,
	}
}

// ChargeRefundedObject is the data.object of charge.refunded.
func ChargeRefundedObject(piID string, amount, refunded int64) map[string]interface{} {
	return map[string]interface{}{
		"id":              "ch_" + uuid.NewString()[:8],
		"object":          "charge",
		"payment_intent":  piID,
		"amount":          amount,
		"amount_refunded": refunded,
		"refunded":        refunded >= amount,
	}
}
