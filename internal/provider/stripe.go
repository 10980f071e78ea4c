package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/biddersweet/platform/internal/domain"
	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/checkout/session"
	"github.com/stripe/stripe-go/v84/refund"
	"github.com/stripe/stripe-go/v84/webhook"
)

// Checkout metadata keys written on the session and its payment intent.
const (
	MetaUserID     = "user_id"
	MetaBidPackID  = "bid_pack_id"
	MetaPurchaseID = "purchase_id"
	MetaCredits    = "credits"
	MetaStorefront = "storefront_key"
)

// Stripe event types the payment core handles.
const (
	EventCheckoutCompleted      = string(stripe.EventTypeCheckoutSessionCompleted)
	EventPaymentIntentSucceeded = string(stripe.EventTypePaymentIntentSucceeded)
	EventChargeRefunded         = string(stripe.EventTypeChargeRefunded)
)

// StripeGateway wraps the Stripe API operations the payment core needs.
type StripeGateway struct {
	secretKey     string
	webhookSecret string
}

// NewStripeGateway creates a Stripe gateway. The secret key is installed as
// the stripe-go package key used by the resource clients.
func NewStripeGateway(secretKey, webhookSecret string) *StripeGateway {
	if secretKey != "" {
		stripe.Key = secretKey
	}
	return &StripeGateway{
		secretKey:     secretKey,
		webhookSecret: webhookSecret,
	}
}

// CheckoutRequest describes a bid pack checkout.
type CheckoutRequest struct {
	PurchaseID    uuid.UUID
	UserID        uuid.UUID
	BidPackID     uuid.UUID
	BidPackName   string
	Credits       int64
	AmountCents   int64
	Currency      string
	StorefrontKey string
	SuccessURL    string
	CancelURL     string
}

// CheckoutSession is the gateway view of a Stripe checkout session.
type CheckoutSession struct {
	ID              string            `json:"id"`
	URL             string            `json:"url,omitempty"`
	PaymentIntentID string            `json:"payment_intent_id,omitempty"`
	PaymentStatus   string            `json:"payment_status"`
	AmountTotal     int64             `json:"amount_total"`
	Currency        string            `json:"currency"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	CustomerEmail   string            `json:"customer_email,omitempty"`
}

// Paid reports whether Stripe considers the session paid.
func (s *CheckoutSession) Paid() bool {
	return s.PaymentStatus == string(stripe.CheckoutSessionPaymentStatusPaid)
}

// PaymentIntent is the gateway view of a payment_intent.succeeded object.
type PaymentIntent struct {
	ID          string
	AmountCents int64
	Currency    string
	Metadata    map[string]string
	Succeeded   bool
}

// ChargeRefund is the gateway view of a charge.refunded object.
type ChargeRefund struct {
	ChargeID        string
	PaymentIntentID string
	AmountCents     int64
	RefundedCents   int64
	FullyRefunded   bool
}

// RefundRequest asks Stripe to refund a payment intent.
type RefundRequest struct {
	PaymentIntentID string
	AmountCents     int64 // zero refunds the full amount
	IdempotencyKey  string
	Metadata        map[string]string
}

// Refund is the gateway view of a created refund.
type Refund struct {
	ID          string
	Status      string
	AmountCents int64
}

// WebhookEvent is a verified Stripe event. Object holds data.object.
type WebhookEvent struct {
	ID     string
	Type   string
	Object json.RawMessage
}

// VerifyWebhook checks the Stripe-Signature header and parses the event.
func (g *StripeGateway) VerifyWebhook(payload []byte, sigHeader string) (*WebhookEvent, error) {
	if g.webhookSecret == "" {
		return nil, domain.ErrInternal("stripe webhook secret not configured", nil)
	}
	if sigHeader == "" {
		return nil, domain.ErrUnauthorized("missing Stripe-Signature header")
	}
	event, err := webhook.ConstructEventWithOptions(payload, sigHeader, g.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, &domain.AppError{
			Code:    domain.CodeUnauthorized,
			Message: "invalid webhook signature",
			Status:  http.StatusUnauthorized,
			Cause:   err,
		}
	}
	out := &WebhookEvent{ID: event.ID, Type: string(event.Type)}
	if event.Data != nil {
		out.Object = event.Data.Raw
	}
	return out, nil
}

// CreateCheckoutSession starts a hosted checkout for a bid pack. The
// purchase id doubles as the Stripe idempotency key.
func (g *StripeGateway) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	if g.secretKey == "" {
		return nil, domain.ErrInternal("stripe secret key not configured", nil)
	}
	meta := CheckoutMetadata(req)
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(req.CancelURL),
		ClientReferenceID: stripe.String(req.PurchaseID.String()),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(strings.ToLower(req.Currency)),
				UnitAmount: stripe.Int64(req.AmountCents),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(req.BidPackName),
				},
			},
			Quantity: stripe.Int64(1),
		}},
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: meta,
		},
	}
	params.Metadata = meta
	params.Context = ctx
	params.SetIdempotencyKey("checkout:" + req.PurchaseID.String())

	s, err := session.New(params)
	if err != nil {
		return nil, gatewayError("create checkout session", err)
	}
	return toCheckoutSession(s), nil
}

// GetCheckoutSession retrieves a session by id.
func (g *StripeGateway) GetCheckoutSession(ctx context.Context, id string) (*CheckoutSession, error) {
	if g.secretKey == "" {
		return nil, domain.ErrInternal("stripe secret key not configured", nil)
	}
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	s, err := session.Get(id, params)
	if err != nil {
		return nil, gatewayError("get checkout session", err)
	}
	return toCheckoutSession(s), nil
}

// CreateRefund refunds a payment intent.
func (g *StripeGateway) CreateRefund(ctx context.Context, req RefundRequest) (*Refund, error) {
	if g.secretKey == "" {
		return nil, domain.ErrInternal("stripe secret key not configured", nil)
	}
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(req.PaymentIntentID),
	}
	if req.AmountCents > 0 {
		params.Amount = stripe.Int64(req.AmountCents)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	params.Context = ctx
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	r, err := refund.New(params)
	if err != nil {
		return nil, gatewayError("create refund", err)
	}
	return &Refund{ID: r.ID, Status: string(r.Status), AmountCents: r.Amount}, nil
}

// CheckoutMetadata builds the metadata written on the session and its
// payment intent so every later event can be attributed.
func CheckoutMetadata(req CheckoutRequest) map[string]string {
	return map[string]string{
		MetaUserID:     req.UserID.String(),
		MetaBidPackID:  req.BidPackID.String(),
		MetaPurchaseID: req.PurchaseID.String(),
		MetaCredits:    strconv.FormatInt(req.Credits, 10),
		MetaStorefront: req.StorefrontKey,
	}
}

// ParseCheckoutSession decodes a checkout.session.* event object.
func ParseCheckoutSession(raw json.RawMessage) (*CheckoutSession, error) {
	var s stripe.CheckoutSession
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, domain.ErrValidation(fmt.Sprintf("parse checkout session: %v", err))
	}
	return toCheckoutSession(&s), nil
}

// ParsePaymentIntent decodes a payment_intent.* event object.
func ParsePaymentIntent(raw json.RawMessage) (*PaymentIntent, error) {
	var pi stripe.PaymentIntent
	if err := json.Unmarshal(raw, &pi); err != nil {
		return nil, domain.ErrValidation(fmt.Sprintf("parse payment intent: %v", err))
	}
	return &PaymentIntent{
		ID:          pi.ID,
		AmountCents: pi.Amount,
		Currency:    string(pi.Currency),
		Metadata:    pi.Metadata,
		Succeeded:   pi.Status == stripe.PaymentIntentStatusSucceeded,
	}, nil
}

// ParseStoredEvent decodes a webhook payload recorded at delivery time. The
// signature was verified then and is not checked again.
func ParseStoredEvent(payload []byte) (*WebhookEvent, error) {
	var event stripe.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, domain.ErrValidation(fmt.Sprintf("parse stored event: %v", err))
	}
	out := &WebhookEvent{ID: event.ID, Type: string(event.Type)}
	if event.Data != nil {
		out.Object = event.Data.Raw
	}
	return out, nil
}

// ParseChargeRefund decodes a charge.refunded event object.
func ParseChargeRefund(raw json.RawMessage) (*ChargeRefund, error) {
	var ch stripe.Charge
	if err := json.Unmarshal(raw, &ch); err != nil {
		return nil, domain.ErrValidation(fmt.Sprintf("parse charge: %v", err))
	}
	out := &ChargeRefund{
		ChargeID:      ch.ID,
		AmountCents:   ch.Amount,
		RefundedCents: ch.AmountRefunded,
		FullyRefunded: ch.Refunded,
	}
	if ch.PaymentIntent != nil {
		out.PaymentIntentID = ch.PaymentIntent.ID
	}
	return out, nil
}

func toCheckoutSession(s *stripe.CheckoutSession) *CheckoutSession {
	out := &CheckoutSession{
		ID:            s.ID,
		URL:           s.URL,
		PaymentStatus: string(s.PaymentStatus),
		AmountTotal:   s.AmountTotal,
		Currency:      string(s.Currency),
		Metadata:      s.Metadata,
	}
	if s.PaymentIntent != nil {
		out.PaymentIntentID = s.PaymentIntent.ID
	}
	if s.CustomerDetails != nil {
		out.CustomerEmail = s.CustomerDetails.Email
	}
	return out
}

// gatewayError maps stripe-go failures onto domain errors. A missing Stripe
// object is NOT_FOUND; everything else is GATEWAY_ERROR.
func gatewayError(op string, err error) error {
	var serr *stripe.Error
	if errors.As(err, &serr) && serr.HTTPStatusCode == http.StatusNotFound {
		return domain.ErrNotFound("stripe object", op)
	}
	return domain.ErrGateway(op+" failed", err)
}
