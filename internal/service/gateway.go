package service

import (
	"context"

	"github.com/biddersweet/platform/internal/provider"
	"github.com/google/uuid"
)

// PaymentGateway is the subset of the Stripe API the payment services call.
// provider.StripeGateway implements it; tests substitute a fake.
type PaymentGateway interface {
	VerifyWebhook(payload []byte, sigHeader string) (*provider.WebhookEvent, error)
	CreateCheckoutSession(ctx context.Context, req provider.CheckoutRequest) (*provider.CheckoutSession, error)
	GetCheckoutSession(ctx context.Context, id string) (*provider.CheckoutSession, error)
	CreateRefund(ctx context.Context, req provider.RefundRequest) (*provider.Refund, error)
}

// BalanceRecorder receives committed balances for the read projection.
type BalanceRecorder interface {
	RecordBalance(ctx context.Context, userID uuid.UUID, credits int64) error
}
