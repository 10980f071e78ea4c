package service

import (
	"github.com/biddersweet/platform/internal/domain"
	"github.com/biddersweet/platform/internal/provider"
	"github.com/google/uuid"
)

// CheckoutMetadata is the attribution written by CreateCheckout. Absent or
// malformed ids parse to uuid.Nil and are rejected as missing_metadata.
type CheckoutMetadata struct {
	UserID        uuid.UUID
	BidPackID     uuid.UUID
	PurchaseID    uuid.UUID
	StorefrontKey string
}

// ParseCheckoutMetadata reads the attribution keys from Stripe metadata.
func ParseCheckoutMetadata(meta map[string]string) CheckoutMetadata {
	out := CheckoutMetadata{
		UserID:        parseMetaUUID(meta, provider.MetaUserID),
		BidPackID:     parseMetaUUID(meta, provider.MetaBidPackID),
		PurchaseID:    parseMetaUUID(meta, provider.MetaPurchaseID),
		StorefrontKey: meta[provider.MetaStorefront],
	}
	if domain.ValidateStorefrontKey(out.StorefrontKey) != nil {
		out.StorefrontKey = domain.DefaultStorefront
	}
	return out
}

func parseMetaUUID(meta map[string]string, key string) uuid.UUID {
	v, ok := meta[key]
	if !ok {
		return uuid.Nil
	}
	id, err := uuid.Parse(v)
	if err != nil {
		return uuid.Nil
	}
	return id
}

func sessionPurchaseParams(s *provider.CheckoutSession, meta CheckoutMetadata, eventID string, source domain.PaymentSource) ApplyPurchaseParams {
	return ApplyPurchaseParams{
		UserID:            meta.UserID,
		BidPackID:         meta.BidPackID,
		PurchaseID:        meta.PurchaseID,
		CheckoutSessionID: s.ID,
		PaymentIntentID:   s.PaymentIntentID,
		StripeEventID:     eventID,
		AmountCents:       s.AmountTotal,
		Currency:          s.Currency,
		ReceiptEmail:      s.CustomerEmail,
		StorefrontKey:     meta.StorefrontKey,
		Source:            source,
	}
}

func paymentIntentPurchaseParams(pi *provider.PaymentIntent, meta CheckoutMetadata, eventID string) ApplyPurchaseParams {
	return ApplyPurchaseParams{
		UserID:          meta.UserID,
		BidPackID:       meta.BidPackID,
		PurchaseID:      meta.PurchaseID,
		PaymentIntentID: pi.ID,
		StripeEventID:   eventID,
		AmountCents:     pi.AmountCents,
		Currency:        pi.Currency,
		StorefrontKey:   meta.StorefrontKey,
		Source:          domain.SourceWebhook,
	}
}
