package domain

import (
	"time"

	"github.com/google/uuid"
)

// User is the bidder account. BidCredits caches the sum of the user's
// credit_transactions and is only mutated by the ledger engine.
type User struct {
	ID            uuid.UUID `json:"id"`
	Email         string    `json:"email"`
	BidCredits    int64     `json:"bid_credits"`
	Role          string    `json:"role"`
	StorefrontKey string    `json:"storefront_key"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}
