package projection

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// BalanceProjection is a cached read of users.bid_credits. The users row
// stays authoritative; the projection only serves balance reads.
type BalanceProjection struct {
	UserID     string `json:"user_id"`
	BidCredits int64  `json:"bid_credits"`
	UpdatedAt  string `json:"updated_at"`
}

const balanceTTL = 5 * time.Minute

func balanceKey(userID string) string {
	return fmt.Sprintf("projection:balance:%s", userID)
}

// UpdateBalance caches a user's balance projection.
func UpdateBalance(ctx context.Context, store Store, p BalanceProjection) error {
	p.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	return SetJSON(ctx, store, balanceKey(p.UserID), p, balanceTTL)
}

// GetBalance retrieves a cached balance projection.
func GetBalance(ctx context.Context, store Store, userID string) (*BalanceProjection, error) {
	var p BalanceProjection
	if err := GetJSON(ctx, store, balanceKey(userID), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// InvalidateBalance removes a user's cached balance.
func InvalidateBalance(ctx context.Context, store Store, userID string) error {
	return store.Delete(ctx, balanceKey(userID))
}

// Balances adapts a Store to the post-commit balance hooks of the bid and
// payment engines.
type Balances struct {
	store Store
}

// NewBalances creates a balance projection writer.
func NewBalances(store Store) *Balances {
	return &Balances{store: store}
}

// RecordBalance caches the committed balance.
func (b *Balances) RecordBalance(ctx context.Context, userID uuid.UUID, credits int64) error {
	return UpdateBalance(ctx, b.store, BalanceProjection{UserID: userID.String(), BidCredits: credits})
}

// Lookup returns the cached balance, reporting false on a miss.
func (b *Balances) Lookup(ctx context.Context, userID uuid.UUID) (int64, bool) {
	p, err := GetBalance(ctx, b.store, userID.String())
	if err != nil {
		return 0, false
	}
	return p.BidCredits, true
}

// Invalidate drops the cached balance.
func (b *Balances) Invalidate(ctx context.Context, userID uuid.UUID) error {
	return InvalidateBalance(ctx, b.store, userID.String())
}
