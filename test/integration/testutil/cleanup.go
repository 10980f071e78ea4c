//go:build integration

package testutil

import (
	"context"
	"time"
)

// CleanAll truncates all tables.
func (env *TestEnv) CleanAll() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// money_events rejects DELETE via trigger; TRUNCATE does not fire it.
	_, err := env.Pool.Exec(ctx, `
		TRUNCATE TABLE event_outbox, stripe_events, money_events, bids,
			credit_transactions, purchases, auctions, bid_packs, users
		RESTART IDENTITY CASCADE`)
	if err != nil {
		env.t.Fatalf("CleanAll: %v", err)
	}
}
