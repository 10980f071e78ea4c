//go:build integration

package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/biddersweet/platform/internal/auth"
	"github.com/google/uuid"
)

// GET performs an unauthenticated GET request.
func (env *TestEnv) GET(path string) *http.Response {
	env.t.Helper()
	resp, err := http.Get(env.Server.URL + path)
	if err != nil {
		env.t.Fatalf("GET %s: %v", path, err)
	}
	return resp
}

// POST performs a POST request with optional auth token.
func (env *TestEnv) POST(path string, body interface{}, token string) *http.Response {
	env.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			env.t.Fatalf("POST %s: encode: %v", path, err)
		}
	}
	req, err := http.NewRequest(http.MethodPost, env.Server.URL+path, &buf)
	if err != nil {
		env.t.Fatalf("POST %s: new request: %v", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		env.t.Fatalf("POST %s: %v", path, err)
	}
	return resp
}

// AuthGET performs an authenticated GET request.
func (env *TestEnv) AuthGET(path, token string) *http.Response {
	env.t.Helper()
	req, err := http.NewRequest(http.MethodGet, env.Server.URL+path, nil)
	if err != nil {
		env.t.Fatalf("AuthGET %s: new request: %v", path, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		env.t.Fatalf("AuthGET %s: %v", path, err)
	}
	return resp
}

// RawPOST sends payload as-is with the given headers.
func (env *TestEnv) RawPOST(path string, payload []byte, headers map[string]string) *http.Response {
	env.t.Helper()
	req, err := http.NewRequest(http.MethodPost, env.Server.URL+path, bytes.NewReader(payload))
	if err != nil {
		env.t.Fatalf("RawPOST %s: new request: %v", path, err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		env.t.Fatalf("RawPOST %s: %v", path, err)
	}
	return resp
}

// SendWebhook posts a signed Stripe event to /webhooks/stripe.
func (env *TestEnv) SendWebhook(payload []byte, sigHeader string) *http.Response {
	env.t.Helper()
	return env.RawPOST("/webhooks/stripe", payload, map[string]string{
		"Content-Type":     "application/json",
		"Stripe-Signature": sigHeader,
	})
}

// UserToken issues a user-realm JWT.
func (env *TestEnv) UserToken(userID uuid.UUID) string {
	env.t.Helper()
	token, err := env.JWTMgr.GenerateToken(auth.RealmUser, userID, "user@test.com", "")
	if err != nil {
		env.t.Fatalf("UserToken: %v", err)
	}
	return token
}

// AdminToken issues an admin-realm JWT with the given role.
func (env *TestEnv) AdminToken(role string) string {
	env.t.Helper()
	token, err := env.JWTMgr.GenerateToken(auth.RealmAdmin, uuid.New(), "admin@test.com", role)
	if err != nil {
		env.t.Fatalf("AdminToken: %v", err)
	}
	return token
}

// SeedUser inserts a user with zero credits.
func (env *TestEnv) SeedUser() uuid.UUID {
	env.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var id uuid.UUID
	err := env.Pool.QueryRow(ctx,
		`INSERT INTO users (email) VALUES ($1) RETURNING id`,
		fmt.Sprintf("user_%s@test.com", uuid.NewString()[:8])).Scan(&id)
	if err != nil {
		env.t.Fatalf("SeedUser: %v", err)
	}
	return id
}

// SeedUserWithCredits inserts a user and grants credits through a ledger row,
// keeping the cached balance equal to the ledger sum.
func (env *TestEnv) SeedUserWithCredits(credits int64) uuid.UUID {
	env.t.Helper()
	id := env.SeedUser()
	if credits > 0 {
		env.DirectGrant(id, credits)
	}
	return id
}

// DirectGrant credits a user without going through Stripe.
func (env *TestEnv) DirectGrant(userID uuid.UUID, credits int64) {
	env.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tx, err := env.Pool.Begin(ctx)
	if err != nil {
		env.t.Fatalf("DirectGrant: begin tx: %v", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`UPDATE users SET bid_credits = bid_credits + $2, updated_at = now() WHERE id = $1`,
		userID, credits); err != nil {
		env.t.Fatalf("DirectGrant: update: %v", err)
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO credit_transactions (user_id, kind, amount, reason, idempotency_key)
		VALUES ($1, 'grant', $2, 'test grant', $3)`,
		userID, credits, "test:grant:"+uuid.NewString()); err != nil {
		env.t.Fatalf("DirectGrant: insert: %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		env.t.Fatalf("DirectGrant: commit: %v", err)
	}
}

// SeedBidPack inserts an active bid pack.
func (env *TestEnv) SeedBidPack(bids, priceCents int64) uuid.UUID {
	env.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var id uuid.UUID
	err := env.Pool.QueryRow(ctx, `
		INSERT INTO bid_packs (name, bids, price_cents, currency)
		VALUES ($1, $2, $3, 'USD') RETURNING id`,
		fmt.Sprintf("%d bids", bids), bids, priceCents).Scan(&id)
	if err != nil {
		env.t.Fatalf("SeedBidPack: %v", err)
	}
	return id
}

// SeedAuction inserts an active auction ending after endsIn.
func (env *TestEnv) SeedAuction(price int64, endsIn time.Duration) uuid.UUID {
	env.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var id uuid.UUID
	err := env.Pool.QueryRow(ctx, `
		INSERT INTO auctions (title, status, current_price, start_time, end_time)
		VALUES ('Test auction', 'active', $1, now() - interval '1 minute', $2) RETURNING id`,
		price, time.Now().Add(endsIn)).Scan(&id)
	if err != nil {
		env.t.Fatalf("SeedAuction: %v", err)
	}
	return id
}

// Checkout opens a checkout through the API and returns the purchase and
// session ids.
func (env *TestEnv) Checkout(userID, bidPackID uuid.UUID) (purchaseID uuid.UUID, sessionID string) {
	env.t.Helper()
	resp := env.POST("/checkout", map[string]string{"bid_pack_id": bidPackID.String()}, env.UserToken(userID))
	if resp.StatusCode != http.StatusCreated {
		resp.Body.Close()
		env.t.Fatalf("Checkout: expected 201, got %d", resp.StatusCode)
	}
	var out struct {
		PurchaseID uuid.UUID `json:"purchase_id"`
		SessionID  string    `json:"session_id"`
	}
	DecodeJSON(env.t, resp, &out)
	return out.PurchaseID, out.SessionID
}
