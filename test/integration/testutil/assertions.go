//go:build integration

package testutil

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
)

// DecodeJSON reads and decodes a JSON response body into dst.
func DecodeJSON(t *testing.T, resp *http.Response, dst interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		t.Fatalf("DecodeJSON: %v", err)
	}
}

// AssertStatus checks that the response has the expected HTTP status code.
func AssertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("expected status %d, got %d", expected, resp.StatusCode)
	}
}

// AssertErrorCode checks that the response body contains the expected error code.
func AssertErrorCode(t *testing.T, resp *http.Response, expectedCode string) {
	t.Helper()
	var errResp struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	DecodeJSON(t, resp, &errResp)
	if errResp.Code != expectedCode {
		t.Errorf("expected error code %q, got %q (message: %s)", expectedCode, errResp.Code, errResp.Message)
	}
}

// AssertCredits checks the cached balance and that it equals the ledger sum.
func AssertCredits(t *testing.T, env *TestEnv, userID uuid.UUID, expected int64) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var cached, ledgerSum int64
	err := env.Pool.QueryRow(ctx, `
		SELECT u.bid_credits, COALESCE((SELECT SUM(amount) FROM credit_transactions WHERE user_id = u.id), 0)
		FROM users u WHERE u.id = $1`, userID).Scan(&cached, &ledgerSum)
	if err != nil {
		t.Fatalf("AssertCredits: query: %v", err)
	}
	if cached != expected {
		t.Errorf("bid_credits: expected %d, got %d", expected, cached)
	}
	if cached != ledgerSum {
		t.Errorf("bid_credits %d differs from ledger sum %d", cached, ledgerSum)
	}
}

// Count runs a COUNT(*) query with args.
func Count(t *testing.T, env *TestEnv, query string, args ...interface{}) int {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var n int
	if err := env.Pool.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		t.Fatalf("Count: %v", err)
	}
	return n
}

// PurchaseStatus returns the stored status of a purchase.
func PurchaseStatus(t *testing.T, env *TestEnv, purchaseID uuid.UUID) string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var status string
	if err := env.Pool.QueryRow(ctx, `SELECT status FROM purchases WHERE id = $1`, purchaseID).Scan(&status); err != nil {
		t.Fatalf("PurchaseStatus: %v", err)
	}
	return status
}
