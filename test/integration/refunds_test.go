//go:build integration

package integration

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/biddersweet/platform/test/integration/testutil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v84"
)

type refundResponse struct {
	Outcome  string `json:"outcome"`
	Purchase struct {
		ID            uuid.UUID `json:"id"`
		Status        string    `json:"status"`
		RefundedCents int64     `json:"refunded_cents"`
	} `json:"purchase"`
	CreditsReversed int64 `json:"credits_reversed"`
}

type webhookResponse struct {
	Outcome   string `json:"outcome"`
	EventID   string `json:"event_id"`
	EventType string `json:"event_type"`
	Code      string `json:"code"`
}

func refundPath(purchaseID uuid.UUID) string {
	return "/admin/purchases/" + purchaseID.String() + "/refund"
}

// buyPack runs a checkout to completion and returns the applied purchase
// and its payment intent.
func buyPack(t *testing.T, env *testutil.TestEnv, userID uuid.UUID, bids, priceCents int64) (uuid.UUID, string) {
	t.Helper()
	packID := env.SeedBidPack(bids, priceCents)
	purchaseID, sessionID := env.Checkout(userID, packID)
	piID := env.Gateway.MarkPaid(sessionID)

	resp := env.POST("/checkout/success", map[string]string{"session_id": sessionID}, env.UserToken(userID))
	testutil.AssertStatus(t, resp, http.StatusOK)
	resp.Body.Close()
	return purchaseID, piID
}

func TestAdminRefund_Full(t *testing.T) {
	env := testutil.NewTestEnv(t)
	userID := env.SeedUser()
	purchaseID, piID := buyPack(t, env, userID, 50, 2500)
	testutil.AssertCredits(t, env, userID, 50)

	resp := env.POST(refundPath(purchaseID), map[string]int64{"amount_cents": 0}, env.AdminToken("admin"))
	testutil.AssertStatus(t, resp, http.StatusOK)
	var out refundResponse
	testutil.DecodeJSON(t, resp, &out)
	assert.Equal(t, "reversed", out.Outcome)
	assert.Equal(t, int64(50), out.CreditsReversed)
	assert.Equal(t, "refunded", out.Purchase.Status)
	assert.Equal(t, int64(2500), out.Purchase.RefundedCents)

	refunds := env.Gateway.Refunds()
	require.Len(t, refunds, 1)
	assert.Equal(t, piID, refunds[0].PaymentIntentID)
	assert.Equal(t, int64(2500), refunds[0].AmountCents)

	testutil.AssertCredits(t, env, userID, 0)
	assert.Equal(t, "refunded", testutil.PurchaseStatus(t, env, purchaseID))
	assert.Equal(t, 1, testutil.Count(t, env,
		`SELECT COUNT(*) FROM money_events WHERE user_id = $1 AND event_type = 'refund'`, userID))
	assert.Equal(t, 1, testutil.Count(t, env,
		`SELECT COUNT(*) FROM event_outbox WHERE "eventType" = 'payment.purchase.refunded' AND "aggregateId" = $1`, purchaseID.String()))
}

func TestAdminRefund_Partial(t *testing.T) {
	env := testutil.NewTestEnv(t)
	userID := env.SeedUser()
	purchaseID, _ := buyPack(t, env, userID, 50, 2500)

	resp := env.POST(refundPath(purchaseID), map[string]int64{"amount_cents": 1000}, env.AdminToken("superadmin"))
	testutil.AssertStatus(t, resp, http.StatusOK)
	var out refundResponse
	testutil.DecodeJSON(t, resp, &out)
	assert.Equal(t, "reversed", out.Outcome)
	assert.Equal(t, int64(20), out.CreditsReversed)
	assert.Equal(t, "partially_refunded", out.Purchase.Status)

	testutil.AssertCredits(t, env, userID, 30)
}

func TestAdminRefund_PartialThenRemainder(t *testing.T) {
	env := testutil.NewTestEnv(t)
	userID := env.SeedUser()
	purchaseID, piID := buyPack(t, env, userID, 50, 2500)
	token := env.AdminToken("admin")

	resp := env.POST(refundPath(purchaseID), map[string]int64{"amount_cents": 1000}, token)
	testutil.AssertStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	// Only 1500 cents are left to refund.
	resp = env.POST(refundPath(purchaseID), map[string]int64{"amount_cents": 2000}, token)
	testutil.AssertStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()

	resp = env.POST(refundPath(purchaseID), nil, token)
	testutil.AssertStatus(t, resp, http.StatusOK)
	var out refundResponse
	testutil.DecodeJSON(t, resp, &out)
	assert.Equal(t, "reversed", out.Outcome)
	assert.Equal(t, int64(30), out.CreditsReversed)
	assert.Equal(t, "refunded", out.Purchase.Status)
	assert.Equal(t, int64(2500), out.Purchase.RefundedCents)

	refunds := env.Gateway.Refunds()
	require.Len(t, refunds, 2)
	assert.Equal(t, int64(1000), refunds[0].AmountCents)
	assert.Equal(t, int64(1500), refunds[1].AmountCents)
	assert.NotEqual(t, refunds[0].IdempotencyKey, refunds[1].IdempotencyKey)

	testutil.AssertCredits(t, env, userID, 0)
	assert.Equal(t, 2, testutil.Count(t, env,
		`SELECT COUNT(*) FROM money_events WHERE user_id = $1 AND event_type = 'refund'`, userID))
	assert.Equal(t, -2500, testutil.Count(t, env,
		`SELECT COALESCE(SUM(amount_cents), 0)::int FROM money_events WHERE user_id = $1 AND event_type = 'refund'`, userID))

	// Stripe echoes both refunds; the ledger already holds them.
	for i, refunded := range []int64{1000, 2500} {
		payload, sig := env.Gateway.SignEvent(fmt.Sprintf("evt_echo_%d", i), stripe.EventTypeChargeRefunded,
			testutil.ChargeRefundedObject(piID, 2500, refunded))
		resp = env.SendWebhook(payload, sig)
		testutil.AssertStatus(t, resp, http.StatusOK)
		resp.Body.Close()
	}
	assert.Equal(t, 2, testutil.Count(t, env,
		`SELECT COUNT(*) FROM credit_transactions WHERE user_id = $1 AND kind = 'debit'`, userID))
	testutil.AssertCredits(t, env, userID, 0)
}

// A paid purchase whose credits are not applied yet cannot be refunded by an
// admin: Stripe would return the money while the reversal is deferred.
func TestAdminRefund_UnappliedPurchaseConflict(t *testing.T) {
	env := testutil.NewTestEnv(t)
	userID := env.SeedUser()
	packID := env.SeedBidPack(25, 1250)
	purchaseID, sessionID := env.Checkout(userID, packID)
	piID := env.Gateway.MarkPaid(sessionID)
	_, err := env.Pool.Exec(t.Context(),
		`UPDATE purchases SET status = 'paid_pending_apply', stripe_payment_intent_id = $2 WHERE id = $1`,
		purchaseID, piID)
	require.NoError(t, err)

	resp := env.POST(refundPath(purchaseID), nil, env.AdminToken("admin"))
	testutil.AssertStatus(t, resp, http.StatusConflict)
	testutil.AssertErrorCode(t, resp, "CONFLICT")

	assert.Empty(t, env.Gateway.Refunds())
	assert.Equal(t, "paid_pending_apply", testutil.PurchaseStatus(t, env, purchaseID))

	// Once applied, the refund goes through.
	resp = env.POST("/checkout/success", map[string]string{"session_id": sessionID}, env.UserToken(userID))
	testutil.AssertStatus(t, resp, http.StatusOK)
	resp.Body.Close()
	testutil.AssertCredits(t, env, userID, 25)

	resp = env.POST(refundPath(purchaseID), nil, env.AdminToken("admin"))
	testutil.AssertStatus(t, resp, http.StatusOK)
	resp.Body.Close()
	assert.Len(t, env.Gateway.Refunds(), 1)
	testutil.AssertCredits(t, env, userID, 0)
}

func TestAdminRefund_ClampedToBalance(t *testing.T) {
	env := testutil.NewTestEnv(t)
	userID := env.SeedUser()
	purchaseID, _ := buyPack(t, env, userID, 50, 2500)

	resp := env.POST(creditsPath(userID), map[string]interface{}{"amount": -45, "request_key": "spent-elsewhere"}, env.AdminToken("admin"))
	testutil.AssertStatus(t, resp, http.StatusCreated)
	resp.Body.Close()

	resp = env.POST(refundPath(purchaseID), nil, env.AdminToken("admin"))
	testutil.AssertStatus(t, resp, http.StatusOK)
	var out refundResponse
	testutil.DecodeJSON(t, resp, &out)
	assert.Equal(t, int64(5), out.CreditsReversed)
	assert.Equal(t, "refunded", out.Purchase.Status)

	testutil.AssertCredits(t, env, userID, 0)
}

func TestAdminRefund_Twice(t *testing.T) {
	env := testutil.NewTestEnv(t)
	userID := env.SeedUser()
	purchaseID, _ := buyPack(t, env, userID, 10, 500)
	token := env.AdminToken("admin")

	resp := env.POST(refundPath(purchaseID), nil, token)
	testutil.AssertStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = env.POST(refundPath(purchaseID), nil, token)
	testutil.AssertStatus(t, resp, http.StatusOK)
	var out refundResponse
	testutil.DecodeJSON(t, resp, &out)
	assert.Equal(t, "already_refunded", out.Outcome)
	assert.Equal(t, int64(0), out.CreditsReversed)

	assert.Len(t, env.Gateway.Refunds(), 1)
	assert.Equal(t, 1, testutil.Count(t, env,
		`SELECT COUNT(*) FROM credit_transactions WHERE user_id = $1 AND kind = 'debit'`, userID))
	testutil.AssertCredits(t, env, userID, 0)
}

func TestAdminRefund_NeverPaidIsVoided(t *testing.T) {
	env := testutil.NewTestEnv(t)
	userID := env.SeedUser()
	packID := env.SeedBidPack(10, 500)
	purchaseID, _ := env.Checkout(userID, packID)

	resp := env.POST(refundPath(purchaseID), nil, env.AdminToken("admin"))
	testutil.AssertStatus(t, resp, http.StatusOK)
	var out refundResponse
	testutil.DecodeJSON(t, resp, &out)
	assert.Equal(t, "voided", out.Outcome)

	assert.Empty(t, env.Gateway.Refunds())
	assert.Equal(t, "voided", testutil.PurchaseStatus(t, env, purchaseID))
}

func TestAdminRefund_GatewayDown(t *testing.T) {
	env := testutil.NewTestEnv(t)
	userID := env.SeedUser()
	purchaseID, _ := buyPack(t, env, userID, 10, 500)

	env.Gateway.FailRequests(true)
	resp := env.POST(refundPath(purchaseID), nil, env.AdminToken("admin"))
	testutil.AssertStatus(t, resp, http.StatusBadGateway)
	testutil.AssertErrorCode(t, resp, "GATEWAY_ERROR")

	assert.Equal(t, "applied", testutil.PurchaseStatus(t, env, purchaseID))
	testutil.AssertCredits(t, env, userID, 10)
}

func TestAdminRefund_Validation(t *testing.T) {
	env := testutil.NewTestEnv(t)
	userID := env.SeedUser()
	purchaseID, _ := buyPack(t, env, userID, 10, 500)
	token := env.AdminToken("admin")

	resp := env.POST(refundPath(purchaseID), map[string]int64{"amount_cents": 501}, token)
	testutil.AssertStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()

	resp = env.POST(refundPath(purchaseID), map[string]int64{"amount_cents": -1}, token)
	testutil.AssertStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()

	resp = env.POST(refundPath(uuid.New()), nil, token)
	testutil.AssertStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()

	resp = env.POST(refundPath(purchaseID), nil, env.AdminToken("viewer"))
	testutil.AssertStatus(t, resp, http.StatusForbidden)
	resp.Body.Close()

	assert.Empty(t, env.Gateway.Refunds())
	testutil.AssertCredits(t, env, userID, 10)
}

func TestRefundWebhook_ReversesOnce(t *testing.T) {
	env := testutil.NewTestEnv(t)
	userID := env.SeedUser()
	purchaseID, piID := buyPack(t, env, userID, 40, 2000)

	payload, sig := env.Gateway.SignEvent("evt_refund_1", stripe.EventTypeChargeRefunded,
		testutil.ChargeRefundedObject(piID, 2000, 2000))
	resp := env.SendWebhook(payload, sig)
	testutil.AssertStatus(t, resp, http.StatusOK)
	var out webhookResponse
	testutil.DecodeJSON(t, resp, &out)
	assert.Equal(t, "processed", out.Outcome)

	// A second event for the same refund must not reverse again.
	payload, sig = env.Gateway.SignEvent("evt_refund_2", stripe.EventTypeChargeRefunded,
		testutil.ChargeRefundedObject(piID, 2000, 2000))
	resp = env.SendWebhook(payload, sig)
	testutil.AssertStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	testutil.AssertCredits(t, env, userID, 0)
	assert.Equal(t, "refunded", testutil.PurchaseStatus(t, env, purchaseID))
	assert.Equal(t, 1, testutil.Count(t, env,
		`SELECT COUNT(*) FROM money_events WHERE user_id = $1 AND event_type = 'refund'`, userID))
}

func TestRefundWebhook_AfterAdminRefund(t *testing.T) {
	env := testutil.NewTestEnv(t)
	userID := env.SeedUser()
	purchaseID, piID := buyPack(t, env, userID, 40, 2000)

	resp := env.POST(refundPath(purchaseID), nil, env.AdminToken("admin"))
	testutil.AssertStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	payload, sig := env.Gateway.SignEvent("evt_refund_echo", stripe.EventTypeChargeRefunded,
		testutil.ChargeRefundedObject(piID, 2000, 2000))
	resp = env.SendWebhook(payload, sig)
	testutil.AssertStatus(t, resp, http.StatusOK)
	var out webhookResponse
	testutil.DecodeJSON(t, resp, &out)
	assert.Equal(t, "processed", out.Outcome)

	testutil.AssertCredits(t, env, userID, 0)
	assert.Equal(t, 1, testutil.Count(t, env,
		`SELECT COUNT(*) FROM credit_transactions WHERE user_id = $1 AND kind = 'debit'`, userID))
}

func TestRefundWebhook_Cumulative(t *testing.T) {
	env := testutil.NewTestEnv(t)
	userID := env.SeedUser()
	purchaseID, piID := buyPack(t, env, userID, 50, 2500)

	payload, sig := env.Gateway.SignEvent("evt_partial", stripe.EventTypeChargeRefunded,
		testutil.ChargeRefundedObject(piID, 2500, 1000))
	resp := env.SendWebhook(payload, sig)
	testutil.AssertStatus(t, resp, http.StatusOK)
	resp.Body.Close()
	testutil.AssertCredits(t, env, userID, 30)
	assert.Equal(t, "partially_refunded", testutil.PurchaseStatus(t, env, purchaseID))

	payload, sig = env.Gateway.SignEvent("evt_rest", stripe.EventTypeChargeRefunded,
		testutil.ChargeRefundedObject(piID, 2500, 2500))
	resp = env.SendWebhook(payload, sig)
	testutil.AssertStatus(t, resp, http.StatusOK)
	var out webhookResponse
	testutil.DecodeJSON(t, resp, &out)
	assert.Equal(t, "processed", out.Outcome)

	testutil.AssertCredits(t, env, userID, 0)
	assert.Equal(t, "refunded", testutil.PurchaseStatus(t, env, purchaseID))
	assert.Equal(t, 2, testutil.Count(t, env,
		`SELECT COUNT(*) FROM money_events WHERE user_id = $1 AND event_type = 'refund'`, userID))

	// The older, smaller total arriving late changes nothing.
	payload, sig = env.Gateway.SignEvent("evt_partial_late", stripe.EventTypeChargeRefunded,
		testutil.ChargeRefundedObject(piID, 2500, 1000))
	resp = env.SendWebhook(payload, sig)
	testutil.AssertStatus(t, resp, http.StatusOK)
	resp.Body.Close()
	assert.Equal(t, 2, testutil.Count(t, env,
		`SELECT COUNT(*) FROM credit_transactions WHERE user_id = $1 AND kind = 'debit'`, userID))
}

// A refund that arrives before the purchase is applied stays unstamped until
// the apply settles it.
func TestRefundWebhook_DeferredUntilApplied(t *testing.T) {
	env := testutil.NewTestEnv(t)
	userID := env.SeedUser()
	packID := env.SeedBidPack(25, 1250)
	purchaseID, sessionID := env.Checkout(userID, packID)
	piID := env.Gateway.MarkPaid(sessionID)

	payload, sig := env.Gateway.SignEvent("evt_refund_early", stripe.EventTypeChargeRefunded,
		testutil.ChargeRefundedObject(piID, 1250, 1250))
	resp := env.SendWebhook(payload, sig)
	testutil.AssertStatus(t, resp, http.StatusOK)
	var early webhookResponse
	testutil.DecodeJSON(t, resp, &early)
	assert.Equal(t, "deferred", early.Outcome)
	assert.Equal(t, 1, testutil.Count(t, env,
		`SELECT COUNT(*) FROM stripe_events WHERE stripe_event_id = 'evt_refund_early' AND processed_at IS NULL`))

	resp = env.POST("/checkout/success", map[string]string{"session_id": sessionID}, env.UserToken(userID))
	testutil.AssertStatus(t, resp, http.StatusOK)
	var applied successResponse
	testutil.DecodeJSON(t, resp, &applied)
	assert.Equal(t, "refunded", applied.Purchase.Status)
	require.NotNil(t, applied.Balance)
	assert.Equal(t, int64(0), *applied.Balance)

	// Settled by the apply, without waiting for Stripe to redeliver.
	testutil.AssertCredits(t, env, userID, 0)
	assert.Equal(t, "refunded", testutil.PurchaseStatus(t, env, purchaseID))
	assert.Equal(t, 1, testutil.Count(t, env,
		`SELECT COUNT(*) FROM stripe_events WHERE stripe_event_id = 'evt_refund_early' AND outcome = 'processed'`))

	resp = env.SendWebhook(payload, sig)
	testutil.AssertStatus(t, resp, http.StatusOK)
	var redelivered webhookResponse
	testutil.DecodeJSON(t, resp, &redelivered)
	assert.Equal(t, "duplicate", redelivered.Outcome)

	assert.Equal(t, 1, testutil.Count(t, env,
		`SELECT COUNT(*) FROM credit_transactions WHERE user_id = $1 AND kind = 'debit'`, userID))
	assert.Equal(t, 1, testutil.Count(t, env,
		`SELECT COUNT(*) FROM money_events WHERE user_id = $1 AND event_type = 'refund'`, userID))
}
