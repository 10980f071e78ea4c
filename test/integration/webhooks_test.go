//go:build integration

package integration

import (
	"net/http"
	"testing"

	"github.com/biddersweet/platform/internal/provider"
	"github.com/biddersweet/platform/test/integration/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stripe/stripe-go/v84"
)

func TestWebhook_MissingSignature(t *testing.T) {
	env := testutil.NewTestEnv(t)

	payload, _ := env.Gateway.SignEvent("evt_nosig", stripe.EventTypeCheckoutSessionCompleted, map[string]string{"id": "cs_x"})
	resp := env.RawPOST("/webhooks/stripe", payload, map[string]string{"Content-Type": "application/json"})
	testutil.AssertStatus(t, resp, http.StatusUnauthorized)
	testutil.AssertErrorCode(t, resp, "UNAUTHORIZED")

	assert.Equal(t, 0, testutil.Count(t, env, `SELECT COUNT(*) FROM stripe_events`))
}

func TestWebhook_InvalidSignature(t *testing.T) {
	env := testutil.NewTestEnv(t)

	payload, _ := env.Gateway.SignEvent("evt_badsig", stripe.EventTypeCheckoutSessionCompleted, map[string]string{"id": "cs_x"})
	resp := env.SendWebhook(payload, "t=1700000000,v1=deadbeef")
	testutil.AssertStatus(t, resp, http.StatusUnauthorized)
	resp.Body.Close()

	// A valid header for a different body must not verify either.
	_, sig := env.Gateway.SignEvent("evt_other", stripe.EventTypeCheckoutSessionCompleted, map[string]string{"id": "cs_y"})
	resp = env.SendWebhook(payload, sig)
	testutil.AssertStatus(t, resp, http.StatusUnauthorized)
	resp.Body.Close()

	assert.Equal(t, 0, testutil.Count(t, env, `SELECT COUNT(*) FROM stripe_events`))
}

func TestWebhook_CheckoutCompletedApplies(t *testing.T) {
	env := testutil.NewTestEnv(t)
	userID := env.SeedUser()
	packID := env.SeedBidPack(15, 750)
	purchaseID, sessionID := env.Checkout(userID, packID)
	env.Gateway.MarkPaid(sessionID)

	payload, sig := env.Gateway.SignEvent("evt_completed", stripe.EventTypeCheckoutSessionCompleted,
		testutil.CheckoutCompletedObject(env.Gateway.Session(sessionID)))
	resp := env.SendWebhook(payload, sig)
	testutil.AssertStatus(t, resp, http.StatusOK)
	var out webhookResponse
	testutil.DecodeJSON(t, resp, &out)
	assert.Equal(t, "processed", out.Outcome)
	assert.Equal(t, "evt_completed", out.EventID)
	assert.Equal(t, "checkout.session.completed", out.EventType)

	testutil.AssertCredits(t, env, userID, 15)
	assert.Equal(t, "applied", testutil.PurchaseStatus(t, env, purchaseID))
	assert.Equal(t, 1, testutil.Count(t, env,
		`SELECT COUNT(*) FROM stripe_events WHERE stripe_event_id = 'evt_completed' AND outcome = 'processed' AND processed_at IS NOT NULL`))
}

func TestWebhook_DuplicateDelivery(t *testing.T) {
	env := testutil.NewTestEnv(t)
	userID := env.SeedUser()
	packID := env.SeedBidPack(15, 750)
	_, sessionID := env.Checkout(userID, packID)
	env.Gateway.MarkPaid(sessionID)

	payload, sig := env.Gateway.SignEvent("evt_dup", stripe.EventTypeCheckoutSessionCompleted,
		testutil.CheckoutCompletedObject(env.Gateway.Session(sessionID)))
	resp := env.SendWebhook(payload, sig)
	testutil.AssertStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = env.SendWebhook(payload, sig)
	testutil.AssertStatus(t, resp, http.StatusOK)
	var out webhookResponse
	testutil.DecodeJSON(t, resp, &out)
	assert.Equal(t, "duplicate", out.Outcome)

	testutil.AssertCredits(t, env, userID, 15)
	assert.Equal(t, 1, testutil.Count(t, env, `SELECT COUNT(*) FROM stripe_events WHERE stripe_event_id = 'evt_dup'`))
}

func TestWebhook_UnhandledTypeIgnored(t *testing.T) {
	env := testutil.NewTestEnv(t)

	payload, sig := env.Gateway.SignEvent("evt_customer", stripe.EventTypeCustomerCreated,
		map[string]string{"id": "cus_123", "object": "customer"})
	resp := env.SendWebhook(payload, sig)
	testutil.AssertStatus(t, resp, http.StatusOK)
	var out webhookResponse
	testutil.DecodeJSON(t, resp, &out)
	assert.Equal(t, "ignored", out.Outcome)

	assert.Equal(t, 1, testutil.Count(t, env,
		`SELECT COUNT(*) FROM stripe_events WHERE stripe_event_id = 'evt_customer' AND outcome = 'ignored'`))
}

func TestWebhook_UnpaidSessionIgnored(t *testing.T) {
	env := testutil.NewTestEnv(t)
	userID := env.SeedUser()
	packID := env.SeedBidPack(15, 750)
	purchaseID, sessionID := env.Checkout(userID, packID)

	payload, sig := env.Gateway.SignEvent("evt_unpaid", stripe.EventTypeCheckoutSessionCompleted,
		testutil.CheckoutCompletedObject(env.Gateway.Session(sessionID)))
	resp := env.SendWebhook(payload, sig)
	testutil.AssertStatus(t, resp, http.StatusOK)
	var out webhookResponse
	testutil.DecodeJSON(t, resp, &out)
	assert.Equal(t, "ignored", out.Outcome)

	testutil.AssertCredits(t, env, userID, 0)
	assert.Equal(t, "created", testutil.PurchaseStatus(t, env, purchaseID))
}

func TestWebhook_MissingMetadataRejected(t *testing.T) {
	env := testutil.NewTestEnv(t)
	userID := env.SeedUser()
	packID := env.SeedBidPack(15, 750)
	_, sessionID := env.Checkout(userID, packID)
	env.Gateway.MarkPaid(sessionID)

	session := env.Gateway.Session(sessionID)
	session.Metadata = map[string]string{provider.MetaBidPackID: packID.String()}

	payload, sig := env.Gateway.SignEvent("evt_nometa", stripe.EventTypeCheckoutSessionCompleted,
		testutil.CheckoutCompletedObject(session))
	resp := env.SendWebhook(payload, sig)
	testutil.AssertStatus(t, resp, http.StatusOK)
	var out webhookResponse
	testutil.DecodeJSON(t, resp, &out)
	assert.Equal(t, "rejected", out.Outcome)
	assert.Equal(t, "missing_metadata", out.Code)

	testutil.AssertCredits(t, env, userID, 0)
	assert.Equal(t, 1, testutil.Count(t, env,
		`SELECT COUNT(*) FROM stripe_events WHERE stripe_event_id = 'evt_nometa' AND outcome = 'rejected:missing_metadata'`))

	// Redelivery of a rejected event is a duplicate, not a second attempt.
	resp = env.SendWebhook(payload, sig)
	testutil.AssertStatus(t, resp, http.StatusOK)
	var again webhookResponse
	testutil.DecodeJSON(t, resp, &again)
	assert.Equal(t, "duplicate", again.Outcome)
}

func TestWebhook_UnknownUserRejected(t *testing.T) {
	env := testutil.NewTestEnv(t)
	userID := env.SeedUser()
	packID := env.SeedBidPack(15, 750)

	meta := map[string]string{
		provider.MetaUserID:    "00000000-0000-0000-0000-000000000001",
		provider.MetaBidPackID: packID.String(),
	}
	payload, sig := env.Gateway.SignEvent("evt_ghost", stripe.EventTypePaymentIntentSucceeded,
		testutil.PaymentIntentObject("pi_ghost", 750, "usd", meta))
	resp := env.SendWebhook(payload, sig)
	testutil.AssertStatus(t, resp, http.StatusOK)
	var out webhookResponse
	testutil.DecodeJSON(t, resp, &out)
	assert.Equal(t, "rejected", out.Outcome)

	testutil.AssertCredits(t, env, userID, 0)
	assert.Equal(t, 0, testutil.Count(t, env, `SELECT COUNT(*) FROM purchases`))
}
