//go:build integration

package integration

import (
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/biddersweet/platform/test/integration/testutil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type bidResponse struct {
	Bid struct {
		ID     uuid.UUID `json:"id"`
		Amount int64     `json:"amount"`
	} `json:"bid"`
	Auction struct {
		CurrentPrice  int64      `json:"current_price"`
		BidCount      int64      `json:"bid_count"`
		WinningUserID *uuid.UUID `json:"winning_user_id"`
		EndTime       time.Time  `json:"end_time"`
	} `json:"auction"`
	Balance  int64 `json:"balance"`
	Extended bool  `json:"extended"`
}

func bidPath(auctionID uuid.UUID) string {
	return "/auctions/" + auctionID.String() + "/bids"
}

func TestPlaceBid_Success(t *testing.T) {
	env := testutil.NewTestEnv(t)
	userID := env.SeedUserWithCredits(5)
	auctionID := env.SeedAuction(100, time.Hour)

	resp := env.POST(bidPath(auctionID), map[string]int64{"expected_price": 100}, env.UserToken(userID))
	testutil.AssertStatus(t, resp, http.StatusCreated)

	var out bidResponse
	testutil.DecodeJSON(t, resp, &out)
	assert.Equal(t, int64(101), out.Bid.Amount)
	assert.Equal(t, int64(101), out.Auction.CurrentPrice)
	assert.Equal(t, int64(1), out.Auction.BidCount)
	require.NotNil(t, out.Auction.WinningUserID)
	assert.Equal(t, userID, *out.Auction.WinningUserID)
	assert.Equal(t, int64(4), out.Balance)
	assert.False(t, out.Extended)

	testutil.AssertCredits(t, env, userID, 4)
	assert.Equal(t, 1, testutil.Count(t, env, `SELECT COUNT(*) FROM money_events WHERE user_id = $1 AND event_type = 'bid_spent'`, userID))
	assert.Equal(t, 1, testutil.Count(t, env, `SELECT COUNT(*) FROM event_outbox WHERE "eventType" = 'auction.bid.placed'`))
}

func TestPlaceBid_StaleExpectedPrice(t *testing.T) {
	env := testutil.NewTestEnv(t)
	userID := env.SeedUserWithCredits(5)
	auctionID := env.SeedAuction(100, time.Hour)

	resp := env.POST(bidPath(auctionID), map[string]int64{"expected_price": 99}, env.UserToken(userID))
	testutil.AssertStatus(t, resp, http.StatusConflict)
	testutil.AssertErrorCode(t, resp, "bid_race_lost")

	testutil.AssertCredits(t, env, userID, 5)
}

func TestPlaceBid_InsufficientCredits(t *testing.T) {
	env := testutil.NewTestEnv(t)
	userID := env.SeedUser()
	auctionID := env.SeedAuction(100, time.Hour)

	resp := env.POST(bidPath(auctionID), nil, env.UserToken(userID))
	testutil.AssertStatus(t, resp, http.StatusPaymentRequired)
	testutil.AssertErrorCode(t, resp, "insufficient_credits")
}

func TestPlaceBid_EndedAuction(t *testing.T) {
	env := testutil.NewTestEnv(t)
	userID := env.SeedUserWithCredits(5)
	auctionID := env.SeedAuction(100, -time.Second)

	resp := env.POST(bidPath(auctionID), nil, env.UserToken(userID))
	testutil.AssertStatus(t, resp, http.StatusConflict)
	testutil.AssertErrorCode(t, resp, "auction_not_active")
	testutil.AssertCredits(t, env, userID, 5)
}

func TestPlaceBid_RequiresUserToken(t *testing.T) {
	env := testutil.NewTestEnv(t)
	auctionID := env.SeedAuction(100, time.Hour)

	resp := env.POST(bidPath(auctionID), nil, "")
	defer resp.Body.Close()
	testutil.AssertStatus(t, resp, http.StatusUnauthorized)

	resp = env.POST(bidPath(auctionID), nil, env.AdminToken("admin"))
	defer resp.Body.Close()
	testutil.AssertStatus(t, resp, http.StatusUnauthorized)
}

func TestPlaceBid_ExtendsNearEnd(t *testing.T) {
	env := testutil.NewTestEnv(t)
	userID := env.SeedUserWithCredits(5)
	auctionID := env.SeedAuction(100, 3*time.Second)

	before := time.Now()
	resp := env.POST(bidPath(auctionID), nil, env.UserToken(userID))
	testutil.AssertStatus(t, resp, http.StatusCreated)

	var out bidResponse
	testutil.DecodeJSON(t, resp, &out)
	assert.True(t, out.Extended)
	assert.True(t, out.Auction.EndTime.After(before.Add(env.Config.ExtensionWindow-time.Second)),
		"end time %s should be about %s after the bid", out.Auction.EndTime, env.Config.ExtensionWindow)
}

// Concurrent bidders at the same observed price: exactly one wins, the rest
// lose the race and keep their credits.
func TestPlaceBid_ConcurrentSamePrice(t *testing.T) {
	env := testutil.NewTestEnv(t)
	auctionID := env.SeedAuction(100, time.Hour)

	const bidders = 8
	users := make([]uuid.UUID, bidders)
	for i := range users {
		users[i] = env.SeedUserWithCredits(3)
	}

	statuses := make([]int, bidders)
	var wg sync.WaitGroup
	for i := range users {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp := env.POST(bidPath(auctionID), map[string]int64{"expected_price": 100}, env.UserToken(users[i]))
			statuses[i] = resp.StatusCode
			resp.Body.Close()
		}(i)
	}
	wg.Wait()

	won := 0
	for i, status := range statuses {
		switch status {
		case http.StatusCreated:
			won++
			testutil.AssertCredits(t, env, users[i], 2)
		case http.StatusConflict:
			testutil.AssertCredits(t, env, users[i], 3)
		default:
			t.Errorf("bidder %d: unexpected status %d", i, status)
		}
	}
	assert.Equal(t, 1, won)
	assert.Equal(t, 1, testutil.Count(t, env, `SELECT COUNT(*) FROM bids WHERE auction_id = $1`, auctionID))
}

// Bidders that send no expected price race on the price they would have
// seen: one bid lands, the rest lose the race without spending credits.
func TestPlaceBid_ConcurrentWithoutExpectedPrice(t *testing.T) {
	cfg := testutil.TestConfig()
	cfg.LockTimeout = 15 * time.Second
	env := testutil.NewTestEnvWithConfig(t, cfg)
	auctionID := env.SeedAuction(100, time.Hour)

	const bidders = 10
	users := make([]uuid.UUID, bidders)
	tokens := make([]string, bidders)
	for i := range users {
		users[i] = env.SeedUserWithCredits(1)
		tokens[i] = env.UserToken(users[i])
	}

	// Hold the auction row so every bidder reads the same price and then
	// queues on the lock.
	holder, err := env.Pool.Begin(t.Context())
	require.NoError(t, err)
	defer holder.Rollback(t.Context())
	_, err = holder.Exec(t.Context(), `SELECT id FROM auctions WHERE id = $1 FOR UPDATE`, auctionID)
	require.NoError(t, err)

	statuses := make([]int, bidders)
	var wg sync.WaitGroup
	for i := range users {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp := env.POST(bidPath(auctionID), nil, tokens[i])
			statuses[i] = resp.StatusCode
			resp.Body.Close()
		}(i)
	}

	require.Eventually(t, func() bool {
		return testutil.Count(t, env, `
			SELECT COUNT(*) FROM pg_stat_activity
			WHERE datname = current_database() AND wait_event_type = 'Lock'`) == bidders
	}, 10*time.Second, 20*time.Millisecond, "bidders should queue on the auction lock")
	require.NoError(t, holder.Commit(t.Context()))
	wg.Wait()

	won := 0
	for i, status := range statuses {
		switch status {
		case http.StatusCreated:
			won++
			testutil.AssertCredits(t, env, users[i], 0)
		case http.StatusConflict:
			testutil.AssertCredits(t, env, users[i], 1)
		default:
			t.Errorf("bidder %d: unexpected status %d", i, status)
		}
	}
	assert.Equal(t, 1, won)
	assert.Equal(t, 1, testutil.Count(t, env, `SELECT COUNT(*) FROM bids WHERE auction_id = $1`, auctionID))
	assert.Equal(t, 1, testutil.Count(t, env, `SELECT COUNT(*) FROM money_events WHERE event_type = 'bid_spent'`))
	assert.Equal(t, 1, testutil.Count(t, env,
		`SELECT COUNT(*) FROM auctions WHERE id = $1 AND current_price = 101 AND bid_count = 1`, auctionID))
}

// A bid without an expected price after the price moved is placed at the
// new price; only a concurrent move makes it lose.
func TestPlaceBid_SequentialWithoutExpectedPrice(t *testing.T) {
	env := testutil.NewTestEnv(t)
	auctionID := env.SeedAuction(100, time.Hour)
	alice := env.SeedUserWithCredits(1)
	bob := env.SeedUserWithCredits(1)

	for _, userID := range []uuid.UUID{alice, bob} {
		resp := env.POST(bidPath(auctionID), nil, env.UserToken(userID))
		testutil.AssertStatus(t, resp, http.StatusCreated)
		resp.Body.Close()
	}
	assert.Equal(t, 1, testutil.Count(t, env,
		`SELECT COUNT(*) FROM auctions WHERE id = $1 AND current_price = 102 AND bid_count = 2`, auctionID))
}

// One user firing more bids than they have credits never goes negative.
func TestPlaceBid_NoNegativeBalance(t *testing.T) {
	env := testutil.NewTestEnv(t)
	userID := env.SeedUserWithCredits(3)
	token := env.UserToken(userID)

	auctions := make([]uuid.UUID, 4)
	for i := range auctions {
		auctions[i] = env.SeedAuction(100, time.Hour)
	}

	const attempts = 12
	var wg sync.WaitGroup
	var mu sync.Mutex
	codes := map[int]int{}
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp := env.POST(bidPath(auctions[i%len(auctions)]), nil, token)
			defer resp.Body.Close()
			mu.Lock()
			codes[resp.StatusCode]++
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	// Bids queued on an auction that moved lose the race; the rest run out
	// of credits.
	assert.Equal(t, 3, codes[http.StatusCreated])
	assert.Equal(t, attempts-3, codes[http.StatusPaymentRequired]+codes[http.StatusConflict])
	testutil.AssertCredits(t, env, userID, 0)
	assert.Equal(t, 3, testutil.Count(t, env, `SELECT COUNT(*) FROM bids WHERE user_id = $1`, userID))
}

func TestCloseExpired_Admin(t *testing.T) {
	env := testutil.NewTestEnv(t)
	userID := env.SeedUserWithCredits(2)
	expired := env.SeedAuction(100, time.Hour)
	live := env.SeedAuction(100, time.Hour)

	resp := env.POST(bidPath(expired), nil, env.UserToken(userID))
	testutil.AssertStatus(t, resp, http.StatusCreated)
	resp.Body.Close()

	_, err := env.Pool.Exec(t.Context(), `UPDATE auctions SET end_time = now() - interval '1 second' WHERE id = $1`, expired)
	require.NoError(t, err)

	resp = env.POST("/admin/auctions/close-expired", nil, env.AdminToken("admin"))
	testutil.AssertStatus(t, resp, http.StatusOK)
	var out struct {
		Closed int `json:"closed"`
	}
	testutil.DecodeJSON(t, resp, &out)
	assert.Equal(t, 1, out.Closed)

	assert.Equal(t, 1, testutil.Count(t, env, `SELECT COUNT(*) FROM auctions WHERE id = $1 AND status = 'ended'`, expired))
	assert.Equal(t, 1, testutil.Count(t, env, `SELECT COUNT(*) FROM auctions WHERE id = $1 AND status = 'active'`, live))
	assert.Equal(t, 1, testutil.Count(t, env, `SELECT COUNT(*) FROM event_outbox WHERE "eventType" = 'auction.closed'`))

	resp = env.POST(bidPath(expired), nil, env.UserToken(userID))
	testutil.AssertStatus(t, resp, http.StatusConflict)
	testutil.AssertErrorCode(t, resp, "auction_not_active")
}

func TestBidHistory_HighestFirst(t *testing.T) {
	env := testutil.NewTestEnv(t)
	alice := env.SeedUserWithCredits(3)
	bob := env.SeedUserWithCredits(3)
	auctionID := env.SeedAuction(100, time.Hour)

	for _, userID := range []uuid.UUID{alice, bob, alice} {
		resp := env.POST(bidPath(auctionID), nil, env.UserToken(userID))
		testutil.AssertStatus(t, resp, http.StatusCreated)
		resp.Body.Close()
	}

	resp := env.GET(bidPath(auctionID) + "?limit=2")
	testutil.AssertStatus(t, resp, http.StatusOK)
	var out struct {
		Auction struct {
			CurrentPrice int64 `json:"current_price"`
		} `json:"auction"`
		Bids []struct {
			UserID uuid.UUID `json:"user_id"`
			Amount int64     `json:"amount"`
		} `json:"bids"`
	}
	testutil.DecodeJSON(t, resp, &out)
	assert.Equal(t, int64(103), out.Auction.CurrentPrice)
	require.Len(t, out.Bids, 2)
	assert.Equal(t, int64(103), out.Bids[0].Amount)
	assert.Equal(t, alice, out.Bids[0].UserID)
	assert.Equal(t, int64(102), out.Bids[1].Amount)

	resp = env.GET(bidPath(uuid.New()))
	testutil.AssertStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()
}
