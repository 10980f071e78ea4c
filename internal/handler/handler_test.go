package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/biddersweet/platform/internal/auction"
	"github.com/biddersweet/platform/internal/auth"
	"github.com/biddersweet/platform/internal/domain"
	"github.com/biddersweet/platform/internal/guard"
	"github.com/biddersweet/platform/internal/infra"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- RespondJSON Tests ---

func TestRespondJSON(t *testing.T) {
	t.Run("200 with body", func(t *testing.T) {
		w := httptest.NewRecorder()
		RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
		var body map[string]string
		require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
		assert.Equal(t, "ok", body["status"])
	})

	t.Run("204 with nil body", func(t *testing.T) {
		w := httptest.NewRecorder()
		RespondJSON(w, http.StatusNoContent, nil)
		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Empty(t, w.Body.String())
	})
}

// --- RespondError Tests ---

func TestRespondError(t *testing.T) {
	t.Run("AppError maps to correct status", func(t *testing.T) {
		tests := []struct {
			err        *domain.AppError
			wantStatus int
			wantCode   string
		}{
			{domain.ErrNotFound("purchase", "123"), 404, "NOT_FOUND"},
			{domain.ErrValidation("bad input"), 400, "VALIDATION_ERROR"},
			{domain.ErrUnauthorized("no token"), 401, "UNAUTHORIZED"},
			{domain.ErrForbidden("not allowed"), 403, "FORBIDDEN"},
			{domain.ErrInsufficientCredits(), 402, "insufficient_credits"},
			{domain.ErrBidRaceLost(), 409, "bid_race_lost"},
			{domain.ErrAuctionNotActive("a1"), 409, "auction_not_active"},
			{domain.ErrRateLimited("slow down"), 429, "RATE_LIMITED"},
			{domain.ErrGateway("stripe down", nil), 502, "GATEWAY_ERROR"},
			{domain.ErrInternal("oops", nil), 500, "INTERNAL_ERROR"},
		}

		for _, tt := range tests {
			t.Run(tt.wantCode, func(t *testing.T) {
				w := httptest.NewRecorder()
				RespondError(w, tt.err)
				assert.Equal(t, tt.wantStatus, w.Code)

				var body map[string]string
				require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
				assert.Equal(t, tt.wantCode, body["code"])
			})
		}
	})

	t.Run("wrapped AppError keeps its code", func(t *testing.T) {
		w := httptest.NewRecorder()
		RespondError(w, errors.Join(errors.New("context"), domain.ErrBidRaceLost()))
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Contains(t, w.Body.String(), "bid_race_lost")
	})

	t.Run("generic error returns 500 without detail", func(t *testing.T) {
		w := httptest.NewRecorder()
		RespondError(w, errors.New("pq: connection refused"))
		assert.Equal(t, http.StatusInternalServerError, w.Code)

		var body map[string]string
		require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
		assert.Equal(t, "INTERNAL_ERROR", body["code"])
		assert.Equal(t, "internal server error", body["message"])
	})
}

// --- DecodeAndValidate Tests ---

type adjustBody struct {
	Amount     int64  `json:"amount" validate:"ne=0"`
	RequestKey string `json:"request_key" validate:"required"`
}

func TestDecodeAndValidate(t *testing.T) {
	t.Run("valid body", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"amount":5,"request_key":"k1"}`))
		var dst adjustBody
		require.NoError(t, DecodeAndValidate(r, &dst))
		assert.Equal(t, int64(5), dst.Amount)
		assert.Equal(t, "k1", dst.RequestKey)
	})

	t.Run("unknown field rejected", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"amount":5,"request_key":"k1","extra":1}`))
		var dst adjustBody
		err := DecodeAndValidate(r, &dst)
		assert.True(t, domain.HasCode(err, domain.CodeValidation))
	})

	t.Run("malformed JSON rejected", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{invalid`))
		var dst adjustBody
		err := DecodeAndValidate(r, &dst)
		assert.True(t, domain.HasCode(err, domain.CodeValidation))
	})

	t.Run("validation messages use json names", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"amount":0}`))
		var dst adjustBody
		err := DecodeAndValidate(r, &dst)
		appErr, ok := domain.AsAppError(err)
		require.True(t, ok)
		assert.Contains(t, appErr.Message, "amount must not be 0")
		assert.Contains(t, appErr.Message, "request_key is required")
	})

	t.Run("oversized body is 413", func(t *testing.T) {
		big := `{"request_key":"` + strings.Repeat("x", 2048) + `"}`
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(big))
		w := httptest.NewRecorder()
		r.Body = http.MaxBytesReader(w, r.Body, 64)
		var dst adjustBody
		err := DecodeAndValidate(r, &dst)
		appErr, ok := domain.AsAppError(err)
		require.True(t, ok)
		assert.Equal(t, http.StatusRequestEntityTooLarge, appErr.Status)
	})
}

// --- RequestID Middleware Tests ---

func TestRequestID(t *testing.T) {
	t.Run("generates ID when none provided", func(t *testing.T) {
		h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.NotEmpty(t, GetRequestID(r.Context()))
			w.WriteHeader(http.StatusOK)
		}))

		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
	})

	t.Run("uses provided X-Request-ID", func(t *testing.T) {
		h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "my-custom-id", GetRequestID(r.Context()))
			w.WriteHeader(http.StatusOK)
		}))

		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("X-Request-ID", "my-custom-id")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		assert.Equal(t, "my-custom-id", w.Header().Get("X-Request-ID"))
	})
}

func TestRequestID_RejectsOversizedID(t *testing.T) {
	long := strings.Repeat("a", 200)
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEqual(t, long, GetRequestID(r.Context()))
	}))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Request-ID", long)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	_, err := uuid.Parse(w.Header().Get("X-Request-ID"))
	assert.NoError(t, err)
}

func TestRequestLogger_RecordsRoutePattern(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := infra.NewMetrics(reg)

	r := chi.NewRouter()
	r.Use(RequestLogger(noopLogger(), metrics))
	r.Get("/auctions/{id}/events", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/auctions/"+uuid.NewString()+"/events", nil))
		assert.Equal(t, http.StatusNoContent, w.Code)
	}

	// One series for all three ids.
	n, err := testutil.GatherAndCount(reg, "biddersweet_http_request_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestGetRequestID_EmptyContext(t *testing.T) {
	assert.Empty(t, GetRequestID(context.Background()))
}

func TestJSONContentType(t *testing.T) {
	h := JSONContentType(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
}

func TestMaxBytes(t *testing.T) {
	h := MaxBytes(16)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusRequestEntityTooLarge)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("short")))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(strings.Repeat("x", 64))))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

// --- Recovery Middleware Tests ---

func TestRecovery(t *testing.T) {
	t.Run("recovers from panic", func(t *testing.T) {
		h := Recovery(noopLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic("something went wrong")
		}))

		w := httptest.NewRecorder()
		assert.NotPanics(t, func() {
			h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		})
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Contains(t, w.Body.String(), "INTERNAL_ERROR")
	})

	t.Run("passes through without panic", func(t *testing.T) {
		h := Recovery(noopLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestResponseWriter_CapturesStatus(t *testing.T) {
	w := httptest.NewRecorder()
	rw := &responseWriter{ResponseWriter: w, status: 200}

	rw.WriteHeader(http.StatusNotFound)
	assert.Equal(t, 404, rw.status)
	assert.Equal(t, 404, w.Code)
}

// --- RequestContextFrom Tests ---

func TestRequestContextFrom(t *testing.T) {
	t.Run("defaults storefront and system actor", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		rc, err := RequestContextFrom(r, domain.DefaultStorefront)
		require.NoError(t, err)
		assert.Equal(t, domain.DefaultStorefront, rc.StorefrontKey)
		assert.Equal(t, domain.ActorSystem, rc.ActorType)
		assert.Nil(t, rc.ActorID)
	})

	t.Run("storefront header and user actor", func(t *testing.T) {
		userID := uuid.New()
		r := withUser(httptest.NewRequest(http.MethodGet, "/", nil), userID)
		r.Header.Set(StorefrontHeader, "afterdark")
		rc, err := RequestContextFrom(r, domain.DefaultStorefront)
		require.NoError(t, err)
		assert.Equal(t, "afterdark", rc.StorefrontKey)
		assert.Equal(t, domain.ActorUser, rc.ActorType)
		require.NotNil(t, rc.ActorID)
		assert.Equal(t, userID, *rc.ActorID)
	})

	t.Run("invalid storefront rejected", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set(StorefrontHeader, "Not A Key!")
		_, err := RequestContextFrom(r, domain.DefaultStorefront)
		assert.True(t, domain.HasCode(err, domain.CodeValidation))
	})
}

// --- Health Tests ---

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

func TestHealthHandler(t *testing.T) {
	tests := []struct {
		name       string
		db         fakePinger
		redis      *fakePinger
		wantStatus int
		wantRedis  string
	}{
		{"healthy without redis", fakePinger{}, nil, http.StatusOK, ""},
		{"healthy with redis", fakePinger{}, &fakePinger{}, http.StatusOK, "ok"},
		{"redis down is degraded", fakePinger{}, &fakePinger{err: errors.New("down")}, http.StatusOK, "degraded"},
		{"database down", fakePinger{err: errors.New("down")}, nil, http.StatusServiceUnavailable, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var h http.HandlerFunc
			if tt.redis != nil {
				h = HealthHandler(tt.db, *tt.redis)
			} else {
				h = HealthHandler(tt.db, nil)
			}
			w := httptest.NewRecorder()
			h(w, httptest.NewRequest(http.MethodGet, "/health", nil))
			assert.Equal(t, tt.wantStatus, w.Code)

			var body map[string]string
			require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
			assert.Equal(t, tt.wantRedis, body["redis"])
		})
	}
}

// --- BidHandler Tests ---

type fakeBidPlacer struct {
	got    auction.PlaceBidParams
	rc     domain.RequestContext
	calls  int
	result *domain.PlaceBidResult
	err    error
}

func (f *fakeBidPlacer) PlaceBid(_ context.Context, rc domain.RequestContext, p auction.PlaceBidParams) (*domain.PlaceBidResult, error) {
	f.calls++
	f.got = p
	f.rc = rc
	return f.result, f.err
}

type denyLimiter struct{}

func (denyLimiter) Check(context.Context, string) guard.Result {
	return guard.Result{Allowed: false, Reason: "too many bids", Guard: "rate_limit", RetryAfter: 1500 * time.Millisecond}
}

func TestBidHandler_PlaceBid(t *testing.T) {
	userID := uuid.New()
	auctionID := uuid.New()

	serve := func(bh *BidHandler, r *http.Request) *httptest.ResponseRecorder {
		router := chi.NewRouter()
		router.Post("/auctions/{id}/bids", bh.PlaceBid)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, r)
		return w
	}

	t.Run("places bid with expected price", func(t *testing.T) {
		placer := &fakeBidPlacer{result: &domain.PlaceBidResult{Balance: 9, Extended: true}}
		bh := NewBidHandler(placer, guard.NewRateLimiter(5, time.Minute), domain.DefaultStorefront)

		r := httptest.NewRequest(http.MethodPost, "/auctions/"+auctionID.String()+"/bids", bytes.NewBufferString(`{"expected_price":150}`))
		w := serve(bh, withUser(r, userID))

		assert.Equal(t, http.StatusCreated, w.Code)
		assert.Equal(t, userID, placer.got.UserID)
		assert.Equal(t, auctionID, placer.got.AuctionID)
		require.NotNil(t, placer.got.ExpectedPrice)
		assert.Equal(t, int64(150), *placer.got.ExpectedPrice)
		assert.Equal(t, domain.ActorUser, placer.rc.ActorType)

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
		assert.Equal(t, float64(9), body["balance"])
		assert.Equal(t, true, body["extended"])
	})

	t.Run("empty body places bid without expected price", func(t *testing.T) {
		placer := &fakeBidPlacer{result: &domain.PlaceBidResult{}}
		bh := NewBidHandler(placer, nil, domain.DefaultStorefront)

		r := httptest.NewRequest(http.MethodPost, "/auctions/"+auctionID.String()+"/bids", nil)
		w := serve(bh, withUser(r, userID))

		assert.Equal(t, http.StatusCreated, w.Code)
		assert.Nil(t, placer.got.ExpectedPrice)
	})

	t.Run("negative expected price rejected", func(t *testing.T) {
		placer := &fakeBidPlacer{}
		bh := NewBidHandler(placer, nil, domain.DefaultStorefront)

		r := httptest.NewRequest(http.MethodPost, "/auctions/"+auctionID.String()+"/bids", bytes.NewBufferString(`{"expected_price":-1}`))
		w := serve(bh, withUser(r, userID))

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Zero(t, placer.calls)
	})

	t.Run("invalid auction id", func(t *testing.T) {
		placer := &fakeBidPlacer{}
		bh := NewBidHandler(placer, nil, domain.DefaultStorefront)

		w := serve(bh, withUser(httptest.NewRequest(http.MethodPost, "/auctions/nope/bids", nil), userID))
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Zero(t, placer.calls)
	})

	t.Run("unauthenticated", func(t *testing.T) {
		placer := &fakeBidPlacer{}
		bh := NewBidHandler(placer, nil, domain.DefaultStorefront)

		w := serve(bh, httptest.NewRequest(http.MethodPost, "/auctions/"+auctionID.String()+"/bids", nil))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("rate limited", func(t *testing.T) {
		placer := &fakeBidPlacer{}
		bh := NewBidHandler(placer, denyLimiter{}, domain.DefaultStorefront)

		w := serve(bh, withUser(httptest.NewRequest(http.MethodPost, "/auctions/"+auctionID.String()+"/bids", nil), userID))
		assert.Equal(t, http.StatusTooManyRequests, w.Code)
		assert.Equal(t, "2", w.Header().Get("Retry-After"))
		assert.Contains(t, w.Body.String(), "RATE_LIMITED")
		assert.Zero(t, placer.calls)
	})

	t.Run("engine error surfaces code", func(t *testing.T) {
		placer := &fakeBidPlacer{err: domain.ErrInsufficientCredits()}
		bh := NewBidHandler(placer, nil, domain.DefaultStorefront)

		w := serve(bh, withUser(httptest.NewRequest(http.MethodPost, "/auctions/"+auctionID.String()+"/bids", nil), userID))
		assert.Equal(t, http.StatusPaymentRequired, w.Code)
		assert.Contains(t, w.Body.String(), "insufficient_credits")
	})
}

// --- AuctionHandler Tests ---

type fakeBidHistory struct {
	limit int
	snap  *auction.Snapshot
	err   error
}

func (f *fakeBidHistory) RecentBids(_ context.Context, _ uuid.UUID, limit int) (*auction.Snapshot, error) {
	f.limit = limit
	return f.snap, f.err
}

func TestAuctionHandler_ListBids(t *testing.T) {
	auctionID := uuid.New()

	serve := func(h *AuctionHandler, target string) *httptest.ResponseRecorder {
		router := chi.NewRouter()
		router.Get("/auctions/{id}/bids", h.ListBids)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
		return w
	}

	t.Run("default limit", func(t *testing.T) {
		hist := &fakeBidHistory{snap: &auction.Snapshot{
			Auction: domain.Auction{ID: auctionID, CurrentPrice: 120},
			Bids:    []domain.Bid{{AuctionID: auctionID, Amount: 120}},
		}}
		w := serve(NewAuctionHandler(hist), "/auctions/"+auctionID.String()+"/bids")

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, 50, hist.limit)
		var body struct {
			Auction domain.Auction `json:"auction"`
			Bids    []domain.Bid   `json:"bids"`
		}
		require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
		assert.Equal(t, int64(120), body.Auction.CurrentPrice)
		require.Len(t, body.Bids, 1)
	})

	t.Run("explicit limit", func(t *testing.T) {
		hist := &fakeBidHistory{snap: &auction.Snapshot{}}
		w := serve(NewAuctionHandler(hist), "/auctions/"+auctionID.String()+"/bids?limit=5")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, 5, hist.limit)
	})

	t.Run("limit out of range", func(t *testing.T) {
		for _, raw := range []string{"0", "201", "abc"} {
			hist := &fakeBidHistory{}
			w := serve(NewAuctionHandler(hist), "/auctions/"+auctionID.String()+"/bids?limit="+raw)
			assert.Equal(t, http.StatusBadRequest, w.Code, raw)
			assert.Zero(t, hist.limit)
		}
	})

	t.Run("unknown auction", func(t *testing.T) {
		hist := &fakeBidHistory{err: domain.ErrNotFound("auction", auctionID.String())}
		w := serve(NewAuctionHandler(hist), "/auctions/"+auctionID.String()+"/bids")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

// helpers

func withUser(r *http.Request, userID uuid.UUID) *http.Request {
	claims := &auth.Claims{Realm: auth.RealmUser}
	claims.Subject = userID.String()
	return r.WithContext(auth.WithClaims(r.Context(), claims))
}

func noopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
