package auction

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/biddersweet/platform/internal/clock"
	"github.com/biddersweet/platform/internal/domain"
	"github.com/biddersweet/platform/internal/repository"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyBidError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code string
	}{
		{"app error passes through", domain.ErrAuctionNotActive("a1"), domain.CodeAuctionNotActive},
		{"wrapped app error unwrapped", fmt.Errorf("debit bid: %w", domain.ErrInsufficientCredits()), domain.CodeInsufficientCredits},
		{"same amount race", &pgconn.PgError{Code: "23505", ConstraintName: repository.ConstraintBidAuctionAmount}, domain.CodeBidRaceLost},
		{"negative balance check", &pgconn.PgError{Code: "23514", ConstraintName: repository.ConstraintNonNegativeCredits}, domain.CodeInsufficientCredits},
		{"other integrity violation", &pgconn.PgError{Code: "23503", ConstraintName: "bids_user_id_fkey"}, domain.CodeBidInvalid},
		{"retries exhausted", fmt.Errorf("transaction failed after 3 attempts: %w", &pgconn.PgError{Code: "40P01"}), domain.CodeInternal},
		{"unknown", errors.New("connection reset"), domain.CodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classifyBidError(tt.err)
			var appErr *domain.AppError
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, tt.code, appErr.Code)
		})
	}
}

func TestClassifyBidError_Nil(t *testing.T) {
	assert.NoError(t, classifyBidError(nil))
}

func TestBidOutcome(t *testing.T) {
	assert.Equal(t, "placed", bidOutcome(nil))
	assert.Equal(t, domain.CodeBidRaceLost, bidOutcome(domain.ErrBidRaceLost()))
	assert.Equal(t, "error", bidOutcome(errors.New("boom")))
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, int64(1), cfg.BidIncrement)
	assert.Equal(t, int64(1), cfg.BidCost)
	assert.Equal(t, 10*time.Second, cfg.ExtensionWindow)
	assert.Equal(t, 3, cfg.MaxAttempts)
}

func TestNewEngine_Defaults(t *testing.T) {
	e := NewEngine(Deps{}, Config{})
	assert.Equal(t, 3, e.cfg.MaxAttempts)
	assert.Equal(t, 100, e.cfg.CloseBatchSize)
	assert.IsType(t, clock.System{}, e.clock)
	assert.NotNil(t, e.logger)
}

func TestExtensionAtBoundary(t *testing.T) {
	fc := clock.NewFakeClock(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
	a := &domain.Auction{Status: domain.AuctionActive, EndTime: fc.Now().Add(10 * time.Second)}

	end, extended := a.ExtendedEndTime(fc.Now(), DefaultConfig().ExtensionWindow)
	assert.True(t, extended)
	assert.Equal(t, fc.Now().Add(10*time.Second), end)

	fc.Set(a.EndTime)
	assert.False(t, a.AcceptsBids(fc.Now()))
}
