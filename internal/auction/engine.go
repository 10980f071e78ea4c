package auction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/biddersweet/platform/internal/clock"
	"github.com/biddersweet/platform/internal/domain"
	"github.com/biddersweet/platform/internal/infra"
	"github.com/biddersweet/platform/internal/ledger"
	"github.com/biddersweet/platform/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Publisher fans committed auction events out to live watchers.
type Publisher interface {
	BidPlaced(ctx context.Context, evt domain.BidPlaced) error
	AuctionClosed(ctx context.Context, a domain.Auction) error
}

// BalanceRecorder receives the committed balance after a debit.
type BalanceRecorder interface {
	RecordBalance(ctx context.Context, userID uuid.UUID, credits int64) error
}

// Config holds bid tunables.
type Config struct {
	BidIncrement     int64 // cents added to the price per bid
	BidCost          int64 // credits spent per bid
	CreditValueCents int64
	Currency         string
	ExtensionWindow  time.Duration
	MaxAttempts      int
	LockTimeout      time.Duration
	CloseBatchSize   int
}

// DefaultConfig returns the tunables used when none are configured.
func DefaultConfig() Config {
	return Config{
		BidIncrement:     1,
		BidCost:          1,
		CreditValueCents: 100,
		Currency:         "usd",
		ExtensionWindow:  10 * time.Second,
		MaxAttempts:      3,
		LockTimeout:      2 * time.Second,
		CloseBatchSize:   100,
	}
}

// Engine places bids. Each bid debits credits, appends the bid and moves the
// auction in one transaction holding the user lock then the auction lock.
type Engine struct {
	db        repository.Beginner
	ledger    *ledger.Engine
	auctions  repository.AuctionRepository
	bids      repository.BidRepository
	money     repository.MoneyEventRepository
	outbox    repository.OutboxRepository
	publisher Publisher
	balances  BalanceRecorder
	clock     clock.Clock
	cfg       Config
	metrics   *infra.Metrics
	logger    *slog.Logger
}

// Deps groups the collaborators of an Engine. Publisher and Balances are optional.
type Deps struct {
	DB        repository.Beginner
	Ledger    *ledger.Engine
	Auctions  repository.AuctionRepository
	Bids      repository.BidRepository
	Money     repository.MoneyEventRepository
	Outbox    repository.OutboxRepository
	Publisher Publisher
	Balances  BalanceRecorder
	Clock     clock.Clock
	Metrics   *infra.Metrics
	Logger    *slog.Logger
}

// NewEngine creates a bid placement engine.
func NewEngine(deps Deps, cfg Config) *Engine {
	if deps.Clock == nil {
		deps.Clock = clock.System{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.CloseBatchSize <= 0 {
		cfg.CloseBatchSize = 100
	}
	return &Engine{
		db:        deps.DB,
		ledger:    deps.Ledger,
		auctions:  deps.Auctions,
		bids:      deps.Bids,
		money:     deps.Money,
		outbox:    deps.Outbox,
		publisher: deps.Publisher,
		balances:  deps.Balances,
		clock:     deps.Clock,
		cfg:       cfg,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
	}
}

// PlaceBidParams identifies the bid. ExpectedPrice is the price the bidder
// saw; a different price under lock means the bid lost a race. When it is
// nil the price read just before locking stands in for it.
type PlaceBidParams struct {
	UserID        uuid.UUID
	AuctionID     uuid.UUID
	ExpectedPrice *int64
}

// PlaceBid debits the bid cost and raises the auction price by one increment.
//
// Under lock the checks run in order: auction accepts bids, expected price,
// available credits. A concurrent bid at the same amount surfaces as
// bid_race_lost through the bids_auction_amount_unique constraint.
func (e *Engine) PlaceBid(ctx context.Context, rc domain.RequestContext, params PlaceBidParams) (*domain.PlaceBidResult, error) {
	start := time.Now()
	bidID := uuid.New()

	var result *domain.PlaceBidResult
	err := e.pinExpectedPrice(ctx, &params)
	if err == nil {
		err = e.WithUserAndAuctionLock(ctx, "place_bid", params.UserID, params.AuctionID,
			func(ctx context.Context, tx pgx.Tx, user *domain.User, a *domain.Auction) error {
				r, err := e.placeLocked(ctx, tx, rc, bidID, params, user, a)
				if err != nil {
					return err
				}
				result = r
				return nil
			})
	}

	err = classifyBidError(err)
	outcome := bidOutcome(err)
	e.metrics.ObserveBid(outcome, time.Since(start))
	if err != nil {
		e.logger.Info("audit",
			"action", "bid_placed",
			"actor_type", rc.ActorType,
			"actor_id", rc.ActorString(),
			"target", params.AuctionID,
			"outcome", outcome,
			"request_id", rc.RequestID,
		)
		return nil, err
	}

	e.afterCommit(ctx, rc, result)
	return result, nil
}

// pinExpectedPrice fills a missing ExpectedPrice with the auction's current
// price, read without a lock. A bidder queued behind a winning bid then fails
// with bid_race_lost instead of bidding at a price it never saw.
func (e *Engine) pinExpectedPrice(ctx context.Context, params *PlaceBidParams) error {
	if params.ExpectedPrice != nil {
		return nil
	}
	var seen int64
	opts := repository.TxOptions{MaxAttempts: e.cfg.MaxAttempts}
	err := repository.RunTx(ctx, e.db, opts, func(ctx context.Context, tx pgx.Tx) error {
		a, err := e.auctions.FindByID(ctx, tx, params.AuctionID)
		if err != nil {
			return fmt.Errorf("load auction: %w", err)
		}
		if a == nil {
			return domain.ErrNotFound("auction", params.AuctionID.String())
		}
		seen = a.CurrentPrice
		return nil
	})
	if err != nil {
		return err
	}
	params.ExpectedPrice = &seen
	return nil
}

func (e *Engine) placeLocked(
	ctx context.Context,
	tx pgx.Tx,
	rc domain.RequestContext,
	bidID uuid.UUID,
	params PlaceBidParams,
	user *domain.User,
	a *domain.Auction,
) (*domain.PlaceBidResult, error) {
	now := e.clock.Now()

	if !a.AcceptsBids(now) {
		return nil, domain.ErrAuctionNotActive(a.ID.String())
	}
	if params.ExpectedPrice != nil && *params.ExpectedPrice != a.CurrentPrice {
		return nil, domain.ErrBidRaceLost()
	}
	if user.BidCredits < e.cfg.BidCost {
		return nil, domain.ErrInsufficientCredits()
	}

	debit, err := e.ledger.DebitBid(ctx, tx, rc, ledger.DebitBidParams{
		UserID:    user.ID,
		AuctionID: a.ID,
		BidID:     bidID,
		Credits:   e.cfg.BidCost,
	})
	if err != nil {
		return nil, err
	}

	bid := &domain.Bid{
		ID:        bidID,
		UserID:    user.ID,
		AuctionID: a.ID,
		Amount:    a.CurrentPrice + e.cfg.BidIncrement,
		CreatedAt: now,
	}
	if err := e.bids.Insert(ctx, tx, bid); err != nil {
		return nil, err
	}

	endTime, extended := a.ExtendedEndTime(now, e.cfg.ExtensionWindow)
	updated, err := e.auctions.ApplyBid(ctx, tx, a.ID, bid.Amount, user.ID, endTime)
	if err != nil {
		return nil, fmt.Errorf("apply bid to auction: %w", err)
	}

	bidSource := bid.ID.String()
	sourceType := domain.SourceBid
	if _, err := e.money.InsertIfAbsent(ctx, tx, &domain.MoneyEvent{
		UserID:        user.ID,
		EventType:     domain.MoneyBidSpent,
		AmountCents:   -e.cfg.BidCost * e.cfg.CreditValueCents,
		Currency:      e.cfg.Currency,
		SourceType:    &sourceType,
		SourceID:      &bidSource,
		OccurredAt:    now,
		StorefrontKey: rc.StorefrontKey,
	}); err != nil {
		return nil, fmt.Errorf("record bid spend: %w", err)
	}

	evt := domain.BidPlaced{
		EventID:       uuid.New(),
		AuctionID:     a.ID,
		BidID:         bid.ID,
		UserID:        user.ID,
		Amount:        bid.Amount,
		PreviousPrice: a.CurrentPrice,
		EndTime:       updated.EndTime,
		Extended:      extended,
		Timestamp:     now,
	}
	if err := e.outbox.Insert(ctx, tx, domain.NewBidPlacedEvent(rc, evt)); err != nil {
		return nil, fmt.Errorf("insert outbox event: %w", err)
	}

	return &domain.PlaceBidResult{
		Bid:      bid,
		Auction:  updated,
		Balance:  debit.User.BidCredits,
		Extended: extended,
		Event:    evt,
	}, nil
}

// afterCommit runs side effects that must not happen for a rolled back bid.
// Failures are logged; the bid is already durable.
func (e *Engine) afterCommit(ctx context.Context, rc domain.RequestContext, r *domain.PlaceBidResult) {
	ctx = context.WithoutCancel(ctx)

	if e.publisher != nil {
		if err := e.publisher.BidPlaced(ctx, r.Event); err != nil {
			e.logger.Warn("broadcast bid failed", "auction_id", r.Event.AuctionID, "error", err)
		}
	}
	if e.balances != nil {
		if err := e.balances.RecordBalance(ctx, r.Event.UserID, r.Balance); err != nil {
			e.logger.Warn("record balance projection failed", "user_id", r.Event.UserID, "error", err)
		}
	}

	e.logger.Info("audit",
		"action", "bid_placed",
		"actor_type", rc.ActorType,
		"actor_id", rc.ActorString(),
		"target", r.Event.AuctionID,
		"outcome", "placed",
		"bid_id", r.Event.BidID,
		"amount", r.Event.Amount,
		"extended", r.Extended,
		"storefront", rc.StorefrontKey,
		"request_id", rc.RequestID,
	)
}

// classifyBidError maps storage failures to bid error codes. Application
// errors pass through unwrapped so the transport sees their code.
func classifyBidError(err error) error {
	if err == nil {
		return nil
	}
	var appErr *domain.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	switch {
	case repository.IsUniqueViolation(err, repository.ConstraintBidAuctionAmount):
		return domain.ErrBidRaceLost()
	case repository.IsCheckViolation(err, repository.ConstraintNonNegativeCredits):
		return domain.ErrInsufficientCredits()
	case repository.IsIntegrityViolation(err):
		return domain.ErrBidInvalid("bid rejected by storage constraints", err)
	}
	return domain.ErrInternal("place bid failed", err)
}

func bidOutcome(err error) string {
	if err == nil {
		return "placed"
	}
	var appErr *domain.AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return "error"
}
