package domain

import (
	"time"

	"github.com/google/uuid"
)

// AuctionStatus is the auction state machine.
type AuctionStatus string

const (
	AuctionPending   AuctionStatus = "pending"
	AuctionActive    AuctionStatus = "active"
	AuctionEnded     AuctionStatus = "ended"
	AuctionCancelled AuctionStatus = "cancelled"
	AuctionInactive  AuctionStatus = "inactive"
)

// Auction is an auctions row. CurrentPrice is in cents.
type Auction struct {
	ID            uuid.UUID     `json:"id"`
	Title         string        `json:"title"`
	Status        AuctionStatus `json:"status"`
	CurrentPrice  int64         `json:"current_price"`
	WinningUserID *uuid.UUID    `json:"winning_user_id,omitempty"`
	BidCount      int64         `json:"bid_count"`
	StartTime     time.Time     `json:"start_time"`
	EndTime       time.Time     `json:"end_time"`
	StorefrontKey string        `json:"storefront_key"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// AcceptsBids reports whether a bid may be placed at now.
func (a *Auction) AcceptsBids(now time.Time) bool {
	return a.Status == AuctionActive && now.Before(a.EndTime)
}

// ExtendedEndTime returns the end time after a bid placed at now. A bid
// landing within window of the end pushes the end to now+window.
func (a *Auction) ExtendedEndTime(now time.Time, window time.Duration) (time.Time, bool) {
	if a.EndTime.Sub(now) <= window {
		return now.Add(window), true
	}
	return a.EndTime, false
}

// Bid is one immutable bids row.
type Bid struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	AuctionID uuid.UUID `json:"auction_id"`
	Amount    int64     `json:"amount"`
	CreatedAt time.Time `json:"created_at"`
}

// BidPlaced is broadcast to live watchers after a bid commits.
type BidPlaced struct {
	EventID       uuid.UUID `json:"event_id"`
	AuctionID     uuid.UUID `json:"auction_id"`
	BidID         uuid.UUID `json:"bid_id"`
	UserID        uuid.UUID `json:"user_id"`
	Amount        int64     `json:"amount"`
	PreviousPrice int64     `json:"previous_price"`
	EndTime       time.Time `json:"end_time"`
	Extended      bool      `json:"extended"`
	Timestamp     time.Time `json:"timestamp"`
}
