// Package events defines the domain events an auction emits to the outbox.
package events

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	AuctionScheduled = "AuctionScheduled"
	AuctionStarted   = "AuctionStarted"
	BidAccepted      = "BidAccepted"
	TimeExtended     = "TimeExtended"
	AuctionEnded     = "AuctionEnded"
	AuctionAwarded   = "AuctionAwarded"
	AuctionCancelled = "AuctionCancelled"
)

// AuctionScheduledPayload is emitted when a draft is given its start and end.
type AuctionScheduledPayload struct {
	AuctionID        string    `json:"auction_id"`
	Reference        string    `json:"reference"`
	StartTime        time.Time `json:"start_time"`
	ScheduledEndTime time.Time `json:"scheduled_end_time"`
}

// AuctionStartedPayload is emitted when an auction goes live.
type AuctionStartedPayload struct {
	AuctionID string    `json:"auction_id"`
	StartedAt time.Time `json:"started_at"`
	EndTime   time.Time `json:"end_time"`
	Manual    bool      `json:"manual"`
}

// BidAcceptedPayload is emitted for every bid appended to the ledger.
type BidAcceptedPayload struct {
	AuctionID    string          `json:"auction_id"`
	BidID        int64           `json:"bid_id"`
	BidderID     string          `json:"bidder_id"`
	Amount       decimal.Decimal `json:"amount"`
	AcceptedAt   time.Time       `json:"accepted_at"`
	BelowReserve bool            `json:"below_reserve"`
}

// TimeExtendedPayload is emitted when an anti-snipe extension moves the deadline.
type TimeExtendedPayload struct {
	AuctionID   string    `json:"auction_id"`
	BidID       int64     `json:"bid_id"`
	PreviousEnd time.Time `json:"previous_end"`
	NewEndTime  time.Time `json:"new_end_time"`
}

// AuctionEndedPayload is emitted when bidding closes.
type AuctionEndedPayload struct {
	AuctionID      string           `json:"auction_id"`
	EndedAt        time.Time        `json:"ended_at"`
	Forced         bool             `json:"forced"`
	WinningBidID   *int64           `json:"winning_bid_id,omitempty"`
	WinningAmount  *decimal.Decimal `json:"winning_amount,omitempty"`
	WinningBidder  string           `json:"winning_bidder_id,omitempty"`
	TotalBids      int              `json:"total_bids"`
	BelowReserve   bool             `json:"below_reserve"`
}

// AuctionAwardedPayload is emitted when the operator awards an ended auction.
type AuctionAwardedPayload struct {
	AuctionID string          `json:"auction_id"`
	BidderID  string          `json:"bidder_id"`
	BidID     int64           `json:"bid_id"`
	Amount    decimal.Decimal `json:"amount"`
	AwardedAt time.Time       `json:"awarded_at"`
}

// AuctionCancelledPayload is emitted when the operator cancels an auction.
type AuctionCancelledPayload struct {
	AuctionID      string    `json:"auction_id"`
	Reason         string    `json:"reason"`
	PreviousStatus string    `json:"previous_status"`
	CancelledAt    time.Time `json:"cancelled_at"`
}
