package coordinator

import (
	"time"

	"github.com/mcdev12/reverseauction/go/internal/models"
	"github.com/shopspring/decimal"
)

// BidReceipt confirms a durable, accepted bid.
type BidReceipt struct {
	Bid          models.Bid
	Rank         int
	BelowReserve bool
	Extended     bool
	EndTime      time.Time
}

// Snapshot is an unmasked copy of an auction's state. EventSeq is the sequence number of
// the last event published before the snapshot was taken; events with a higher sequence
// happened after it.
type Snapshot struct {
	Auction       *models.Auction
	Bids          []models.Bid
	Leaderboard   []models.Standing
	History       []models.BidHistoryEntry
	CurrentPrice  decimal.Decimal
	BidCount      int
	ActiveBidders int
	Countdown     *models.CountdownState
	EventSeq      uint64
	TakenAt       time.Time
}
