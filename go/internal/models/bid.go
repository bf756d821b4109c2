package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Bid is an accepted price offer. Bids are immutable once accepted.
type Bid struct {
	Seq        int64           `json:"id"`
	AuctionID  uuid.UUID       `json:"auction_id"`
	BidderID   string          `json:"bidder_id"`
	Pseudonym  string          `json:"pseudonym"`
	Amount     decimal.Decimal `json:"amount"`
	AcceptedAt time.Time       `json:"accepted_at"`
}

// Standing is one row of the leaderboard: a bidder's best bid and its rank.
type Standing struct {
	Rank      int             `json:"rank"`
	BidderID  string          `json:"bidder_id"`
	Pseudonym string          `json:"pseudonym"`
	Amount    decimal.Decimal `json:"amount"`
	BidCount  int             `json:"bid_count"`
	BidAt     time.Time       `json:"bid_at"`
}

// BidHistoryEntry is a ledger entry annotated with its drop from the previous bid.
type BidHistoryEntry struct {
	Bid       Bid             `json:"bid"`
	Delta     decimal.Decimal `json:"delta"`
	IsLeading bool            `json:"is_leading"`
}

// Bidder is a supplier registered against an auction.
type Bidder struct {
	ID           string     `json:"id"`
	AuctionID    uuid.UUID  `json:"auction_id"`
	SupplierName string     `json:"supplier_name"`
	BBBEELevel   *int       `json:"bbbee_level,omitempty"`
	Qualified    bool       `json:"qualified"`
	QualifiedAt  *time.Time `json:"qualified_at,omitempty"`
	LastBidAt    *time.Time `json:"last_bid_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}
