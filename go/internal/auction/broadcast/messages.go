package broadcast

import (
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/reverseauction/go/internal/auction/auctionerr"
	"github.com/mcdev12/reverseauction/go/internal/models"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
)

// MessageType is the wire discriminator of a server to client message.
type MessageType string

const (
	TypeNewBid           MessageType = "NewBid"
	TypeTimeExtended     MessageType = "TimeExtended"
	TypeAuctionStarted   MessageType = "AuctionStarted"
	TypeAuctionEnded     MessageType = "AuctionEnded"
	TypeAuctionAwarded   MessageType = "AuctionAwarded"
	TypeAuctionCancelled MessageType = "AuctionCancelled"
	TypeBidderJoined     MessageType = "BidderJoined"
	TypeBidderLeft       MessageType = "BidderLeft"
	TypeResync           MessageType = "Resync"
)

// Event is an unmasked auction event as published by the coordinator.
type Event struct {
	Seq         uint64
	Type        MessageType
	AuctionID   uuid.UUID
	Timestamp   time.Time
	Visibility  models.VisibilityPolicy
	Bid         *models.Bid
	Leaderboard []models.Standing
	EndTime     *time.Time
	WinningBid  *models.Bid
	ActiveCount int
	Reason      string
}

// Message is the envelope every server to client message travels in.
type Message struct {
	ID        string      `json:"id"`
	Type      MessageType `json:"type"`
	AuctionID string      `json:"auction_id"`
	Seq       uint64      `json:"seq,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Data      any         `json:"data,omitempty"`
}

// BidView is a bid as one particular subscriber may see it.
type BidView struct {
	ID         int64            `json:"id"`
	Bidder     string           `json:"bidder"`
	BidderID   string           `json:"bidder_id,omitempty"`
	Amount     *decimal.Decimal `json:"amount,omitempty"`
	AcceptedAt time.Time        `json:"accepted_at"`
	IsOwn      bool             `json:"is_own"`
}

// StandingView is a leaderboard row as one particular subscriber may see it.
type StandingView struct {
	Rank     int              `json:"rank"`
	Bidder   string           `json:"bidder"`
	BidderID string           `json:"bidder_id,omitempty"`
	Amount   *decimal.Decimal `json:"amount,omitempty"`
	BidCount int              `json:"bid_count"`
	IsOwn    bool             `json:"is_own"`
}

type NewBidData struct {
	Bid         BidView        `json:"bid"`
	Leaderboard []StandingView `json:"leaderboard"`
	YourRank    int            `json:"your_rank,omitempty"`
}

type TimeExtendedData struct {
	NewEndTime time.Time `json:"new_end_time"`
}

type AuctionStartedData struct {
	EndTime time.Time `json:"end_time"`
}

type AuctionEndedData struct {
	WinningBid *BidView `json:"winning_bid,omitempty"`
}

type AuctionAwardedData struct {
	WinningBid BidView `json:"winning_bid"`
}

type AuctionCancelledData struct {
	Reason string `json:"reason"`
}

type PresenceData struct {
	ActiveCount int `json:"active_count"`
}

// ResyncData tells a subscriber its view is out of date and must be reloaded.
type ResyncData struct {
	Code   auctionerr.Code `json:"code"`
	Reason string          `json:"reason"`
}

// Viewer masks auction data for one subscriber. An empty BidderID is an observer.
type Viewer struct {
	BidderID   string
	Visibility models.VisibilityPolicy
}

// Bid masks b. Under rank-only visibility the amount is shown only for the viewer's
// own bids and for the current lowest amount.
func (v Viewer) Bid(b models.Bid, lowest decimal.Decimal) BidView {
	own := v.BidderID != "" && b.BidderID == v.BidderID
	view := BidView{
		ID:         b.Seq,
		Bidder:     b.BidderID,
		BidderID:   b.BidderID,
		AcceptedAt: b.AcceptedAt,
		IsOwn:      own,
	}
	if v.Visibility.AnonymousBidding {
		view.Bidder = b.Pseudonym
		if !own {
			view.BidderID = ""
		}
	}
	if !v.Visibility.RankOnly || own || b.Amount.Equal(lowest) {
		amount := b.Amount
		view.Amount = &amount
	}
	return view
}

// Leaderboard masks standings, which must be sorted by rank.
func (v Viewer) Leaderboard(standings []models.Standing) []StandingView {
	out := make([]StandingView, len(standings))
	if len(standings) == 0 {
		return out
	}
	lowest := standings[0].Amount
	for i, s := range standings {
		own := v.BidderID != "" && s.BidderID == v.BidderID
		row := StandingView{
			Rank:     s.Rank,
			Bidder:   s.BidderID,
			BidderID: s.BidderID,
			BidCount: s.BidCount,
			IsOwn:    own,
		}
		if v.Visibility.AnonymousBidding {
			row.Bidder = s.Pseudonym
			if !own {
				row.BidderID = ""
			}
		}
		if !v.Visibility.RankOnly || own || s.Amount.Equal(lowest) {
			amount := s.Amount
			row.Amount = &amount
		}
		out[i] = row
	}
	return out
}

// RankIn returns the viewer's rank in standings, or 0.
func (v Viewer) RankIn(standings []models.Standing) int {
	if v.BidderID == "" {
		return 0
	}
	for _, s := range standings {
		if s.BidderID == v.BidderID {
			return s.Rank
		}
	}
	return 0
}

// Mask renders ev for the viewer.
func (v Viewer) Mask(ev Event, id string) Message {
	msg := Message{
		ID:        id,
		Type:      ev.Type,
		AuctionID: ev.AuctionID.String(),
		Seq:       ev.Seq,
		Timestamp: ev.Timestamp,
	}

	lowest := decimal.Zero
	if len(ev.Leaderboard) > 0 {
		lowest = ev.Leaderboard[0].Amount
	} else if ev.Bid != nil {
		lowest = ev.Bid.Amount
	}

	switch ev.Type {
	case TypeNewBid:
		data := NewBidData{
			Leaderboard: v.Leaderboard(ev.Leaderboard),
			YourRank:    v.RankIn(ev.Leaderboard),
		}
		if ev.Bid != nil {
			data.Bid = v.Bid(*ev.Bid, lowest)
		}
		msg.Data = data
	case TypeTimeExtended:
		if ev.EndTime != nil {
			msg.Data = TimeExtendedData{NewEndTime: *ev.EndTime}
		}
	case TypeAuctionStarted:
		if ev.EndTime != nil {
			msg.Data = AuctionStartedData{EndTime: *ev.EndTime}
		}
	case TypeAuctionEnded:
		data := AuctionEndedData{}
		if ev.WinningBid != nil {
			wb := v.Bid(*ev.WinningBid, ev.WinningBid.Amount)
			data.WinningBid = &wb
		}
		msg.Data = data
	case TypeAuctionAwarded:
		if ev.WinningBid != nil {
			msg.Data = AuctionAwardedData{WinningBid: v.Bid(*ev.WinningBid, ev.WinningBid.Amount)}
		}
	case TypeAuctionCancelled:
		msg.Data = AuctionCancelledData{Reason: ev.Reason}
	case TypeBidderJoined, TypeBidderLeft:
		msg.Data = PresenceData{ActiveCount: ev.ActiveCount}
	case TypeResync:
		msg.Data = ResyncData{Code: auctionerr.CodeStaleSnapshot, Reason: ev.Reason}
	}
	return msg
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
)

// NewMessageID returns a lexically sortable id for a message created at t.
func NewMessageID(t time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}
