package gateway

import (
	"time"

	"github.com/mcdev12/reverseauction/go/internal/auction/auctionerr"
	"github.com/mcdev12/reverseauction/go/internal/auction/broadcast"
	"github.com/mcdev12/reverseauction/go/internal/auction/coordinator"
	"github.com/mcdev12/reverseauction/go/internal/models"
	"github.com/shopspring/decimal"
)

// Messages sent only to the connection they concern.
const (
	TypeSnapshot    broadcast.MessageType = "Snapshot"
	TypeBidAccepted broadcast.MessageType = "BidAccepted"
	TypeBidRejected broadcast.MessageType = "BidRejected"
	TypePong        broadcast.MessageType = "Pong"
	TypeError       broadcast.MessageType = "Error"
)

// Client message types.
const (
	ClientPlaceBid = "PlaceBid"
	ClientPing     = "Ping"
)

// ClientMessage is anything a client may send.
type ClientMessage struct {
	Type      string           `json:"type"`
	RequestID string           `json:"request_id,omitempty"`
	AuctionID string           `json:"auction_id,omitempty"`
	Amount    *decimal.Decimal `json:"amount,omitempty"`
}

type BidAcceptedData struct {
	RequestID string            `json:"request_id,omitempty"`
	Bid       broadcast.BidView `json:"bid"`
	Rank      int               `json:"rank"`
	EndTime   time.Time         `json:"end_time"`
	Extended  bool              `json:"extended"`
}

type BidRejectedData struct {
	RequestID string          `json:"request_id,omitempty"`
	Reason    auctionerr.Code `json:"reason"`
	Message   string          `json:"message"`
}

type ErrorData struct {
	Message string `json:"message"`
}

// AuctionView is the auction record as bidders see it.
type AuctionView struct {
	ID            string                  `json:"id"`
	Reference     string                  `json:"reference"`
	Title         string                  `json:"title"`
	Description   string                  `json:"description,omitempty"`
	Item          models.AuctionItem      `json:"item"`
	Department    string                  `json:"department,omitempty"`
	Status        models.AuctionStatus    `json:"status"`
	StartingPrice decimal.Decimal         `json:"starting_price"`
	MinDecrement  decimal.Decimal         `json:"min_decrement"`
	Currency      string                  `json:"currency"`
	StartTime     *time.Time              `json:"start_time,omitempty"`
	EndTime       *time.Time              `json:"end_time,omitempty"`
	Extended      bool                    `json:"extended"`
	Extension     models.ExtensionPolicy  `json:"extension"`
	Visibility    models.VisibilityPolicy `json:"visibility"`
	CancelReason  string                  `json:"cancel_reason,omitempty"`
}

type HistoryView struct {
	Bid       broadcast.BidView `json:"bid"`
	Delta     *decimal.Decimal  `json:"delta,omitempty"`
	IsLeading bool              `json:"is_leading"`
}

type SnapshotData struct {
	Auction       AuctionView              `json:"auction"`
	CurrentPrice  decimal.Decimal          `json:"current_price"`
	Bids          []broadcast.BidView      `json:"bids"`
	Leaderboard   []broadcast.StandingView `json:"leaderboard"`
	History       []HistoryView            `json:"history"`
	Countdown     *models.CountdownState   `json:"countdown,omitempty"`
	BidCount      int                      `json:"bid_count"`
	ActiveBidders int                      `json:"active_bidders"`
	YourRank      int                      `json:"your_rank,omitempty"`
	YourLabel     string                   `json:"your_label,omitempty"`
}

func newAuctionView(a *models.Auction) AuctionView {
	v := AuctionView{
		ID:            a.ID.String(),
		Reference:     a.Reference,
		Title:         a.Title,
		Description:   a.Description,
		Item:          a.Item,
		Department:    a.Department,
		Status:        a.Status,
		StartingPrice: a.StartingPrice,
		MinDecrement:  a.MinDecrement,
		Currency:      a.Currency,
		StartTime:     a.StartTime,
		Extended:      a.ExtendedEnd != nil,
		Extension:     a.Extension,
		Visibility:    a.Visibility,
		CancelReason:  a.CancelReason,
	}
	if end, ok := a.EffectiveEndTime(); ok {
		v.EndTime = &end
	}
	return v
}

// snapshotMessage masks a coordinator snapshot for one viewer.
func snapshotMessage(snap *coordinator.Snapshot, viewer broadcast.Viewer) broadcast.Message {
	viewer.Visibility = snap.Auction.Visibility

	bids := make([]broadcast.BidView, len(snap.Bids))
	for i, b := range snap.Bids {
		bids[i] = viewer.Bid(b, snap.CurrentPrice)
	}

	history := make([]HistoryView, len(snap.History))
	for i, h := range snap.History {
		view := viewer.Bid(h.Bid, snap.CurrentPrice)
		entry := HistoryView{Bid: view, IsLeading: h.IsLeading}
		// A delta exposes the previous amount, so it is withheld under rank-only visibility.
		if !viewer.Visibility.RankOnly {
			d := h.Delta
			entry.Delta = &d
		}
		history[i] = entry
	}

	data := SnapshotData{
		Auction:       newAuctionView(snap.Auction),
		CurrentPrice:  snap.CurrentPrice,
		Bids:          bids,
		Leaderboard:   viewer.Leaderboard(snap.Leaderboard),
		History:       history,
		Countdown:     snap.Countdown,
		BidCount:      snap.BidCount,
		ActiveBidders: snap.ActiveBidders,
		YourRank:      viewer.RankIn(snap.Leaderboard),
	}
	for _, s := range snap.Leaderboard {
		if s.BidderID == viewer.BidderID {
			data.YourLabel = s.Pseudonym
		}
	}

	return broadcast.Message{
		ID:        broadcast.NewMessageID(snap.TakenAt),
		Type:      TypeSnapshot,
		AuctionID: snap.Auction.ID.String(),
		Seq:       snap.EventSeq,
		Timestamp: snap.TakenAt,
		Data:      data,
	}
}
