package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AuctionStatus defines the lifecycle status of a reverse auction.
type AuctionStatus string

const (
	AuctionStatusDraft     AuctionStatus = "DRAFT"
	AuctionStatusScheduled AuctionStatus = "SCHEDULED"
	AuctionStatusLive      AuctionStatus = "LIVE"
	AuctionStatusEnded     AuctionStatus = "ENDED"
	AuctionStatusAwarded   AuctionStatus = "AWARDED"
	AuctionStatusCancelled AuctionStatus = "CANCELLED"
)

// IsTerminal reports whether no further transitions are possible.
func (s AuctionStatus) IsTerminal() bool {
	return s == AuctionStatusAwarded || s == AuctionStatusCancelled
}

// Valid reports whether s is a known status.
func (s AuctionStatus) Valid() bool {
	switch s {
	case AuctionStatusDraft, AuctionStatusScheduled, AuctionStatusLive,
		AuctionStatusEnded, AuctionStatusAwarded, AuctionStatusCancelled:
		return true
	}
	return false
}

const (
	DefaultCurrency                 = "ZAR"
	DefaultExtensionWindowSeconds   = 120
	DefaultExtensionDurationSeconds = 300
)

// DefaultMinDecrement is used when an auction is created without one.
var DefaultMinDecrement = decimal.NewFromInt(100)

// AuctionItem describes what is being procured.
type AuctionItem struct {
	Name           string   `json:"name"`
	Description    string   `json:"description,omitempty"`
	Quantity       int      `json:"quantity"`
	Unit           string   `json:"unit"`
	Category       string   `json:"category,omitempty"`
	Specifications []string `json:"specifications,omitempty"`
}

// ExtensionPolicy controls anti-snipe extension of the deadline.
type ExtensionPolicy struct {
	AutoExtend      bool `json:"auto_extend"`
	WindowSeconds   int  `json:"extension_window_seconds"`
	DurationSeconds int  `json:"extension_duration_seconds"`
}

func (p ExtensionPolicy) Window() time.Duration {
	return time.Duration(p.WindowSeconds) * time.Second
}

func (p ExtensionPolicy) Duration() time.Duration {
	return time.Duration(p.DurationSeconds) * time.Second
}

// DefaultExtensionPolicy extends by five minutes when a bid lands inside the last two.
func DefaultExtensionPolicy() ExtensionPolicy {
	return ExtensionPolicy{
		AutoExtend:      true,
		WindowSeconds:   DefaultExtensionWindowSeconds,
		DurationSeconds: DefaultExtensionDurationSeconds,
	}
}

// VisibilityPolicy controls what bidders can see about each other.
type VisibilityPolicy struct {
	AnonymousBidding bool `json:"anonymous_bidding"`
	RankOnly         bool `json:"rank_only"`
}

func DefaultVisibilityPolicy() VisibilityPolicy {
	return VisibilityPolicy{AnonymousBidding: true, RankOnly: true}
}

// Auction represents a single descending-price reverse auction.
type Auction struct {
	ID              uuid.UUID        `json:"id"`
	Reference       string           `json:"reference"`
	Title           string           `json:"title"`
	Description     string           `json:"description,omitempty"`
	Item            AuctionItem      `json:"item"`
	Department      string           `json:"department,omitempty"`
	CostCenter      string           `json:"cost_center,omitempty"`
	TenderReference string           `json:"tender_reference,omitempty"`
	CreatedBy       string           `json:"created_by,omitempty"`
	StartingPrice   decimal.Decimal  `json:"starting_price"`
	ReservePrice    *decimal.Decimal `json:"reserve_price,omitempty"`
	MinDecrement    decimal.Decimal  `json:"min_decrement"`
	Currency        string           `json:"currency"`
	Status          AuctionStatus    `json:"status"`
	StartTime       *time.Time       `json:"start_time,omitempty"`
	ScheduledEnd    *time.Time       `json:"scheduled_end_time,omitempty"`
	ExtendedEnd     *time.Time       `json:"extended_end_time,omitempty"`
	Extension       ExtensionPolicy  `json:"extension"`
	Visibility      VisibilityPolicy `json:"visibility"`
	CancelReason    string           `json:"cancel_reason,omitempty"`
	AwardedBidderID string           `json:"awarded_bidder_id,omitempty"`
	WinningBidSeq   *int64           `json:"winning_bid_id,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// EffectiveEndTime is the extended end when set, otherwise the scheduled end.
func (a *Auction) EffectiveEndTime() (time.Time, bool) {
	if a.ExtendedEnd != nil {
		return *a.ExtendedEnd, true
	}
	if a.ScheduledEnd != nil {
		return *a.ScheduledEnd, true
	}
	return time.Time{}, false
}

// Clone returns a deep copy so the caller can mutate it without racing the owner.
func (a *Auction) Clone() *Auction {
	if a == nil {
		return nil
	}
	c := *a
	c.Item.Specifications = append([]string(nil), a.Item.Specifications...)
	if a.ReservePrice != nil {
		r := *a.ReservePrice
		c.ReservePrice = &r
	}
	c.StartTime = cloneTime(a.StartTime)
	c.ScheduledEnd = cloneTime(a.ScheduledEnd)
	c.ExtendedEnd = cloneTime(a.ExtendedEnd)
	if a.WinningBidSeq != nil {
		s := *a.WinningBidSeq
		c.WinningBidSeq = &s
	}
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
