package record

import (
	"github.com/google/uuid"
	"github.com/mcdev12/reverseauction/go/internal/models"
	"github.com/shopspring/decimal"
)

// ItemRequest describes the procured item on create or update.
type ItemRequest struct {
	Name           string   `json:"name" validate:"required,max=200"`
	Description    string   `json:"description" validate:"max=2000"`
	Quantity       int      `json:"quantity" validate:"gte=1"`
	Unit           string   `json:"unit" validate:"required,max=50"`
	Category       string   `json:"category" validate:"max=100"`
	Specifications []string `json:"specifications" validate:"dive,max=500"`
}

// CreateAuctionRequest represents the data needed to create a draft auction.
// Nil policy fields fall back to the platform defaults.
type CreateAuctionRequest struct {
	Title           string           `json:"title" validate:"required,max=200"`
	Description     string           `json:"description" validate:"max=5000"`
	Item            ItemRequest      `json:"item"`
	Department      string           `json:"department" validate:"max=200"`
	CostCenter      string           `json:"cost_center" validate:"max=100"`
	TenderReference string           `json:"tender_reference" validate:"max=100"`
	CreatedBy       string           `json:"created_by" validate:"required,max=200"`
	StartingPrice   decimal.Decimal  `json:"starting_price"`
	ReservePrice    *decimal.Decimal `json:"reserve_price,omitempty"`
	MinDecrement    *decimal.Decimal `json:"min_decrement,omitempty"`
	Currency        string           `json:"currency" validate:"omitempty,len=3,uppercase"`

	AutoExtend               *bool `json:"auto_extend,omitempty"`
	ExtensionWindowSeconds   *int  `json:"extension_window_seconds,omitempty" validate:"omitempty,gte=1,lte=3600"`
	ExtensionDurationSeconds *int  `json:"extension_duration_seconds,omitempty" validate:"omitempty,gte=1,lte=86400"`
	AnonymousBidding         *bool `json:"anonymous_bidding,omitempty"`
	RankOnly                 *bool `json:"rank_only,omitempty"`
}

// UpdateAuctionRequest replaces the editable fields of a draft. Nil fields are left unchanged.
type UpdateAuctionRequest struct {
	ID            uuid.UUID        `json:"id" validate:"required"`
	Title         *string          `json:"title,omitempty" validate:"omitempty,min=1,max=200"`
	Description   *string          `json:"description,omitempty" validate:"omitempty,max=5000"`
	Item          *ItemRequest     `json:"item,omitempty"`
	Department    *string          `json:"department,omitempty" validate:"omitempty,max=200"`
	StartingPrice *decimal.Decimal `json:"starting_price,omitempty"`
	ReservePrice  *decimal.Decimal `json:"reserve_price,omitempty"`
	ClearReserve  bool             `json:"clear_reserve,omitempty"`
	MinDecrement  *decimal.Decimal `json:"min_decrement,omitempty"`

	Extension  *models.ExtensionPolicy  `json:"extension,omitempty"`
	Visibility *models.VisibilityPolicy `json:"visibility,omitempty"`
}

// QualifyBidderRequest registers a supplier against an auction or changes its qualification.
type QualifyBidderRequest struct {
	AuctionID    uuid.UUID `json:"auction_id" validate:"required"`
	BidderID     string    `json:"bidder_id" validate:"required,max=200"`
	SupplierName string    `json:"supplier_name" validate:"required,max=200"`
	BBBEELevel   *int      `json:"bbbee_level,omitempty" validate:"omitempty,gte=1,lte=8"`
	Qualified    bool      `json:"qualified"`
}
