package operator

import (
	"github.com/mcdev12/reverseauction/go/internal/models"
)

type AuctionIDRequest struct {
	AuctionID string `json:"auction_id"`
}

type ScheduleAuctionRequest struct {
	AuctionID string     `json:"auction_id"`
	StartTime *Timestamp `json:"start_time"`
	EndTime   *Timestamp `json:"end_time"`
}

type AwardAuctionRequest struct {
	AuctionID string `json:"auction_id"`
	BidderID  string `json:"bidder_id"`
}

type CancelAuctionRequest struct {
	AuctionID string `json:"auction_id"`
	Reason    string `json:"reason"`
}

type ListAuctionsRequest struct {
	Statuses   []models.AuctionStatus `json:"statuses,omitempty"`
	Department string                 `json:"department,omitempty"`
	Category   string                 `json:"category,omitempty"`
	Search     string                 `json:"search,omitempty"`
	StartFrom  *Timestamp             `json:"start_from,omitempty"`
	StartTo    *Timestamp             `json:"start_to,omitempty"`
	Page       int                    `json:"page,omitempty"`
	PageSize   int                    `json:"page_size,omitempty"`
}

// AuctionResponse carries the full operator view of an auction, reserve included.
type AuctionResponse struct {
	Auction *models.Auction `json:"auction"`
}

type ListAuctionsResponse struct {
	Auctions []*models.Auction `json:"auctions"`
	Total    int               `json:"total"`
	Page     int               `json:"page"`
	PageSize int               `json:"page_size"`
}

type BidderResponse struct {
	Bidder *models.Bidder `json:"bidder"`
}

type ListBiddersResponse struct {
	Bidders []*models.Bidder `json:"bidders"`
}
