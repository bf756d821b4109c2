// Package bidvalidator decides whether a bid may be accepted against the current auction state.
package bidvalidator

import (
	"github.com/mcdev12/reverseauction/go/internal/auction/auctionerr"
	"github.com/mcdev12/reverseauction/go/internal/models"
	"github.com/shopspring/decimal"
)

// Result carries information about an accepted bid that does not affect acceptance.
type Result struct {
	// BelowReserve is set when the amount undercuts the reserve price.
	BelowReserve bool
}

// CurrentPrice is the price a new bid has to beat: the lowest accepted bid, or the starting price.
func CurrentPrice(a *models.Auction, head *models.Bid) decimal.Decimal {
	if head != nil {
		return head.Amount
	}
	return a.StartingPrice
}

// Validate checks a proposed amount. The first failing rule wins, in this order:
// auction live, bidder qualified, amount positive, below current, decrement met.
func Validate(a *models.Auction, head *models.Bid, bidderQualified bool, amount decimal.Decimal) (Result, error) {
	if a.Status != models.AuctionStatusLive {
		return Result{}, auctionerr.New(auctionerr.CodeAuctionNotLive, "auction is %s", a.Status)
	}
	if !bidderQualified {
		return Result{}, auctionerr.ErrBidderNotQualified
	}
	if !amount.IsPositive() {
		return Result{}, auctionerr.ErrInvalidAmount
	}

	current := CurrentPrice(a, head)
	if !amount.LessThan(current) {
		return Result{}, auctionerr.New(auctionerr.CodeBidNotLower,
			"bid %s must be lower than current price %s", amount.String(), current.String())
	}
	if current.Sub(amount).LessThan(a.MinDecrement) {
		return Result{}, auctionerr.New(auctionerr.CodeDecrementTooSmall,
			"bid must be at least %s below %s", a.MinDecrement.String(), current.String())
	}

	return Result{
		BelowReserve: a.ReservePrice != nil && amount.LessThan(*a.ReservePrice),
	}, nil
}
