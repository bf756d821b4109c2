// Package record persists auctions, their bidders and their bid ledgers.
package record

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/reverseauction/go/internal/auction/outbox"
	"github.com/mcdev12/reverseauction/go/internal/models"
)

// ErrStaleWrite is wrapped by SaveTransition when the stored auction is no longer the one
// the writer read.
var ErrStaleWrite = errors.New("auction changed since it was read")

// Store is the durable home of auction records. Once an auction leaves DRAFT only the
// coordinator writes to it, through SaveTransition and AppendBid.
type Store interface {
	CreateAuction(ctx context.Context, a *models.Auction) error
	GetAuction(ctx context.Context, id uuid.UUID) (*models.Auction, error)
	// UpdateDraft overwrites an auction that is still in DRAFT.
	UpdateDraft(ctx context.Context, a *models.Auction) error
	// DeleteDraft removes an auction that is still in DRAFT.
	DeleteDraft(ctx context.Context, id uuid.UUID) error
	ListAuctions(ctx context.Context, f Filter) ([]*models.Auction, int, error)
	// ListRecoverable returns auctions whose lifecycle is driven by the clock.
	ListRecoverable(ctx context.Context) ([]*models.Auction, error)
	NextReferenceSeq(ctx context.Context, year int) (int, error)

	// SaveTransition replaces prev with next and writes the domain events atomically. The
	// write only applies while the stored row still has prev's status and updated_at;
	// otherwise it fails with a StateConflict wrapping ErrStaleWrite.
	SaveTransition(ctx context.Context, prev, next *models.Auction, evs []outbox.OutboxEvent) error
	// AppendBid writes an accepted bid, the auction row and the domain events atomically.
	AppendBid(ctx context.Context, bid models.Bid, a *models.Auction, evs []outbox.OutboxEvent) error
	ListBids(ctx context.Context, auctionID uuid.UUID) ([]models.Bid, error)

	UpsertBidder(ctx context.Context, b *models.Bidder) error
	GetBidder(ctx context.Context, auctionID uuid.UUID, bidderID string) (*models.Bidder, error)
	ListBidders(ctx context.Context, auctionID uuid.UUID) ([]*models.Bidder, error)
}

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Filter narrows ListAuctions. Zero values match everything.
type Filter struct {
	Statuses   []models.AuctionStatus
	Department string
	Category   string
	Search     string
	StartFrom  *time.Time
	StartTo    *time.Time
	Page       int
	PageSize   int
}

// Normalized applies the default page, page size cap and trimmed search text.
func (f Filter) Normalized() Filter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize <= 0 {
		f.PageSize = defaultPageSize
	}
	if f.PageSize > maxPageSize {
		f.PageSize = maxPageSize
	}
	f.Search = strings.TrimSpace(f.Search)
	return f
}

func (f Filter) offset() int {
	return (f.Page - 1) * f.PageSize
}

// matches applies the filter in memory. The Postgres store builds the same predicate in SQL.
func (f Filter) matches(a *models.Auction) bool {
	if len(f.Statuses) > 0 {
		found := false
		for _, s := range f.Statuses {
			if a.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Department != "" && !strings.EqualFold(a.Department, f.Department) {
		return false
	}
	if f.Category != "" && !strings.EqualFold(a.Item.Category, f.Category) {
		return false
	}
	if f.Search != "" {
		q := strings.ToLower(f.Search)
		if !strings.Contains(strings.ToLower(a.Title), q) &&
			!strings.Contains(strings.ToLower(a.Reference), q) &&
			!strings.Contains(strings.ToLower(a.Description), q) {
			return false
		}
	}
	if f.StartFrom != nil && (a.StartTime == nil || a.StartTime.Before(*f.StartFrom)) {
		return false
	}
	if f.StartTo != nil && (a.StartTime == nil || a.StartTime.After(*f.StartTo)) {
		return false
	}
	return true
}

func recoverable(s models.AuctionStatus) bool {
	return s == models.AuctionStatusScheduled || s == models.AuctionStatusLive || s == models.AuctionStatusEnded
}
