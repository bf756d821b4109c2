// Package ledger holds the append-only, strictly decreasing sequence of accepted bids for one auction.
package ledger

import (
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/mcdev12/reverseauction/go/internal/models"
	"github.com/shopspring/decimal"
)

var (
	ErrNotDecreasing = errors.New("bid amount is not below the ledger head")
	ErrOutOfSequence = errors.New("bid sequence does not follow the ledger tail")
	ErrWrongAuction  = errors.New("bid belongs to a different auction")
)

// Ledger is not safe for concurrent use. The auction's coordinator owns it.
type Ledger struct {
	auctionID  uuid.UUID
	bids       []models.Bid
	latest     map[string]int // bidder -> index of their most recent bid
	counts     map[string]int
	pseudonyms map[string]string
}

// New returns an empty ledger for the auction.
func New(auctionID uuid.UUID) *Ledger {
	return &Ledger{
		auctionID:  auctionID,
		latest:     make(map[string]int),
		counts:     make(map[string]int),
		pseudonyms: make(map[string]string),
	}
}

// Replay rebuilds a ledger from persisted bids in sequence order.
func Replay(auctionID uuid.UUID, bids []models.Bid) (*Ledger, error) {
	l := New(auctionID)
	for _, b := range bids {
		if err := l.Append(b); err != nil {
			return nil, fmt.Errorf("failed to replay bid %d: %w", b.Seq, err)
		}
	}
	return l, nil
}

// Append adds an accepted bid. The bid must carry the next sequence number and undercut the head.
// A bid without a pseudonym is given the bidder's existing one, or the next free label.
func (l *Ledger) Append(bid models.Bid) error {
	if bid.AuctionID != l.auctionID {
		return ErrWrongAuction
	}
	if bid.Seq != l.NextSeq() {
		return fmt.Errorf("%w: got %d, want %d", ErrOutOfSequence, bid.Seq, l.NextSeq())
	}
	if head := l.Head(); head != nil && !bid.Amount.LessThan(head.Amount) {
		return fmt.Errorf("%w: %s >= %s", ErrNotDecreasing, bid.Amount.String(), head.Amount.String())
	}

	if bid.Pseudonym == "" {
		bid.Pseudonym = l.Pseudonym(bid.BidderID)
	}
	if _, ok := l.pseudonyms[bid.BidderID]; !ok {
		l.pseudonyms[bid.BidderID] = bid.Pseudonym
	}

	l.bids = append(l.bids, bid)
	l.latest[bid.BidderID] = len(l.bids) - 1
	l.counts[bid.BidderID]++
	return nil
}

// NextSeq is the sequence number the next accepted bid must carry.
func (l *Ledger) NextSeq() int64 {
	return int64(len(l.bids)) + 1
}

func (l *Ledger) Len() int {
	return len(l.bids)
}

// Head returns the lowest (most recent) bid, or nil when no bids exist.
func (l *Ledger) Head() *models.Bid {
	if len(l.bids) == 0 {
		return nil
	}
	b := l.bids[len(l.bids)-1]
	return &b
}

// HeadAmount returns the lowest accepted amount.
func (l *Ledger) HeadAmount() (decimal.Decimal, bool) {
	if h := l.Head(); h != nil {
		return h.Amount, true
	}
	return decimal.Zero, false
}

// HasBid reports whether the bidder has at least one accepted bid.
func (l *Ledger) HasBid(bidderID string) bool {
	_, ok := l.latest[bidderID]
	return ok
}

// BestBid returns the bidder's lowest bid. Amounts strictly decrease, so it is their latest.
func (l *Ledger) BestBid(bidderID string) (models.Bid, bool) {
	idx, ok := l.latest[bidderID]
	if !ok {
		return models.Bid{}, false
	}
	return l.bids[idx], true
}

// Pseudonym returns the stable label for bidderID. Bidders without bids are shown
// the label they would receive on their first bid.
func (l *Ledger) Pseudonym(bidderID string) string {
	if p, ok := l.pseudonyms[bidderID]; ok {
		return p
	}
	return "Bidder " + Label(len(l.pseudonyms))
}

// Pseudonyms returns a copy of the bidder to label mapping.
func (l *Ledger) Pseudonyms() map[string]string {
	out := make(map[string]string, len(l.pseudonyms))
	for k, v := range l.pseudonyms {
		out[k] = v
	}
	return out
}

// Leaderboard ranks each bidder's best bid ascending by amount, ties by earliest acceptance.
func (l *Ledger) Leaderboard() []models.Standing {
	standings := make([]models.Standing, 0, len(l.latest))
	for bidderID, idx := range l.latest {
		b := l.bids[idx]
		standings = append(standings, models.Standing{
			BidderID:  bidderID,
			Pseudonym: l.pseudonyms[bidderID],
			Amount:    b.Amount,
			BidCount:  l.counts[bidderID],
			BidAt:     b.AcceptedAt,
		})
	}
	sort.Slice(standings, func(i, j int) bool {
		if c := standings[i].Amount.Cmp(standings[j].Amount); c != 0 {
			return c < 0
		}
		if !standings[i].BidAt.Equal(standings[j].BidAt) {
			return standings[i].BidAt.Before(standings[j].BidAt)
		}
		return standings[i].BidderID < standings[j].BidderID
	})
	for i := range standings {
		standings[i].Rank = i + 1
	}
	return standings
}

// RankOf returns the bidder's 1-based rank, or 0 when they have not bid.
func (l *Ledger) RankOf(bidderID string) int {
	if !l.HasBid(bidderID) {
		return 0
	}
	for _, s := range l.Leaderboard() {
		if s.BidderID == bidderID {
			return s.Rank
		}
	}
	return 0
}

// Tail returns up to n of the most recent bids in ledger order.
func (l *Ledger) Tail(n int) []models.Bid {
	if n <= 0 || n > len(l.bids) {
		n = len(l.bids)
	}
	out := make([]models.Bid, n)
	copy(out, l.bids[len(l.bids)-n:])
	return out
}

// History returns every bid with its drop from the previous bid. The first bid's delta
// is measured from startingPrice.
func (l *Ledger) History(startingPrice decimal.Decimal) []models.BidHistoryEntry {
	out := make([]models.BidHistoryEntry, len(l.bids))
	prev := startingPrice
	for i, b := range l.bids {
		out[i] = models.BidHistoryEntry{
			Bid:       b,
			Delta:     prev.Sub(b.Amount),
			IsLeading: i == len(l.bids)-1,
		}
		prev = b.Amount
	}
	return out
}

// Label converts a zero-based index into A..Z, AA..AZ, BA.. and so on.
func Label(n int) string {
	var buf []byte
	for n >= 0 {
		buf = append([]byte{byte('A' + n%26)}, buf...)
		n = n/26 - 1
	}
	return string(buf)
}
