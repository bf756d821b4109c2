package record

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/reverseauction/go/internal/auction/auctionerr"
	"github.com/mcdev12/reverseauction/go/internal/auction/outbox"
	"github.com/mcdev12/reverseauction/go/internal/models"
)

// ErrInjected is returned by MemoryStore writes while failures are injected.
var ErrInjected = errors.New("injected write failure")

// MemoryStore keeps everything in process. It backs tests and single-node development.
type MemoryStore struct {
	mu       sync.Mutex
	auctions map[uuid.UUID]*models.Auction
	bids     map[uuid.UUID][]models.Bid
	bidders  map[uuid.UUID]map[string]*models.Bidder
	events   []outbox.OutboxEvent
	refSeq   map[int]int

	failWrites int
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		auctions: make(map[uuid.UUID]*models.Auction),
		bids:     make(map[uuid.UUID][]models.Bid),
		bidders:  make(map[uuid.UUID]map[string]*models.Bidder),
		refSeq:   make(map[int]int),
	}
}

// FailWrites makes the next n transition or bid writes fail with ErrInjected.
func (s *MemoryStore) FailWrites(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWrites = n
}

// Events returns a copy of every outbox event written so far.
func (s *MemoryStore) Events() []outbox.OutboxEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]outbox.OutboxEvent(nil), s.events...)
}

func (s *MemoryStore) CreateAuction(ctx context.Context, a *models.Auction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.auctions[a.ID]; exists {
		return auctionerr.New(auctionerr.CodeStateConflict, "auction %s already exists", a.ID)
	}
	s.auctions[a.ID] = a.Clone()
	return nil
}

func (s *MemoryStore) GetAuction(ctx context.Context, id uuid.UUID) (*models.Auction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.auctions[id]
	if !ok {
		return nil, auctionerr.New(auctionerr.CodeNotFound, "auction %s not found", id)
	}
	return a.Clone(), nil
}

func (s *MemoryStore) UpdateDraft(ctx context.Context, a *models.Auction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.auctions[a.ID]
	if !ok {
		return auctionerr.New(auctionerr.CodeNotFound, "auction %s not found", a.ID)
	}
	if current.Status != models.AuctionStatusDraft {
		return auctionerr.New(auctionerr.CodeStateConflict, "auction %s is %s, only drafts can be updated", a.ID, current.Status)
	}
	s.auctions[a.ID] = a.Clone()
	return nil
}

func (s *MemoryStore) DeleteDraft(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.auctions[id]
	if !ok {
		return auctionerr.New(auctionerr.CodeNotFound, "auction %s not found", id)
	}
	if current.Status != models.AuctionStatusDraft {
		return auctionerr.New(auctionerr.CodeStateConflict, "auction %s is %s, only drafts can be deleted", id, current.Status)
	}
	delete(s.auctions, id)
	delete(s.bidders, id)
	return nil
}

func (s *MemoryStore) ListAuctions(ctx context.Context, f Filter) ([]*models.Auction, int, error) {
	f = f.Normalized()

	s.mu.Lock()
	var matched []*models.Auction
	for _, a := range s.auctions {
		if f.matches(a) {
			matched = append(matched, a.Clone())
		}
	}
	s.mu.Unlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].Reference > matched[j].Reference
	})

	total := len(matched)
	from := f.offset()
	if from >= total {
		return []*models.Auction{}, total, nil
	}
	to := from + f.PageSize
	if to > total {
		to = total
	}
	return matched[from:to], total, nil
}

func (s *MemoryStore) ListRecoverable(ctx context.Context) ([]*models.Auction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.Auction
	for _, a := range s.auctions {
		if recoverable(a.Status) {
			out = append(out, a.Clone())
		}
	}
	return out, nil
}

func (s *MemoryStore) NextReferenceSeq(ctx context.Context, year int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refSeq[year]++
	return s.refSeq[year], nil
}

func (s *MemoryStore) SaveTransition(ctx context.Context, prev, next *models.Auction, evs []outbox.OutboxEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.injectedFailureLocked(); err != nil {
		return err
	}
	current, ok := s.auctions[next.ID]
	if !ok {
		return auctionerr.New(auctionerr.CodeNotFound, "auction %s not found", next.ID)
	}
	if current.Status != prev.Status || !current.UpdatedAt.Equal(prev.UpdatedAt) {
		return auctionerr.Wrap(auctionerr.CodeStateConflict, ErrStaleWrite, "auction %s is %s as of %s",
			next.ID, current.Status, current.UpdatedAt.Format(time.RFC3339Nano))
	}
	s.auctions[next.ID] = next.Clone()
	s.events = append(s.events, evs...)
	return nil
}

func (s *MemoryStore) AppendBid(ctx context.Context, bid models.Bid, a *models.Auction, evs []outbox.OutboxEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.injectedFailureLocked(); err != nil {
		return err
	}
	if _, ok := s.auctions[bid.AuctionID]; !ok {
		return auctionerr.New(auctionerr.CodeNotFound, "auction %s not found", bid.AuctionID)
	}
	existing := s.bids[bid.AuctionID]
	if int64(len(existing))+1 != bid.Seq {
		return auctionerr.New(auctionerr.CodeStateConflict, "bid %d does not follow %d stored bids", bid.Seq, len(existing))
	}

	s.bids[bid.AuctionID] = append(existing, bid)
	s.auctions[a.ID] = a.Clone()
	if b, ok := s.bidders[bid.AuctionID][bid.BidderID]; ok {
		at := bid.AcceptedAt
		b.LastBidAt = &at
	}
	s.events = append(s.events, evs...)
	return nil
}

func (s *MemoryStore) ListBids(ctx context.Context, auctionID uuid.UUID) ([]models.Bid, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Bid(nil), s.bids[auctionID]...), nil
}

func (s *MemoryStore) UpsertBidder(ctx context.Context, b *models.Bidder) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.auctions[b.AuctionID]; !ok {
		return auctionerr.New(auctionerr.CodeNotFound, "auction %s not found", b.AuctionID)
	}
	if s.bidders[b.AuctionID] == nil {
		s.bidders[b.AuctionID] = make(map[string]*models.Bidder)
	}
	cp := *b
	if existing, ok := s.bidders[b.AuctionID][b.ID]; ok {
		cp.CreatedAt = existing.CreatedAt
		cp.LastBidAt = existing.LastBidAt
	}
	s.bidders[b.AuctionID][b.ID] = &cp
	return nil
}

func (s *MemoryStore) GetBidder(ctx context.Context, auctionID uuid.UUID, bidderID string) (*models.Bidder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.bidders[auctionID][bidderID]
	if !ok {
		return nil, auctionerr.New(auctionerr.CodeNotFound, "bidder %s not registered for auction %s", bidderID, auctionID)
	}
	cp := *b
	return &cp, nil
}

func (s *MemoryStore) ListBidders(ctx context.Context, auctionID uuid.UUID) ([]*models.Bidder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*models.Bidder, 0, len(s.bidders[auctionID]))
	for _, b := range s.bidders[auctionID] {
		cp := *b
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) injectedFailureLocked() error {
	if s.failWrites > 0 {
		s.failWrites--
		return ErrInjected
	}
	return nil
}
