// Package broadcast fans auction events out to subscribers without ever blocking the publisher.
package broadcast

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// DefaultQueueSize bounds each subscriber's pending messages.
const DefaultQueueSize = 256

// Subscription is one subscriber's view of a single auction's event stream.
type Subscription struct {
	ID        string
	AuctionID uuid.UUID
	BidderID  string

	ch        chan Message
	done      chan struct{}
	closeOnce sync.Once
	dropped   atomic.Bool
	hub       *Hub
}

// Messages delivers masked events in publish order.
func (s *Subscription) Messages() <-chan Message {
	return s.ch
}

// Done is closed when the subscription ends, either by Close or by being dropped.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Dropped reports whether the hub removed this subscriber because its queue overflowed.
// A dropped subscriber has missed events and must refetch full state.
func (s *Subscription) Dropped() bool {
	return s.dropped.Load()
}

// Close unsubscribes. It is safe to call more than once.
func (s *Subscription) Close() {
	s.hub.remove(s)
}

func (s *Subscription) finish() {
	s.closeOnce.Do(func() { close(s.done) })
}

// Hub routes published events to the subscribers of each auction.
type Hub struct {
	mu        sync.RWMutex
	subs      map[uuid.UUID]map[*Subscription]struct{}
	queueSize int
}

// NewHub creates a hub whose subscribers each buffer up to queueSize messages.
func NewHub(queueSize int) *Hub {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Hub{
		subs:      make(map[uuid.UUID]map[*Subscription]struct{}),
		queueSize: queueSize,
	}
}

// Subscribe registers a subscriber. Events published after Subscribe returns are delivered.
func (h *Hub) Subscribe(auctionID uuid.UUID, bidderID string) *Subscription {
	s := &Subscription{
		ID:        uuid.New().String(),
		AuctionID: auctionID,
		BidderID:  bidderID,
		ch:        make(chan Message, h.queueSize),
		done:      make(chan struct{}),
		hub:       h,
	}

	h.mu.Lock()
	if h.subs[auctionID] == nil {
		h.subs[auctionID] = make(map[*Subscription]struct{})
	}
	h.subs[auctionID][s] = struct{}{}
	count := len(h.subs[auctionID])
	h.mu.Unlock()

	log.Debug().
		Str("subscription_id", s.ID).
		Str("auction_id", auctionID.String()).
		Str("bidder_id", bidderID).
		Int("subscribers", count).
		Msg("subscriber registered")
	return s
}

// Publish masks ev for every subscriber of its auction and enqueues it without blocking.
// A subscriber whose queue is full is dropped.
func (h *Hub) Publish(ev Event) {
	h.mu.RLock()
	targets := make([]*Subscription, 0, len(h.subs[ev.AuctionID]))
	for s := range h.subs[ev.AuctionID] {
		targets = append(targets, s)
	}
	h.mu.RUnlock()

	if len(targets) == 0 {
		return
	}

	id := NewMessageID(ev.Timestamp)
	for _, s := range targets {
		select {
		case <-s.done:
			continue
		default:
		}

		msg := Viewer{BidderID: s.BidderID, Visibility: ev.Visibility}.Mask(ev, id)
		select {
		case s.ch <- msg:
		default:
			log.Warn().
				Str("subscription_id", s.ID).
				Str("auction_id", ev.AuctionID.String()).
				Str("bidder_id", s.BidderID).
				Uint64("seq", ev.Seq).
				Msg("subscriber queue full, dropping subscriber")
			s.dropped.Store(true)
			h.remove(s)
		}
	}

	log.Debug().
		Str("event_type", string(ev.Type)).
		Str("auction_id", ev.AuctionID.String()).
		Uint64("seq", ev.Seq).
		Int("subscribers", len(targets)).
		Msg("event broadcasted")
}

func (h *Hub) remove(s *Subscription) {
	h.mu.Lock()
	if subs, ok := h.subs[s.AuctionID]; ok {
		delete(subs, s)
		if len(subs) == 0 {
			delete(h.subs, s.AuctionID)
		}
	}
	h.mu.Unlock()
	s.finish()
}

// SubscriberCount returns the live subscribers of one auction.
func (h *Hub) SubscriberCount(auctionID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[auctionID])
}

// Stats summarises subscriptions across auctions.
type Stats struct {
	TotalSubscribers int            `json:"total_subscribers"`
	ActiveAuctions   int            `json:"active_auctions"`
	PerAuction       map[string]int `json:"per_auction"`
}

func (h *Hub) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	st := Stats{PerAuction: make(map[string]int, len(h.subs))}
	for id, subs := range h.subs {
		st.TotalSubscribers += len(subs)
		st.PerAuction[id.String()] = len(subs)
	}
	st.ActiveAuctions = len(h.subs)
	return st
}
