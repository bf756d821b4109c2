// Package coordinator serialises every state change of an auction through a single actor
// goroutine. Bids, operator commands and timer fires all queue on the same channel, so no
// decision is ever made against stale state.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/reverseauction/go/internal/auction/auctionerr"
	"github.com/mcdev12/reverseauction/go/internal/auction/broadcast"
	"github.com/mcdev12/reverseauction/go/internal/auction/clock"
	"github.com/mcdev12/reverseauction/go/internal/auction/ledger"
	"github.com/mcdev12/reverseauction/go/internal/auction/record"
	"github.com/mcdev12/reverseauction/go/internal/models"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// ErrClosed is returned to callers once the manager has shut down.
var ErrClosed = errors.New("auction coordinator is shut down")

const (
	defaultCommandBuffer = 64
	defaultSnapshotTail  = 50
)

// Config tunes the coordinator.
type Config struct {
	CommandBuffer int         `yaml:"command_buffer"`
	SnapshotTail  int         `yaml:"snapshot_tail"`
	Retry         RetryPolicy `yaml:"retry"`
}

func (c Config) withDefaults() Config {
	if c.CommandBuffer <= 0 {
		c.CommandBuffer = defaultCommandBuffer
	}
	if c.SnapshotTail <= 0 {
		c.SnapshotTail = defaultSnapshotTail
	}
	c.Retry = c.Retry.withDefaults()
	return c
}

// Manager owns one actor per auction, created on first use and retired once the auction is
// settled and no bidder is connected.
type Manager struct {
	store record.Store
	hub   *broadcast.Hub
	clock clock.Clock
	cfg   Config

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	actors  map[uuid.UUID]*actor
	lastSeq map[uuid.UUID]uint64 // event sequence of retired actors, continued by successors
	closed  bool
}

// NewManager creates a manager. Actors run until Close.
func NewManager(store record.Store, hub *broadcast.Hub, c clock.Clock, cfg Config) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		store:   store,
		hub:     hub,
		clock:   c,
		cfg:     cfg.withDefaults(),
		ctx:     ctx,
		cancel:  cancel,
		actors:  make(map[uuid.UUID]*actor),
		lastSeq: make(map[uuid.UUID]uint64),
	}
}

// Recover starts an actor for every auction whose lifecycle the clock still drives,
// replaying its ledger and re-arming its timers.
func (m *Manager) Recover(ctx context.Context) error {
	auctions, err := m.store.ListRecoverable(ctx)
	if err != nil {
		return fmt.Errorf("failed to list recoverable auctions: %w", err)
	}
	for _, a := range auctions {
		if _, err := m.actorFor(ctx, a.ID); err != nil {
			return fmt.Errorf("failed to recover auction %s: %w", a.ID, err)
		}
	}
	log.Info().Int("auctions", len(auctions)).Msg("auction coordinators recovered")
	return nil
}

// Close stops every actor and waits for them to exit.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.mu.Unlock()

	m.cancel()
	m.wg.Wait()
	log.Info().Msg("auction coordinators stopped")
}

// ActorCount returns the number of auctions with a running actor.
func (m *Manager) ActorCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.actors)
}

func (m *Manager) actorFor(ctx context.Context, id uuid.UUID) (*actor, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	if a, ok := m.actors[id]; ok {
		m.mu.Unlock()
		return a, nil
	}
	m.mu.Unlock()

	auction, err := m.store.GetAuction(ctx, id)
	if err != nil {
		return nil, err
	}
	bids, err := m.store.ListBids(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load bids: %w", err)
	}
	l, err := ledger.Replay(id, bids)
	if err != nil {
		return nil, fmt.Errorf("failed to replay ledger: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	if a, ok := m.actors[id]; ok {
		return a, nil
	}

	a := newActor(m, auction, l)
	a.arm()
	m.actors[id] = a
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		a.run()
	}()

	log.Info().
		Str("auction_id", id.String()).
		Str("status", string(auction.Status)).
		Int("bids", l.Len()).
		Msg("auction coordinator started")
	return a, nil
}

// retire unregisters an actor whose auction is settled. The next command for the auction
// starts a fresh actor from the store.
func (m *Manager) retire(a *actor) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.actors[a.id] != a {
		return false
	}
	delete(m.actors, a.id)
	m.lastSeq[a.id] = a.eventSeq
	return true
}

func (m *Manager) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

type result struct {
	value any
	err   error
}

// call delivers a command to the auction's actor and waits for its reply. ctx bounds the
// wait for a place in the queue. A queued command is always answered: with its outcome,
// or with REQUEST_EXPIRED when ctx ended before the actor reached it.
func call[T any](ctx context.Context, m *Manager, id uuid.UUID, build func(request) command) (T, error) {
	var zero T
	for {
		a, err := m.actorFor(ctx, id)
		if err != nil {
			return zero, err
		}

		req := request{ctx: ctx, reply: make(chan result, 1)}
		select {
		case a.cmds <- build(req):
		case <-a.done:
			if m.isClosed() {
				return zero, ErrClosed
			}
			continue
		case <-ctx.Done():
			return zero, auctionerr.Wrap(auctionerr.CodeRequestExpired, ctx.Err(), "request expired before it was queued")
		}

		var r result
		select {
		case r = <-req.reply:
		case <-a.done:
			// The actor answers everything it dequeued before exiting.
			select {
			case r = <-req.reply:
			default:
				if m.isClosed() {
					return zero, ErrClosed
				}
				// Retired without reaching the command; it never ran.
				continue
			}
		}
		if errors.Is(r.err, errRetired) {
			continue
		}
		if r.err != nil {
			return zero, r.err
		}
		v, _ := r.value.(T)
		return v, nil
	}
}

// PlaceBid submits a bid. The receipt is returned only once the bid is durable.
func (m *Manager) PlaceBid(ctx context.Context, auctionID uuid.UUID, bidderID string, amount decimal.Decimal) (*BidReceipt, error) {
	if bidderID == "" {
		return nil, auctionerr.New(auctionerr.CodeInvalidArgument, "bidder id is required")
	}
	return call[*BidReceipt](ctx, m, auctionID, func(req request) command {
		return placeBidCmd{bidderID: bidderID, amount: amount, request: req}
	})
}

// Schedule moves a draft to SCHEDULED with the given window.
func (m *Manager) Schedule(ctx context.Context, auctionID uuid.UUID, start, end time.Time) (*models.Auction, error) {
	if start.IsZero() || end.IsZero() {
		return nil, auctionerr.New(auctionerr.CodeInvalidArgument, "start and end time are both required")
	}
	if !end.After(start) {
		return nil, auctionerr.New(auctionerr.CodeInvalidArgument, "end time must be after start time")
	}
	return call[*models.Auction](ctx, m, auctionID, func(req request) command {
		return scheduleCmd{start: start.UTC(), end: end.UTC(), request: req}
	})
}

// Start opens a scheduled auction for bidding now.
func (m *Manager) Start(ctx context.Context, auctionID uuid.UUID) (*models.Auction, error) {
	return call[*models.Auction](ctx, m, auctionID, func(req request) command {
		return startCmd{request: req}
	})
}

// ForceEnd closes a live auction before its deadline.
func (m *Manager) ForceEnd(ctx context.Context, auctionID uuid.UUID) (*models.Auction, error) {
	return call[*models.Auction](ctx, m, auctionID, func(req request) command {
		return forceEndCmd{request: req}
	})
}

// Award settles an ended auction in favour of a bidder that holds a bid.
func (m *Manager) Award(ctx context.Context, auctionID uuid.UUID, bidderID string) (*models.Auction, error) {
	if bidderID == "" {
		return nil, auctionerr.New(auctionerr.CodeInvalidArgument, "bidder id is required")
	}
	return call[*models.Auction](ctx, m, auctionID, func(req request) command {
		return awardCmd{bidderID: bidderID, request: req}
	})
}

// Cancel ends any non-terminal auction without an award.
func (m *Manager) Cancel(ctx context.Context, auctionID uuid.UUID, reason string) (*models.Auction, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, auctionerr.New(auctionerr.CodeInvalidArgument, "cancel reason is required")
	}
	return call[*models.Auction](ctx, m, auctionID, func(req request) command {
		return cancelCmd{reason: strings.TrimSpace(reason), request: req}
	})
}

// Snapshot returns the auction's full state as of the latest published event.
func (m *Manager) Snapshot(ctx context.Context, auctionID uuid.UUID) (*Snapshot, error) {
	return call[*Snapshot](ctx, m, auctionID, func(req request) command {
		return snapshotCmd{request: req}
	})
}

// Join records a connected bidder and returns the active bidder count.
func (m *Manager) Join(ctx context.Context, auctionID uuid.UUID, bidderID string) (int, error) {
	return call[int](ctx, m, auctionID, func(req request) command {
		return presenceCmd{bidderID: bidderID, joined: true, request: req}
	})
}

// Leave records a disconnected or inactive bidder and returns the active bidder count.
func (m *Manager) Leave(ctx context.Context, auctionID uuid.UUID, bidderID string) (int, error) {
	return call[int](ctx, m, auctionID, func(req request) command {
		return presenceCmd{bidderID: bidderID, joined: false, request: req}
	})
}
