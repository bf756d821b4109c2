package coordinator

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/reverseauction/go/internal/auction/auctionerr"
	"github.com/mcdev12/reverseauction/go/internal/auction/bidvalidator"
	"github.com/mcdev12/reverseauction/go/internal/auction/broadcast"
	"github.com/mcdev12/reverseauction/go/internal/auction/clock"
	"github.com/mcdev12/reverseauction/go/internal/auction/events"
	"github.com/mcdev12/reverseauction/go/internal/auction/ledger"
	"github.com/mcdev12/reverseauction/go/internal/auction/outbox"
	"github.com/mcdev12/reverseauction/go/internal/auction/record"
	"github.com/mcdev12/reverseauction/go/internal/models"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

type command interface {
	replyTo() chan result
	callerCtx() context.Context
}

// request is embedded by every caller-issued command. ctx is the caller's context; it
// only decides whether the command is still wanted when the actor dequeues it.
type request struct {
	ctx   context.Context
	reply chan result
}

func (r request) replyTo() chan result { return r.reply }
func (r request) callerCtx() context.Context { return r.ctx }

type placeBidCmd struct {
	request
	bidderID string
	amount   decimal.Decimal
}

type scheduleCmd struct {
	request
	start, end time.Time
}

type startCmd struct{ request }

type forceEndCmd struct{ request }

type awardCmd struct {
	request
	bidderID string
}

type cancelCmd struct {
	request
	reason string
}

type snapshotCmd struct{ request }

type presenceCmd struct {
	request
	bidderID string
	joined   bool
}

// startDue and deadlineReached are sent by the auction's alarm.
type startDue struct{}

func (startDue) replyTo() chan result { return nil }
func (startDue) callerCtx() context.Context { return nil }

type deadlineReached struct{}

func (deadlineReached) replyTo() chan result { return nil }
func (deadlineReached) callerCtx() context.Context { return nil }

// actor is the only writer of one auction's state and ledger.
type actor struct {
	id           uuid.UUID
	store        record.Store
	hub          *broadcast.Hub
	clock        clock.Clock
	retry        RetryPolicy
	snapshotTail int
	ctx          context.Context

	auction  *models.Auction
	ledger   *ledger.Ledger
	alarm    *clock.Alarm
	eventSeq uint64
	presence map[string]int // bidder -> open sessions

	cmds   chan command
	done   chan struct{}
	retire func(*actor) bool
}

func newActor(m *Manager, a *models.Auction, l *ledger.Ledger) *actor {
	return &actor{
		id:           a.ID,
		store:        m.store,
		hub:          m.hub,
		clock:        m.clock,
		retry:        m.cfg.Retry,
		snapshotTail: m.cfg.SnapshotTail,
		ctx:          m.ctx,
		auction:      a,
		ledger:       l,
		alarm:        clock.NewAlarm(m.clock),
		eventSeq:     m.lastSeq[a.ID],
		presence:     make(map[string]int),
		cmds:         make(chan command, m.cfg.CommandBuffer),
		done:         make(chan struct{}),
		retire:       m.retire,
	}
}

func (a *actor) run() {
	defer close(a.done)
	defer a.alarm.Stop()

	for {
		select {
		case <-a.ctx.Done():
			return
		case cmd := <-a.cmds:
			a.handle(cmd)
			if a.idle() && a.retire(a) {
				a.drain()
				log.Debug().Str("auction_id", a.id.String()).Msg("auction coordinator retired")
				return
			}
		}
	}
}

// idle reports whether the actor has nothing left to drive: the auction is settled and
// no bidder is connected.
func (a *actor) idle() bool {
	return a.auction.Status.IsTerminal() && len(a.presence) == 0
}

// errRetired sends a queued command back to call, which redelivers it to a new actor.
var errRetired = errors.New("auction coordinator retired")

// drain bounces commands queued before the actor left the registry. None of them ran.
func (a *actor) drain() {
	for {
		select {
		case cmd := <-a.cmds:
			respond(cmd, nil, errRetired)
		default:
			return
		}
	}
}

// enqueue is used by alarm goroutines to feed timer fires into the command stream.
func (a *actor) enqueue(cmd command) {
	select {
	case a.cmds <- cmd:
	case <-a.done:
	case <-a.ctx.Done():
	}
}

func (a *actor) handle(cmd command) {
	// A caller that gave up while the command was queued is told so, and nothing runs.
	// Once past this point the command runs to completion and the caller gets its result.
	// Presence changes always apply; a dropped leave would keep the bidder counted.
	_, presence := cmd.(presenceCmd)
	if ctx := cmd.callerCtx(); ctx != nil && ctx.Err() != nil && !presence {
		log.Debug().
			Err(ctx.Err()).
			Str("auction_id", a.id.String()).
			Msg("dropping expired command")
		respond(cmd, nil, auctionerr.Wrap(auctionerr.CodeRequestExpired, ctx.Err(), "request expired before it was processed"))
		return
	}
	if err := a.refreshDraft(); err != nil {
		respond(cmd, nil, err)
		return
	}

	var (
		value any
		err   error
	)
	switch c := cmd.(type) {
	case placeBidCmd:
		value, err = a.placeBid(c.bidderID, c.amount)
	case scheduleCmd:
		value, err = a.schedule(c.start, c.end)
	case startCmd:
		value, err = a.start()
	case forceEndCmd:
		value, err = a.forceEnd()
	case awardCmd:
		value, err = a.award(c.bidderID)
	case cancelCmd:
		value, err = a.cancel(c.reason)
	case snapshotCmd:
		value, err = a.snapshot(), nil
	case presenceCmd:
		value, err = a.updatePresence(c.bidderID, c.joined), nil
	case startDue, deadlineReached:
		a.advance(a.clock.Now().UTC())
		return
	}
	respond(cmd, value, err)
}

func respond(cmd command, value any, err error) {
	if reply := cmd.replyTo(); reply != nil {
		reply <- result{value: value, err: err}
	}
}

// refreshDraft rereads a draft, which the record service may still be editing.
func (a *actor) refreshDraft() error {
	if a.auction.Status != models.AuctionStatusDraft {
		return nil
	}
	current, err := a.store.GetAuction(a.ctx, a.id)
	if err != nil {
		return err
	}
	a.auction = current
	return nil
}

func (a *actor) placeBid(bidderID string, amount decimal.Decimal) (*BidReceipt, error) {
	now := a.clock.Now().UTC()
	// A bid arriving at or after the deadline must see the auction closed, even if the
	// alarm's command is still queued behind it.
	a.advance(now)
	if end, ok := a.auction.EffectiveEndTime(); ok && a.auction.Status == models.AuctionStatusLive && !now.Before(end) {
		return nil, auctionerr.New(auctionerr.CodeAuctionNotLive, "bidding closed at %s", end.Format(time.RFC3339))
	}

	qualified := false
	if a.auction.Status == models.AuctionStatusLive {
		var err error
		if qualified, err = a.isQualified(bidderID); err != nil {
			return nil, err
		}
	}

	res, err := bidvalidator.Validate(a.auction, a.ledger.Head(), qualified, amount)
	if err != nil {
		log.Debug().
			Str("auction_id", a.id.String()).
			Str("bidder_id", bidderID).
			Str("amount", amount.String()).
			Str("reason", string(auctionerr.CodeOf(err))).
			Msg("bid rejected")
		return nil, err
	}

	bid := models.Bid{
		Seq:        a.ledger.NextSeq(),
		AuctionID:  a.id,
		BidderID:   bidderID,
		Pseudonym:  a.ledger.Pseudonym(bidderID),
		Amount:     amount,
		AcceptedAt: now,
	}

	updated := a.auction.Clone()
	updated.UpdatedAt = now
	previousEnd, _ := a.auction.EffectiveEndTime()
	newEnd, extended := clock.Extension(a.auction, now)
	if extended {
		updated.ExtendedEnd = &newEnd
	}

	pending := []domainEvent{{events.BidAccepted, events.BidAcceptedPayload{
		AuctionID:    a.id.String(),
		BidID:        bid.Seq,
		BidderID:     bidderID,
		Amount:       amount,
		AcceptedAt:   now,
		BelowReserve: res.BelowReserve,
	}}}
	if extended {
		pending = append(pending, domainEvent{events.TimeExtended, events.TimeExtendedPayload{
			AuctionID:   a.id.String(),
			BidID:       bid.Seq,
			PreviousEnd: previousEnd,
			NewEndTime:  newEnd,
		}})
	}
	evs, err := a.outboxEvents(now, pending...)
	if err != nil {
		return nil, err
	}

	err = a.retry.do(a.ctx, "append_bid", func(ctx context.Context) error {
		return a.store.AppendBid(ctx, bid, updated, evs)
	})
	if err != nil {
		log.Error().
			Err(err).
			Str("auction_id", a.id.String()).
			Str("bidder_id", bidderID).
			Int64("bid_seq", bid.Seq).
			Str("amount", amount.String()).
			Msg("failed to persist bid")
		return nil, auctionerr.Wrap(auctionerr.CodePersistenceFailure, err, "bid could not be recorded")
	}
	if err := a.ledger.Append(bid); err != nil {
		log.Error().
			Err(err).
			Str("auction_id", a.id.String()).
			Int64("bid_seq", bid.Seq).
			Msg("ledger rejected a persisted bid")
		return nil, auctionerr.Wrap(auctionerr.CodeStateConflict, err, "ledger rejected bid")
	}
	a.auction = updated
	if extended {
		a.arm()
	}

	a.publish(broadcast.Event{
		Type:        broadcast.TypeNewBid,
		Timestamp:   now,
		Bid:         &bid,
		Leaderboard: a.ledger.Leaderboard(),
	})
	if extended {
		end := newEnd
		a.publish(broadcast.Event{Type: broadcast.TypeTimeExtended, Timestamp: now, EndTime: &end})
	}

	end, _ := a.auction.EffectiveEndTime()
	receipt := &BidReceipt{
		Bid:          bid,
		Rank:         a.ledger.RankOf(bidderID),
		BelowReserve: res.BelowReserve,
		Extended:     extended,
		EndTime:      end,
	}

	log.Info().
		Str("auction_id", a.id.String()).
		Str("bidder_id", bidderID).
		Int64("bid_seq", bid.Seq).
		Str("amount", amount.String()).
		Int("rank", receipt.Rank).
		Bool("extended", extended).
		Msg("bid accepted")
	return receipt, nil
}

func (a *actor) isQualified(bidderID string) (bool, error) {
	b, err := a.store.GetBidder(a.ctx, a.id, bidderID)
	if errors.Is(err, auctionerr.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, auctionerr.Wrap(auctionerr.CodePersistenceFailure, err, "failed to load bidder")
	}
	return b.Qualified, nil
}

func (a *actor) schedule(start, end time.Time) (*models.Auction, error) {
	if a.auction.Status != models.AuctionStatusDraft {
		return nil, a.conflict("schedule")
	}

	now := a.clock.Now().UTC()
	updated := a.auction.Clone()
	updated.Status = models.AuctionStatusScheduled
	updated.StartTime = &start
	updated.ScheduledEnd = &end
	updated.ExtendedEnd = nil
	updated.UpdatedAt = now

	evs, err := a.outboxEvents(now, domainEvent{events.AuctionScheduled, events.AuctionScheduledPayload{
		AuctionID:        a.id.String(),
		Reference:        updated.Reference,
		StartTime:        start,
		ScheduledEndTime: end,
	}})
	if err != nil {
		return nil, err
	}
	if err := a.commit(updated, evs, "schedule"); err != nil {
		return nil, err
	}
	a.arm()

	log.Info().
		Str("auction_id", a.id.String()).
		Time("start_time", start).
		Time("end_time", end).
		Msg("auction scheduled")
	return a.auction.Clone(), nil
}

func (a *actor) start() (*models.Auction, error) {
	if a.auction.Status != models.AuctionStatusScheduled {
		return nil, a.conflict("start")
	}
	if err := a.goLive(a.clock.Now().UTC(), true); err != nil {
		return nil, err
	}
	return a.auction.Clone(), nil
}

func (a *actor) forceEnd() (*models.Auction, error) {
	if a.auction.Status != models.AuctionStatusLive {
		return nil, a.conflict("end")
	}
	if err := a.closeBidding(a.clock.Now().UTC(), true); err != nil {
		return nil, err
	}
	return a.auction.Clone(), nil
}

func (a *actor) award(bidderID string) (*models.Auction, error) {
	now := a.clock.Now().UTC()
	a.advance(now)
	if a.auction.Status != models.AuctionStatusEnded {
		return nil, a.conflict("award")
	}
	bid, ok := a.ledger.BestBid(bidderID)
	if !ok {
		return nil, auctionerr.New(auctionerr.CodeInvalidArgument, "bidder %s has no bid on this auction", bidderID)
	}

	updated := a.auction.Clone()
	updated.Status = models.AuctionStatusAwarded
	updated.AwardedBidderID = bidderID
	seq := bid.Seq
	updated.WinningBidSeq = &seq
	updated.UpdatedAt = now

	evs, err := a.outboxEvents(now, domainEvent{events.AuctionAwarded, events.AuctionAwardedPayload{
		AuctionID: a.id.String(),
		BidderID:  bidderID,
		BidID:     bid.Seq,
		Amount:    bid.Amount,
		AwardedAt: now,
	}})
	if err != nil {
		return nil, err
	}
	if err := a.commit(updated, evs, "award"); err != nil {
		return nil, err
	}
	a.alarm.Stop()
	a.publish(broadcast.Event{Type: broadcast.TypeAuctionAwarded, Timestamp: now, WinningBid: &bid})

	log.Info().
		Str("auction_id", a.id.String()).
		Str("bidder_id", bidderID).
		Int64("bid_seq", bid.Seq).
		Str("amount", bid.Amount.String()).
		Msg("auction awarded")
	return a.auction.Clone(), nil
}

func (a *actor) cancel(reason string) (*models.Auction, error) {
	if a.auction.Status.IsTerminal() {
		return nil, a.conflict("cancel")
	}

	now := a.clock.Now().UTC()
	previous := a.auction.Status
	updated := a.auction.Clone()
	updated.Status = models.AuctionStatusCancelled
	updated.CancelReason = reason
	updated.UpdatedAt = now

	evs, err := a.outboxEvents(now, domainEvent{events.AuctionCancelled, events.AuctionCancelledPayload{
		AuctionID:      a.id.String(),
		Reason:         reason,
		PreviousStatus: string(previous),
		CancelledAt:    now,
	}})
	if err != nil {
		return nil, err
	}
	if err := a.commit(updated, evs, "cancel"); err != nil {
		return nil, err
	}
	a.alarm.Stop()
	a.publish(broadcast.Event{Type: broadcast.TypeAuctionCancelled, Timestamp: now, Reason: reason})

	log.Info().
		Str("auction_id", a.id.String()).
		Str("previous_status", string(previous)).
		Str("reason", reason).
		Msg("auction cancelled")
	return a.auction.Clone(), nil
}

// advance applies the transitions the clock has made due by now. Stale or early alarm
// fires find nothing due and change nothing.
func (a *actor) advance(now time.Time) {
	if a.auction.Status == models.AuctionStatusScheduled &&
		a.auction.StartTime != nil && !now.Before(*a.auction.StartTime) {
		if err := a.goLive(now, false); err != nil {
			a.retryLater(now, startDue{})
			return
		}
	}
	if a.auction.Status == models.AuctionStatusLive {
		if end, ok := a.auction.EffectiveEndTime(); ok && !now.Before(end) {
			if err := a.closeBidding(now, false); err != nil {
				a.retryLater(now, deadlineReached{})
			}
		}
	}
}

func (a *actor) goLive(now time.Time, manual bool) error {
	updated := a.auction.Clone()
	updated.Status = models.AuctionStatusLive
	if manual || updated.StartTime == nil {
		updated.StartTime = &now
	}
	updated.UpdatedAt = now
	end, _ := updated.EffectiveEndTime()

	evs, err := a.outboxEvents(now, domainEvent{events.AuctionStarted, events.AuctionStartedPayload{
		AuctionID: a.id.String(),
		StartedAt: now,
		EndTime:   end,
		Manual:    manual,
	}})
	if err != nil {
		return err
	}
	if err := a.commit(updated, evs, "start"); err != nil {
		return err
	}
	a.arm()
	a.publish(broadcast.Event{Type: broadcast.TypeAuctionStarted, Timestamp: now, EndTime: &end})

	log.Info().
		Str("auction_id", a.id.String()).
		Bool("manual", manual).
		Time("end_time", end).
		Msg("auction live")
	return nil
}

func (a *actor) closeBidding(now time.Time, forced bool) error {
	updated := a.auction.Clone()
	updated.Status = models.AuctionStatusEnded
	updated.UpdatedAt = now

	payload := events.AuctionEndedPayload{
		AuctionID: a.id.String(),
		EndedAt:   now,
		Forced:    forced,
		TotalBids: a.ledger.Len(),
	}
	head := a.ledger.Head()
	if head != nil {
		seq, amount := head.Seq, head.Amount
		updated.WinningBidSeq = &seq
		payload.WinningBidID = &seq
		payload.WinningAmount = &amount
		payload.WinningBidder = head.BidderID
		payload.BelowReserve = updated.ReservePrice != nil && amount.LessThan(*updated.ReservePrice)
	}

	evs, err := a.outboxEvents(now, domainEvent{events.AuctionEnded, payload})
	if err != nil {
		return err
	}
	if err := a.commit(updated, evs, "end"); err != nil {
		return err
	}
	a.alarm.Stop()
	a.publish(broadcast.Event{Type: broadcast.TypeAuctionEnded, Timestamp: now, WinningBid: head})

	log.Info().
		Str("auction_id", a.id.String()).
		Bool("forced", forced).
		Int("total_bids", payload.TotalBids).
		Msg("auction ended")
	return nil
}

func (a *actor) snapshot() *Snapshot {
	now := a.clock.Now().UTC()
	a.advance(now)

	snap := &Snapshot{
		Auction:       a.auction.Clone(),
		Bids:          a.ledger.Tail(a.snapshotTail),
		Leaderboard:   a.ledger.Leaderboard(),
		History:       a.ledger.History(a.auction.StartingPrice),
		CurrentPrice:  bidvalidator.CurrentPrice(a.auction, a.ledger.Head()),
		BidCount:      a.ledger.Len(),
		ActiveBidders: len(a.presence),
		EventSeq:      a.eventSeq,
		TakenAt:       now,
	}
	if a.auction.Status == models.AuctionStatusLive || a.auction.Status == models.AuctionStatusScheduled {
		if cd, ok := clock.Countdown(a.auction, now); ok {
			snap.Countdown = &cd
		}
	}
	return snap
}

func (a *actor) updatePresence(bidderID string, joined bool) int {
	if bidderID == "" {
		return len(a.presence)
	}

	if joined {
		a.presence[bidderID]++
		if a.presence[bidderID] == 1 {
			a.publish(broadcast.Event{Type: broadcast.TypeBidderJoined, ActiveCount: len(a.presence)})
		}
		return len(a.presence)
	}

	n, ok := a.presence[bidderID]
	if !ok {
		return len(a.presence)
	}
	if n > 1 {
		a.presence[bidderID] = n - 1
		return len(a.presence)
	}
	delete(a.presence, bidderID)
	a.publish(broadcast.Event{Type: broadcast.TypeBidderLeft, ActiveCount: len(a.presence)})
	return len(a.presence)
}

// arm points the alarm at the next clock-driven transition for the current status.
func (a *actor) arm() {
	switch a.auction.Status {
	case models.AuctionStatusScheduled:
		if a.auction.StartTime != nil {
			a.alarm.Set(*a.auction.StartTime, func() { a.enqueue(startDue{}) })
		}
	case models.AuctionStatusLive:
		if end, ok := a.auction.EffectiveEndTime(); ok {
			a.alarm.Set(end, func() { a.enqueue(deadlineReached{}) })
		}
	default:
		a.alarm.Stop()
	}
}

func (a *actor) retryLater(now time.Time, cmd command) {
	a.alarm.Set(now.Add(a.retry.MaxDelay), func() { a.enqueue(cmd) })
}

// commit persists a lifecycle change and only then adopts it. A write rejected because the
// stored row moved on since it was read reloads the auction and reports a conflict.
func (a *actor) commit(updated *models.Auction, evs []outbox.OutboxEvent, op string) error {
	err := a.retry.do(a.ctx, op, func(ctx context.Context) error {
		return a.store.SaveTransition(ctx, a.auction, updated, evs)
	})
	if errors.Is(err, record.ErrStaleWrite) {
		log.Warn().
			Str("auction_id", a.id.String()).
			Str("op", op).
			Msg("auction changed underneath the coordinator, reloading")
		if current, gerr := a.store.GetAuction(a.ctx, a.id); gerr == nil {
			a.auction = current
		}
		return auctionerr.Wrap(auctionerr.CodeStateConflict, err, "auction changed while %s was in progress, retry", op)
	}
	if err != nil {
		log.Error().
			Err(err).
			Str("auction_id", a.id.String()).
			Str("op", op).
			Str("from_status", string(a.auction.Status)).
			Str("to_status", string(updated.Status)).
			Msg("failed to persist auction transition")
		return auctionerr.Wrap(auctionerr.CodePersistenceFailure, err, "%s could not be recorded", op)
	}
	a.auction = updated
	return nil
}

func (a *actor) conflict(op string) error {
	log.Warn().
		Str("auction_id", a.id.String()).
		Str("op", op).
		Str("status", string(a.auction.Status)).
		Msg("illegal auction transition")
	return auctionerr.New(auctionerr.CodeStateConflict, "cannot %s auction in status %s", op, a.auction.Status)
}

func (a *actor) publish(ev broadcast.Event) {
	a.eventSeq++
	ev.Seq = a.eventSeq
	ev.AuctionID = a.id
	ev.Visibility = a.auction.Visibility
	if ev.Timestamp.IsZero() {
		ev.Timestamp = a.clock.Now().UTC()
	}
	a.hub.Publish(ev)
}

type domainEvent struct {
	eventType string
	payload   any
}

func (a *actor) outboxEvents(now time.Time, des ...domainEvent) ([]outbox.OutboxEvent, error) {
	evs := make([]outbox.OutboxEvent, 0, len(des))
	for _, de := range des {
		ev, err := outbox.NewEvent(a.id, de.eventType, de.payload, now)
		if err != nil {
			return nil, err
		}
		evs = append(evs, ev)
	}
	return evs, nil
}
