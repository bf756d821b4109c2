package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/reverseauction/go/internal/auction/auctionerr"
	"github.com/mcdev12/reverseauction/go/internal/auction/broadcast"
	"github.com/mcdev12/reverseauction/go/internal/auction/coordinator"
	"github.com/mcdev12/reverseauction/go/internal/auction/outbox"
	"github.com/mcdev12/reverseauction/go/internal/auction/record"
	"github.com/mcdev12/reverseauction/go/internal/models"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"github.com/shopspring/decimal"
)

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

type env struct {
	t     *testing.T
	clock *clockwork.FakeClock
	app   *record.App
	hub   *broadcast.Hub
	coord *coordinator.Manager
	conns *ConnectionManager
	srv   *httptest.Server
}

func newEnv(t *testing.T, queueSize int) *env {
	t.Helper()
	return newEnvWith(t, queueSize, record.NewMemoryStore(), DefaultConnectionConfig())
}

func newEnvWith(t *testing.T, queueSize int, store record.Store, cfg ConnectionConfig) *env {
	t.Helper()
	fc := clockwork.NewFakeClockAt(t0)
	app := record.NewApp(store, fc)
	hub := broadcast.NewHub(queueSize)
	coord := coordinator.NewManager(store, hub, fc, coordinator.Config{})
	conns := NewConnectionManager(coord, hub, fc, cfg)

	r := chi.NewRouter()
	NewHandler(conns, coord, app).RegisterRoutes(r)
	srv := httptest.NewServer(r)

	t.Cleanup(func() {
		srv.Close()
		coord.Close()
	})
	return &env{t: t, clock: fc, app: app, hub: hub, coord: coord, conns: conns, srv: srv}
}

func amount(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}

// liveAuction creates, schedules and starts a 2,500,000 / 5,000 auction with the given
// qualified bidders.
func (e *env) liveAuction(visibility *models.VisibilityPolicy, bidders ...string) *models.Auction {
	e.t.Helper()
	ctx := context.Background()
	decrement := amount(5_000)
	req := record.CreateAuctionRequest{
		Title:         "Road salt supply",
		CreatedBy:     "buyer@example.org",
		StartingPrice: amount(2_500_000),
		MinDecrement:  &decrement,
		Item:          record.ItemRequest{Name: "Road salt", Quantity: 1200, Unit: "tonnes"},
	}
	if visibility != nil {
		req.AnonymousBidding = &visibility.AnonymousBidding
		req.RankOnly = &visibility.RankOnly
	}
	a, err := e.app.CreateAuction(ctx, req)
	assert.NoError(e.t, err)
	for _, id := range bidders {
		_, err := e.app.QualifyBidder(ctx, record.QualifyBidderRequest{
			AuctionID: a.ID, BidderID: id, SupplierName: "Supplier " + id, Qualified: true,
		})
		assert.NoError(e.t, err)
	}

	now := e.clock.Now()
	_, err = e.coord.Schedule(ctx, a.ID, now.Add(time.Minute), now.Add(30*time.Minute))
	assert.NoError(e.t, err)
	started, err := e.coord.Start(ctx, a.ID)
	assert.NoError(e.t, err)
	return started
}

func (e *env) dial(auctionID uuid.UUID, bidderID string) *websocket.Conn {
	e.t.Helper()
	url := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/ws/auction?auction_id=" + auctionID.String()
	if bidderID != "" {
		url += "&bidder_id=" + bidderID
	}
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	assert.NoError(e.t, err)
	e.t.Cleanup(func() { conn.Close() })
	return conn
}

type wireMessage struct {
	ID   string                `json:"id"`
	Type broadcast.MessageType `json:"type"`
	Seq  uint64                `json:"seq"`
	Data json.RawMessage       `json:"data"`
}

func read(t *testing.T, conn *websocket.Conn) wireMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg wireMessage
	assert.NoError(t, conn.ReadJSON(&msg))
	return msg
}

// readUntil skips broadcast traffic until a message of the given type arrives.
func readUntil(t *testing.T, conn *websocket.Conn, typ broadcast.MessageType) wireMessage {
	t.Helper()
	for {
		msg := read(t, conn)
		if msg.Type == typ {
			return msg
		}
	}
}

func decode[T any](t *testing.T, msg wireMessage) T {
	t.Helper()
	var out T
	assert.NoError(t, json.Unmarshal(msg.Data, &out))
	return out
}

func send(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	assert.NoError(t, conn.WriteJSON(v))
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSnapshotIsFirstMessage(t *testing.T) {
	e := newEnv(t, 256)
	a := e.liveAuction(nil, "s1", "s2")
	_, err := e.coord.PlaceBid(context.Background(), a.ID, "s2", amount(2_450_000))
	assert.NoError(t, err)

	conn := e.dial(a.ID, "s1")
	msg := read(t, conn)
	assert.Equal(t, TypeSnapshot, msg.Type)

	snap := decode[SnapshotData](t, msg)
	check.Equal(t, a.ID.String(), snap.Auction.ID)
	check.Equal(t, models.AuctionStatusLive, snap.Auction.Status)
	check.Equal(t, 1, snap.BidCount)
	check.True(t, snap.CurrentPrice.Equal(amount(2_450_000)))
	assert.Equal(t, 1, len(snap.Leaderboard))
	check.False(t, snap.Leaderboard[0].IsOwn)
	check.NotNil(t, snap.Countdown)
	check.Equal(t, 0, snap.YourRank)
}

func TestPlaceBidOverSocket(t *testing.T) {
	e := newEnv(t, 256)
	a := e.liveAuction(nil, "s1", "s2")

	s1 := e.dial(a.ID, "s1")
	read(t, s1)
	s2 := e.dial(a.ID, "s2")
	read(t, s2)

	send(t, s1, ClientMessage{Type: ClientPlaceBid, RequestID: "r1", Amount: ptr(amount(2_490_000))})
	accepted := decode[BidAcceptedData](t, readUntil(t, s1, TypeBidAccepted))
	check.Equal(t, "r1", accepted.RequestID)
	check.Equal(t, 1, accepted.Rank)
	check.True(t, accepted.Bid.IsOwn)
	check.False(t, accepted.Extended)

	newBid := decode[broadcast.NewBidData](t, readUntil(t, s2, broadcast.TypeNewBid))
	check.False(t, newBid.Bid.IsOwn)
	check.True(t, newBid.Bid.Amount.Equal(amount(2_490_000)))

	send(t, s2, ClientMessage{Type: ClientPlaceBid, RequestID: "r2", Amount: ptr(amount(2_495_000))})
	rejected := decode[BidRejectedData](t, readUntil(t, s2, TypeBidRejected))
	check.Equal(t, "r2", rejected.RequestID)
	check.Equal(t, auctionerr.CodeBidNotLower, rejected.Reason)
}

// slowStore takes longer to record a bid than a session waits for the coordinator.
type slowStore struct {
	*record.MemoryStore
	delay   time.Duration
	entered chan struct{}
}

func (s *slowStore) AppendBid(ctx context.Context, bid models.Bid, a *models.Auction, evs []outbox.OutboxEvent) error {
	select {
	case s.entered <- struct{}{}:
	default:
	}
	time.Sleep(s.delay)
	return s.MemoryStore.AppendBid(ctx, bid, a, evs)
}

func TestSlowWriteOutlivesRequestTimeout(t *testing.T) {
	store := &slowStore{MemoryStore: record.NewMemoryStore(), delay: 300 * time.Millisecond, entered: make(chan struct{}, 1)}
	cfg := DefaultConnectionConfig()
	cfg.RequestTimeout = 100 * time.Millisecond
	e := newEnvWith(t, 256, store, cfg)
	a := e.liveAuction(nil, "s1", "s2")

	s1 := e.dial(a.ID, "s1")
	read(t, s1)
	s2 := e.dial(a.ID, "s2")
	read(t, s2)

	send(t, s1, ClientMessage{Type: ClientPlaceBid, RequestID: "slow", Amount: ptr(amount(2_490_000))})
	select {
	case <-store.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("bid never reached the store")
	}
	// Queued behind the slow write, this one expires before the coordinator gets to it.
	send(t, s2, ClientMessage{Type: ClientPlaceBid, RequestID: "queued", Amount: ptr(amount(2_480_000))})

	// The slow bid was recorded, so its bidder must hear it was accepted.
	accepted := decode[BidAcceptedData](t, readUntil(t, s1, TypeBidAccepted))
	check.Equal(t, "slow", accepted.RequestID)
	check.Equal(t, int64(1), accepted.Bid.ID)

	rejected := decode[BidRejectedData](t, readUntil(t, s2, TypeBidRejected))
	check.Equal(t, "queued", rejected.RequestID)
	check.Equal(t, auctionerr.CodeRequestExpired, rejected.Reason)

	snap, err := e.coord.Snapshot(context.Background(), a.ID)
	assert.NoError(t, err)
	check.Equal(t, 1, snap.BidCount)
	check.True(t, snap.CurrentPrice.Equal(amount(2_490_000)))
	bids, err := store.ListBids(context.Background(), a.ID)
	assert.NoError(t, err)
	check.Equal(t, 1, len(bids))
}

func TestObserverCannotBid(t *testing.T) {
	e := newEnv(t, 256)
	a := e.liveAuction(nil, "s1")

	conn := e.dial(a.ID, "")
	read(t, conn)

	send(t, conn, ClientMessage{Type: ClientPlaceBid, Amount: ptr(amount(2_400_000))})
	rejected := decode[BidRejectedData](t, readUntil(t, conn, TypeBidRejected))
	check.Equal(t, auctionerr.CodeBidderNotQualified, rejected.Reason)
}

func TestPingAndMalformedInput(t *testing.T) {
	e := newEnv(t, 256)
	a := e.liveAuction(nil, "s1")
	conn := e.dial(a.ID, "s1")
	read(t, conn)

	send(t, conn, ClientMessage{Type: ClientPing})
	readUntil(t, conn, TypePong)

	assert.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	readUntil(t, conn, TypeError)

	send(t, conn, ClientMessage{Type: "Withdraw"})
	readUntil(t, conn, TypeError)

	send(t, conn, ClientMessage{Type: ClientPlaceBid})
	readUntil(t, conn, TypeError)
}

func TestRankOnlySnapshotHidesCompetitors(t *testing.T) {
	e := newEnv(t, 256)
	a := e.liveAuction(&models.VisibilityPolicy{AnonymousBidding: true, RankOnly: true}, "s1", "s2")
	ctx := context.Background()
	_, err := e.coord.PlaceBid(ctx, a.ID, "s1", amount(2_450_000))
	assert.NoError(t, err)
	_, err = e.coord.PlaceBid(ctx, a.ID, "s2", amount(2_400_000))
	assert.NoError(t, err)

	conn := e.dial(a.ID, "s1")
	snap := decode[SnapshotData](t, read(t, conn))
	check.Equal(t, 2, snap.YourRank)
	assert.Equal(t, 2, len(snap.Leaderboard))
	check.NotNil(t, snap.Leaderboard[0].Amount)
	check.True(t, snap.Leaderboard[1].IsOwn)
	check.Equal(t, "", snap.Leaderboard[0].BidderID)
	for _, h := range snap.History {
		check.True(t, h.Delta == nil)
	}
}

func TestMissedHeartbeatsMarkBidderInactive(t *testing.T) {
	e := newEnv(t, 256)
	a := e.liveAuction(nil, "s1")
	ctx := context.Background()

	conn := e.dial(a.ID, "s1")
	read(t, conn)

	snap, err := e.coord.Snapshot(ctx, a.ID)
	assert.NoError(t, err)
	check.Equal(t, 1, snap.ActiveBidders)

	e.clock.Advance(31 * time.Second)
	e.conns.CheckHeartbeats()
	eventually(t, func() bool {
		snap, err := e.coord.Snapshot(ctx, a.ID)
		return err == nil && snap.ActiveBidders == 0
	})

	// Any client traffic counts as a heartbeat.
	send(t, conn, ClientMessage{Type: ClientPing})
	readUntil(t, conn, TypePong)
	eventually(t, func() bool {
		snap, err := e.coord.Snapshot(ctx, a.ID)
		return err == nil && snap.ActiveBidders == 1
	})
}

func TestDisconnectLeavesAuction(t *testing.T) {
	e := newEnv(t, 256)
	a := e.liveAuction(nil, "s1", "s2")

	observer := e.dial(a.ID, "s2")
	read(t, observer)
	conn := e.dial(a.ID, "s1")
	read(t, conn)

	// The observer first sees its own join.
	for {
		joined := decode[broadcast.PresenceData](t, readUntil(t, observer, broadcast.TypeBidderJoined))
		if joined.ActiveCount == 2 {
			break
		}
	}

	conn.Close()
	left := decode[broadcast.PresenceData](t, readUntil(t, observer, broadcast.TypeBidderLeft))
	check.Equal(t, 1, left.ActiveCount)
	eventually(t, func() bool { return e.conns.GetConnectionStats().TotalConnections == 1 })
}

func TestSlowSessionIsToldToResync(t *testing.T) {
	e := newEnv(t, 1)
	a := e.liveAuction(nil, "s1")
	conn := e.dial(a.ID, "s1")
	read(t, conn)

	for i := 0; i < 500; i++ {
		e.hub.Publish(broadcast.Event{
			Seq:         uint64(1000 + i),
			Type:        broadcast.TypeBidderJoined,
			AuctionID:   a.ID,
			Timestamp:   e.clock.Now(),
			ActiveCount: 1,
		})
	}

	resync := decode[broadcast.ResyncData](t, readUntil(t, conn, broadcast.TypeResync))
	check.Equal(t, auctionerr.CodeStaleSnapshot, resync.Code)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	check.True(t, websocket.IsCloseError(err, websocket.CloseTryAgainLater))
}

func TestUnknownAuctionIsNotFound(t *testing.T) {
	e := newEnv(t, 256)
	url := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/ws/auction?auction_id=" + uuid.New().String()
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	check.Error(t, err)
	assert.NotNil(t, resp)
	check.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Get(e.srv.URL + "/ws/auction?auction_id=nope")
	assert.NoError(t, err)
	resp.Body.Close()
	check.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAuctionListAndState(t *testing.T) {
	e := newEnv(t, 256)
	a := e.liveAuction(nil, "s1")
	_, err := e.coord.PlaceBid(context.Background(), a.ID, "s1", amount(2_400_000))
	assert.NoError(t, err)

	resp, err := http.Get(e.srv.URL + "/api/auctions?status=live")
	assert.NoError(t, err)
	var list auctionListResponse
	assert.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	resp.Body.Close()
	check.Equal(t, 1, list.Total)
	assert.Equal(t, 1, len(list.Auctions))
	check.Equal(t, a.ID.String(), list.Auctions[0].ID)

	resp, err = http.Get(e.srv.URL + "/api/auctions?status=bogus")
	assert.NoError(t, err)
	resp.Body.Close()
	check.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Get(e.srv.URL + "/api/auctions/" + a.ID.String() + "/bids?bidder_id=s1")
	assert.NoError(t, err)
	var history bidHistoryResponse
	assert.NoError(t, json.NewDecoder(resp.Body).Decode(&history))
	resp.Body.Close()
	check.Equal(t, 1, history.BidCount)
	assert.Equal(t, 1, len(history.History))
	check.True(t, history.History[0].Bid.IsOwn)
	check.True(t, history.History[0].IsLeading)

	resp, err = http.Get(e.srv.URL + "/api/auctions/" + uuid.New().String() + "/state")
	assert.NoError(t, err)
	resp.Body.Close()
	check.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func ptr[T any](v T) *T {
	return &v
}
