package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/reverseauction/go/internal/auction/auctionerr"
	"github.com/mcdev12/reverseauction/go/internal/auction/broadcast"
	"github.com/mcdev12/reverseauction/go/internal/auction/coordinator"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// Coordinator is what a session needs from the auction coordinator.
type Coordinator interface {
	PlaceBid(ctx context.Context, auctionID uuid.UUID, bidderID string, amount decimal.Decimal) (*coordinator.BidReceipt, error)
	Snapshot(ctx context.Context, auctionID uuid.UUID) (*coordinator.Snapshot, error)
	Join(ctx context.Context, auctionID uuid.UUID, bidderID string) (int, error)
	Leave(ctx context.Context, auctionID uuid.UUID, bidderID string) (int, error)
}

// ConnectionConfig holds configuration for WebSocket connections
type ConnectionConfig struct {
	WriteTimeout     time.Duration
	ReadTimeout      time.Duration
	PingInterval     time.Duration
	MissedHeartbeats int
	RequestTimeout   time.Duration
	MaxMessageSize   int64
	ReadBufferSize   int
	WriteBufferSize  int
	CheckOrigin      func(r *http.Request) bool
}

// DefaultConnectionConfig returns default WebSocket configuration
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:     10 * time.Second,
		ReadTimeout:      60 * time.Second,
		PingInterval:     15 * time.Second,
		MissedHeartbeats: 2,
		RequestTimeout:   10 * time.Second,
		MaxMessageSize:   1024,
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		CheckOrigin: func(r *http.Request) bool {
			// Allow all origins in development - restrict in production
			return true
		},
	}
}

// ConnectionManager manages bidder WebSocket sessions
type ConnectionManager struct {
	coord Coordinator
	hub   *broadcast.Hub
	clock clockwork.Clock

	upgrader websocket.Upgrader
	config   ConnectionConfig

	mu          sync.RWMutex
	connections map[uuid.UUID]map[*Connection]bool
}

// Connection is one bidder's (or observer's) session on one auction.
type Connection struct {
	ID        string
	BidderID  string
	AuctionID uuid.UUID
	Conn      *websocket.Conn
	Manager   *ConnectionManager

	sub       *broadcast.Subscription
	snapSeq   uint64
	send      chan broadcast.Message
	closed    chan struct{}
	closeOnce sync.Once

	ConnectedAt time.Time

	mu       sync.Mutex
	lastSeen time.Time
	active   bool
}

// NewConnectionManager creates a new WebSocket connection manager
func NewConnectionManager(coord Coordinator, hub *broadcast.Hub, clock clockwork.Clock, config ConnectionConfig) *ConnectionManager {
	if config.MissedHeartbeats <= 0 {
		config.MissedHeartbeats = 1
	}
	return &ConnectionManager{
		coord: coord,
		hub:   hub,
		clock: clock,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		connections: make(map[uuid.UUID]map[*Connection]bool),
	}
}

// UpgradeConnection opens a session. The hub subscription is taken before the snapshot so
// that any event published in between is buffered; the write pump drops what the snapshot
// already covers.
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request, bidderID string, auctionID uuid.UUID) error {
	sub := cm.hub.Subscribe(auctionID, bidderID)

	ctx, cancel := context.WithTimeout(r.Context(), cm.config.RequestTimeout)
	snap, err := cm.coord.Snapshot(ctx, auctionID)
	cancel()
	if err != nil {
		sub.Close()
		return err
	}

	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		sub.Close()
		log.Error().Err(err).Msg("failed to upgrade WebSocket connection")
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	now := cm.clock.Now()
	c := &Connection{
		ID:          uuid.New().String(),
		BidderID:    bidderID,
		AuctionID:   auctionID,
		Conn:        conn,
		Manager:     cm,
		sub:         sub,
		snapSeq:     snap.EventSeq,
		send:        make(chan broadcast.Message, 16),
		closed:      make(chan struct{}),
		ConnectedAt: now,
		lastSeen:    now,
	}
	c.send <- snapshotMessage(snap, broadcast.Viewer{BidderID: bidderID})

	cm.registerConnection(c)
	c.markActive()

	go c.writePump()
	go c.readPump()

	log.Info().
		Str("connection_id", c.ID).
		Str("bidder_id", bidderID).
		Str("auction_id", auctionID.String()).
		Uint64("snapshot_seq", snap.EventSeq).
		Msg("WebSocket connection established")
	return nil
}

func (cm *ConnectionManager) registerConnection(c *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.connections[c.AuctionID] == nil {
		cm.connections[c.AuctionID] = make(map[*Connection]bool)
	}
	cm.connections[c.AuctionID][c] = true

	log.Debug().
		Str("connection_id", c.ID).
		Str("auction_id", c.AuctionID.String()).
		Int("total_connections", len(cm.connections[c.AuctionID])).
		Msg("connection registered")
}

func (cm *ConnectionManager) unregisterConnection(c *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if conns, exists := cm.connections[c.AuctionID]; exists {
		delete(conns, c)
		if len(conns) == 0 {
			delete(cm.connections, c.AuctionID)
		}
	}
}

// ConnectionStats summarises open sessions.
type ConnectionStats struct {
	TotalConnections   int            `json:"total_connections"`
	ActiveAuctions     int            `json:"active_auctions"`
	AuctionConnections map[string]int `json:"auction_connections"`
	Subscribers        int            `json:"subscribers"`
}

// GetConnectionStats returns statistics about active connections
func (cm *ConnectionManager) GetConnectionStats() ConnectionStats {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	stats := ConnectionStats{
		AuctionConnections: make(map[string]int, len(cm.connections)),
		ActiveAuctions:     len(cm.connections),
		Subscribers:        cm.hub.Stats().TotalSubscribers,
	}
	for auctionID, conns := range cm.connections {
		stats.TotalConnections += len(conns)
		stats.AuctionConnections[auctionID.String()] = len(conns)
	}
	return stats
}

// CheckHeartbeats marks bidders inactive when they have been silent for more than
// MissedHeartbeats ping intervals.
func (cm *ConnectionManager) CheckHeartbeats() {
	cm.mu.RLock()
	var conns []*Connection
	for _, set := range cm.connections {
		for c := range set {
			conns = append(conns, c)
		}
	}
	cm.mu.RUnlock()

	now := cm.clock.Now()
	for _, c := range conns {
		c.checkHeartbeat(now)
	}
}

func (c *Connection) requestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), c.Manager.config.RequestTimeout)
}

// markActive records a heartbeat and rejoins the bidder if they had gone quiet.
func (c *Connection) markActive() {
	c.mu.Lock()
	c.lastSeen = c.Manager.clock.Now()
	rejoin := !c.active
	c.active = true
	c.mu.Unlock()

	if !rejoin || c.BidderID == "" {
		return
	}
	ctx, cancel := c.requestContext()
	defer cancel()
	if _, err := c.Manager.coord.Join(ctx, c.AuctionID, c.BidderID); err != nil {
		log.Warn().Err(err).Str("connection_id", c.ID).Msg("failed to mark bidder active")
	}
}

func (c *Connection) markInactive() {
	c.mu.Lock()
	wasActive := c.active
	c.active = false
	c.mu.Unlock()

	if !wasActive || c.BidderID == "" {
		return
	}
	ctx, cancel := c.requestContext()
	defer cancel()
	if _, err := c.Manager.coord.Leave(ctx, c.AuctionID, c.BidderID); err != nil {
		log.Warn().Err(err).Str("connection_id", c.ID).Msg("failed to mark bidder inactive")
	}
}

func (c *Connection) checkHeartbeat(now time.Time) {
	c.mu.Lock()
	silent := now.Sub(c.lastSeen)
	active := c.active
	c.mu.Unlock()

	limit := time.Duration(c.Manager.config.MissedHeartbeats) * c.Manager.config.PingInterval
	if active && silent > limit {
		log.Info().
			Str("connection_id", c.ID).
			Str("bidder_id", c.BidderID).
			Dur("silent_for", silent).
			Msg("missed heartbeats, marking bidder inactive")
		c.markInactive()
	}
}

// Active reports whether the session currently counts towards the auction's active bidders.
func (c *Connection) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

func (c *Connection) close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.Conn.Close()
		c.sub.Close()
		c.Manager.unregisterConnection(c)
		c.markInactive()

		log.Info().
			Str("connection_id", c.ID).
			Str("bidder_id", c.BidderID).
			Str("auction_id", c.AuctionID.String()).
			Msg("connection closed")
	})
}

// reply queues a message for this connection only.
func (c *Connection) reply(msg broadcast.Message) {
	select {
	case c.send <- msg:
	case <-c.closed:
	}
}

func (c *Connection) direct(typ broadcast.MessageType, data any) broadcast.Message {
	now := c.Manager.clock.Now().UTC()
	return broadcast.Message{
		ID:        broadcast.NewMessageID(now),
		Type:      typ,
		AuctionID: c.AuctionID.String(),
		Timestamp: now,
		Data:      data,
	}
}

func (c *Connection) write(msg broadcast.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", msg.Type, err)
	}
	c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
	return c.Conn.WriteMessage(websocket.TextMessage, data)
}

// writePump is the only writer to the socket.
func (c *Connection) writePump() {
	ticker := c.Manager.clock.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.closed:
			return

		case msg := <-c.send:
			if err := c.write(msg); err != nil {
				log.Error().Err(err).Str("connection_id", c.ID).Msg("failed to write message to WebSocket")
				return
			}

		case msg := <-c.sub.Messages():
			if msg.Seq <= c.snapSeq {
				continue
			}
			if err := c.write(msg); err != nil {
				log.Error().Err(err).Str("connection_id", c.ID).Msg("failed to write message to WebSocket")
				return
			}

		case <-c.sub.Done():
			if c.sub.Dropped() {
				c.write(c.direct(broadcast.TypeResync, broadcast.ResyncData{Code: auctionerr.CodeStaleSnapshot, Reason: "event queue overflow"}))
				c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
				c.Conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "resync required"))
			}
			return

		case <-ticker.Chan():
			c.checkHeartbeat(c.Manager.clock.Now())
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().Err(err).Str("connection_id", c.ID).Msg("failed to send ping")
				return
			}
		}
	}
}

// readPump handles reading messages from the WebSocket connection
func (c *Connection) readPump() {
	defer c.close()

	c.Conn.SetReadLimit(c.Manager.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
		c.markActive()
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected WebSocket close error")
			}
			return
		}

		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
		c.markActive()
		c.handleClientMessage(message)
	}
}

func (c *Connection) handleClientMessage(message []byte) {
	var in ClientMessage
	if err := json.Unmarshal(message, &in); err != nil {
		c.reply(c.direct(TypeError, ErrorData{Message: "malformed message"}))
		return
	}

	switch in.Type {
	case ClientPing:
		c.reply(c.direct(TypePong, nil))
	case ClientPlaceBid:
		c.placeBid(in)
	default:
		c.reply(c.direct(TypeError, ErrorData{Message: fmt.Sprintf("unknown message type %q", in.Type)}))
	}
}

func (c *Connection) placeBid(in ClientMessage) {
	if in.AuctionID != "" && in.AuctionID != c.AuctionID.String() {
		c.reply(c.direct(TypeError, ErrorData{Message: "auction_id does not match this session"}))
		return
	}
	if in.Amount == nil {
		c.reply(c.direct(TypeError, ErrorData{Message: "amount is required"}))
		return
	}
	if c.BidderID == "" {
		c.reject(in.RequestID, auctionerr.ErrBidderNotQualified)
		return
	}

	ctx, cancel := c.requestContext()
	defer cancel()
	receipt, err := c.Manager.coord.PlaceBid(ctx, c.AuctionID, c.BidderID, *in.Amount)
	if err != nil {
		c.reject(in.RequestID, err)
		return
	}

	viewer := broadcast.Viewer{BidderID: c.BidderID}
	c.reply(c.direct(TypeBidAccepted, BidAcceptedData{
		RequestID: in.RequestID,
		Bid:       viewer.Bid(receipt.Bid, receipt.Bid.Amount),
		Rank:      receipt.Rank,
		EndTime:   receipt.EndTime,
		Extended:  receipt.Extended,
	}))
}

func (c *Connection) reject(requestID string, err error) {
	code, message := auctionerr.CodeOf(err), auctionerr.MessageOf(err)
	switch {
	case code != "":
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		// The bid was never handed to the auction; nothing was recorded.
		code = auctionerr.CodeRequestExpired
	case errors.Is(err, coordinator.ErrClosed):
		code, message = auctionerr.CodeRequestExpired, "bidding is shutting down, bid not recorded"
	default:
		code = auctionerr.CodePersistenceFailure
		log.Error().Err(err).Str("connection_id", c.ID).Msg("bid failed without a domain error")
	}
	c.reply(c.direct(TypeBidRejected, BidRejectedData{
		RequestID: requestID,
		Reason:    code,
		Message:   message,
	}))
}
