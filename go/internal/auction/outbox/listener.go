package outbox

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

// ListenerConfig tunes the outbox relay.
type ListenerConfig struct {
	DatabaseURL  string
	Channel      string        // NOTIFY channel fed by the auction_outbox trigger
	PollInterval time.Duration // sweep for rows whose notification was lost
	KeepAlive    time.Duration // ping the LISTEN connection this often
	BatchSize    int
	MaxRetries   int
	RetryDelay   time.Duration // grows linearly with each retry

	MinReconnect time.Duration
	MaxReconnect time.Duration
}

func DefaultListenerConfig() ListenerConfig {
	return ListenerConfig{
		Channel:      "auction_outbox_events",
		PollInterval: 15 * time.Second,
		KeepAlive:    time.Minute,
		BatchSize:    200,
		MaxRetries:   4,
		RetryDelay:   250 * time.Millisecond,
		MinReconnect: 5 * time.Second,
		MaxReconnect: 2 * time.Minute,
	}
}

// Publisher delivers an outbox event to the message bus.
type Publisher interface {
	Publish(ctx context.Context, event OutboxEvent) error
}

// EventStore is the slice of Repository the relay needs.
type EventStore interface {
	FetchUnsent(ctx context.Context, limit int) ([]OutboxEvent, error)
	FetchByID(ctx context.Context, id uuid.UUID) (*OutboxEvent, error)
	MarkSent(ctx context.Context, id uuid.UUID) error
}

// Listener moves auction events from the outbox table onto the bus. Inserts wake it
// through Postgres NOTIFY; a periodic sweep covers notifications lost while the LISTEN
// connection was down.
type Listener struct {
	store     EventStore
	conn      *pq.Listener
	publisher Publisher
	cfg       ListenerConfig

	relayed atomic.Uint64
	lastAt  atomic.Int64
}

func NewListener(store EventStore, publisher Publisher, cfg ListenerConfig) (*Listener, error) {
	conn := pq.NewListener(cfg.DatabaseURL, cfg.MinReconnect, cfg.MaxReconnect,
		func(ev pq.ListenerEventType, err error) {
			switch ev {
			case pq.ListenerEventDisconnected:
				log.Warn().Err(err).Str("channel", cfg.Channel).Msg("outbox listen connection lost")
			case pq.ListenerEventReconnected:
				log.Info().Str("channel", cfg.Channel).Msg("outbox listen connection restored")
			case pq.ListenerEventConnectionAttemptFailed:
				log.Error().Err(err).Msg("outbox listen reconnect failed")
			}
		})
	if err := conn.Listen(cfg.Channel); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to listen on %s: %w", cfg.Channel, err)
	}

	l := newRelay(store, publisher, cfg)
	l.conn = conn
	return l, nil
}

// newRelay builds a Listener that only sweeps; it never receives notifications.
func newRelay(store EventStore, publisher Publisher, cfg ListenerConfig) *Listener {
	return &Listener{store: store, publisher: publisher, cfg: cfg}
}

// Start relays events until ctx ends. Rows left over from a previous run go out first.
func (l *Listener) Start(ctx context.Context) error {
	log.Info().
		Str("channel", l.cfg.Channel).
		Dur("poll_interval", l.cfg.PollInterval).
		Int("batch_size", l.cfg.BatchSize).
		Msg("outbox relay running")

	l.sweep(ctx, "startup")

	poll := time.NewTicker(l.cfg.PollInterval)
	defer poll.Stop()
	keepAlive := time.NewTicker(l.cfg.KeepAlive)
	defer keepAlive.Stop()

	var notifications <-chan *pq.Notification
	if l.conn != nil {
		notifications = l.conn.Notify
	}

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("outbox relay stopping")
			return l.Stop()

		case n := <-notifications:
			// pq sends nil after a reconnect; anything inserted meanwhile was not announced.
			if n == nil {
				l.sweep(ctx, "reconnect")
				continue
			}
			if err := l.handleNotification(ctx, n.Extra); err != nil {
				log.Error().Err(err).Str("payload", n.Extra).Msg("outbox notification not relayed")
			}

		case <-poll.C:
			l.sweep(ctx, "poll")

		case <-keepAlive.C:
			if l.conn == nil {
				continue
			}
			if err := l.conn.Ping(); err != nil {
				log.Warn().Err(err).Msg("outbox listen connection ping failed")
			}
		}
	}
}

func (l *Listener) Stop() error {
	if l.conn == nil {
		return nil
	}
	return l.conn.Close()
}

// Stats reports how many events were relayed and when the latest one was.
func (l *Listener) Stats() (uint64, time.Time) {
	var last time.Time
	if ns := l.lastAt.Load(); ns != 0 {
		last = time.Unix(0, ns)
	}
	return l.relayed.Load(), last
}

func (l *Listener) sweep(ctx context.Context, trigger string) {
	if err := l.processUnsent(ctx); err != nil {
		log.Error().Err(err).Str("trigger", trigger).Msg("outbox sweep stopped early")
	}
}

// handleNotification relays the single event whose id is the notification payload.
// An id that is already sent yields ErrNotPending from the store.
func (l *Listener) handleNotification(ctx context.Context, payload string) error {
	id, err := uuid.Parse(payload)
	if err != nil {
		return fmt.Errorf("notification payload is not an event id: %w", err)
	}
	ev, err := l.store.FetchByID(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load outbox event %s: %w", id, err)
	}
	return l.relay(ctx, *ev)
}

// processUnsent relays the oldest pending events in order. The first failure ends the
// batch so an auction's later events never overtake an earlier one.
func (l *Listener) processUnsent(ctx context.Context) error {
	pending, err := l.store.FetchUnsent(ctx, l.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("failed to load pending outbox events: %w", err)
	}
	for i, ev := range pending {
		if err := l.relay(ctx, ev); err != nil {
			return fmt.Errorf("relayed %d of %d, event %s: %w", i, len(pending), ev.ID, err)
		}
	}
	if len(pending) > 0 {
		log.Debug().Int("count", len(pending)).Msg("outbox batch relayed")
	}
	return nil
}

// relay publishes one event and marks it sent. Publishing is retried with a linearly
// growing delay; a failed MarkSent is not retried and the event is published again later.
func (l *Listener) relay(ctx context.Context, ev OutboxEvent) error {
	logger := log.With().
		Str("event_id", ev.ID.String()).
		Str("event_type", ev.EventType).
		Str("auction_id", ev.AuctionID.String()).
		Logger()

	attempts := l.cfg.MaxRetries + 1
	var err error
	for n := 1; n <= attempts; n++ {
		if err = l.publisher.Publish(ctx, ev); err == nil {
			break
		}
		logger.Warn().Err(err).Int("attempt", n).Int("of", attempts).Msg("outbox publish failed")
		if n == attempts {
			return fmt.Errorf("gave up after %d publish attempts: %w", attempts, err)
		}
		select {
		case <-time.After(l.cfg.RetryDelay * time.Duration(n)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if err := l.store.MarkSent(ctx, ev.ID); err != nil {
		return fmt.Errorf("published but not marked sent: %w", err)
	}
	l.relayed.Add(1)
	l.lastAt.Store(time.Now().UnixNano())
	logger.Debug().Msg("outbox event relayed")
	return nil
}
