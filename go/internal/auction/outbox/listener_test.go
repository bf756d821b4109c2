package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
)

type memoryEvents struct {
	mu     sync.Mutex
	events map[uuid.UUID]*OutboxEvent
}

func newMemoryEvents(evs ...OutboxEvent) *memoryEvents {
	m := &memoryEvents{events: make(map[uuid.UUID]*OutboxEvent)}
	for i := range evs {
		ev := evs[i]
		m.events[ev.ID] = &ev
	}
	return m
}

func (m *memoryEvents) FetchUnsent(ctx context.Context, limit int) ([]OutboxEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []OutboxEvent
	for _, ev := range m.events {
		if ev.SentAt == nil {
			out = append(out, *ev)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memoryEvents) FetchByID(ctx context.Context, id uuid.UUID) (*OutboxEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev, ok := m.events[id]
	if !ok || ev.SentAt != nil {
		return nil, ErrNotPending
	}
	cp := *ev
	return &cp, nil
}

func (m *memoryEvents) MarkSent(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ev, ok := m.events[id]; ok && ev.SentAt == nil {
		now := time.Now()
		ev.SentAt = &now
	}
	return nil
}

func (m *memoryEvents) sent(id uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.events[id].SentAt != nil
}

type recordingPublisher struct {
	mu        sync.Mutex
	failFirst int
	calls     int
	published []OutboxEvent
}

func (p *recordingPublisher) Publish(ctx context.Context, event OutboxEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.calls <= p.failFirst {
		return errors.New("nats: no responders available for request")
	}
	p.published = append(p.published, event)
	return nil
}

func testListenerConfig() ListenerConfig {
	cfg := DefaultListenerConfig()
	cfg.MaxRetries = 2
	cfg.RetryDelay = time.Millisecond
	return cfg
}

func event(t *testing.T, eventType string, at time.Time) OutboxEvent {
	t.Helper()
	ev, err := NewEvent(uuid.New(), eventType, map[string]string{"reason": "test"}, at)
	assert.NoError(t, err)
	return ev
}

func TestProcessUnsentRelaysInOrder(t *testing.T) {
	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	first := event(t, "AuctionStarted", base)
	second := event(t, "BidAccepted", base.Add(time.Second))
	store := newMemoryEvents(second, first)
	pub := &recordingPublisher{}

	l := newRelay(store, pub, testListenerConfig())
	assert.NoError(t, l.processUnsent(context.Background()))

	assert.Equal(t, 2, len(pub.published))
	check.Equal(t, first.ID, pub.published[0].ID)
	check.Equal(t, second.ID, pub.published[1].ID)
	check.True(t, store.sent(first.ID))
	check.True(t, store.sent(second.ID))

	count, last := l.Stats()
	check.Equal(t, uint64(2), count)
	check.False(t, last.IsZero())
}

func TestPublishRetriesThenSucceeds(t *testing.T) {
	ev := event(t, "AuctionEnded", time.Now())
	store := newMemoryEvents(ev)
	pub := &recordingPublisher{failFirst: 2}

	l := newRelay(store, pub, testListenerConfig())
	assert.NoError(t, l.handleNotification(context.Background(), ev.ID.String()))
	check.Equal(t, 3, pub.calls)
	check.True(t, store.sent(ev.ID))
}

func TestFailedPublishLeavesEventPending(t *testing.T) {
	first := event(t, "AuctionStarted", time.Now())
	second := event(t, "BidAccepted", time.Now().Add(time.Second))
	store := newMemoryEvents(first, second)
	pub := &recordingPublisher{failFirst: 100}

	l := newRelay(store, pub, testListenerConfig())
	check.Error(t, l.processUnsent(context.Background()))
	check.False(t, store.sent(first.ID))
	// The batch stops at the failing event.
	check.False(t, store.sent(second.ID))
	check.Equal(t, 3, pub.calls)
}

func TestNotificationForSentEventIsIgnored(t *testing.T) {
	ev := event(t, "AuctionAwarded", time.Now())
	store := newMemoryEvents(ev)
	pub := &recordingPublisher{}
	l := newRelay(store, pub, testListenerConfig())

	assert.NoError(t, l.handleNotification(context.Background(), ev.ID.String()))
	err := l.handleNotification(context.Background(), ev.ID.String())
	check.True(t, errors.Is(err, ErrNotPending))
	check.Equal(t, 1, len(pub.published))

	check.Error(t, l.handleNotification(context.Background(), "not-a-uuid"))
}

func TestEnvelopeCarriesEventIdentity(t *testing.T) {
	ev := event(t, "TimeExtended", time.Date(2025, 3, 1, 9, 30, 0, 0, time.FixedZone("SAST", 2*3600)))
	env := newEnvelope(ev)
	check.Equal(t, ev.ID.String(), env.EventID)
	check.Equal(t, ev.AuctionID.String(), env.AuctionID)
	check.True(t, env.OccurredAt.Location() == time.UTC)
	check.Equal(t, "auction.events.TimeExtended", Subject("auction.events", ev))

	var payload map[string]string
	assert.NoError(t, json.Unmarshal(env.Payload, &payload))
	check.Equal(t, "test", payload["reason"])
}

func TestNewEventRejectsEmptyPayload(t *testing.T) {
	_, err := NewEvent(uuid.New(), "AuctionStarted", nil, time.Now())
	check.True(t, errors.Is(err, ErrEmptyPayload))

	_, err = NewEvent(uuid.New(), "AuctionStarted", []int{1}, time.Now())
	check.Error(t, err)
}
