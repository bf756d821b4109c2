package outbox

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"
)

// ErrNotPending is returned when an event does not exist or was already relayed.
var ErrNotPending = errors.New("outbox event not found or already sent")

const eventColumns = `id, auction_id, event_type, payload, metadata, created_at, sent_at`

// Repository reads and acknowledges rows of the auction_outbox table. The coordinator
// writes them through record.PostgresStore in the same transaction as the state change.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// FetchUnsent returns up to limit unsent events, oldest first.
func (r *Repository) FetchUnsent(ctx context.Context, limit int) ([]OutboxEvent, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+eventColumns+`
		FROM auction_outbox
		WHERE sent_at IS NULL
		ORDER BY created_at, id
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch unsent outbox events: %w", err)
	}
	defer rows.Close()

	var events []OutboxEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate outbox events: %w", err)
	}
	return events, nil
}

// FetchByID returns the event if it has not been sent yet.
func (r *Repository) FetchByID(ctx context.Context, id uuid.UUID) (*OutboxEvent, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+eventColumns+`
		FROM auction_outbox
		WHERE id = $1 AND sent_at IS NULL`, id)
	ev, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotPending
		}
		return nil, fmt.Errorf("failed to fetch outbox event by ID: %w", err)
	}
	return &ev, nil
}

func (r *Repository) MarkSent(ctx context.Context, id uuid.UUID) error {
	if _, err := r.db.ExecContext(ctx,
		`UPDATE auction_outbox SET sent_at = now() WHERE id = $1 AND sent_at IS NULL`, id); err != nil {
		return fmt.Errorf("failed to mark outbox event as sent: %w", err)
	}
	return nil
}

// PendingCount reports how many events are waiting to be relayed.
func (r *Repository) PendingCount(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx,
		`SELECT count(*) FROM auction_outbox WHERE sent_at IS NULL`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count pending outbox events: %w", err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(s scanner) (OutboxEvent, error) {
	var (
		ev       OutboxEvent
		payload  []byte
		metadata pqtype.NullRawMessage
		sentAt   sql.NullTime
	)
	if err := s.Scan(&ev.ID, &ev.AuctionID, &ev.EventType, &payload, &metadata, &ev.CreatedAt, &sentAt); err != nil {
		return OutboxEvent{}, err
	}
	ev.Payload = json.RawMessage(payload)
	if metadata.Valid {
		ev.Metadata = metadata.RawMessage
	}
	if sentAt.Valid {
		t := sentAt.Time
		ev.SentAt = &t
	}
	return ev, nil
}
