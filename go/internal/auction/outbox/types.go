package outbox

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// OutboxEvent represents a domain event waiting to be relayed to the message bus.
type OutboxEvent struct {
	ID        uuid.UUID       `json:"id"`
	AuctionID uuid.UUID       `json:"auction_id"`
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	SentAt    *time.Time      `json:"sent_at,omitempty"`
}

var ErrEmptyPayload = errors.New("payload cannot be empty")

// NewEvent marshals payload into an outbox event for the auction.
func NewEvent(auctionID uuid.UUID, eventType string, payload any, createdAt time.Time) (OutboxEvent, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return OutboxEvent{}, fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
	}
	if err := validateEventPayload(data); err != nil {
		return OutboxEvent{}, fmt.Errorf("invalid %s payload: %w", eventType, err)
	}
	return OutboxEvent{
		ID:        uuid.New(),
		AuctionID: auctionID,
		EventType: eventType,
		Payload:   data,
		CreatedAt: createdAt,
	}, nil
}

// validateEventPayload ensures the payload is a non-empty JSON object.
func validateEventPayload(payload []byte) error {
	if len(payload) == 0 || string(payload) == "null" {
		return ErrEmptyPayload
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(payload, &obj); err != nil {
		return fmt.Errorf("payload is not a JSON object: %w", err)
	}
	return nil
}
