package billing

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// SourceStripe is the EventLog source of Stripe webhooks.
const SourceStripe = "stripe"

// EventRecord is one received webhook event.
type EventRecord struct {
	ID              uuid.UUID       `json:"id"`
	Source          string          `json:"source"`
	ExternalEventID string          `json:"external_event_id"`
	Type            string          `json:"type"`
	Payload         json.RawMessage `json:"payload"`
	Processed       bool            `json:"processed"`
	ProcessedAt     *time.Time      `json:"processed_at,omitempty"`
	Error           string          `json:"error,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

// EventLog stores received events. (Source, ExternalEventID) is unique.
type EventLog interface {
	// Record inserts rec unless an event with the same key exists. It
	// returns the stored record and whether this call created it.
	Record(ctx context.Context, rec *EventRecord) (*EventRecord, bool, error)
	Get(ctx context.Context, source, externalEventID string) (*EventRecord, error)
	MarkProcessed(ctx context.Context, id uuid.UUID, at time.Time) error
	// MarkFailed stores the failure; the record stays unprocessed.
	MarkFailed(ctx context.Context, id uuid.UUID, reason string, at time.Time) error
}
