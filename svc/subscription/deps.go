package subscription

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/competitorwatch/svc/notification"
)

// Notifier is the part of notification.Outbox the billing flows use.
type Notifier interface {
	Enqueue(ctx context.Context, tenantID uuid.UUID, destination, template string, data map[string]any, scheduledFor time.Time) (*notification.Message, error)
	EnqueueBatch(ctx context.Context, msgs []notification.Message) error
	Status(ctx context.Context, tenantID uuid.UUID, template string) ([]notification.Status, error)
	Deliver(ctx context.Context, tenantID uuid.UUID, destination, template string, data map[string]any) (*notification.Message, error)
	DiscardPending(ctx context.Context, tenantID uuid.UUID, template string) (int64, error)
}

// Processor reads subscription state from the payment processor.
type Processor interface {
	FetchSubscription(ctx context.Context, externalID string) (Snapshot, error)
	CustomerEmail(ctx context.Context, customerID string) (string, error)
}

// UsageCounter returns how many metered resources the tenant currently has.
type UsageCounter func(ctx context.Context, tenantID uuid.UUID) (int64, error)

var _ Notifier = (*notification.Outbox)(nil)
