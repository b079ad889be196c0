package subscription

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store persists subscriptions and payments. Lookups return
// ErrSubscriptionNotFound when nothing matches.
type Store interface {
	// Current returns the tenant's most recently created subscription.
	Current(ctx context.Context, tenantID uuid.UUID) (*Subscription, error)
	GetByExternalID(ctx context.Context, externalID string) (*Subscription, error)
	// Upsert inserts s or, when a row with the same ExternalID exists,
	// overwrites its mutable fields. s.ID and s.CreatedAt are set from the
	// stored row.
	Upsert(ctx context.Context, s *Subscription) error
	// Update overwrites the row with s.ID, including its ExternalID.
	Update(ctx context.Context, s *Subscription) error
	// DeleteLocalTrials removes the tenant's rows with the trial price id.
	DeleteLocalTrials(ctx context.Context, tenantID uuid.UUID) (int64, error)
	// ListExpiredTrials returns local trialing rows whose period ended before now.
	ListExpiredTrials(ctx context.Context, now time.Time) ([]*Subscription, error)
	// ExpireTrial moves a trialing row to expired. It reports false when
	// the row was no longer trialing.
	ExpireTrial(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)
	UpsertPayment(ctx context.Context, p *Payment) error
}

// Transactor runs fn in a transaction that Store and the notification
// outbox join through ctx.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// NoTx runs fn directly. Use it with memory stores.
type NoTx struct{}

func (NoTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
