package notification

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store persists queue rows. Implementations join a transaction carried in
// ctx where they support transactions.
type Store interface {
	Insert(ctx context.Context, msgs ...*Message) error
	// Statuses returns the status of every row for tenant and template, oldest first.
	Statuses(ctx context.Context, tenantID uuid.UUID, template string) ([]Status, error)
	// ClaimDue locks up to limit pending rows with ScheduledFor <= now for
	// lockFor and returns them. Rows locked by another claimer are skipped.
	ClaimDue(ctx context.Context, now time.Time, limit int, lockFor time.Duration) ([]*Message, error)
	MarkSent(ctx context.Context, id uuid.UUID, at time.Time) error
	// MarkRetry records a failed attempt and releases the row until next.
	MarkRetry(ctx context.Context, id uuid.UUID, lastErr string, next time.Time) error
	// MarkDead records the final failed attempt, sets status failed and
	// writes a dead-letter copy.
	MarkDead(ctx context.Context, id uuid.UUID, lastErr string, at time.Time) error
	// DiscardPending deletes pending rows of template for tenant.
	DiscardPending(ctx context.Context, tenantID uuid.UUID, template string) (int64, error)
}
