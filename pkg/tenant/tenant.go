package tenant

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Tenant is the billable account. CustomerID is empty until the first
// completed checkout links the tenant to a processor customer.
type Tenant struct {
	ID         uuid.UUID `json:"id"`
	Email      string    `json:"email"`
	Name       string    `json:"name"`
	CustomerID string    `json:"customer_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// DisplayName returns the name used in notification greetings.
func (t *Tenant) DisplayName() string {
	if t.Name != "" {
		return t.Name
	}
	return "there"
}

// Directory looks tenants up by the identifiers billing events carry.
// Lookups return ErrTenantNotFound when nothing matches.
type Directory interface {
	Get(ctx context.Context, id uuid.UUID) (*Tenant, error)
	FindByCustomerID(ctx context.Context, customerID string) (*Tenant, error)
	FindByEmail(ctx context.Context, email string) (*Tenant, error)
	// SetCustomerID links the tenant to a processor customer.
	// Re-setting the same value is a no-op; a different value fails with
	// ErrCustomerIDConflict.
	SetCustomerID(ctx context.Context, id uuid.UUID, customerID string) error
}
