package tenant

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryDirectory is an in-process Directory.
type MemoryDirectory struct {
	mu      sync.RWMutex
	tenants map[uuid.UUID]Tenant
}

func NewMemoryDirectory(tenants ...Tenant) *MemoryDirectory {
	d := &MemoryDirectory{tenants: make(map[uuid.UUID]Tenant, len(tenants))}
	for _, t := range tenants {
		d.Add(t)
	}
	return d
}

// Add registers or replaces a tenant.
func (d *MemoryDirectory) Add(t Tenant) {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	d.mu.Lock()
	d.tenants[t.ID] = t
	d.mu.Unlock()
}

func (d *MemoryDirectory) Get(_ context.Context, id uuid.UUID) (*Tenant, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	t, ok := d.tenants[id]
	if !ok {
		return nil, ErrTenantNotFound
	}
	return &t, nil
}

func (d *MemoryDirectory) FindByCustomerID(_ context.Context, customerID string) (*Tenant, error) {
	return d.find(func(t Tenant) bool { return customerID != "" && t.CustomerID == customerID })
}

func (d *MemoryDirectory) FindByEmail(_ context.Context, email string) (*Tenant, error) {
	return d.find(func(t Tenant) bool { return email != "" && strings.EqualFold(t.Email, email) })
}

func (d *MemoryDirectory) SetCustomerID(_ context.Context, id uuid.UUID, customerID string) error {
	if customerID == "" {
		return ErrEmptyCustomerID
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.tenants[id]
	if !ok {
		return ErrTenantNotFound
	}
	switch t.CustomerID {
	case customerID:
		return nil
	case "":
		t.CustomerID = customerID
		d.tenants[id] = t
		return nil
	default:
		return ErrCustomerIDConflict
	}
}

func (d *MemoryDirectory) find(match func(Tenant) bool) (*Tenant, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, t := range d.tenants {
		if match(t) {
			return &t, nil
		}
	}
	return nil, ErrTenantNotFound
}
