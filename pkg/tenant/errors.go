package tenant

import "errors"

var (
	// ErrTenantNotFound is returned when a tenant cannot be found.
	ErrTenantNotFound = errors.New("tenant not found")

	// ErrCustomerIDConflict is returned when a tenant is already linked to another customer.
	ErrCustomerIDConflict = errors.New("tenant already linked to a different customer")

	// ErrEmptyCustomerID is returned when SetCustomerID receives an empty id.
	ErrEmptyCustomerID = errors.New("customer id is empty")
)
