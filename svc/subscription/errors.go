package subscription

import (
	"errors"
	"fmt"
)

// Error classes. Callers branch on these with errors.Is.
var (
	// ErrValidation marks malformed or incomplete input (missing ids, no
	// price on a snapshot).
	ErrValidation = errors.New("validation failed")
	// ErrNotFound marks references to tenants or subscriptions that are not
	// known locally.
	ErrNotFound = errors.New("not found")
	// ErrTransientDependency marks failures of the processor API, the store
	// or the email provider that may succeed on retry.
	ErrTransientDependency = errors.New("transient dependency failure")
	// ErrSweepRow marks a failure to process one row of the trial sweep.
	ErrSweepRow = errors.New("trial sweep row failed")
)

var (
	ErrSubscriptionNotFound = fmt.Errorf("subscription %w", ErrNotFound)
	ErrTenantNotFound       = fmt.Errorf("tenant %w", ErrNotFound)
	ErrPlanNotFound         = fmt.Errorf("plan %w", ErrNotFound)
	ErrSubscriptionExists   = errors.New("tenant already has a subscription")
	ErrNotTrialing          = errors.New("tenant has no local trial")
	ErrNoPlans              = errors.New("plan table is empty")
	ErrInvalidPlan          = errors.New("invalid plan definition")
)
