package subscription

import (
	"time"

	"github.com/google/uuid"
)

// Event is a normalized billing event. The concrete types below form a
// closed set; the unexported method keeps other packages from adding to it.
type Event interface {
	EventName() string
	isEvent()
}

// Snapshot is the processor's view of a subscription at event time.
type Snapshot struct {
	ExternalID        string
	CustomerID        string
	PriceID           string
	Status            Status
	PeriodStart       time.Time
	PeriodEnd         time.Time
	CancelAtPeriodEnd bool
}

// CheckoutCompleted is sent when a hosted checkout finishes. TenantID comes
// from checkout metadata and may be uuid.Nil, in which case the tenant is
// resolved by CustomerEmail.
type CheckoutCompleted struct {
	SessionID      string
	CustomerID     string
	SubscriptionID string
	CustomerEmail  string
	TenantID       uuid.UUID
}

// SubscriptionChanged carries the latest snapshot of a created or updated
// subscription.
type SubscriptionChanged struct {
	Snapshot Snapshot
}

// SubscriptionDeleted reports a subscription ended by the processor.
type SubscriptionDeleted struct {
	ExternalID string
	CustomerID string
}

// PaymentSucceeded reports a paid invoice.
type PaymentSucceeded struct {
	CustomerID     string
	SubscriptionID string
	PaymentID      string
	Amount         int64
	Currency       string
}

// PaymentFailed reports a failed invoice payment attempt.
type PaymentFailed struct {
	CustomerID     string
	SubscriptionID string
	PaymentID      string
	AmountDue      int64
	Currency       string
	InvoiceURL     string
}

// Unhandled is any processor event type without a handler.
type Unhandled struct {
	Type string
}

func (CheckoutCompleted) EventName() string   { return "checkout.session.completed" }
func (SubscriptionChanged) EventName() string { return "customer.subscription.updated" }
func (SubscriptionDeleted) EventName() string { return "customer.subscription.deleted" }
func (PaymentSucceeded) EventName() string    { return "invoice.payment_succeeded" }
func (PaymentFailed) EventName() string       { return "invoice.payment_failed" }
func (e Unhandled) EventName() string         { return e.Type }

func (CheckoutCompleted) isEvent()   {}
func (SubscriptionChanged) isEvent() {}
func (SubscriptionDeleted) isEvent() {}
func (PaymentSucceeded) isEvent()    {}
func (PaymentFailed) isEvent()       {}
func (Unhandled) isEvent()           {}
