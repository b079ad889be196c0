package subscription

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// Status mirrors the processor's subscription statuses plus the local
// "expired" state reached only by the trial sweep. Other processor statuses
// (incomplete, unpaid, paused) are stored verbatim and treated as inactive.
type Status string

const (
	StatusTrialing Status = "trialing"
	StatusActive   Status = "active"
	StatusPastDue  Status = "past_due"
	StatusCanceled Status = "canceled"
	StatusExpired  Status = "expired"
)

// TrialPriceID is the price id of locally created trials.
const TrialPriceID = "trial"

// Unlimited is the quota value that disables the resource limit.
const Unlimited int64 = -1

// Subscription is one billing period record of a tenant.
type Subscription struct {
	ID                uuid.UUID `json:"id"`
	TenantID          uuid.UUID `json:"tenant_id"`
	ExternalID        string    `json:"external_id"`
	PriceID           string    `json:"price_id"`
	Status            Status    `json:"status"`
	PeriodStart       time.Time `json:"period_start"`
	PeriodEnd         time.Time `json:"period_end"`
	CancelAtPeriodEnd bool      `json:"cancel_at_period_end"`
	Quota             int64     `json:"quota"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// IsLocalTrial reports whether the row is a trial created by this service
// rather than by the processor.
func (s *Subscription) IsLocalTrial() bool {
	return s.PriceID == TrialPriceID
}

// IsUnlimited reports whether the quota is unlimited.
func (s *Subscription) IsUnlimited() bool {
	return s.Quota == Unlimited
}

// TrialDaysRemainingAt returns whole days left in a trialing period, rounded
// up, or 0 when not trialing or already past the end.
func (s *Subscription) TrialDaysRemainingAt(now time.Time) int {
	if s.Status != StatusTrialing {
		return 0
	}
	remaining := s.PeriodEnd.Sub(now)
	if remaining <= 0 {
		return 0
	}
	return int(math.Ceil(remaining.Hours() / 24))
}

func (s *Subscription) clone() *Subscription {
	c := *s
	return &c
}

func trialExternalID(tenantID uuid.UUID, now time.Time) string {
	return fmt.Sprintf("trial_%s_%d", tenantID, now.Unix())
}

func manualExternalID(tenantID uuid.UUID, now time.Time) string {
	return fmt.Sprintf("manual_%s_%d", tenantID, now.Unix())
}

// PaymentStatus is the outcome recorded for an invoice payment.
type PaymentStatus string

const (
	PaymentStatusSucceeded PaymentStatus = "succeeded"
	PaymentStatusFailed    PaymentStatus = "failed"
)

// Payment records a processor payment against a tenant.
type Payment struct {
	ID                uuid.UUID     `json:"id"`
	TenantID          uuid.UUID     `json:"tenant_id"`
	ExternalPaymentID string        `json:"external_payment_id"`
	Amount            int64         `json:"amount"`
	Currency          string        `json:"currency"`
	Status            PaymentStatus `json:"status"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
}
