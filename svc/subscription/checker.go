package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/competitorwatch/pkg/metrics"
)

// Code explains a denied entitlement.
type Code string

const (
	CodeNoSubscription       Code = "NO_SUBSCRIPTION"
	CodeTrialExpired         Code = "TRIAL_EXPIRED"
	CodeSubscriptionCanceled Code = "SUBSCRIPTION_CANCELED"
	CodeSubscriptionInactive Code = "SUBSCRIPTION_INACTIVE"
	CodeLimitReached         Code = "LIMIT_REACHED"
)

// Entitlement is the answer to "may the tenant add one more resource?".
// Limit and Current are filled once a usable subscription was found;
// Remaining is -1 for unlimited plans.
type Entitlement struct {
	Allowed   bool   `json:"allowed"`
	Code      Code   `json:"errorCode,omitempty"`
	Message   string `json:"error,omitempty"`
	Limit     int64  `json:"limit"`
	Current   int64  `json:"current"`
	Remaining int64  `json:"remaining"`
}

// Checker evaluates entitlements. It never writes.
type Checker struct {
	store Store
	usage UsageCounter
	plans *PlanTable
	now   func() time.Time
}

// CheckerOption configures a Checker.
type CheckerOption func(*Checker)

func WithCheckerClock(now func() time.Time) CheckerOption {
	return func(c *Checker) {
		if now != nil {
			c.now = now
		}
	}
}

// WithCheckerPlans lets Status report plan names.
func WithCheckerPlans(plans *PlanTable) CheckerOption {
	return func(c *Checker) { c.plans = plans }
}

func NewChecker(store Store, usage UsageCounter, opts ...CheckerOption) *Checker {
	c := &Checker{
		store: store,
		usage: usage,
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Check decides whether tenantID may create one more metered resource.
// Usage is read after the subscription gates so denied tenants cost no
// count query.
func (c *Checker) Check(ctx context.Context, tenantID uuid.UUID) (Entitlement, error) {
	ent, err := c.check(ctx, tenantID)
	if err == nil {
		code := string(ent.Code)
		if ent.Allowed {
			code = "ALLOWED"
		}
		metrics.EntitlementDecisions.WithLabelValues(code).Inc()
	}
	return ent, err
}

func (c *Checker) check(ctx context.Context, tenantID uuid.UUID) (Entitlement, error) {
	sub, err := c.store.Current(ctx, tenantID)
	if err != nil {
		if errors.Is(err, ErrSubscriptionNotFound) {
			return deny(CodeNoSubscription, "No subscription found. Start a trial or choose a plan."), nil
		}
		return Entitlement{}, errors.Join(ErrTransientDependency, err)
	}

	now := c.now()
	switch {
	case sub.Status == StatusTrialing && sub.PeriodEnd.Before(now):
		return deny(CodeTrialExpired, "Your free trial has ended. Upgrade to keep monitoring competitors."), nil
	case sub.Status == StatusCanceled:
		return deny(CodeSubscriptionCanceled, "Your subscription has been canceled."), nil
	case sub.Status != StatusActive && sub.Status != StatusTrialing:
		return deny(CodeSubscriptionInactive, "Your subscription is not active. Please update your payment method."), nil
	}

	current, err := c.usage(ctx, tenantID)
	if err != nil {
		return Entitlement{}, errors.Join(ErrTransientDependency, err)
	}

	if sub.IsUnlimited() {
		return Entitlement{Allowed: true, Limit: Unlimited, Current: current, Remaining: Unlimited}, nil
	}

	ent := Entitlement{
		Allowed:   current < sub.Quota,
		Limit:     sub.Quota,
		Current:   current,
		Remaining: max(sub.Quota-current, 0),
	}
	if !ent.Allowed {
		ent.Code = CodeLimitReached
		ent.Message = fmt.Sprintf("You have reached your plan limit of %d competitors. Upgrade to add more.", sub.Quota)
	}
	return ent, nil
}

func deny(code Code, msg string) Entitlement {
	return Entitlement{Code: code, Message: msg}
}

// Summary describes a tenant's subscription for display.
type Summary struct {
	Subscription       *Subscription `json:"subscription"`
	PlanName           string        `json:"planName"`
	IsTrial            bool          `json:"isTrial"`
	TrialDaysRemaining int           `json:"trialDaysRemaining"`
	IsExpired          bool          `json:"isExpired"`
	Usable             bool          `json:"usable"`
}

// Status returns the tenant's current subscription with trial details.
// It returns ErrSubscriptionNotFound when the tenant never subscribed.
func (c *Checker) Status(ctx context.Context, tenantID uuid.UUID) (*Summary, error) {
	sub, err := c.store.Current(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	now := c.now()
	expired := sub.Status == StatusExpired || (sub.Status == StatusTrialing && sub.PeriodEnd.Before(now))
	s := &Summary{
		Subscription:       sub,
		IsTrial:            sub.IsLocalTrial() || sub.Status == StatusTrialing,
		TrialDaysRemaining: sub.TrialDaysRemainingAt(now),
		IsExpired:          expired,
		Usable:             !expired && (sub.Status == StatusActive || sub.Status == StatusTrialing),
	}
	switch {
	case sub.IsLocalTrial():
		s.PlanName = "Free trial"
	case c.plans != nil:
		if p, ok := c.plans.Lookup(sub.PriceID); ok {
			s.PlanName = p.Name
		}
	}
	return s, nil
}
