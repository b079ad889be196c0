package subscription

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Effect is a side effect requested by a transition.
type Effect string

const (
	// EffectNotifyPaymentFailed asks for a dunning notice.
	EffectNotifyPaymentFailed Effect = "notify_payment_failed"
	// EffectNotifyReactivated asks for a payment recovered notice.
	EffectNotifyReactivated Effect = "notify_reactivated"
	// EffectDiscardTrialReminders drops reminders that no longer apply.
	EffectDiscardTrialReminders Effect = "discard_trial_reminders"
)

// State is what Transition knows about the tenant.
type State struct {
	TenantID uuid.UUID
	// Current is the row the event addresses, nil when it is not stored yet.
	Current *Subscription
}

// Outcome is the result of a transition.
type Outcome struct {
	// Next is the row to persist; nil means no write.
	Next *Subscription
	// DeleteTrials asks to remove the tenant's local trial rows in the same
	// transaction that persists Next.
	DeleteTrials bool
	// FallbackPlan is set when the price was missing from the plan table.
	FallbackPlan bool
	Effects      []Effect
}

// Transition computes the next subscription row for ev. It performs no I/O.
//
// CheckoutCompleted is not handled here: it only names a subscription that
// must be fetched from the processor, and the fetched snapshot is then
// applied as SubscriptionChanged.
func Transition(st State, ev Event, plans *PlanTable, now time.Time) (Outcome, error) {
	switch e := ev.(type) {
	case SubscriptionChanged:
		return applySnapshot(st, e.Snapshot, plans, now)

	case SubscriptionDeleted:
		if st.Current == nil {
			return Outcome{}, fmt.Errorf("%w: %s", ErrSubscriptionNotFound, e.ExternalID)
		}
		if st.Current.Status == StatusCanceled {
			return Outcome{}, nil
		}
		next := st.Current.clone()
		next.Status = StatusCanceled
		next.UpdatedAt = now
		return Outcome{Next: next}, nil

	case PaymentSucceeded:
		if st.Current == nil || st.Current.Status != StatusPastDue {
			return Outcome{}, nil
		}
		next := st.Current.clone()
		next.Status = StatusActive
		next.UpdatedAt = now
		return Outcome{Next: next, Effects: []Effect{EffectNotifyReactivated}}, nil

	case PaymentFailed:
		if st.Current == nil {
			return Outcome{}, nil
		}
		switch st.Current.Status {
		case StatusPastDue:
			// Another failed attempt: the row stays, the tenant is reminded.
			return Outcome{Effects: []Effect{EffectNotifyPaymentFailed}}, nil
		case StatusCanceled, StatusExpired:
			return Outcome{}, nil
		}
		next := st.Current.clone()
		next.Status = StatusPastDue
		next.UpdatedAt = now
		return Outcome{Next: next, Effects: []Effect{EffectNotifyPaymentFailed}}, nil

	case CheckoutCompleted, Unhandled:
		return Outcome{}, nil
	}

	return Outcome{}, fmt.Errorf("%w: unsupported event %T", ErrValidation, ev)
}

func applySnapshot(st State, snap Snapshot, plans *PlanTable, now time.Time) (Outcome, error) {
	if snap.ExternalID == "" {
		return Outcome{}, fmt.Errorf("%w: subscription snapshot without id", ErrValidation)
	}
	if snap.PriceID == "" {
		return Outcome{}, fmt.Errorf("%w: subscription %s has no price", ErrValidation, snap.ExternalID)
	}
	if snap.Status == "" {
		return Outcome{}, fmt.Errorf("%w: subscription %s has no status", ErrValidation, snap.ExternalID)
	}
	if st.TenantID == uuid.Nil && st.Current == nil {
		return Outcome{}, fmt.Errorf("%w: subscription %s has no tenant", ErrValidation, snap.ExternalID)
	}

	plan, fallback := plans.Resolve(snap.PriceID)

	var next *Subscription
	if st.Current != nil {
		next = st.Current.clone()
	} else {
		next = &Subscription{
			ID:        uuid.New(),
			TenantID:  st.TenantID,
			CreatedAt: now,
		}
	}
	next.ExternalID = snap.ExternalID
	next.PriceID = snap.PriceID
	next.Status = snap.Status
	next.PeriodStart = snap.PeriodStart
	next.PeriodEnd = snap.PeriodEnd
	next.CancelAtPeriodEnd = snap.CancelAtPeriodEnd
	next.Quota = plan.Quota
	next.UpdatedAt = now

	return Outcome{
		Next:         next,
		DeleteTrials: true,
		FallbackPlan: fallback,
		Effects:      []Effect{EffectDiscardTrialReminders},
	}, nil
}
