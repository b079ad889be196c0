package billing

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v82"

	"github.com/dmitrymomot/competitorwatch/svc/subscription"
)

// Stripe event types the engine acts on.
const (
	EventCheckoutCompleted   = "checkout.session.completed"
	EventSubscriptionCreated = "customer.subscription.created"
	EventSubscriptionUpdated = "customer.subscription.updated"
	EventSubscriptionDeleted = "customer.subscription.deleted"
	EventPaymentSucceeded    = "invoice.payment_succeeded"
	EventPaymentFailed       = "invoice.payment_failed"
)

// Checkout metadata keys that may carry the tenant id.
var tenantMetadataKeys = []string{"tenant_id", "tenantId", "userId"}

// Decode converts a verified Stripe event into a subscription.Event. Only the
// fields the engine reads are decoded, so payloads from newer API versions
// still parse.
func Decode(ev stripe.Event) (subscription.Event, error) {
	if ev.Data == nil {
		return nil, fmt.Errorf("%w: event %s has no data", ErrMalformedEvent, ev.ID)
	}
	raw := ev.Data.Raw
	switch string(ev.Type) {
	case EventCheckoutCompleted:
		var s checkoutSession
		if err := unmarshal(raw, &s); err != nil {
			return nil, err
		}
		return s.event(), nil

	case EventSubscriptionCreated, EventSubscriptionUpdated:
		var s stripeSubscription
		if err := unmarshal(raw, &s); err != nil {
			return nil, err
		}
		return subscription.SubscriptionChanged{Snapshot: s.snapshot()}, nil

	case EventSubscriptionDeleted:
		var s stripeSubscription
		if err := unmarshal(raw, &s); err != nil {
			return nil, err
		}
		return subscription.SubscriptionDeleted{ExternalID: s.ID, CustomerID: s.Customer.ID}, nil

	case EventPaymentSucceeded:
		var inv invoice
		if err := unmarshal(raw, &inv); err != nil {
			return nil, err
		}
		paymentID := inv.PaymentIntent.ID
		if paymentID == "" {
			paymentID = inv.ID
		}
		return subscription.PaymentSucceeded{
			CustomerID:     inv.Customer.ID,
			SubscriptionID: inv.subscriptionID(),
			PaymentID:      paymentID,
			Amount:         inv.AmountPaid,
			Currency:       inv.Currency,
		}, nil

	case EventPaymentFailed:
		var inv invoice
		if err := unmarshal(raw, &inv); err != nil {
			return nil, err
		}
		return subscription.PaymentFailed{
			CustomerID:     inv.Customer.ID,
			SubscriptionID: inv.subscriptionID(),
			PaymentID:      inv.PaymentIntent.ID,
			AmountDue:      inv.AmountDue,
			Currency:       inv.Currency,
			InvoiceURL:     inv.HostedInvoiceURL,
		}, nil
	}

	return subscription.Unhandled{Type: string(ev.Type)}, nil
}

func unmarshal(raw []byte, v any) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		return fmt.Errorf("%w: empty data object", ErrMalformedEvent)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	return nil
}

// expandable is a Stripe reference that is either an id string or an
// expanded object with an id.
type expandable struct {
	ID string
}

func (e *expandable) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case len(b) == 0 || bytes.Equal(b, []byte("null")):
		return nil
	case b[0] == '"':
		return json.Unmarshal(b, &e.ID)
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	e.ID = obj.ID
	return nil
}

type checkoutSession struct {
	ID                string            `json:"id"`
	Customer          expandable        `json:"customer"`
	Subscription      expandable        `json:"subscription"`
	CustomerEmail     string            `json:"customer_email"`
	ClientReferenceID string            `json:"client_reference_id"`
	Metadata          map[string]string `json:"metadata"`
	CustomerDetails   struct {
		Email string `json:"email"`
	} `json:"customer_details"`
}

func (s checkoutSession) event() subscription.CheckoutCompleted {
	ev := subscription.CheckoutCompleted{
		SessionID:      s.ID,
		CustomerID:     s.Customer.ID,
		SubscriptionID: s.Subscription.ID,
		CustomerEmail:  s.CustomerEmail,
	}
	if ev.CustomerEmail == "" {
		ev.CustomerEmail = s.CustomerDetails.Email
	}
	candidates := make([]string, 0, len(tenantMetadataKeys)+1)
	for _, key := range tenantMetadataKeys {
		candidates = append(candidates, s.Metadata[key])
	}
	candidates = append(candidates, s.ClientReferenceID)
	for _, c := range candidates {
		if id, err := uuid.Parse(strings.TrimSpace(c)); err == nil {
			ev.TenantID = id
			break
		}
	}
	return ev
}

type period struct {
	Start int64 `json:"current_period_start"`
	End   int64 `json:"current_period_end"`
}

type stripeSubscription struct {
	ID                string     `json:"id"`
	Customer          expandable `json:"customer"`
	Status            string     `json:"status"`
	CancelAtPeriodEnd bool       `json:"cancel_at_period_end"`
	period
	Items struct {
		Data []struct {
			period
			Price struct {
				ID string `json:"id"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
}

// snapshot reads the billing period from the subscription or, on API
// versions that moved it, from the first item.
func (s stripeSubscription) snapshot() subscription.Snapshot {
	snap := subscription.Snapshot{
		ExternalID:        s.ID,
		CustomerID:        s.Customer.ID,
		Status:            subscription.Status(s.Status),
		CancelAtPeriodEnd: s.CancelAtPeriodEnd,
	}
	p := s.period
	for _, item := range s.Items.Data {
		if snap.PriceID == "" && item.Price.ID != "" {
			snap.PriceID = item.Price.ID
		}
		if p.End == 0 && item.End != 0 {
			p = item.period
		}
	}
	snap.PeriodStart = unixTime(p.Start)
	snap.PeriodEnd = unixTime(p.End)
	return snap
}

type invoice struct {
	ID               string     `json:"id"`
	Customer         expandable `json:"customer"`
	Subscription     expandable `json:"subscription"`
	PaymentIntent    expandable `json:"payment_intent"`
	AmountDue        int64      `json:"amount_due"`
	AmountPaid       int64      `json:"amount_paid"`
	Currency         string     `json:"currency"`
	HostedInvoiceURL string     `json:"hosted_invoice_url"`
	Parent           struct {
		SubscriptionDetails struct {
			Subscription expandable `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
}

func (inv invoice) subscriptionID() string {
	if inv.Subscription.ID != "" {
		return inv.Subscription.ID
	}
	return inv.Parent.SubscriptionDetails.Subscription.ID
}

func unixTime(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}
