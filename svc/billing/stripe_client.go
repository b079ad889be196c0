package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/customer"
	stripesub "github.com/stripe/stripe-go/v82/subscription"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/dmitrymomot/competitorwatch/svc/subscription"
)

// StripeClient talks to the Stripe API. It verifies webhook payloads and
// implements subscription.Processor.
type StripeClient struct {
	cfg Config
}

// NewStripeClient configures the stripe-go package globals from cfg.
// A missing secret key is allowed; API calls then fail with ErrMissingAPIKey.
func NewStripeClient(cfg Config) *StripeClient {
	if cfg.SecretKey != "" {
		stripe.Key = cfg.SecretKey
	}
	if cfg.APIURL != "" {
		stripe.SetBackend(stripe.APIBackend, stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
			URL: stripe.String(strings.TrimRight(cfg.APIURL, "/")),
		}))
	}
	return &StripeClient{cfg: cfg}
}

// Verify checks the Stripe-Signature header against the webhook secret and
// parses the event. Every failure wraps ErrAuthenticationFailed.
func (c *StripeClient) Verify(payload []byte, header string) (stripe.Event, error) {
	if c.cfg.WebhookSecret == "" {
		return stripe.Event{}, errors.Join(ErrAuthenticationFailed, ErrMissingSecret)
	}
	if strings.TrimSpace(header) == "" {
		return stripe.Event{}, fmt.Errorf("%w: missing signature header", ErrAuthenticationFailed)
	}
	ev, err := webhook.ConstructEventWithOptions(payload, header, c.cfg.WebhookSecret, webhook.ConstructEventOptions{
		Tolerance:                c.cfg.WebhookTolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return stripe.Event{}, errors.Join(ErrAuthenticationFailed, err)
	}
	if ev.ID == "" {
		return stripe.Event{}, fmt.Errorf("%w: event without id", ErrMalformedEvent)
	}
	return ev, nil
}

// FetchSubscription reads a subscription and decodes the raw response the
// same way webhook payloads are decoded.
func (c *StripeClient) FetchSubscription(ctx context.Context, externalID string) (subscription.Snapshot, error) {
	if stripe.Key == "" {
		return subscription.Snapshot{}, ErrMissingAPIKey
	}
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	sub, err := stripesub.Get(externalID, params)
	if err != nil {
		return subscription.Snapshot{}, fmt.Errorf("fetch stripe subscription %s: %w", externalID, err)
	}

	var s stripeSubscription
	if sub.LastResponse != nil && len(sub.LastResponse.RawJSON) > 0 {
		if err := json.Unmarshal(sub.LastResponse.RawJSON, &s); err != nil {
			return subscription.Snapshot{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
		}
	} else {
		s.ID = sub.ID
		s.Status = string(sub.Status)
		s.CancelAtPeriodEnd = sub.CancelAtPeriodEnd
		if sub.Customer != nil {
			s.Customer.ID = sub.Customer.ID
		}
	}
	return s.snapshot(), nil
}

// CustomerEmail returns the email on the Stripe customer.
func (c *StripeClient) CustomerEmail(ctx context.Context, customerID string) (string, error) {
	if stripe.Key == "" {
		return "", ErrMissingAPIKey
	}
	params := &stripe.CustomerParams{}
	params.Context = ctx
	cus, err := customer.Get(customerID, params)
	if err != nil {
		return "", fmt.Errorf("fetch stripe customer %s: %w", customerID, err)
	}
	return cus.Email, nil
}

var _ subscription.Processor = (*StripeClient)(nil)
