// Package billing is the entry point for payment processor webhooks.
//
// Ingress verifies the Stripe signature, records the event in the EventLog
// keyed by (source, event id), decodes it into a subscription.Event and hands
// it to the subscription engine. The log's unique key makes redelivery safe:
// an event already processed is acknowledged without side effects, and an
// event whose earlier attempt failed is dispatched again.
//
// StripeClient implements subscription.Processor on top of stripe-go so the
// engine can fetch the subscription named by a completed checkout.
package billing
