package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/stripe/stripe-go/v82"

	"github.com/dmitrymomot/competitorwatch/pkg/logger"
	"github.com/dmitrymomot/competitorwatch/pkg/metrics"
	"github.com/dmitrymomot/competitorwatch/svc/subscription"
)

// Verifier authenticates a raw webhook payload.
type Verifier interface {
	Verify(payload []byte, header string) (stripe.Event, error)
}

// Handler applies a decoded billing event. subscription.Engine implements it.
type Handler interface {
	Handle(ctx context.Context, ev subscription.Event) error
}

// Receipt describes what Receive did with an event.
type Receipt struct {
	EventID          string
	Type             string
	AlreadyProcessed bool
	// Error is the processing failure recorded for the event, if any.
	Error string
}

// Ingress receives webhook deliveries.
type Ingress struct {
	verifier Verifier
	events   EventLog
	handler  Handler
	logger   *slog.Logger
	now      func() time.Time
}

// IngressOption configures an Ingress.
type IngressOption func(*Ingress)

func WithIngressLogger(l *slog.Logger) IngressOption {
	return func(i *Ingress) {
		if l != nil {
			i.logger = l
		}
	}
}

func WithIngressClock(now func() time.Time) IngressOption {
	return func(i *Ingress) {
		if now != nil {
			i.now = now
		}
	}
}

func NewIngress(verifier Verifier, events EventLog, handler Handler, opts ...IngressOption) *Ingress {
	i := &Ingress{
		verifier: verifier,
		events:   events,
		handler:  handler,
		logger:   logger.Discard(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(i)
	}
	i.logger = i.logger.With(logger.Component("webhook_ingress"))
	return i
}

// Receive verifies, records and dispatches one delivery.
//
// The only returned error is ErrAuthenticationFailed. Every verified
// delivery is acknowledged: processing and event log failures are logged,
// kept on the event record when possible, and reported in Receipt.Error.
func (i *Ingress) Receive(ctx context.Context, payload []byte, header string) (Receipt, error) {
	ev, err := i.verifier.Verify(payload, header)
	if err != nil {
		metrics.WebhookEvents.WithLabelValues("unknown", metrics.OutcomeRejected).Inc()
		i.logger.WarnContext(ctx, "webhook rejected", logger.Error(err))
		if !errors.Is(err, ErrAuthenticationFailed) {
			err = errors.Join(ErrAuthenticationFailed, err)
		}
		return Receipt{}, err
	}

	eventType := string(ev.Type)
	receipt := Receipt{EventID: ev.ID, Type: eventType}
	log := i.logger.With(logger.EventID(ev.ID), logger.EventType(eventType))

	rec, created, err := i.events.Record(ctx, &EventRecord{
		Source:          SourceStripe,
		ExternalEventID: ev.ID,
		Type:            eventType,
		Payload:         payload,
		CreatedAt:       i.now(),
	})
	if err != nil {
		// No audit row; the event is dispatched regardless.
		log.ErrorContext(ctx, "failed to record webhook event, dispatching anyway", logger.Error(err))
		rec, created = nil, true
	}
	if !created {
		if rec.Processed {
			metrics.WebhookEvents.WithLabelValues(eventType, metrics.OutcomeAlreadyProcessed).Inc()
			log.InfoContext(ctx, "webhook event already processed")
			receipt.AlreadyProcessed = true
			return receipt, nil
		}
		log.InfoContext(ctx, "redelivered event was not processed, dispatching again",
			slog.String("previous_error", rec.Error))
	}

	if err := i.dispatch(ctx, ev); err != nil {
		metrics.WebhookEvents.WithLabelValues(eventType, metrics.OutcomeFailed).Inc()
		log.ErrorContext(ctx, "webhook processing failed", logger.Error(err))
		receipt.Error = err.Error()
		if rec != nil {
			if markErr := i.events.MarkFailed(ctx, rec.ID, receipt.Error, i.now()); markErr != nil {
				log.ErrorContext(ctx, "failed to record webhook failure", logger.Error(markErr))
			}
		}
		return receipt, nil
	}

	if rec == nil {
		metrics.WebhookEvents.WithLabelValues(eventType, metrics.OutcomeFailed).Inc()
		receipt.Error = "event processed but not recorded"
		return receipt, nil
	}
	if err := i.events.MarkProcessed(ctx, rec.ID, i.now()); err != nil {
		metrics.WebhookEvents.WithLabelValues(eventType, metrics.OutcomeFailed).Inc()
		log.ErrorContext(ctx, "failed to mark webhook processed", logger.Error(err))
		receipt.Error = fmt.Sprintf("event processed but not marked: %v", err)
		return receipt, nil
	}
	metrics.WebhookEvents.WithLabelValues(eventType, metrics.OutcomeProcessed).Inc()
	log.InfoContext(ctx, "webhook event processed")
	return receipt, nil
}

func (i *Ingress) dispatch(ctx context.Context, ev stripe.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while handling %s: %v", ev.Type, r)
		}
	}()

	decoded, err := Decode(ev)
	if err != nil {
		return errors.Join(subscription.ErrValidation, err)
	}
	return i.handler.Handle(ctx, decoded)
}

var _ Handler = (*subscription.Engine)(nil)
