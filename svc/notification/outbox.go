package notification

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/competitorwatch/pkg/email"
	"github.com/dmitrymomot/competitorwatch/pkg/logger"
	"github.com/dmitrymomot/competitorwatch/pkg/metrics"
)

// Outbox is the producer side of the queue.
type Outbox struct {
	store  Store
	sender email.Sender
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

// OutboxOption configures an Outbox.
type OutboxOption func(*Outbox)

func WithOutboxLogger(l *slog.Logger) OutboxOption {
	return func(o *Outbox) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithOutboxClock overrides the time source.
func WithOutboxClock(now func() time.Time) OutboxOption {
	return func(o *Outbox) {
		if now != nil {
			o.now = now
		}
	}
}

// NewOutbox creates an Outbox. sender is only used by Deliver.
func NewOutbox(store Store, sender email.Sender, cfg Config, opts ...OutboxOption) *Outbox {
	o := &Outbox{
		store:  store,
		sender: sender,
		cfg:    cfg,
		logger: logger.Discard(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Enqueue records a pending message for delivery at scheduledFor.
func (o *Outbox) Enqueue(ctx context.Context, tenantID uuid.UUID, destination, template string, data map[string]any, scheduledFor time.Time) (*Message, error) {
	msg := &Message{
		TenantID:     tenantID,
		Destination:  destination,
		Template:     template,
		Data:         data,
		ScheduledFor: scheduledFor,
	}
	if err := msg.normalize(o.now()); err != nil {
		return nil, err
	}
	if err := o.store.Insert(ctx, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// EnqueueBatch records several pending messages atomically.
func (o *Outbox) EnqueueBatch(ctx context.Context, msgs []Message) error {
	now := o.now()
	rows := make([]*Message, 0, len(msgs))
	for i := range msgs {
		m := msgs[i]
		m.Status = StatusPending
		if err := m.normalize(now); err != nil {
			return err
		}
		rows = append(rows, &m)
	}
	return o.store.Insert(ctx, rows...)
}

// Status returns the statuses recorded for tenant and template.
func (o *Outbox) Status(ctx context.Context, tenantID uuid.UUID, template string) ([]Status, error) {
	return o.store.Statuses(ctx, tenantID, template)
}

// HasSent reports whether a message of template was delivered to tenant.
func (o *Outbox) HasSent(ctx context.Context, tenantID uuid.UUID, template string) (bool, error) {
	statuses, err := o.Status(ctx, tenantID, template)
	if err != nil {
		return false, err
	}
	return slices.Contains(statuses, StatusSent), nil
}

// DiscardPending drops undelivered messages of template, e.g. trial
// reminders once the tenant has upgraded.
func (o *Outbox) DiscardPending(ctx context.Context, tenantID uuid.UUID, template string) (int64, error) {
	return o.store.DiscardPending(ctx, tenantID, template)
}

// Deliver renders and sends a message right away, bounded by the configured
// send timeout, and records it as sent. When the send fails the message is
// recorded as pending with a backoff delay so the Worker retries it, and the
// send error is returned.
func (o *Outbox) Deliver(ctx context.Context, tenantID uuid.UUID, destination, template string, data map[string]any) (*Message, error) {
	now := o.now()
	msg := &Message{
		TenantID:    tenantID,
		Destination: destination,
		Template:    template,
		Data:        data,
	}
	if err := msg.normalize(now); err != nil {
		return nil, err
	}

	sendErr := o.send(ctx, msg)
	if sendErr == nil {
		msg.Status = StatusSent
		msg.SentAt = &now
	} else {
		msg.Attempts = 1
		msg.LastError = sendErr.Error()
		msg.ScheduledFor = now.Add(nextDelay(o.cfg, 1))
	}

	if err := o.store.Insert(ctx, msg); err != nil {
		return nil, errors.Join(sendErr, err)
	}
	if sendErr != nil {
		metrics.Notifications.WithLabelValues(template, "retry").Inc()
		o.logger.WarnContext(ctx, "notification send failed, queued for retry",
			logger.MessageID(msg.ID), logger.Template(template), logger.Error(sendErr))
		return msg, sendErr
	}
	metrics.Notifications.WithLabelValues(template, "sent").Inc()
	return msg, nil
}

func (o *Outbox) send(ctx context.Context, msg *Message) error {
	if o.sender == nil {
		return errors.Join(ErrDeliveryFailed, errors.New("no email sender configured"))
	}
	timeout := o.cfg.SendTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	return deliver(ctx, o.sender, msg, o.cfg.AppURL)
}

func deliver(ctx context.Context, sender email.Sender, msg *Message, appURL string) error {
	params, err := Render(ctx, msg, appURL)
	if err != nil {
		return err
	}
	if err := sender.SendEmail(ctx, params); err != nil {
		return errors.Join(ErrDeliveryFailed, err)
	}
	return nil
}
