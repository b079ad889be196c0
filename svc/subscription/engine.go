package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/competitorwatch/pkg/logger"
	"github.com/dmitrymomot/competitorwatch/pkg/tenant"
	"github.com/dmitrymomot/competitorwatch/svc/notification"
)

// Engine applies billing events to the store.
type Engine struct {
	store     Store
	tenants   tenant.Directory
	notifier  Notifier
	processor Processor
	plans     *PlanTable
	tx        Transactor
	logger    *slog.Logger
	now       func() time.Time
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

func WithEngineLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

func WithEngineClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithTransactor sets the transaction runner; the default runs without one.
func WithTransactor(tx Transactor) EngineOption {
	return func(e *Engine) {
		if tx != nil {
			e.tx = tx
		}
	}
}

func NewEngine(store Store, tenants tenant.Directory, notifier Notifier, processor Processor, plans *PlanTable, opts ...EngineOption) *Engine {
	e := &Engine{
		store:     store,
		tenants:   tenants,
		notifier:  notifier,
		processor: processor,
		plans:     plans,
		tx:        NoTx{},
		logger:    logger.Discard(),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With(logger.Component("subscription_engine"))
	return e
}

// Handle applies ev. References to unknown tenants or subscriptions are
// logged and ignored: they return nil so the event is not retried forever.
func (e *Engine) Handle(ctx context.Context, ev Event) error {
	var err error
	switch ev := ev.(type) {
	case CheckoutCompleted:
		err = e.checkoutCompleted(ctx, ev)
	case SubscriptionChanged:
		err = e.subscriptionChanged(ctx, ev)
	case SubscriptionDeleted:
		err = e.subscriptionDeleted(ctx, ev)
	case PaymentSucceeded:
		err = e.paymentSucceeded(ctx, ev)
	case PaymentFailed:
		err = e.paymentFailed(ctx, ev)
	case Unhandled:
		e.logger.DebugContext(ctx, "ignoring unhandled event", logger.EventType(ev.Type))
		return nil
	default:
		return fmt.Errorf("%w: unsupported event %T", ErrValidation, ev)
	}

	if errors.Is(err, ErrNotFound) {
		e.logger.WarnContext(ctx, "billing event references unknown record",
			logger.EventType(ev.EventName()), logger.Error(err))
		return nil
	}
	return err
}

func (e *Engine) checkoutCompleted(ctx context.Context, ev CheckoutCompleted) error {
	if ev.CustomerID == "" || ev.SubscriptionID == "" {
		e.logger.InfoContext(ctx, "checkout without customer or subscription, skipping",
			slog.String("session_id", ev.SessionID))
		return nil
	}

	t, err := e.checkoutTenant(ctx, ev)
	if err != nil {
		return err
	}
	ctx = tenant.WithTenant(ctx, t)

	if err := e.tenants.SetCustomerID(ctx, t.ID, ev.CustomerID); err != nil {
		if !errors.Is(err, tenant.ErrCustomerIDConflict) {
			return errors.Join(ErrTransientDependency, err)
		}
		// Keep the first link; the paid subscription still belongs to this tenant.
		e.logger.WarnContext(ctx, "tenant already linked to another customer",
			logger.CustomerID(ev.CustomerID))
	}

	snap, err := e.processor.FetchSubscription(ctx, ev.SubscriptionID)
	if err != nil {
		return errors.Join(ErrTransientDependency, err)
	}
	if snap.ExternalID == "" {
		snap.ExternalID = ev.SubscriptionID
	}
	return e.applySnapshot(ctx, t, snap)
}

// checkoutTenant resolves the paying tenant: checkout metadata first, then
// the checkout email, then the processor customer's email.
func (e *Engine) checkoutTenant(ctx context.Context, ev CheckoutCompleted) (*tenant.Tenant, error) {
	if ev.TenantID != uuid.Nil {
		t, err := e.tenants.Get(ctx, ev.TenantID)
		if err == nil {
			return t, nil
		}
		if !errors.Is(err, tenant.ErrTenantNotFound) {
			return nil, errors.Join(ErrTransientDependency, err)
		}
	}

	emailAddr := ev.CustomerEmail
	if emailAddr == "" {
		var err error
		emailAddr, err = e.processor.CustomerEmail(ctx, ev.CustomerID)
		if err != nil {
			return nil, errors.Join(ErrTransientDependency, err)
		}
	}

	t, err := e.tenants.FindByEmail(ctx, emailAddr)
	if err != nil {
		if errors.Is(err, tenant.ErrTenantNotFound) {
			return nil, fmt.Errorf("%w: checkout for customer %s", ErrTenantNotFound, ev.CustomerID)
		}
		return nil, errors.Join(ErrTransientDependency, err)
	}
	return t, nil
}

func (e *Engine) subscriptionChanged(ctx context.Context, ev SubscriptionChanged) error {
	t, err := e.customerTenant(ctx, ev.Snapshot.CustomerID)
	if err != nil {
		return err
	}
	return e.applySnapshot(tenant.WithTenant(ctx, t), t, ev.Snapshot)
}

// applySnapshot stores the processor's view of a paid subscription and
// removes the tenant's local trial in the same transaction.
func (e *Engine) applySnapshot(ctx context.Context, t *tenant.Tenant, snap Snapshot) error {
	return e.tx.WithinTx(ctx, func(ctx context.Context) error {
		current, err := e.lookup(ctx, snap.ExternalID)
		if err != nil {
			return err
		}

		out, err := Transition(State{TenantID: t.ID, Current: current}, SubscriptionChanged{Snapshot: snap}, e.plans, e.now())
		if err != nil {
			return err
		}
		if out.FallbackPlan {
			e.logger.WarnContext(ctx, "unknown price, applying lowest tier",
				slog.String("price_id", snap.PriceID), logger.SubscriptionID(snap.ExternalID))
		}

		if out.DeleteTrials {
			if _, err := e.store.DeleteLocalTrials(ctx, t.ID); err != nil {
				return err
			}
		}
		if err := e.store.Upsert(ctx, out.Next); err != nil {
			return err
		}
		if err := e.runTxEffects(ctx, t, out.Effects); err != nil {
			return err
		}

		e.logger.InfoContext(ctx, "subscription synced",
			logger.SubscriptionID(snap.ExternalID),
			slog.String("status", string(out.Next.Status)),
			slog.Int64("quota", out.Next.Quota))
		return nil
	})
}

func (e *Engine) subscriptionDeleted(ctx context.Context, ev SubscriptionDeleted) error {
	var canceled *Subscription
	err := e.tx.WithinTx(ctx, func(ctx context.Context) error {
		current, err := e.lookup(ctx, ev.ExternalID)
		if err != nil {
			return err
		}
		out, err := Transition(State{TenantID: tenantOf(current), Current: current}, ev, e.plans, e.now())
		if err != nil || out.Next == nil {
			return err
		}
		canceled = out.Next
		return e.store.Upsert(ctx, out.Next)
	})
	if err != nil {
		return err
	}
	if canceled != nil {
		e.logger.InfoContext(ctx, "subscription canceled",
			logger.TenantID(canceled.TenantID), logger.SubscriptionID(ev.ExternalID))
	}
	return nil
}

func (e *Engine) paymentSucceeded(ctx context.Context, ev PaymentSucceeded) error {
	if ev.CustomerID == "" {
		return nil
	}
	t, err := e.customerTenant(ctx, ev.CustomerID)
	if err != nil {
		return err
	}
	ctx = tenant.WithTenant(ctx, t)

	var out Outcome
	err = e.tx.WithinTx(ctx, func(ctx context.Context) error {
		if ev.PaymentID != "" {
			if err := e.store.UpsertPayment(ctx, &Payment{
				TenantID:          t.ID,
				ExternalPaymentID: ev.PaymentID,
				Amount:            ev.Amount,
				Currency:          ev.Currency,
				Status:            PaymentStatusSucceeded,
			}); err != nil {
				return err
			}
		}
		out, err = e.transitionBySubscription(ctx, t, ev.SubscriptionID, ev)
		return err
	})
	if err != nil {
		return err
	}

	e.runPostCommitEffects(ctx, t, out, nil)
	return nil
}

func (e *Engine) paymentFailed(ctx context.Context, ev PaymentFailed) error {
	if ev.CustomerID == "" {
		return nil
	}
	t, err := e.customerTenant(ctx, ev.CustomerID)
	if err != nil {
		return err
	}
	ctx = tenant.WithTenant(ctx, t)

	var out Outcome
	err = e.tx.WithinTx(ctx, func(ctx context.Context) error {
		if ev.PaymentID != "" {
			if err := e.store.UpsertPayment(ctx, &Payment{
				TenantID:          t.ID,
				ExternalPaymentID: ev.PaymentID,
				Amount:            ev.AmountDue,
				Currency:          ev.Currency,
				Status:            PaymentStatusFailed,
			}); err != nil {
				return err
			}
		}
		out, err = e.transitionBySubscription(ctx, t, ev.SubscriptionID, ev)
		return err
	})
	if err != nil {
		return err
	}

	e.runPostCommitEffects(ctx, t, out, map[string]any{
		notification.DataAmountDue:  ev.AmountDue,
		notification.DataCurrency:   ev.Currency,
		notification.DataInvoiceURL: ev.InvoiceURL,
	})
	return nil
}

// transitionBySubscription applies a payment event to the subscription it
// names. Invoices without a subscription, or naming one that is not stored,
// change nothing.
func (e *Engine) transitionBySubscription(ctx context.Context, t *tenant.Tenant, externalID string, ev Event) (Outcome, error) {
	if externalID == "" {
		return Outcome{}, nil
	}
	current, err := e.lookup(ctx, externalID)
	if err != nil {
		return Outcome{}, err
	}
	if current == nil {
		e.logger.WarnContext(ctx, "payment for unknown subscription", logger.SubscriptionID(externalID))
		return Outcome{}, nil
	}

	out, err := Transition(State{TenantID: t.ID, Current: current}, ev, e.plans, e.now())
	if err != nil || out.Next == nil {
		return out, err
	}
	if err := e.store.Upsert(ctx, out.Next); err != nil {
		return Outcome{}, err
	}
	e.logger.InfoContext(ctx, "subscription status changed",
		logger.SubscriptionID(externalID),
		slog.String("from", string(current.Status)),
		slog.String("to", string(out.Next.Status)))
	return out, nil
}

func (e *Engine) runTxEffects(ctx context.Context, t *tenant.Tenant, effects []Effect) error {
	for _, eff := range effects {
		if eff != EffectDiscardTrialReminders {
			continue
		}
		if _, err := e.notifier.DiscardPending(ctx, t.ID, notification.TemplateTrialReminder); err != nil {
			return errors.Join(ErrTransientDependency, err)
		}
	}
	return nil
}

// runPostCommitEffects enqueues notices after the state change committed.
// Failures are logged, never returned: the state change stands.
func (e *Engine) runPostCommitEffects(ctx context.Context, t *tenant.Tenant, out Outcome, extra map[string]any) {
	for _, eff := range out.Effects {
		var template string
		data := map[string]any{notification.DataName: t.Name}
		switch eff {
		case EffectNotifyPaymentFailed:
			template = notification.TemplatePaymentFailed
			for k, v := range extra {
				data[k] = v
			}
		case EffectNotifyReactivated:
			template = notification.TemplatePaymentRecovered
			if out.Next != nil {
				if plan, ok := e.plans.Lookup(out.Next.PriceID); ok {
					data[notification.DataPlanName] = plan.Name
				}
			}
		default:
			continue
		}

		if _, err := e.notifier.Enqueue(ctx, t.ID, t.Email, template, data, e.now()); err != nil {
			e.logger.ErrorContext(ctx, "failed to enqueue billing notice",
				logger.Template(template), logger.Error(errors.Join(ErrTransientDependency, err)))
		}
	}
}

func (e *Engine) customerTenant(ctx context.Context, customerID string) (*tenant.Tenant, error) {
	if customerID == "" {
		return nil, fmt.Errorf("%w: event without customer", ErrValidation)
	}
	t, err := e.tenants.FindByCustomerID(ctx, customerID)
	if err != nil {
		if errors.Is(err, tenant.ErrTenantNotFound) {
			return nil, fmt.Errorf("%w: customer %s", ErrTenantNotFound, customerID)
		}
		return nil, errors.Join(ErrTransientDependency, err)
	}
	return t, nil
}

// lookup returns the stored row for externalID or nil when there is none.
func (e *Engine) lookup(ctx context.Context, externalID string) (*Subscription, error) {
	sub, err := e.store.GetByExternalID(ctx, externalID)
	if err != nil {
		if errors.Is(err, ErrSubscriptionNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return sub, nil
}

func tenantOf(s *Subscription) uuid.UUID {
	if s == nil {
		return uuid.Nil
	}
	return s.TenantID
}
