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

// TrialManager owns locally managed trials: creation at onboarding, manual
// conversion by an operator and expiration by Sweep.
type TrialManager struct {
	store    Store
	tenants  tenant.Directory
	notifier Notifier
	plans    *PlanTable
	tx       Transactor
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time
}

// TrialOption configures a TrialManager.
type TrialOption func(*TrialManager)

func WithTrialLogger(l *slog.Logger) TrialOption {
	return func(m *TrialManager) {
		if l != nil {
			m.logger = l
		}
	}
}

func WithTrialClock(now func() time.Time) TrialOption {
	return func(m *TrialManager) {
		if now != nil {
			m.now = now
		}
	}
}

func WithTrialTransactor(tx Transactor) TrialOption {
	return func(m *TrialManager) {
		if tx != nil {
			m.tx = tx
		}
	}
}

func NewTrialManager(store Store, tenants tenant.Directory, notifier Notifier, plans *PlanTable, cfg Config, opts ...TrialOption) *TrialManager {
	if cfg.TrialDays <= 0 {
		cfg.TrialDays = DefaultConfig().TrialDays
	}
	m := &TrialManager{
		store:    store,
		tenants:  tenants,
		notifier: notifier,
		plans:    plans,
		tx:       NoTx{},
		cfg:      cfg,
		logger:   logger.Discard(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With(logger.Component("trial_manager"))
	return m
}

// StartTrial creates the tenant's trial with the lowest paid tier quota and
// schedules the reminder emails in the same transaction. A tenant that
// already has any subscription gets ErrSubscriptionExists.
func (m *TrialManager) StartTrial(ctx context.Context, tenantID uuid.UUID) (*Subscription, error) {
	t, err := m.tenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	now := m.now()
	end := now.AddDate(0, 0, m.cfg.TrialDays)
	sub := &Subscription{
		ID:          uuid.New(),
		TenantID:    t.ID,
		ExternalID:  trialExternalID(t.ID, now),
		PriceID:     TrialPriceID,
		Status:      StatusTrialing,
		PeriodStart: now,
		PeriodEnd:   end,
		Quota:       m.plans.Lowest().Quota,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err = m.tx.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := m.store.Current(ctx, t.ID); err == nil {
			return ErrSubscriptionExists
		} else if !errors.Is(err, ErrSubscriptionNotFound) {
			return err
		}

		if err := m.store.Upsert(ctx, sub); err != nil {
			return err
		}
		return m.notifier.EnqueueBatch(ctx, m.reminders(t, now, end))
	})
	if err != nil {
		return nil, err
	}

	m.logger.InfoContext(ctx, "trial started",
		logger.TenantID(t.ID), slog.Time("ends_at", end), slog.Int64("quota", sub.Quota))
	return sub, nil
}

// reminders builds one trial_reminder per configured day that falls inside
// the trial window.
func (m *TrialManager) reminders(t *tenant.Tenant, start, end time.Time) []notification.Message {
	msgs := make([]notification.Message, 0, len(m.cfg.ReminderDays))
	for _, day := range m.cfg.ReminderDays {
		if day <= 0 || day > m.cfg.TrialDays {
			continue
		}
		at := start.AddDate(0, 0, day)
		if at.After(end) {
			continue
		}
		msgs = append(msgs, notification.Message{
			TenantID:     t.ID,
			Destination:  t.Email,
			Template:     notification.TemplateTrialReminder,
			ScheduledFor: at,
			Data: map[string]any{
				notification.DataName:          t.Name,
				notification.DataDaysRemaining: m.cfg.TrialDays - day,
			},
		})
	}
	return msgs
}

// ConvertTrial turns the tenant's local trial into a manually granted paid
// plan for one month. Unlike processor events, an unknown price is an error
// here (ErrPlanNotFound): operators must name a real plan.
func (m *TrialManager) ConvertTrial(ctx context.Context, tenantID uuid.UUID, priceID string) (*Subscription, error) {
	plan, ok := m.plans.Lookup(priceID)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrPlanNotFound, priceID)
	}

	var converted *Subscription
	err := m.tx.WithinTx(ctx, func(ctx context.Context) error {
		sub, err := m.store.Current(ctx, tenantID)
		if err != nil {
			if errors.Is(err, ErrSubscriptionNotFound) {
				return ErrNotTrialing
			}
			return err
		}
		if !sub.IsLocalTrial() {
			return ErrNotTrialing
		}

		now := m.now()
		sub.ExternalID = manualExternalID(tenantID, now)
		sub.PriceID = plan.PriceID
		sub.Status = StatusActive
		sub.PeriodStart = now
		sub.PeriodEnd = now.AddDate(0, 1, 0)
		sub.CancelAtPeriodEnd = false
		sub.Quota = plan.Quota
		sub.UpdatedAt = now
		if err := m.store.Update(ctx, sub); err != nil {
			return err
		}
		if _, err := m.notifier.DiscardPending(ctx, tenantID, notification.TemplateTrialReminder); err != nil {
			return err
		}
		converted = sub
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.logger.InfoContext(ctx, "trial converted",
		logger.TenantID(tenantID), slog.String("price_id", plan.PriceID), slog.Int64("quota", plan.Quota))
	return converted, nil
}

func (m *TrialManager) tenant(ctx context.Context, id uuid.UUID) (*tenant.Tenant, error) {
	t, err := m.tenants.Get(ctx, id)
	if err != nil {
		if errors.Is(err, tenant.ErrTenantNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrTenantNotFound, id)
		}
		return nil, errors.Join(ErrTransientDependency, err)
	}
	return t, nil
}
