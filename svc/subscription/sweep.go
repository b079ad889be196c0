package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/dmitrymomot/competitorwatch/pkg/logger"
	"github.com/dmitrymomot/competitorwatch/pkg/metrics"
	"github.com/dmitrymomot/competitorwatch/svc/notification"
)

// SweepReport summarizes one Sweep run.
type SweepReport struct {
	Found         int           `json:"found"`
	Expired       int           `json:"expired"`
	EmailsSent    int           `json:"emailsSent"`
	Errors        int           `json:"errors"`
	ErrorMessages []string      `json:"errorMessages,omitempty"`
	Elapsed       time.Duration `json:"elapsed"`
}

// Sweep expires every local trial whose period has ended and sends each
// tenant a single trial_ended notice. Row failures are counted in the report
// and do not stop the run; only a failure to list candidates is returned.
func (m *TrialManager) Sweep(ctx context.Context) (report SweepReport, err error) {
	start := time.Now()
	now := m.now()
	defer func() {
		report.Elapsed = time.Since(start)
		metrics.SweepDuration.Observe(report.Elapsed.Seconds())
	}()

	trials, err := m.store.ListExpiredTrials(ctx, now)
	if err != nil {
		return report, errors.Join(ErrTransientDependency, err)
	}
	report.Found = len(trials)
	metrics.SweepRows.WithLabelValues("found").Add(float64(len(trials)))

	for _, sub := range trials {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		log := m.logger.With(logger.TenantID(sub.TenantID), logger.SubscriptionID(sub.ExternalID))
		expired, sent, err := m.expire(ctx, sub, now)
		if expired {
			report.Expired++
			metrics.SweepRows.WithLabelValues("expired").Inc()
		}
		if sent {
			report.EmailsSent++
		}
		if err != nil {
			err = fmt.Errorf("%w: tenant %s: %w", ErrSweepRow, sub.TenantID, err)
			report.Errors++
			report.ErrorMessages = append(report.ErrorMessages, err.Error())
			metrics.SweepRows.WithLabelValues("error").Inc()
			log.ErrorContext(ctx, "trial sweep row failed", logger.Error(err))
			continue
		}
		log.InfoContext(ctx, "trial expired", slog.Bool("notified", sent))
	}

	m.logger.InfoContext(ctx, "trial sweep finished",
		slog.Int("found", report.Found),
		slog.Int("expired", report.Expired),
		slog.Int("emails_sent", report.EmailsSent),
		slog.Int("errors", report.Errors))
	return report, nil
}

// expire moves one trial to expired and notifies the tenant unless a
// trial_ended notice is already sent or queued. A row that another sweep
// already expired still gets its notice checked.
func (m *TrialManager) expire(ctx context.Context, sub *Subscription, now time.Time) (expired, sent bool, err error) {
	expired, err = m.store.ExpireTrial(ctx, sub.ID, now)
	if err != nil {
		return false, false, err
	}

	statuses, err := m.notifier.Status(ctx, sub.TenantID, notification.TemplateTrialEnded)
	if err != nil {
		return expired, false, err
	}
	if slices.Contains(statuses, notification.StatusSent) || slices.Contains(statuses, notification.StatusPending) {
		return expired, false, nil
	}

	t, err := m.tenant(ctx, sub.TenantID)
	if err != nil {
		return expired, false, err
	}

	// The notice is recorded even when the send fails; the worker retries it.
	_, err = m.notifier.Deliver(ctx, t.ID, t.Email, notification.TemplateTrialEnded, map[string]any{
		notification.DataName: t.Name,
	})
	if err != nil {
		return expired, false, err
	}
	return expired, true, nil
}
