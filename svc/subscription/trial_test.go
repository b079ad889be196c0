package subscription_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/competitorwatch/svc/notification"
	"github.com/dmitrymomot/competitorwatch/svc/subscription"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTrials(f *fixture, now func() time.Time) *subscription.TrialManager {
	return subscription.NewTrialManager(f.store, f.tenants, f.outbox, f.plans, subscription.DefaultConfig(),
		subscription.WithTrialClock(now))
}

func TestStartTrial(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture()
	trials := newTrials(f, clock)

	sub, err := trials.StartTrial(ctx, f.tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, subscription.TrialPriceID, sub.PriceID)
	assert.Equal(t, subscription.StatusTrialing, sub.Status)
	assert.Equal(t, int64(5), sub.Quota, "trial gets the lowest tier quota")
	assert.Equal(t, now.AddDate(0, 0, 14), sub.PeriodEnd)
	assert.Contains(t, sub.ExternalID, "trial_"+f.tenant.ID.String())

	reminders := f.messages(notification.TemplateTrialReminder)
	require.Len(t, reminders, 3)
	byDay := map[int]time.Time{}
	for _, m := range reminders {
		assert.Equal(t, f.tenant.Email, m.Destination)
		byDay[m.Data[notification.DataDaysRemaining].(int)] = m.ScheduledFor
	}
	assert.Equal(t, map[int]time.Time{
		7: now.AddDate(0, 0, 7),
		3: now.AddDate(0, 0, 11),
		0: now.AddDate(0, 0, 14),
	}, byDay)

	t.Run("second trial is rejected", func(t *testing.T) {
		_, err := trials.StartTrial(ctx, f.tenant.ID)
		assert.ErrorIs(t, err, subscription.ErrSubscriptionExists)
		assert.Len(t, f.store.All(f.tenant.ID), 1)
	})

	t.Run("unknown tenant", func(t *testing.T) {
		_, err := trials.StartTrial(ctx, uuid.New())
		assert.ErrorIs(t, err, subscription.ErrTenantNotFound)
	})
}

func TestConvertTrial(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("grants the plan for a month", func(t *testing.T) {
		t.Parallel()
		f := newFixture()
		trials := newTrials(f, clock)
		trial, err := trials.StartTrial(ctx, f.tenant.ID)
		require.NoError(t, err)

		sub, err := trials.ConvertTrial(ctx, f.tenant.ID, "price_professional")
		require.NoError(t, err)
		assert.Equal(t, trial.ID, sub.ID, "row is converted in place")
		assert.Equal(t, subscription.StatusActive, sub.Status)
		assert.Equal(t, int64(20), sub.Quota)
		assert.Equal(t, now.AddDate(0, 1, 0), sub.PeriodEnd)
		assert.Contains(t, sub.ExternalID, "manual_")
		assert.False(t, sub.IsLocalTrial())

		for _, m := range f.messages(notification.TemplateTrialReminder) {
			assert.NotEqual(t, notification.StatusPending, m.Status)
		}

		_, err = trials.ConvertTrial(ctx, f.tenant.ID, "price_professional")
		assert.ErrorIs(t, err, subscription.ErrNotTrialing, "already converted")
	})

	t.Run("unknown price", func(t *testing.T) {
		t.Parallel()
		f := newFixture()
		trials := newTrials(f, clock)
		_, err := trials.StartTrial(ctx, f.tenant.ID)
		require.NoError(t, err)

		_, err = trials.ConvertTrial(ctx, f.tenant.ID, "price_legacy")
		assert.ErrorIs(t, err, subscription.ErrPlanNotFound)

		sub, err := f.store.Current(ctx, f.tenant.ID)
		require.NoError(t, err)
		assert.True(t, sub.IsLocalTrial(), "trial is untouched")
	})

	t.Run("no trial", func(t *testing.T) {
		t.Parallel()
		f := newFixture()
		_, err := newTrials(f, clock).ConvertTrial(ctx, f.tenant.ID, "price_starter")
		assert.ErrorIs(t, err, subscription.ErrNotTrialing)
	})
}

func TestSweepTrialExpiredScenario(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	clk := &testClock{t: now}
	f := newFixture()
	trials := newTrials(f, clk.Now)
	checker := subscription.NewChecker(f.store, counter(2), subscription.WithCheckerClock(clk.Now))

	_, err := trials.StartTrial(ctx, f.tenant.ID)
	require.NoError(t, err)

	ent, err := checker.Check(ctx, f.tenant.ID)
	require.NoError(t, err)
	assert.True(t, ent.Allowed)

	clk.Advance(13 * 24 * time.Hour)
	report, err := trials.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Found, "trial still running")

	clk.Advance(2 * 24 * time.Hour)
	ent, err = checker.Check(ctx, f.tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, subscription.CodeTrialExpired, ent.Code, "denied before the sweep runs")

	report, err = trials.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Found)
	assert.Equal(t, 1, report.Expired)
	assert.Equal(t, 1, report.EmailsSent)
	assert.Zero(t, report.Errors)

	sub, err := f.store.Current(ctx, f.tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusExpired, sub.Status)

	sent := f.sender.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, notification.TemplateTrialEnded, sent[0].Tag)
	assert.Equal(t, f.tenant.Email, sent[0].SendTo)

	ended := f.messages(notification.TemplateTrialEnded)
	require.Len(t, ended, 1)
	assert.Equal(t, notification.StatusSent, ended[0].Status)

	ent, err = checker.Check(ctx, f.tenant.ID)
	require.NoError(t, err)
	assert.False(t, ent.Allowed)
	assert.Equal(t, subscription.CodeSubscriptionInactive, ent.Code, "expired rows read as inactive")

	report, err = trials.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Found, "expired rows are not picked again")
	assert.Len(t, f.sender.Sent(), 1)
}

func TestSweepSkipsAlreadyNotified(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture()
	seed(t, f.store, f.tenant.ID, subscription.TrialPriceID, subscription.StatusTrialing, 5, now.Add(-time.Hour))
	_, err := f.outbox.Enqueue(ctx, f.tenant.ID, f.tenant.Email, notification.TemplateTrialEnded, nil, now)
	require.NoError(t, err)

	report, err := newTrials(f, clock).Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Expired)
	assert.Zero(t, report.EmailsSent)
	assert.Empty(t, f.sender.Sent())
}

func TestSweepContinuesPastRowFailures(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture()
	f.sender.FailWith(errors.New("provider down"))

	seed(t, f.store, f.tenant.ID, subscription.TrialPriceID, subscription.StatusTrialing, 5, now.Add(-time.Hour))
	orphan := uuid.New()
	seed(t, f.store, orphan, subscription.TrialPriceID, subscription.StatusTrialing, 5, now.Add(-time.Hour))

	trials := newTrials(f, clock)
	report, err := trials.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Found)
	assert.Equal(t, 2, report.Expired, "rows are expired even when notifying fails")
	assert.Zero(t, report.EmailsSent)
	assert.Equal(t, 2, report.Errors)
	assert.Len(t, report.ErrorMessages, 2)

	ended := f.messages(notification.TemplateTrialEnded)
	require.Len(t, ended, 1, "failed send is queued for retry")
	assert.Equal(t, notification.StatusPending, ended[0].Status)
	assert.Equal(t, 1, ended[0].Attempts)

	f.sender.FailWith(nil)
	report, err = trials.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Found)
}
