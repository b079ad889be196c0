//go:build integration

package subscription_test

import (
	"context"
	"log"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/competitorwatch/pkg/email"
	"github.com/dmitrymomot/competitorwatch/pkg/pg"
	"github.com/dmitrymomot/competitorwatch/pkg/pg/pgtest"
	"github.com/dmitrymomot/competitorwatch/pkg/tenant"
	"github.com/dmitrymomot/competitorwatch/svc/notification"
	"github.com/dmitrymomot/competitorwatch/svc/subscription"
)

var pool *pgxpool.Pool

func TestMain(m *testing.M) {
	var (
		cleanup func()
		err     error
	)
	pool, cleanup, err = pgtest.Run()
	if err != nil {
		log.Fatalf("start postgres: %v", err)
	}
	code := m.Run()
	cleanup()
	os.Exit(code)
}

func TestPostgresTrialLifecycle(t *testing.T) {
	ctx := context.Background()
	pgtest.Truncate(t, pool, "tenants", "notification_queue", "notification_dead_letters")

	tenants := tenant.NewPostgresDirectory(pool)
	owner := &tenant.Tenant{Email: "owner@acme.test", Name: "Ada"}
	require.NoError(t, tenants.Create(ctx, owner))

	store := subscription.NewPostgresStore(pool)
	sender := email.NewMemorySender()
	cfg := notification.DefaultConfig()
	cfg.AppURL = "https://app.test"
	outbox := notification.NewOutbox(notification.NewPostgresStore(pool), sender, cfg)
	tx := pg.NewTransactor(pool)
	plans := testPlans()

	clk := &testClock{t: time.Now().UTC().Truncate(time.Microsecond)}
	trials := subscription.NewTrialManager(store, tenants, outbox, plans, subscription.DefaultConfig(),
		subscription.WithTrialClock(clk.Now), subscription.WithTrialTransactor(tx))

	trial, err := trials.StartTrial(ctx, owner.ID)
	require.NoError(t, err)

	statuses, err := outbox.Status(ctx, owner.ID, notification.TemplateTrialReminder)
	require.NoError(t, err)
	assert.Len(t, statuses, 3)

	_, err = trials.StartTrial(ctx, owner.ID)
	assert.ErrorIs(t, err, subscription.ErrSubscriptionExists)

	clk.Advance(15 * 24 * time.Hour)
	report, err := trials.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Found)
	assert.Equal(t, 1, report.Expired)
	assert.Equal(t, 1, report.EmailsSent)

	current, err := store.Current(ctx, owner.ID)
	require.NoError(t, err)
	assert.Equal(t, trial.ID, current.ID)
	assert.Equal(t, subscription.StatusExpired, current.Status)

	report, err = trials.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Found)
	assert.Len(t, sender.Sent(), 1)

	ok, err := store.ExpireTrial(ctx, trial.ID, clk.Now())
	require.NoError(t, err)
	assert.False(t, ok, "only trialing rows expire")
}

func TestPostgresEngineCheckout(t *testing.T) {
	ctx := context.Background()
	pgtest.Truncate(t, pool, "tenants", "notification_queue", "notification_dead_letters")

	tenants := tenant.NewPostgresDirectory(pool)
	owner := &tenant.Tenant{Email: "billing@acme.test", Name: "Acme"}
	require.NoError(t, tenants.Create(ctx, owner))

	store := subscription.NewPostgresStore(pool)
	outbox := notification.NewOutbox(notification.NewPostgresStore(pool), email.NewMemorySender(), notification.DefaultConfig())
	tx := pg.NewTransactor(pool)
	plans := testPlans()

	trials := subscription.NewTrialManager(store, tenants, outbox, plans, subscription.DefaultConfig(),
		subscription.WithTrialTransactor(tx))
	_, err := trials.StartTrial(ctx, owner.ID)
	require.NoError(t, err)

	proc := newFakeProcessor()
	proc.subs["sub_pg"] = subscription.Snapshot{
		ExternalID:  "sub_pg",
		CustomerID:  "cus_pg",
		PriceID:     "price_enterprise",
		Status:      subscription.StatusActive,
		PeriodStart: time.Now().UTC().Truncate(time.Second),
		PeriodEnd:   time.Now().UTC().AddDate(0, 1, 0).Truncate(time.Second),
	}
	engine := subscription.NewEngine(store, tenants, outbox, proc, plans, subscription.WithTransactor(tx))
	require.NoError(t, engine.Handle(ctx, subscription.CheckoutCompleted{
		CustomerID:     "cus_pg",
		SubscriptionID: "sub_pg",
		TenantID:       owner.ID,
	}))

	current, err := store.Current(ctx, owner.ID)
	require.NoError(t, err)
	assert.Equal(t, "sub_pg", current.ExternalID)
	assert.Equal(t, subscription.Unlimited, current.Quota)

	statuses, err := outbox.Status(ctx, owner.ID, notification.TemplateTrialReminder)
	require.NoError(t, err)
	assert.NotContains(t, statuses, notification.StatusPending)

	require.NoError(t, engine.Handle(ctx, subscription.PaymentFailed{
		CustomerID: "cus_pg", SubscriptionID: "sub_pg", PaymentID: "in_pg", AmountDue: 9900, Currency: "usd",
	}))
	current, err = store.GetByExternalID(ctx, "sub_pg")
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusPastDue, current.Status)

	checker := subscription.NewChecker(store, counter(3))
	ent, err := checker.Check(ctx, owner.ID)
	require.NoError(t, err)
	assert.Equal(t, subscription.CodeSubscriptionInactive, ent.Code)
}

func TestPostgresUsageCounter(t *testing.T) {
	ctx := context.Background()
	pgtest.Truncate(t, pool, "tenants")

	tenants := tenant.NewPostgresDirectory(pool)
	owner := &tenant.Tenant{Email: "usage@acme.test", Name: "Ada"}
	require.NoError(t, tenants.Create(ctx, owner))

	count := subscription.PostgresUsageCounter(pool, "")
	n, err := count(ctx, owner.ID)
	require.NoError(t, err)
	assert.Zero(t, n)

	for _, name := range []string{"Rival", "Other"} {
		_, err := pool.Exec(ctx,
			`INSERT INTO competitors (id, tenant_id, name, url) VALUES (gen_random_uuid(), $1, $2, $3)`,
			owner.ID, name, "https://"+name+".test")
		require.NoError(t, err)
	}

	n, err = count(ctx, owner.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	_, err = subscription.PostgresUsageCounter(pool, "SELECT count(*) FROM missing_table WHERE tenant_id = $1")(ctx, owner.ID)
	assert.ErrorIs(t, err, subscription.ErrTransientDependency)
}
