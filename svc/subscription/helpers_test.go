package subscription_test

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/competitorwatch/pkg/email"
	"github.com/dmitrymomot/competitorwatch/pkg/tenant"
	"github.com/dmitrymomot/competitorwatch/svc/notification"
	"github.com/dmitrymomot/competitorwatch/svc/subscription"
)

var now = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func clock() time.Time { return now }

func testPlans() *subscription.PlanTable {
	return subscription.MustPlanTable(subscription.DefaultPlans(subscription.PlanPrices{
		Starter:      "price_starter",
		Professional: "price_professional",
		Enterprise:   "price_enterprise",
	})...)
}

type fixture struct {
	store   *subscription.MemoryStore
	tenants *tenant.MemoryDirectory
	queue   *notification.MemoryStore
	sender  *email.MemorySender
	outbox  *notification.Outbox
	plans   *subscription.PlanTable
	tenant  tenant.Tenant
}

func newFixture(opts ...notification.OutboxOption) *fixture {
	f := &fixture{
		store:   subscription.NewMemoryStore(),
		tenants: tenant.NewMemoryDirectory(),
		queue:   notification.NewMemoryStore(),
		sender:  email.NewMemorySender(),
		plans:   testPlans(),
		tenant: tenant.Tenant{
			ID:    uuid.New(),
			Email: "owner@acme.test",
			Name:  "Ada",
		},
	}
	f.tenants.Add(f.tenant)
	cfg := notification.DefaultConfig()
	cfg.AppURL = "https://app.test"
	f.outbox = notification.NewOutbox(f.queue, f.sender, cfg,
		append([]notification.OutboxOption{notification.WithOutboxClock(clock)}, opts...)...)
	return f
}

// messages returns queued messages of template for the fixture tenant.
func (f *fixture) messages(template string) []*notification.Message {
	var out []*notification.Message
	for _, m := range f.queue.Messages() {
		if m.TenantID == f.tenant.ID && m.Template == template {
			out = append(out, m)
		}
	}
	return out
}

// fakeProcessor serves subscription snapshots and customer emails from maps.
type fakeProcessor struct {
	mu     sync.Mutex
	subs   map[string]subscription.Snapshot
	emails map[string]string
	err    error
	calls  int
}

func newFakeProcessor() *fakeProcessor {
	return &fakeProcessor{
		subs:   make(map[string]subscription.Snapshot),
		emails: make(map[string]string),
	}
}

func (p *fakeProcessor) FetchSubscription(_ context.Context, externalID string) (subscription.Snapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.err != nil {
		return subscription.Snapshot{}, p.err
	}
	return p.subs[externalID], nil
}

func (p *fakeProcessor) CustomerEmail(_ context.Context, customerID string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	return p.emails[customerID], nil
}

func counter(n int64) subscription.UsageCounter {
	return func(context.Context, uuid.UUID) (int64, error) { return n, nil }
}
