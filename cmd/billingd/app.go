package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"

	modbilling "github.com/dmitrymomot/competitorwatch/modules/billing"
	"github.com/dmitrymomot/competitorwatch/pkg/clientip"
	"github.com/dmitrymomot/competitorwatch/pkg/config"
	"github.com/dmitrymomot/competitorwatch/pkg/email"
	"github.com/dmitrymomot/competitorwatch/pkg/httpserver"
	"github.com/dmitrymomot/competitorwatch/pkg/logger"
	"github.com/dmitrymomot/competitorwatch/pkg/pg"
	"github.com/dmitrymomot/competitorwatch/pkg/requestid"
	"github.com/dmitrymomot/competitorwatch/pkg/tenant"
	"github.com/dmitrymomot/competitorwatch/svc/billing"
	"github.com/dmitrymomot/competitorwatch/svc/notification"
	"github.com/dmitrymomot/competitorwatch/svc/subscription"
)

type appConfig struct {
	Logger       logger.Config
	Postgres     pg.Config
	HTTP         httpserver.Config
	Email        email.Config
	Notification notification.Config
	Subscription subscription.Config
	Stripe       billing.Config
	API          modbilling.Config
	UsageQuery   string `env:"USAGE_COUNT_QUERY"`
}

// app holds the wired services of one process.
type app struct {
	cfg  appConfig
	log  *slog.Logger
	pool *pgxpool.Pool

	plans   *subscription.PlanTable
	outbox  *notification.Outbox
	worker  *notification.Worker
	engine  *subscription.Engine
	trials  *subscription.TrialManager
	checker *subscription.Checker
	ingress *billing.Ingress
}

func loadConfig() (appConfig, *slog.Logger, error) {
	var cfg appConfig
	if err := config.Load(&cfg); err != nil {
		return cfg, nil, fmt.Errorf("load config: %w", err)
	}
	log := logger.FromConfig(cfg.Logger,
		logger.WithOutput(os.Stderr),
		logger.WithContextExtractors(requestid.LoggerExtractor(), clientip.LoggerExtractor(), tenant.LoggerExtractor()),
	)
	return cfg, log, nil
}

// newApp connects to Postgres and wires every service. Call close when done.
func newApp(ctx context.Context) (*app, error) {
	cfg, log, err := loadConfig()
	if err != nil {
		return nil, err
	}

	pool, err := pg.Connect(ctx, cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	a := &app{cfg: cfg, log: log, pool: pool}
	if err := a.wire(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context) error {
	var src subscription.PlansSource
	if path := a.cfg.Subscription.PlansFile; path != "" {
		src = subscription.NewYAMLSource(path)
	} else {
		src = subscription.NewInMemSource(subscription.DefaultPlans(a.cfg.Subscription.Prices)...)
	}
	plans, err := subscription.NewPlanTable(ctx, src)
	if err != nil {
		return fmt.Errorf("load plans: %w", err)
	}
	a.plans = plans

	sender, err := email.NewSender(a.cfg.Email)
	if err != nil {
		return fmt.Errorf("email sender: %w", err)
	}

	tx := pg.NewTransactor(a.pool)
	tenants := tenant.NewPostgresDirectory(a.pool)
	subs := subscription.NewPostgresStore(a.pool)
	queue := notification.NewPostgresStore(a.pool)
	stripeClient := billing.NewStripeClient(a.cfg.Stripe)

	a.outbox = notification.NewOutbox(queue, sender, a.cfg.Notification,
		notification.WithOutboxLogger(a.log))
	a.worker = notification.NewWorker(queue, sender, a.cfg.Notification,
		notification.WithWorkerLogger(a.log))
	a.engine = subscription.NewEngine(subs, tenants, a.outbox, stripeClient, plans,
		subscription.WithEngineLogger(a.log),
		subscription.WithTransactor(tx))
	a.trials = subscription.NewTrialManager(subs, tenants, a.outbox, plans, a.cfg.Subscription,
		subscription.WithTrialLogger(a.log),
		subscription.WithTrialTransactor(tx))
	a.checker = subscription.NewChecker(subs, subscription.PostgresUsageCounter(a.pool, a.cfg.UsageQuery),
		subscription.WithCheckerPlans(plans))
	a.ingress = billing.NewIngress(stripeClient, billing.NewPostgresEventLog(a.pool), a.engine,
		billing.WithIngressLogger(a.log))
	return nil
}

func (a *app) close() {
	a.pool.Close()
}
