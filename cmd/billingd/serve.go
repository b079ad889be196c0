package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/competitorwatch/migrations"
	modbilling "github.com/dmitrymomot/competitorwatch/modules/billing"
	"github.com/dmitrymomot/competitorwatch/pkg/httpserver"
	"github.com/dmitrymomot/competitorwatch/pkg/metrics"
	"github.com/dmitrymomot/competitorwatch/pkg/pg"
	"github.com/dmitrymomot/competitorwatch/pkg/ratelimiter"
)

var serveMigrate bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server and the notification worker",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		if serveMigrate {
			if err := pg.Migrate(ctx, a.pool, migrations.FS, a.cfg.Postgres, a.log); err != nil {
				return err
			}
		}

		metrics.Init()
		limits := ratelimiter.NewMemoryStore()
		limiter, err := ratelimiter.NewBucket(limits, a.cfg.API.RateLimit)
		if err != nil {
			return err
		}
		router := modbilling.Router(modbilling.RouterOptions{
			Config:       a.cfg.API,
			Webhooks:     a.ingress,
			Trials:       a.trials,
			Entitlements: a.checker,
			Plans:        a.plans,
			Readiness:    []httpserver.Check{{Name: "postgres", Probe: pg.Healthcheck(a.pool)}},
			RateLimiter:  limiter,
			Logger:       a.log,
		})
		srv := httpserver.NewFromConfig(a.cfg.HTTP, httpserver.WithLogger(a.log))

		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error { return srv.Run(ctx, router) })
		g.Go(a.worker.Run(ctx))
		g.Go(func() error { return limits.Run(ctx, 5*time.Minute) })

		a.log.InfoContext(ctx, "billingd started")
		err = g.Wait()
		a.log.InfoContext(context.WithoutCancel(ctx), "billingd stopped")
		return err
	},
}

func init() {
	serveCmd.Flags().BoolVar(&serveMigrate, "migrate", false, "apply pending migrations before serving")
}
