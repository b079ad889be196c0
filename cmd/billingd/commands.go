package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/dmitrymomot/competitorwatch/migrations"
	"github.com/dmitrymomot/competitorwatch/pkg/pg"
	"github.com/dmitrymomot/competitorwatch/svc/subscription"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}
		pool, err := pg.Connect(cmd.Context(), cfg.Postgres)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer pool.Close()
		return pg.Migrate(cmd.Context(), pool, migrations.FS, cfg.Postgres, log)
	},
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Expire ended trials once and print the report",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		report, err := a.trials.Sweep(cmd.Context())
		if err != nil {
			return err
		}
		if err := printJSON(cmd.OutOrStdout(), report); err != nil {
			return err
		}
		if report.Errors > 0 {
			return fmt.Errorf("%w: %d of %d rows failed", subscription.ErrSweepRow, report.Errors, report.Found)
		}
		return nil
	},
}

var startTrialCmd = &cobra.Command{
	Use:   "start-trial <tenant-id>",
	Short: "Start a free trial for a tenant",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tenantID, err := parseTenantID(args[0])
		if err != nil {
			return err
		}
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		sub, err := a.trials.StartTrial(cmd.Context(), tenantID)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), sub)
	},
}

var convertTrialCmd = &cobra.Command{
	Use:   "convert-trial <tenant-id> <price-id>",
	Short: "Convert a tenant's trial to a paid plan without the processor",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		tenantID, err := parseTenantID(args[0])
		if err != nil {
			return err
		}
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		sub, err := a.trials.ConvertTrial(cmd.Context(), tenantID, args[1])
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), sub)
	},
}

var entitlementCmd = &cobra.Command{
	Use:   "entitlement <tenant-id>",
	Short: "Show a tenant's subscription and whether it may add a resource",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tenantID, err := parseTenantID(args[0])
		if err != nil {
			return err
		}
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		summary, err := a.checker.Status(cmd.Context(), tenantID)
		if err != nil && !errors.Is(err, subscription.ErrSubscriptionNotFound) {
			return err
		}
		ent, err := a.checker.Check(cmd.Context(), tenantID)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), map[string]any{
			"summary":     summary,
			"entitlement": ent,
		})
	},
}

func parseTenantID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: tenant id %q: %v", subscription.ErrValidation, raw, err)
	}
	return id, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
