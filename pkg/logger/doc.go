// Package logger builds the process *slog.Logger and defines the attribute
// helpers used across the billing services.
//
// New returns a logger whose handler is wrapped by LogHandlerDecorator, which
// pulls request-scoped values (request id, tenant id) out of the context on
// every record. Production uses JSON output at info level, development uses
// text output at debug level:
//
//	log := logger.New(logger.WithEnvironment(cfg.Env, "billingd"))
//	log.InfoContext(ctx, "trial expired", logger.TenantID(id), logger.SubscriptionID(subID))
package logger
