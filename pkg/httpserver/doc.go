// Package httpserver runs the service's HTTP listener with graceful shutdown
// and provides the liveness and readiness probe handlers.
//
//	srv := httpserver.NewFromConfig(cfg, httpserver.WithLogger(log))
//	if err := srv.Run(ctx, router); err != nil {
//		return err
//	}
//
// Run blocks until ctx is cancelled or the listener fails; the caller owns
// signal handling.
package httpserver
