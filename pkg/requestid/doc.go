// Package requestid tags every inbound HTTP request with a correlation id.
//
// Middleware reuses a well-formed X-Request-ID (or X-Correlation-ID) sent by
// the caller, otherwise it generates a UUID. The id is stored in the request
// context, echoed in the X-Request-ID response header and picked up by the
// logger through LoggerExtractor, so webhook deliveries and cron runs can be
// traced across log lines.
//
//	r := chi.NewRouter()
//	r.Use(requestid.Middleware)
//
//	log := logger.New(logger.WithContextExtractors(requestid.LoggerExtractor()))
package requestid
