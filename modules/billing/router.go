package billing

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/dmitrymomot/competitorwatch/handler"
	"github.com/dmitrymomot/competitorwatch/pkg/clientip"
	"github.com/dmitrymomot/competitorwatch/pkg/httpserver"
	"github.com/dmitrymomot/competitorwatch/pkg/logger"
	"github.com/dmitrymomot/competitorwatch/pkg/metrics"
	"github.com/dmitrymomot/competitorwatch/pkg/ratelimiter"
	"github.com/dmitrymomot/competitorwatch/pkg/requestid"
	stripebilling "github.com/dmitrymomot/competitorwatch/svc/billing"
	"github.com/dmitrymomot/competitorwatch/svc/subscription"
)

// WebhookReceiver accepts raw processor deliveries. *stripebilling.Ingress
// implements it.
type WebhookReceiver interface {
	Receive(ctx context.Context, payload []byte, header string) (stripebilling.Receipt, error)
}

// TrialService runs trial operations. *subscription.TrialManager
// implements it.
type TrialService interface {
	StartTrial(ctx context.Context, tenantID uuid.UUID) (*subscription.Subscription, error)
	ConvertTrial(ctx context.Context, tenantID uuid.UUID, priceID string) (*subscription.Subscription, error)
	Sweep(ctx context.Context) (subscription.SweepReport, error)
}

// EntitlementService answers quota questions. *subscription.Checker
// implements it.
type EntitlementService interface {
	Check(ctx context.Context, tenantID uuid.UUID) (subscription.Entitlement, error)
	Status(ctx context.Context, tenantID uuid.UUID) (*subscription.Summary, error)
}

// RouterOptions wires the router. Webhooks, Trials and Entitlements are
// required; the rest is optional.
type RouterOptions struct {
	Config       Config
	Webhooks     WebhookReceiver
	Trials       TrialService
	Entitlements EntitlementService
	Plans        *subscription.PlanTable
	Readiness    []httpserver.Check
	RateLimiter  ratelimiter.Limiter
	Logger       *slog.Logger
	Clock        func() time.Time
}

type routes struct {
	cfg          Config
	limiter      ratelimiter.Limiter
	webhooks     WebhookReceiver
	trials       TrialService
	entitlements EntitlementService
	plans        *subscription.PlanTable
	logger       *slog.Logger
	now          func() time.Time
}

// Router builds the service router.
func Router(opts RouterOptions) chi.Router {
	h := &routes{
		cfg:          opts.Config,
		limiter:      opts.RateLimiter,
		webhooks:     opts.Webhooks,
		trials:       opts.Trials,
		entitlements: opts.Entitlements,
		plans:        opts.Plans,
		logger:       opts.Logger,
		now:          opts.Clock,
	}
	if h.logger == nil {
		h.logger = logger.Discard()
	}
	h.logger = h.logger.With(logger.Component("http"))
	if h.now == nil {
		h.now = func() time.Time { return time.Now().UTC() }
	}
	if h.cfg.WebhookMaxBytes <= 0 {
		h.cfg.WebhookMaxBytes = 64 << 10
	}
	if h.cfg.ReadinessTimeout <= 0 {
		h.cfg.ReadinessTimeout = 2 * time.Second
	}

	errs := handler.NewErrorHandler(h.logger)

	r := chi.NewRouter()
	r.Use(
		requestid.Middleware,
		clientip.Middleware(),
		middleware.Recoverer,
	)

	r.Get("/health/live", httpserver.LivenessHandler())
	r.Get("/health/ready", httpserver.ReadinessHandler(h.logger, h.cfg.ReadinessTimeout, opts.Readiness...))
	r.Handle("/metrics", metrics.Handler())

	r.Post("/webhooks/stripe", handler.Wrap(h.webhook,
		handler.WithErrorHandler[struct{}](errs)))

	r.Group(func(r chi.Router) {
		r.Use(h.limit("cron"), h.bearer("cron", h.cfg.CronSecret))
		sweep := handler.Wrap(h.expireTrials, handler.WithErrorHandler[struct{}](errs))
		r.Get("/cron/expire-trials", sweep)
		r.Post("/cron/expire-trials", sweep)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(h.limit("admin"), h.bearer("admin", h.cfg.AdminToken))
		r.Post("/trials/start", handler.Wrap(h.startTrial,
			handler.WithBinder[startTrialRequest](jsonBinder),
			handler.WithErrorHandler[startTrialRequest](errs)))
		r.Post("/trials/convert", handler.Wrap(h.convertTrial,
			handler.WithBinder[convertTrialRequest](jsonBinder),
			handler.WithErrorHandler[convertTrialRequest](errs)))
		r.Get("/tenants/{tenantID}/subscription", handler.Wrap(h.tenantSubscription,
			handler.WithErrorHandler[struct{}](errs)))
	})

	return r
}

// limit throttles scope per client address when a limiter is configured.
func (h *routes) limit(scope string) func(http.Handler) http.Handler {
	if h.limiter == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return ratelimiter.Middleware(h.limiter, ratelimiter.ByClientIP(scope), h.logger)
}

// errorBody is the flat error shape shared by the webhook and cron routes.
type errorBody struct {
	Error string `json:"error"`
}

func errorResponse(status int, msg string) handler.Response {
	return handler.JSONBody(errorBody{Error: msg}, handler.WithJSONStatus(status))
}
