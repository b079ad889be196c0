package billing_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/competitorwatch/modules/billing"
	"github.com/dmitrymomot/competitorwatch/pkg/email"
	"github.com/dmitrymomot/competitorwatch/pkg/httpserver"
	"github.com/dmitrymomot/competitorwatch/pkg/ratelimiter"
	"github.com/dmitrymomot/competitorwatch/pkg/tenant"
	stripebilling "github.com/dmitrymomot/competitorwatch/svc/billing"
	"github.com/dmitrymomot/competitorwatch/svc/notification"
	"github.com/dmitrymomot/competitorwatch/svc/subscription"
)

const (
	cronSecret = "cron-secret"
	adminToken = "admin-token"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fakeReceiver struct {
	receipt stripebilling.Receipt
	err     error
	payload []byte
	header  string
}

func (f *fakeReceiver) Receive(_ context.Context, payload []byte, header string) (stripebilling.Receipt, error) {
	f.payload, f.header = payload, header
	return f.receipt, f.err
}

type failingTrials struct {
	billing.TrialService
	err error
}

func (f failingTrials) Sweep(context.Context) (subscription.SweepReport, error) {
	return subscription.SweepReport{}, f.err
}

type env struct {
	router  http.Handler
	clock   *clock
	trials  *subscription.TrialManager
	store   *subscription.MemoryStore
	sender  *email.MemorySender
	tenant  tenant.Tenant
	webhook *fakeReceiver
}

func newEnv(t *testing.T, mutate ...func(*billing.RouterOptions)) *env {
	t.Helper()

	e := &env{
		clock:   &clock{t: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)},
		store:   subscription.NewMemoryStore(),
		sender:  email.NewMemorySender(),
		tenant:  tenant.Tenant{ID: uuid.New(), Email: "owner@acme.test", Name: "Ada"},
		webhook: &fakeReceiver{},
	}
	tenants := tenant.NewMemoryDirectory(e.tenant)
	plans := subscription.MustPlanTable(subscription.DefaultPlans(subscription.DefaultConfig().Prices)...)
	outbox := notification.NewOutbox(notification.NewMemoryStore(), e.sender, notification.DefaultConfig(),
		notification.WithOutboxClock(e.clock.Now))
	e.trials = subscription.NewTrialManager(e.store, tenants, outbox, plans, subscription.DefaultConfig(),
		subscription.WithTrialClock(e.clock.Now))
	checker := subscription.NewChecker(e.store, func(context.Context, uuid.UUID) (int64, error) { return 2, nil },
		subscription.WithCheckerClock(e.clock.Now), subscription.WithCheckerPlans(plans))

	opts := billing.RouterOptions{
		Config: billing.Config{
			CronSecret:      cronSecret,
			AdminToken:      adminToken,
			WebhookMaxBytes: 1 << 10,
		},
		Webhooks:     e.webhook,
		Trials:       e.trials,
		Entitlements: checker,
		Plans:        plans,
		Clock:        e.clock.Now,
	}
	for _, m := range mutate {
		m(&opts)
	}
	e.router = billing.Router(opts)
	return e
}

func (e *env) do(t *testing.T, method, path, token, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decodeMap(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestWebhookRoute(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		receipt stripebilling.Receipt
		err     error
		status  int
		body    string
	}{
		{
			name:    "processed",
			receipt: stripebilling.Receipt{EventID: "evt_1"},
			status:  http.StatusOK,
			body:    `{"received":true}`,
		},
		{
			name:    "duplicate",
			receipt: stripebilling.Receipt{EventID: "evt_1", AlreadyProcessed: true},
			status:  http.StatusOK,
			body:    `{"received":true,"status":"already_processed"}`,
		},
		{
			name:    "processing failure is acknowledged",
			receipt: stripebilling.Receipt{EventID: "evt_1", Error: "tenant not found"},
			status:  http.StatusOK,
			body:    `{"received":true,"error":"tenant not found"}`,
		},
		{
			name:   "bad signature",
			err:    errors.Join(stripebilling.ErrAuthenticationFailed, errors.New("no valid signature")),
			status: http.StatusBadRequest,
			body:   `{"error":"Invalid signature"}`,
		},
		{
			name:    "event log outage is acknowledged",
			receipt: stripebilling.Receipt{EventID: "evt_1", Error: "event processed but not recorded"},
			status:  http.StatusOK,
			body:    `{"received":true,"error":"event processed but not recorded"}`,
		},
		{
			name:   "unexpected receive error is acknowledged",
			err:    errors.Join(subscription.ErrTransientDependency, errors.New("pool closed")),
			status: http.StatusOK,
			body:   `{"received":true,"error":"Webhook handler failed"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			e := newEnv(t)
			e.webhook.receipt, e.webhook.err = tt.receipt, tt.err

			rec := e.do(t, http.MethodPost, "/webhooks/stripe", "", `{"id":"evt_1"}`, "Stripe-Signature", "t=1,v1=abc")
			assert.Equal(t, tt.status, rec.Code)
			assert.JSONEq(t, tt.body, rec.Body.String())
			assert.Equal(t, `{"id":"evt_1"}`, string(e.webhook.payload))
			assert.Equal(t, "t=1,v1=abc", e.webhook.header)
			assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
		})
	}

	t.Run("missing signature", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t)
		rec := e.do(t, http.MethodPost, "/webhooks/stripe", "", `{}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.JSONEq(t, `{"error":"No signature"}`, rec.Body.String())
		assert.Nil(t, e.webhook.payload)
	})

	t.Run("oversized payload", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t)
		rec := e.do(t, http.MethodPost, "/webhooks/stripe", "", strings.Repeat("x", 2<<10), "Stripe-Signature", "t=1,v1=abc")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.JSONEq(t, `{"error":"Invalid payload"}`, rec.Body.String())
		assert.Nil(t, e.webhook.payload)
	})

	t.Run("real verifier rejects forged signature", func(t *testing.T) {
		t.Parallel()
		ingress := stripebilling.NewIngress(
			stripebilling.NewStripeClient(stripebilling.Config{WebhookSecret: "whsec_test", WebhookTolerance: 5 * time.Minute}),
			stripebilling.NewMemoryEventLog(),
			subscription.NewEngine(subscription.NewMemoryStore(), tenant.NewMemoryDirectory(), nil, nil,
				subscription.MustPlanTable(subscription.DefaultPlans(subscription.DefaultConfig().Prices)...)),
		)
		e := newEnv(t, func(o *billing.RouterOptions) { o.Webhooks = ingress })

		rec := e.do(t, http.MethodPost, "/webhooks/stripe", "", `{"id":"evt_1","object":"event"}`,
			"Stripe-Signature", "t=1700000000,v1=deadbeef")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.JSONEq(t, `{"error":"Invalid signature"}`, rec.Body.String())
	})
}

func TestCronRoute(t *testing.T) {
	t.Parallel()

	t.Run("requires bearer secret", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t)
		for _, token := range []string{"", "wrong"} {
			rec := e.do(t, http.MethodGet, "/cron/expire-trials", token, "")
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.JSONEq(t, `{"error":"Unauthorized"}`, rec.Body.String())
		}
	})

	t.Run("unset secret rejects everything", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t, func(o *billing.RouterOptions) { o.Config.CronSecret = "" })
		rec := e.do(t, http.MethodGet, "/cron/expire-trials", "", "", "Authorization", "Bearer ")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("expires ended trials", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t)
		_, err := e.trials.StartTrial(context.Background(), e.tenant.ID)
		require.NoError(t, err)

		rec := e.do(t, http.MethodPost, "/cron/expire-trials", cronSecret, "")
		require.Equal(t, http.StatusOK, rec.Code)
		body := decodeMap(t, rec)
		assert.Equal(t, "success", body["status"])
		assert.Equal(t, map[string]any{"found": 0.0, "expired": 0.0, "emailsSent": 0.0, "errors": 0.0}, body["stats"])

		e.clock.Advance(15 * 24 * time.Hour)
		rec = e.do(t, http.MethodGet, "/cron/expire-trials", cronSecret, "")
		require.Equal(t, http.StatusOK, rec.Code)
		body = decodeMap(t, rec)
		assert.Equal(t, "success", body["status"])
		assert.Equal(t, "Expired 1 trials, sent 1 emails, 0 errors", body["message"])
		assert.Equal(t, map[string]any{"found": 1.0, "expired": 1.0, "emailsSent": 1.0, "errors": 0.0}, body["stats"])
		assert.Equal(t, "2026-03-25T12:00:00.000Z", body["timestamp"])
		assert.NotContains(t, body, "errorMessages")
		assert.Contains(t, body, "elapsedMs")

		sub, err := e.store.Current(context.Background(), e.tenant.ID)
		require.NoError(t, err)
		assert.Equal(t, subscription.StatusExpired, sub.Status)
	})

	t.Run("listing failure", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t, func(o *billing.RouterOptions) {
			o.Trials = failingTrials{TrialService: o.Trials, err: errors.New("connection reset")}
		})

		rec := e.do(t, http.MethodGet, "/cron/expire-trials", cronSecret, "")
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		body := decodeMap(t, rec)
		assert.Equal(t, "error", body["status"])
		assert.Equal(t, "connection reset", body["error"])
		assert.NotContains(t, body, "stats")
	})
}

func TestAdminRoutes(t *testing.T) {
	t.Parallel()

	t.Run("requires admin token", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t)
		rec := e.do(t, http.MethodPost, "/admin/trials/convert", cronSecret, `{"tenantId":"x","priceId":"y"}`)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("start and convert trial", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t)

		rec := e.do(t, http.MethodPost, "/admin/trials/start", adminToken, `{"tenantId":"`+e.tenant.ID.String()+`"}`)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		rec = e.do(t, http.MethodPost, "/admin/trials/start", adminToken, `{"tenantId":"`+e.tenant.ID.String()+`"}`)
		assert.Equal(t, http.StatusConflict, rec.Code)

		rec = e.do(t, http.MethodPost, "/admin/trials/convert", adminToken,
			`{"tenantId":"`+e.tenant.ID.String()+`","priceId":"price_professional"}`)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		data := decodeMap(t, rec)["data"].(map[string]any)
		assert.Equal(t, "Trial converted to Professional plan", data["message"])
		assert.Equal(t, "Professional", data["plan"])

		sub, err := e.store.Current(context.Background(), e.tenant.ID)
		require.NoError(t, err)
		assert.Equal(t, subscription.StatusActive, sub.Status)
		assert.Equal(t, int64(20), sub.Quota)
		assert.True(t, strings.HasPrefix(sub.ExternalID, "manual_"))

		rec = e.do(t, http.MethodGet, "/admin/tenants/"+e.tenant.ID.String()+"/subscription", adminToken, "")
		require.Equal(t, http.StatusOK, rec.Code)
		data = decodeMap(t, rec)["data"].(map[string]any)
		ent := data["entitlement"].(map[string]any)
		assert.Equal(t, true, ent["allowed"])
		assert.Equal(t, 18.0, ent["remaining"])
		assert.Equal(t, "Professional", data["summary"].(map[string]any)["planName"])
	})

	tests := []struct {
		name   string
		body   func(tenantID uuid.UUID) string
		status int
		code   string
	}{
		{
			name:   "missing fields",
			body:   func(uuid.UUID) string { return `{"tenantId":""}` },
			status: http.StatusUnprocessableEntity,
			code:   "validation_error",
		},
		{
			name:   "malformed tenant id",
			body:   func(uuid.UUID) string { return `{"tenantId":"42","priceId":"price_starter"}` },
			status: http.StatusUnprocessableEntity,
			code:   "validation_error",
		},
		{
			name:   "unknown price",
			body:   func(id uuid.UUID) string { return `{"tenantId":"` + id.String() + `","priceId":"price_gold"}` },
			status: http.StatusBadRequest,
			code:   "invalid_plan",
		},
		{
			name:   "no trial",
			body:   func(id uuid.UUID) string { return `{"tenantId":"` + id.String() + `","priceId":"price_starter"}` },
			status: http.StatusNotFound,
			code:   "trial_not_found",
		},
		{
			name:   "unknown field",
			body:   func(id uuid.UUID) string { return `{"userId":"1","planId":"price_starter"}` },
			status: http.StatusBadRequest,
			code:   "bad_request",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			e := newEnv(t)
			rec := e.do(t, http.MethodPost, "/admin/trials/convert", adminToken, tt.body(e.tenant.ID))
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			errBody := decodeMap(t, rec)["error"].(map[string]any)
			assert.Equal(t, tt.code, errBody["code"])
		})
	}

	t.Run("subscription status without subscription", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t)
		rec := e.do(t, http.MethodGet, "/admin/tenants/"+e.tenant.ID.String()+"/subscription", adminToken, "")
		require.Equal(t, http.StatusOK, rec.Code)
		data := decodeMap(t, rec)["data"].(map[string]any)
		assert.Nil(t, data["summary"])
		assert.Equal(t, "NO_SUBSCRIPTION", data["entitlement"].(map[string]any)["errorCode"])
	})
}

func TestProbes(t *testing.T) {
	t.Parallel()

	e := newEnv(t, func(o *billing.RouterOptions) {
		o.Readiness = []httpserver.Check{{Name: "postgres", Probe: func(context.Context) error { return errors.New("down") }}}
	})

	rec := e.do(t, http.MethodGet, "/health/live", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = e.do(t, http.MethodGet, "/health/ready", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = e.do(t, http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAdminRateLimit(t *testing.T) {
	t.Parallel()

	limiter, err := ratelimiter.NewBucket(ratelimiter.NewMemoryStore(),
		ratelimiter.Config{Capacity: 2, RefillRate: 1, RefillInterval: time.Hour})
	require.NoError(t, err)
	e := newEnv(t, func(o *billing.RouterOptions) { o.RateLimiter = limiter })

	for range 2 {
		assert.Equal(t, http.StatusUnauthorized, e.do(t, http.MethodGet, "/cron/expire-trials", "guess", "").Code)
	}
	rec := e.do(t, http.MethodGet, "/cron/expire-trials", cronSecret, "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	// Separate buckets per scope.
	rec = e.do(t, http.MethodGet, "/admin/tenants/"+e.tenant.ID.String()+"/subscription", adminToken, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	// Webhooks are not throttled.
	e.webhook.receipt = stripebilling.Receipt{EventID: "evt_1"}
	rec = e.do(t, http.MethodPost, "/webhooks/stripe", "", `{}`, "Stripe-Signature", "t=1,v1=abc")
	assert.Equal(t, http.StatusOK, rec.Code)
}
