package billing

import (
	"time"

	"github.com/dmitrymomot/competitorwatch/pkg/ratelimiter"
)

// Config holds the shared secrets and limits of the HTTP surface.
// An empty secret disables the routes it protects.
type Config struct {
	CronSecret       string        `env:"CRON_SECRET"`
	AdminToken       string        `env:"ADMIN_TOKEN"`
	WebhookMaxBytes  int64         `env:"WEBHOOK_MAX_BYTES" envDefault:"65536"`
	ReadinessTimeout time.Duration `env:"READINESS_TIMEOUT" envDefault:"2s"`

	// RateLimit applies per client address to the cron and admin routes.
	RateLimit ratelimiter.Config
}
