package billing

import "time"

// Config holds the Stripe credentials.
type Config struct {
	SecretKey        string        `env:"STRIPE_SECRET_KEY"`
	WebhookSecret    string        `env:"STRIPE_WEBHOOK_SECRET"`
	WebhookTolerance time.Duration `env:"STRIPE_WEBHOOK_TOLERANCE" envDefault:"5m"`
	// APIURL overrides the Stripe API base URL, e.g. for stripe-mock.
	APIURL string `env:"STRIPE_API_URL"`
}
