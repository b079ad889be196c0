package billing

import "errors"

var (
	// ErrAuthenticationFailed is returned when the webhook signature is
	// missing, malformed, expired or does not match the secret.
	ErrAuthenticationFailed = errors.New("webhook signature verification failed")
	ErrMalformedEvent       = errors.New("malformed webhook event")
	ErrEventNotFound        = errors.New("webhook event not found")
	ErrMissingSecret        = errors.New("webhook secret is not configured")
	ErrMissingAPIKey        = errors.New("stripe secret key is not configured")
)
