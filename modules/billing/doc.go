// Package billing mounts the HTTP surface of the subscription lifecycle:
// the Stripe webhook endpoint, the trial expiration cron endpoint, the
// bearer protected admin endpoints, and the health and metrics probes.
//
//	r := chi.NewRouter()
//	r.Mount("/", billing.Router(billing.RouterOptions{
//		Config:       cfg,
//		Webhooks:     ingress,
//		Trials:       trials,
//		Entitlements: checker,
//		Plans:        plans,
//		Logger:       log,
//	}))
package billing
