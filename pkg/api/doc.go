// Package api exposes the entitlement engine over HTTP.
//
// NewRouter mounts the billing webhook, the per-user feature and quota
// endpoints, the manual sync triggers, the recent-events journal and the
// health and metrics probes on a chi router:
//
//	POST /webhooks/billing                              provider deliveries
//	GET  /v1/users/{userID}                             entitlement record
//	GET  /v1/users/{userID}/features/{feature}          {"enabled": bool}
//	GET  /v1/users/{userID}/quotas/{feature}            usage without consuming
//	POST /v1/users/{userID}/quotas/{feature}/consume    200 allowed, 429 denied
//	POST /v1/users/{userID}/sync                        "sync my subscription"
//	PUT  /v1/users/{userID}/legacy-premium              admin flag override
//	POST /v1/customers/{customerID}/reconcile           reconcile by customer
//	GET  /v1/billing/events?limit=N                     newest deliveries first
//	GET  /health/live, /health/ready, /metrics
//
// Store failures answer 503 and deny. A sync that outlives its wait answers
// 202 and completes in the background.
package api
