// Package reconcile re-derives entitlement records from the billing
// provider's authoritative subscription list.
//
// Reconcile never trusts the content of an individual webhook. It resolves
// the user, lists every subscription of the customer, and writes the derived
// tier, canonical subscription and feature set in one compare-and-swap. The
// same inputs always produce the same record, so redelivered or reordered
// events converge on identical state and unchanged state causes no write.
//
// Provider listing is retried with bounded exponential backoff. When retries
// are exhausted the last known state is kept, the record is flagged stale and
// ErrProviderUnavailable is returned; the engine never downgrades a user
// because the provider could not be reached.
//
// Trigger is the manual "sync my subscription" path: concurrent requests for
// one customer share a single reconciliation, which keeps running after the
// caller stops waiting.
package reconcile
