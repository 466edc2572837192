// Package ingest accepts billing webhook deliveries.
//
// An Ingestor verifies each delivery through a billing.Provider, claims the
// event id in a Deduper so that every event mutates state at most once, and
// hands the customer over to the reconciler. The event body is treated as a
// trigger only; the reconciler re-derives state from the provider.
//
// Handler exposes an Ingestor over HTTP with status codes chosen so the
// provider retries exactly the deliveries that may still succeed:
//
//	200 processed, duplicate, malformed, ignored or orphaned
//	400 signature or timestamp verification failed
//	409 the same event is being processed by another delivery
//	503 the store or the provider is unavailable
package ingest
