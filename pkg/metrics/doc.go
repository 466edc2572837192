// Package metrics exports engine activity as Prometheus metrics.
//
// Collector implements entitlement.Observer and ingest.Observer, so a single
// value can be passed to the reconciler, the guard, the quota enforcer, and
// the ingestor.
package metrics
