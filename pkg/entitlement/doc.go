// Package entitlement holds the per-user entitlement record and everything that
// reads or writes it directly: the feature catalog, quota window keys, the
// storage contract with an in-memory implementation, and the consistency guard
// that keeps the legacy premium flag aligned with the tier.
//
// # Limits
//
// Every feature resolves to a single numeric Limit:
//
//   - 0 disables the feature.
//   - A positive value is a per-window quota.
//   - Unlimited (-1) enables the feature without metering.
//
// Boolean forms from older clients and configuration files are converted at the
// boundary with LimitFromAny and Limit.Bool. Nothing below that boundary
// branches on booleans.
//
// # Storage
//
// Store is the persistence contract. Record documents are written with
// optimistic concurrency through CompareAndSwap, while quota counters move only
// through IncrementQuota, which resets a stale window, refuses to pass the limit
// and returns the post-increment value in a single atomic step. Adapters for
// MongoDB, Redis and PostgreSQL live under pkg/store.
//
// # Consistency
//
// Guard enforces LegacyPremium == (Tier == TierPremium). The tier is canonical:
// a mismatched legacy flag is rewritten and an Observer is notified.
package entitlement
