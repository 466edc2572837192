// Package quota meters rate-limited features per accounting window.
//
// Enforcer.Consume decides and records one use of a feature in a single
// atomic store operation. The window key is computed from the clock; a bucket
// stamped with an older key counts as empty and is reset by the same
// operation that records the next use, so no separate reset write exists.
//
// The limit of a feature comes from the user's record, then from the catalog's
// premium fallback for premium-gated features, and is 0 otherwise. Any store
// failure denies the request and returns entitlement.ErrStoreUnavailable.
package quota
