package entitlements

import "errors"

// ErrNoBillingCustomer is returned by SyncUser for users that never went
// through checkout.
var ErrNoBillingCustomer = errors.New("user has no billing customer")
