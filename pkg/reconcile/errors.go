package reconcile

import "errors"

var (
	// ErrUserNotFound means the event names a customer no user is mapped to
	// and carries no user hint. Such events are orphaned and acknowledged.
	ErrUserNotFound = errors.New("no user mapped to billing customer")

	// ErrReconcilePending is returned by Trigger when the caller's wait
	// elapsed while reconciliation is still running.
	ErrReconcilePending = errors.New("reconciliation still in progress")

	ErrMissingCustomerID = errors.New("customer id is required")
)
