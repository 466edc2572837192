package reconcile

import (
	"context"
	"time"

	"github.com/dmitrymomot/entitlements/pkg/entitlement"
	"github.com/dmitrymomot/entitlements/pkg/logger"
)

// Trigger reconciles customerID on demand. Concurrent calls for the same
// customer share one run. The run is detached from ctx cancellation and
// bounded by Config.SyncTimeout; Trigger itself waits at most Config.SyncWait
// and then returns ErrReconcilePending.
func (r *Reconciler) Trigger(ctx context.Context, customerID string) (*entitlement.Record, error) {
	if customerID == "" {
		return nil, ErrMissingCustomerID
	}

	ch := r.group.DoChan(customerID, func() (any, error) {
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.SyncTimeout)
		defer cancel()
		return r.Reconcile(runCtx, customerID, "")
	})

	timer := time.NewTimer(r.cfg.SyncWait)
	defer timer.Stop()

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*entitlement.Record), nil
	case <-timer.C:
		r.logger.InfoContext(ctx, "manual sync still running", logger.CustomerID(customerID))
		return nil, ErrReconcilePending
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
