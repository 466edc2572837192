package metrics

import (
	"context"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/dmitrymomot/entitlements/pkg/entitlement"
	"github.com/dmitrymomot/entitlements/pkg/ingest"
)

const namespace = "entitlements"

// Collector counts consistency repairs, stale marks, quota decisions, and
// webhook outcomes.
type Collector struct {
	repairs   *prometheus.CounterVec
	stale     prometheus.Counter
	decisions *prometheus.CounterVec
	events    *prometheus.CounterVec
}

var (
	_ entitlement.Observer = (*Collector)(nil)
	_ ingest.Observer      = (*Collector)(nil)
)

// New registers the collector's metrics with reg. Registering twice with the
// same registerer panics.
func New(reg prometheus.Registerer) *Collector {
	f := promauto.With(reg)
	return &Collector{
		repairs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "guard",
			Name:      "consistency_repairs_total",
			Help:      "Records whose legacy premium flag disagreed with the tier, by resulting tier.",
		}, []string{"tier"}),
		stale: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconciler",
			Name:      "stale_marks_total",
			Help:      "Reconciliations that gave up on the provider and kept last-known state.",
		}),
		decisions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "quota",
			Name:      "decisions_total",
			Help:      "Quota consumption decisions by feature and result.",
		}, []string{"feature", "allowed"}),
		events: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "events_total",
			Help:      "Billing webhook deliveries by provider and outcome.",
		}, []string{"provider", "outcome"}),
	}
}

func (c *Collector) ConsistencyRepaired(_ context.Context, _ string, tier entitlement.Tier) {
	c.repairs.WithLabelValues(string(tier)).Inc()
}

func (c *Collector) MarkedStale(context.Context, string) {
	c.stale.Inc()
}

func (c *Collector) QuotaDecision(_ context.Context, key entitlement.FeatureKey, allowed bool) {
	c.decisions.WithLabelValues(string(key), strconv.FormatBool(allowed)).Inc()
}

func (c *Collector) EventHandled(_ context.Context, provider string, outcome ingest.Outcome) {
	c.events.WithLabelValues(provider, string(outcome)).Inc()
}
