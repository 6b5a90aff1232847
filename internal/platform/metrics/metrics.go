package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	EntitiesDeleted    prometheus.Counter
	Reassignments      prometheus.Counter
	InvoicesRegistered prometheus.Counter
	InvoicesSettled    prometheus.Counter
	SectionsDetached   prometheus.Counter
	UsageQueryDuration prometheus.Histogram
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		EntitiesDeleted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pandi_entities_deleted_total",
			Help: "Total number of reference entities deleted",
		}),
		Reassignments: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pandi_entity_reassignments_total",
			Help: "Total number of reassign-and-delete operations completed",
		}),
		InvoicesRegistered: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pandi_invoices_registered_total",
			Help: "Total number of invoices advanced to registered",
		}),
		InvoicesSettled: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pandi_invoices_settled_total",
			Help: "Total number of invoices marked settled",
		}),
		SectionsDetached: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pandi_sections_detached_total",
			Help: "Total number of incident sections detached with cascade",
		}),
		UsageQueryDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "pandi_usage_query_duration_seconds",
			Help:    "Latency of usage index queries",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// ObserveUsageQuery records one usage index query duration.
func (m *Metrics) ObserveUsageQuery(d time.Duration) {
	if m == nil {
		return
	}
	m.UsageQueryDuration.Observe(d.Seconds())
}

// The increment helpers tolerate a nil receiver so services constructed
// without metrics (tests, dev wiring) need no guards.

func (m *Metrics) IncEntitiesDeleted() {
	if m != nil {
		m.EntitiesDeleted.Inc()
	}
}

func (m *Metrics) IncReassignments() {
	if m != nil {
		m.Reassignments.Inc()
	}
}

func (m *Metrics) IncInvoicesRegistered() {
	if m != nil {
		m.InvoicesRegistered.Inc()
	}
}

func (m *Metrics) IncInvoicesSettled() {
	if m != nil {
		m.InvoicesSettled.Inc()
	}
}

func (m *Metrics) IncSectionsDetached() {
	if m != nil {
		m.SectionsDetached.Inc()
	}
}
