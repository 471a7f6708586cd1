// Package metrics exposes Prometheus instruments for the delta session.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/roach88/deltaview/internal/model"
	"github.com/roach88/deltaview/internal/store"
)

const namespace = "deltaview"

// Metrics holds the instruments of one session. A nil *Metrics is valid
// and records nothing, so callers never need to check.
type Metrics struct {
	Messages     prometheus.Counter
	Records      *prometheus.CounterVec
	Ignored      *prometheus.CounterVec
	Rebuilds     prometheus.Counter
	QueueDepth   prometheus.Gauge
	Nodes        *prometheus.GaugeVec
	ApplySeconds prometheus.Histogram
	StoreVersion prometheus.Gauge
}

// New registers the instruments with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Messages: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_applied_total",
			Help:      "Delta messages applied to the store",
		}),
		Records: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_total",
			Help:      "Records applied, by operation",
		}, []string{"op"}),
		Ignored: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_ignored_total",
			Help:      "Records the store could not apply, by error code",
		}, []string{"code"}),
		Rebuilds: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_rebuilds_total",
			Help:      "Workflows cleared by reload invalidation",
		}),
		QueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Messages waiting to be applied",
		}),
		Nodes: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "nodes",
			Help:      "Stored entities, by type",
		}, []string{"type"}),
		ApplySeconds: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "apply_duration_seconds",
			Help:      "Time to apply one message",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}),
		StoreVersion: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "store_version",
			Help:      "Current store version",
		}),
	}
}

// ObserveResult records the outcome of one applied message.
func (m *Metrics) ObserveResult(res store.Result, seconds float64) {
	if m == nil {
		return
	}
	m.Messages.Inc()
	m.Records.WithLabelValues("added").Add(float64(res.Added))
	m.Records.WithLabelValues("updated").Add(float64(res.Updated))
	m.Records.WithLabelValues("pruned").Add(float64(res.Pruned))
	m.Rebuilds.Add(float64(len(res.Rebuilt)))
	for _, err := range res.Issues {
		m.Ignored.WithLabelValues(issueCode(err)).Inc()
	}
	m.ApplySeconds.Observe(seconds)
}

// ObserveStore records entity counts and the version of s.
func (m *Metrics) ObserveStore(s *store.Store) {
	if m == nil {
		return
	}
	for _, t := range model.Types {
		m.Nodes.WithLabelValues(string(t)).Set(float64(s.Count(t)))
	}
	m.StoreVersion.Set(float64(s.Version()))
}

// SetQueueDepth records the number of pending messages.
func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(n))
}

func issueCode(err error) string {
	switch {
	case store.IsUnknownID(err):
		return string(store.ErrCodeUnknownID)
	case store.IsMissingID(err):
		return string(store.ErrCodeMissingID)
	case store.IsUnknownType(err):
		return string(store.ErrCodeUnknownType)
	case store.IsUnknownParent(err):
		return string(store.ErrCodeUnknownParent)
	}
	return string(store.ErrCodeTypeMismatch)
}
