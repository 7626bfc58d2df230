package rafter

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// newMetrics initialize Prometheus metrics for monitoring the log store.
func newMetrics(nodeId, namespace string) *metrics {
	z := &metrics{
		id: nodeId,
		seekScans: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "rafter",
			Name:      "seek_scanned_entries",
			Help:      "Indicates how many entries were scanned to serve a single seek",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		},
			[]string{"node_id"},
		),
		hintPrunes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rafter",
			Name:      "hint_cache_prunes_total",
			Help:      "Indicates how many decimation passes were performed on the hint cache",
		},
			[]string{"node_id"},
		),
		appendedEntries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rafter",
			Name:      "appended_entries_total",
			Help:      "Indicates how many entries were durably appended to the log",
		},
			[]string{"node_id"},
		),
		truncations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rafter",
			Name:      "truncations_total",
			Help:      "Indicates how many suffix truncations were performed",
		},
			[]string{"node_id"},
		),
		recoveryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "rafter",
			Name:      "recovery_total_duration_seconds",
			Help:      "Indicates how much time it took to recover the log state from disk",
		},
			[]string{"node_id"},
		),
	}

	// Register the metrics with the default Prometheus registry.
	// Another store may already have registered the collectors,
	// in that case reuse them
	if prometheus.DefaultRegisterer != nil {
		z.seekScans = registerHistogramVec(z.seekScans)
		z.hintPrunes = registerCounterVec(z.hintPrunes)
		z.appendedEntries = registerCounterVec(z.appendedEntries)
		z.truncations = registerCounterVec(z.truncations)
		z.recoveryDuration = registerHistogramVec(z.recoveryDuration)
	}

	return z
}

// registerCounterVec register the provided counter or return
// the collector already registered under the same name
func registerCounterVec(c *prometheus.CounterVec) *prometheus.CounterVec {
	if err := prometheus.DefaultRegisterer.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			return are.ExistingCollector.(*prometheus.CounterVec)
		}
	}
	return c
}

// registerHistogramVec register the provided histogram or return
// the collector already registered under the same name
func registerHistogramVec(c *prometheus.HistogramVec) *prometheus.HistogramVec {
	if err := prometheus.DefaultRegisterer.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			return are.ExistingCollector.(*prometheus.HistogramVec)
		}
	}
	return c
}

// observeSeekScans record how many entries a seek had to scan
func (m *metrics) observeSeekScans(scanned int) {
	m.seekScans.With(prometheus.Labels{"node_id": m.id}).Observe(float64(scanned))
}

// incHintPrunes record a decimation pass on the hint cache
func (m *metrics) incHintPrunes() {
	m.hintPrunes.With(prometheus.Labels{"node_id": m.id}).Inc()
}

// addAppendedEntries record entries durably appended to the log
func (m *metrics) addAppendedEntries(total int) {
	m.appendedEntries.With(prometheus.Labels{"node_id": m.id}).Add(float64(total))
}

// incTruncations record a suffix truncation
func (m *metrics) incTruncations() {
	m.truncations.With(prometheus.Labels{"node_id": m.id}).Inc()
}

// observeRecovery record how much time the recovery took
func (m *metrics) observeRecovery(start time.Time) {
	elapsed := float64(time.Since(start)) / float64(time.Second)
	m.recoveryDuration.With(prometheus.Labels{"node_id": m.id}).Observe(elapsed)
}
