package rafter

import (
	"github.com/prometheus/client_golang/prometheus"
)

// metrics holds Prometheus metrics for monitoring the log store.
type metrics struct {
	// id is the node ID used as a label for the metrics
	id string

	// seekScans is an histogram of entries scanned per seek
	seekScans *prometheus.HistogramVec

	// hintPrunes count decimation passes performed on the hint cache
	hintPrunes *prometheus.CounterVec

	// appendedEntries count entries durably appended to the log
	appendedEntries *prometheus.CounterVec

	// truncations count suffix truncations performed by follower reconciles
	truncations *prometheus.CounterVec

	// recoveryDuration is an histogram that indicates how much time it took
	// to recover the log state from disk
	recoveryDuration *prometheus.HistogramVec
}
