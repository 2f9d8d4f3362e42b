// Package metrics holds the prometheus collectors of the service.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "mympd"

// Registry is the registry served on /metrics.
var Registry = prometheus.NewRegistry()

var (
	requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Count of processed requests by command and outcome.",
		},
		[]string{"command", "outcome"},
	)
	queueRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_rejections_total",
			Help:      "Count of requests rejected because the partition queue was full.",
		},
		[]string{"partition"},
	)
	partitionState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "partition_state",
			Help:      "Connection state of the partition worker (0 disconnected, 1 connecting, 2 connected, 3 reconnecting).",
		},
		[]string{"partition"},
	)
	cacheGeneration = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cache_generation",
			Help:      "Sequence number of the current cache generation.",
		},
		[]string{"cache"},
	)
	cacheEntries = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cache_entries",
			Help:      "Number of entries in the current cache generation.",
		},
		[]string{"cache"},
	)
	responsesDiscarded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "responses_discarded_total",
			Help:      "Count of worker responses that had no waiting caller.",
		},
	)
)

var registerMetrics sync.Once

// Register all metrics.
func Register() {
	registerMetrics.Do(func() {
		Registry.MustRegister(requestsTotal)
		Registry.MustRegister(queueRejections)
		Registry.MustRegister(partitionState)
		Registry.MustRegister(cacheGeneration)
		Registry.MustRegister(cacheEntries)
		Registry.MustRegister(responsesDiscarded)
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

// RecordRequest counts one finished request. outcome is "ok" or an error code.
func RecordRequest(command, outcome string) {
	requestsTotal.WithLabelValues(command, outcome).Inc()
}

// RecordQueueRejection counts a request refused by a full partition queue.
func RecordQueueRejection(partition string) {
	queueRejections.WithLabelValues(partition).Inc()
}

// RecordPartitionState sets the state gauge of partition.
func RecordPartitionState(partition string, state int) {
	partitionState.WithLabelValues(partition).Set(float64(state))
}

// DeletePartition drops the series of a removed partition.
func DeletePartition(partition string) {
	partitionState.DeleteLabelValues(partition)
	queueRejections.DeleteLabelValues(partition)
}

// RecordCacheGeneration publishes a committed cache generation.
func RecordCacheGeneration(cache string, seq uint64, entries int) {
	cacheGeneration.WithLabelValues(cache).Set(float64(seq))
	cacheEntries.WithLabelValues(cache).Set(float64(entries))
}

// RecordResponseDiscarded counts a response that nobody waited for.
func RecordResponseDiscarded() {
	responsesDiscarded.Inc()
}
