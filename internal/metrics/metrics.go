// SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	initOnce sync.Once

	recordsDiscoveredCounter prometheus.Counter
	recordsSkippedCounter    *prometheus.CounterVec
	visitsDispatchedCounter  prometheus.Counter
	agentQueueLengthGauge    prometheus.Gauge
	agentMessagesCounter     *prometheus.CounterVec
	drainDurationMetric      prometheus.Histogram
)

// Init registers metrics on the default Prometheus registry exactly once.
func Init() {
	initOnce.Do(func() {
		recordsDiscoveredCounter = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "visit_records_discovered_total",
				Help: "Total number of heap objects of the visit type found in the snapshot.",
			},
		)

		recordsSkippedCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "visit_records_skipped_total",
				Help: "Total number of heap objects skipped as malformed, by offending field.",
			},
			[]string{"field"},
		)

		visitsDispatchedCounter = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "visits_dispatched_total",
				Help: "Total number of visits posted to the aggregation agent.",
			},
		)

		agentQueueLengthGauge = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "agent_queue_length",
				Help: "Messages posted to the agent and not yet handled.",
			},
		)

		agentMessagesCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agent_messages_total",
				Help: "Total number of agent messages handled by result.",
			},
			[]string{"result"},
		)

		drainDurationMetric = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "drain_duration_seconds",
				Help:    "Time spent waiting for the agent mailbox to drain.",
				Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 300, 900},
			},
		)

		prometheus.MustRegister(
			recordsDiscoveredCounter,
			recordsSkippedCounter,
			visitsDispatchedCounter,
			agentQueueLengthGauge,
			agentMessagesCounter,
			drainDurationMetric,
		)

		for _, result := range []string{"processed", "failed"} {
			agentMessagesCounter.WithLabelValues(result)
		}
	})
}

func IncRecordsDiscovered() {
	Init()
	recordsDiscoveredCounter.Inc()
}

func IncRecordsSkipped(field string) {
	Init()
	recordsSkippedCounter.WithLabelValues(field).Inc()
}

func IncVisitsDispatched() {
	Init()
	visitsDispatchedCounter.Inc()
}

func SetAgentQueueLength(n int) {
	Init()
	agentQueueLengthGauge.Set(float64(n))
}

func IncAgentMessages(result string) {
	Init()
	agentMessagesCounter.WithLabelValues(result).Inc()
}

func ObserveDrainDuration(d time.Duration) {
	Init()
	drainDurationMetric.Observe(d.Seconds())
}

// WriteTextfile writes every registered metric to path in the text exposition
// format, for pickup by a node_exporter textfile collector.
func WriteTextfile(path string) error {
	Init()
	return prometheus.WriteToTextfile(path, prometheus.DefaultGatherer)
}
