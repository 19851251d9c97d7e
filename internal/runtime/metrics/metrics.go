// Package metrics exposes Prometheus instrumentation for the messaging
// pipeline. All counters live under the "relaybox" namespace.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "relaybox"

// Metrics bundles the pipeline's Prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	OutboxPublished        *prometheus.CounterVec
	OutboxPublishFailures  *prometheus.CounterVec
	OutboxRetriesExhausted prometheus.Counter
	OutboxCleanupDeleted   prometheus.Counter

	InboxReceived        prometheus.Counter
	InboxDuplicates      prometheus.Counter
	InboxHandlerFailures prometheus.Counter
	InboxCleanupDeleted  prometheus.Counter

	PublishDuration prometheus.Histogram
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		OutboxPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "published_total",
			Help:      "Outbox messages successfully published to the broker.",
		}, []string{"topic"}),
		OutboxPublishFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "publish_failures_total",
			Help:      "Outbox publish attempts that failed and were scheduled for retry.",
		}, []string{"topic"}),
		OutboxRetriesExhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "retries_exhausted_total",
			Help:      "Outbox messages that reached the retry limit and were left in place.",
		}),
		OutboxCleanupDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "cleanup_deleted_total",
			Help:      "Processed outbox rows removed by the retention sweep.",
		}),
		InboxReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "inbox",
			Name:      "received_total",
			Help:      "Envelopes delivered to the inbox dispatcher.",
		}),
		InboxDuplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "inbox",
			Name:      "duplicates_total",
			Help:      "Redelivered envelopes discarded because they were already processed.",
		}),
		InboxHandlerFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "inbox",
			Name:      "handler_failures_total",
			Help:      "Handler invocations that failed and left the inbox row in Failed state.",
		}),
		InboxCleanupDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "inbox",
			Name:      "cleanup_deleted_total",
			Help:      "Processed inbox rows removed by the retention sweep.",
		}),
		PublishDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "publish_duration_seconds",
			Help:      "Time spent publishing a single outbox message.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		m.OutboxPublished,
		m.OutboxPublishFailures,
		m.OutboxRetriesExhausted,
		m.OutboxCleanupDeleted,
		m.InboxReceived,
		m.InboxDuplicates,
		m.InboxHandlerFailures,
		m.InboxCleanupDeleted,
		m.PublishDuration,
	)
	return m
}
