package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsTracked counts records built by the engine, by event type
	EventsTracked = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "track_events_total",
		Help: "Total number of events recorded by the tracking engine",
	}, []string{"event_type"})

	// QueueDepth is the number of records currently waiting in memory
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "track_queue_depth",
		Help: "Current number of pending records in the event queue",
	})

	// Flushes counts flush attempts by trigger (size, timer, manual, destroy)
	Flushes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "track_flushes_total",
		Help: "Total number of non-empty queue flushes",
	}, []string{"trigger"})

	// Requeued counts records put back at the head of the queue after a failed delivery
	Requeued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "track_requeued_records_total",
		Help: "Total number of records re-queued after a delivery failure",
	})

	// BatchSize tracks the number of records handed to the delivery function per flush
	BatchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "track_batch_size",
		Help:    "Number of records delivered per batch",
		Buckets: []float64{1, 5, 10, 50, 100, 500, 1000},
	})

	// StorageFailures counts best-effort persistence operations that failed
	StorageFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "track_storage_failures_total",
		Help: "Total number of failed persistent store operations",
	}, []string{"operation"})
)
