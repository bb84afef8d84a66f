package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RecordsDelivered tracks the outcome of each record in a batch
	RecordsDelivered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "track_records_delivered_total",
		Help: "Total number of records processed by the delivery function",
	}, []string{"status"}) // status: sent, failed

	// RequestDuration tracks the latency of a single transport request
	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "track_request_duration_seconds",
		Help:    "Time taken by one transport request, including failed attempts",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10},
	}, []string{"route", "status"})

	// RequestRetries counts retries triggered by transient transport failures
	RequestRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "track_request_retries_total",
		Help: "Number of transport retries triggered by transient failures",
	}, []string{"route"})

	// BatchDuration measures how long a whole batch took to deliver
	BatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "track_batch_duration_seconds",
		Help:    "Duration of batch delivery in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// TransportHealthy provides a binary 0/1 signal for broker transports
	TransportHealthy = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "track_transport_healthy",
		Help: "Current health of the broker transport (1 for healthy, 0 for unhealthy)",
	})
)
