// Package metrics exposes the client's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Fetch metrics
	FetchAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ndgr_fetch_attempts_total",
			Help: "HTTP fetch attempts by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	FetchRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ndgr_fetch_retries_total",
			Help: "Retried fetch attempts by kind",
		},
		[]string{"kind"},
	)

	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ndgr_breaker_state",
			Help: "Circuit breaker state per host (0=closed, 1=half-open, 2=open)",
		},
		[]string{"host"},
	)

	// View stream metrics
	ViewSlices = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ndgr_view_slices_total",
			Help: "View stream slices consumed by result",
		},
		[]string{"result"},
	)

	// Segment metrics
	SegmentWorkersStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ndgr_segment_workers_started_total",
			Help: "Segment workers spawned",
		},
	)

	SegmentWorkersActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ndgr_segment_workers_active",
			Help: "Segment workers currently draining",
		},
	)

	// Delivery metrics
	CommentsDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ndgr_comments_delivered_total",
			Help: "Comments delivered to the caller by mode",
		},
		[]string{"mode"},
	)

	CommentsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ndgr_comments_dropped_total",
			Help: "Wire records rejected by the admissibility predicates",
		},
	)

	// Lifecycle metrics
	Handoffs = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ndgr_program_handoffs_total",
			Help: "Transparent program handoffs performed by the supervisor",
		},
	)

	BackwardBatches = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ndgr_backward_batches_total",
			Help: "Packed segments fetched during backward walks",
		},
	)
)
