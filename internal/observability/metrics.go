// Package observability provides the Prometheus metrics surface for the
// recognition, job queue and CCTV components.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all metric collectors, registered on a private registry so
// tests can create instances without collector name collisions.
type Metrics struct {
	registry *prometheus.Registry

	Recognition *RecognitionMetrics
	JobQueue    *JobQueueMetrics
	CCTV        *CCTVMetrics
}

// NewMetrics creates and registers all metric collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	return &Metrics{
		registry:    registry,
		Recognition: newRecognitionMetrics(registry),
		JobQueue:    newJobQueueMetrics(registry),
		CCTV:        newCCTVMetrics(registry),
	}
}

// Handler returns the /metrics HTTP handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecognitionMetrics covers the decision pipeline.
type RecognitionMetrics struct {
	Decisions        *prometheus.CounterVec
	InferenceLatency prometheus.Histogram
	InstancesPerRun  prometheus.Histogram
	OverlapBlocks    prometheus.Counter
}

func newRecognitionMetrics(registry *prometheus.Registry) *RecognitionMetrics {
	factory := promauto.With(registry)
	return &RecognitionMetrics{
		Decisions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "recognition_decisions_total",
			Help: "Total recognition decisions by outcome",
		}, []string{"decision"}),
		InferenceLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "recognition_inference_duration_seconds",
			Help:    "Wall time of one frame inference",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10),
		}),
		InstancesPerRun: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "recognition_instances_per_run",
			Help:    "Detected instances per recognition run",
			Buckets: prometheus.LinearBuckets(0, 1, 10),
		}),
		OverlapBlocks: factory.NewCounter(prometheus.CounterOpts{
			Name: "recognition_overlap_blocks_total",
			Help: "Runs forced to REVIEW by instance overlap",
		}),
	}
}

// JobQueueMetrics covers the durable job mailbox.
type JobQueueMetrics struct {
	JobsCreated   *prometheus.CounterVec
	JobsCompleted *prometheus.CounterVec
	ClaimLatency  prometheus.Histogram
}

func newJobQueueMetrics(registry *prometheus.Registry) *JobQueueMetrics {
	factory := promauto.With(registry)
	return &JobQueueMetrics{
		JobsCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "jobqueue_jobs_created_total",
			Help: "Jobs accepted into the queue by type",
		}, []string{"job_type"}),
		JobsCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "jobqueue_jobs_completed_total",
			Help: "Jobs finished by terminal status",
		}, []string{"status"}),
		ClaimLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "jobqueue_claim_wait_seconds",
			Help:    "Time jobs spent PENDING before a worker claimed them",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
	}
}

// CCTVMetrics covers the event detector pipeline.
type CCTVMetrics struct {
	FramesProcessed *prometheus.CounterVec
	EventsConfirmed *prometheus.CounterVec
	DetectorErrors  *prometheus.CounterVec
	SinkFailures    *prometheus.CounterVec
}

func newCCTVMetrics(registry *prometheus.Registry) *CCTVMetrics {
	factory := promauto.With(registry)
	return &CCTVMetrics{
		FramesProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cctv_frames_processed_total",
			Help: "Frames scanned per detector",
		}, []string{"detector"}),
		EventsConfirmed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cctv_events_confirmed_total",
			Help: "Debounced events confirmed per type",
		}, []string{"event_type"}),
		DetectorErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cctv_detector_errors_total",
			Help: "Frame-level detector failures per detector",
		}, []string{"detector"}),
		SinkFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cctv_sink_failures_total",
			Help: "Event sink delivery failures per sink",
		}, []string{"sink"}),
	}
}
