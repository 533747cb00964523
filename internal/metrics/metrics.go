package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Job metrics
var (
	JobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transcoder_jobs_total",
			Help: "Total number of transcode jobs run, by variant and outcome",
		},
		[]string{"variant", "outcome"},
	)

	JobFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transcoder_job_failures_total",
			Help: "Transcode job failures by failure kind",
		},
		[]string{"kind"},
	)

	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "transcoder_job_duration_seconds",
			Help:    "Wall time from claim to finish in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600, 7200, 14400},
		},
		[]string{"variant"},
	)

	JobsInProgress = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "transcoder_jobs_in_progress",
			Help: "Number of claimed jobs currently running in this process",
		},
	)

	JobStates = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "transcoder_job_states",
			Help: "Number of jobs in the store by derived state",
		},
		[]string{"state"},
	)

	ReclaimedJobsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "transcoder_reclaimed_jobs_total",
			Help: "Stale in-progress jobs returned to the queue",
		},
	)
)

// Encode and publication metrics
var (
	EncodeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "transcoder_encode_duration_seconds",
			Help:    "Sandboxed encoder wall time in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600, 7200, 14400},
		},
		[]string{"mode"},
	)

	SegmentsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "transcoder_hls_segments_total",
			Help: "HLS media segments written",
		},
	)

	PublishedBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "transcoder_published_bytes_total",
			Help: "Bytes imported into derivative storage",
		},
	)

	PurgeTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transcoder_purge_total",
			Help: "Cache invalidation calls by sink and status",
		},
		[]string{"sink", "status"},
	)
)
