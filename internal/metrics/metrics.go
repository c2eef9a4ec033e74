package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Supervisor metrics
var (
	TasksSpawnedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nasweb_tasks_spawned_total",
			Help: "Total number of supervised processes spawned",
		},
		[]string{"command"},
	)

	TasksClosedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nasweb_tasks_closed_total",
			Help: "Total number of supervised processes that finished, by outcome",
		},
		[]string{"command", "outcome"}, // "success", "exit_error", "signaled", "spawn_error"
	)

	TasksRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "nasweb_tasks_running",
			Help: "Number of supervised processes currently alive",
		},
	)

	TaskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nasweb_task_duration_seconds",
			Help:    "Wall time of supervised processes from spawn to close",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 3, 10, 30, 120, 600, 3600},
		},
		[]string{"command"},
	)

	ShutdownSignalsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nasweb_shutdown_signals_total",
			Help: "Signals sent to supervised processes during shutdown",
		},
		[]string{"signal"},
	)

	TaskResidentBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "nasweb_task_resident_bytes",
			Help: "Combined resident memory of all supervised processes",
		},
	)
)

// Probe metrics
var (
	ProbesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nasweb_probes_total",
			Help: "Total number of media probes",
		},
		[]string{"status"}, // "success", "failed", "parse_error"
	)

	ProbeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "nasweb_probe_duration_seconds",
			Help:    "Media probe duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 3},
		},
	)
)

// Thumbnail metrics
var (
	ThumbnailGenerationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nasweb_thumbnail_generations_total",
			Help: "Total number of thumbnail generations",
		},
		[]string{"type", "status"},
	)

	ThumbnailGenerationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nasweb_thumbnail_generation_duration_seconds",
			Help:    "Thumbnail generation duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"type"},
	)

	ThumbnailFramesScored = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "nasweb_thumbnail_frames_scored_total",
			Help: "Number of sampled video frames scored for thumbnail selection",
		},
	)

	ThumbnailExtractionsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "nasweb_thumbnail_extractions_in_flight",
			Help: "Number of thumbnail extractions currently holding a worker slot",
		},
	)
)

// Transcoder metrics
var (
	TranscoderJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nasweb_transcoder_jobs_total",
			Help: "Total number of batch transcoding jobs",
		},
		[]string{"status"}, // "started", "success", "error", "rejected"
	)

	TranscoderJobDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "nasweb_transcoder_job_duration_seconds",
			Help:    "Batch transcoding job duration in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800, 3600},
		},
	)

	TranscoderJobsInProgress = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "nasweb_transcoder_jobs_in_progress",
			Help: "Number of batch transcoding jobs currently in progress",
		},
	)

	LiveSessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "nasweb_live_sessions_active",
			Help: "Number of registered live HLS sessions",
		},
	)

	LiveSessionStartsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nasweb_live_session_starts_total",
			Help: "Live HLS session start requests by result",
		},
		[]string{"result"}, // "started", "reused", "error"
	)

	LiveSessionStartDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "nasweb_live_session_start_duration_seconds",
			Help:    "Time from encoder spawn until the master playlist was confirmed",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
	)

	LiveSessionEvictionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nasweb_live_session_evictions_total",
			Help: "Live HLS sessions removed from the registry",
		},
		[]string{"reason"}, // "idle", "failed", "stopped"
	)
)

// Cache metrics
var (
	CacheRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nasweb_cache_requests_total",
			Help: "Derivative cache lookups by result",
		},
		[]string{"kind", "result"}, // result: "store_hit", "computed", "shared"
	)

	CacheComputeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nasweb_cache_compute_duration_seconds",
			Help:    "Time spent computing a derivative on cache miss",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"kind"},
	)

	CacheStoreErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nasweb_cache_store_errors_total",
			Help: "Failures talking to the external key-value store",
		},
		[]string{"operation"}, // "get", "set", "decode"
	)

	CacheInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "nasweb_cache_in_flight",
			Help: "Number of derivative computations currently led by a single caller",
		},
	)
)

// Filesystem retry metrics
var (
	FilesystemRetryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nasweb_filesystem_retry_attempts_total",
			Help: "Retries caused by stale NFS file handles",
		},
		[]string{"operation"},
	)

	FilesystemRetryFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nasweb_filesystem_retry_failures_total",
			Help: "Filesystem operations that still failed after all retries",
		},
		[]string{"operation"},
	)
)

// Memory metrics
var (
	MemoryUsageRatio = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "nasweb_memory_usage_ratio",
			Help: "Sampled memory use as a fraction of the configured limit",
		},
	)

	MemoryPaused = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "nasweb_memory_paused",
			Help: "1 while new work is held back because memory use is critical",
		},
	)

	MemoryPausesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "nasweb_memory_pauses_total",
			Help: "Number of times new work was held back for memory",
		},
	)
)

// Application info metric
var (
	AppInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nasweb_app_info",
			Help: "Application information",
		},
		[]string{"version", "commit", "go_version"},
	)
)

// SetAppInfo sets the application info metric
func SetAppInfo(version, commit, goVersion string) {
	AppInfo.WithLabelValues(version, commit, goVersion).Set(1)
}
