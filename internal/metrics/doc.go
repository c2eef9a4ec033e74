// Package metrics provides Prometheus instrumentation for nasweb.
//
// All metrics are registered on the default registry through promauto and
// are prefixed with "nasweb_".
//
// # Metric Categories
//
// ## Supervisor
//
//   - TasksSpawnedTotal, TasksClosedTotal: spawned and finished processes by command
//   - TasksRunning: processes currently alive
//   - TaskDuration: spawn-to-close wall time
//   - ShutdownSignalsTotal: SIGTERM/SIGKILL sent during shutdown
//   - TaskResidentBytes: combined RSS, sampled by the [Collector]
//
// ## Probe and Thumbnails
//
//   - ProbesTotal, ProbeDuration
//   - ThumbnailGenerationsTotal, ThumbnailGenerationDuration by type (image/video)
//   - ThumbnailFramesScored, ThumbnailExtractionsInFlight
//
// ## Transcoder
//
//   - TranscoderJobsTotal, TranscoderJobDuration, TranscoderJobsInProgress
//   - LiveSessionsActive, LiveSessionStartsTotal, LiveSessionStartDuration
//   - LiveSessionEvictionsTotal by reason (idle/failed/stopped)
//
// ## Cache
//
//   - CacheRequestsTotal by kind and result (store_hit/computed/shared)
//   - CacheComputeDuration, CacheStoreErrorsTotal, CacheInFlight
//
// # Collector
//
// Gauges that cannot be updated inline are sampled periodically from a
// [StatsProvider]:
//
//	collector := metrics.NewCollector(provider, 15*time.Second)
//	collector.Start()
//	defer collector.Stop()
//
// # Prometheus Queries
//
// Cache effectiveness:
//
//	sum(rate(nasweb_cache_requests_total{result!="computed"}[5m])) /
//	sum(rate(nasweb_cache_requests_total[5m]))
//
// Processes needing SIGKILL at shutdown:
//
//	increase(nasweb_shutdown_signals_total{signal="SIGKILL"}[1d])
package metrics
