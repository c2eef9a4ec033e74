package metrics

// InitializeMetrics pre-populates all expected label combinations so that
// every metric is exported from the first Prometheus scrape.
// Call this once at startup after metric registration.
func InitializeMetrics() {
	for _, cmd := range []string{"ffmpeg", "ffprobe", "file"} {
		TasksSpawnedTotal.WithLabelValues(cmd)
		TaskDuration.WithLabelValues(cmd)
		for _, outcome := range []string{"success", "exit_error", "signaled", "spawn_error"} {
			TasksClosedTotal.WithLabelValues(cmd, outcome)
		}
	}

	for _, sig := range []string{"SIGTERM", "SIGKILL"} {
		ShutdownSignalsTotal.WithLabelValues(sig)
	}

	for _, status := range []string{"success", "failed", "parse_error"} {
		ProbesTotal.WithLabelValues(status)
	}

	for _, t := range []string{"image", "video"} {
		ThumbnailGenerationDuration.WithLabelValues(t)
		for _, status := range []string{"success", "error", "error_unsupported", "error_corrupted"} {
			ThumbnailGenerationsTotal.WithLabelValues(t, status)
		}
	}

	for _, status := range []string{"started", "success", "error", "rejected"} {
		TranscoderJobsTotal.WithLabelValues(status)
	}

	for _, result := range []string{"started", "reused", "error"} {
		LiveSessionStartsTotal.WithLabelValues(result)
	}
	for _, reason := range []string{"idle", "failed", "stopped"} {
		LiveSessionEvictionsTotal.WithLabelValues(reason)
	}

	for _, kind := range []string{"thumbnail", "streams", "mime"} {
		CacheComputeDuration.WithLabelValues(kind)
		for _, result := range []string{"store_hit", "computed", "shared"} {
			CacheRequestsTotal.WithLabelValues(kind, result)
		}
	}
	for _, op := range []string{"get", "set", "decode"} {
		CacheStoreErrorsTotal.WithLabelValues(op)
	}

	for _, op := range []string{"stat", "open"} {
		FilesystemRetryAttempts.WithLabelValues(op)
		FilesystemRetryFailures.WithLabelValues(op)
	}
}
