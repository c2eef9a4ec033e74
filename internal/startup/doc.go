// Package startup loads configuration and handles the startup and shutdown
// logging of the nasweb binary.
//
// # Configuration
//
// [LoadConfig] layers three sources, later ones winning:
//
//  1. built-in defaults
//  2. nasweb.yaml in the working directory or /etc/nasweb (or an explicit file)
//  3. environment variables prefixed with NASWEB_, e.g. NASWEB_TMP_DIR
//
// Durations use Go syntax ("3s", "30m", "2160h"). MIN_FREE_DISK accepts
// human sizes such as "1GB" or "512MB".
//
// Recognised keys:
//
//   - TMP_DIR: root for temporary work directories and task logs (default: /tmp/nasweb)
//   - LOG_LEVEL, LOG_FORMAT: debug|info|warn|error and text|json (default: info, text)
//   - FFMPEG_BIN, FFPROBE_BIN, FILE_BIN: external tool names or paths
//   - PROBE_TIMEOUT, MIME_TIMEOUT: per-invocation limits (default: 3s)
//   - SHUTDOWN_TIMEOUT: grace period before SIGKILL (default: 3s)
//   - THUMBNAIL_SAMPLE_SIZE: frames sampled per video (default: 2)
//   - THUMBNAIL_WIDTH: width of extracted frames (default: 500)
//   - THUMBNAIL_MAX_SIZE: largest requestable thumbnail (default: 2000)
//   - THUMBNAIL_TTL, METADATA_TTL: cache lifetimes (default: 2160h, 24h)
//   - WORKERS: fixed worker count, 0 sizes pools from the CPU count
//   - LIVE_IDLE_TIMEOUT: idle time before a live session is stopped (default: 30m)
//   - LIVE_START_TIMEOUT: wait for the first master playlist before giving up (default: 2m)
//   - BATCH_ALLOW_TERMINATION: let shutdown kill batch exports (default: false)
//   - MIN_FREE_DISK: free space a batch target must keep (default: 1GB)
//   - MEMORY_LIMIT, MEMORY_RATIO: container budget and Go heap share (default: none, 0.85)
//   - REDIS_ENABLED, REDIS_ADDR, REDIS_PASSWORD, REDIS_DB: shared derivative store
//   - METRICS_ENABLED, METRICS_PORT: Prometheus endpoint (default: true, 9090)
//
// # Feature checks
//
// [CheckFeatures] looks for the external binaries, verifies the temp root is
// writable and pings Redis. Missing pieces disable the matching features and
// are logged; they never abort startup.
package startup
