package startup

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gorilla/mux"
	"github.com/shirou/gopsutil/v3/disk"

	"nas-web/internal/cache"
	"nas-web/internal/logging"
	"nas-web/internal/media"
	"nas-web/internal/workers"
)

// Build-time variables (injected via -ldflags)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
	GoVersion = runtime.Version()
)

// BuildInfo contains version and build information
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"buildTime"`
	GoVersion string `json:"goVersion"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
}

// GetBuildInfo returns the current build information
func GetBuildInfo() BuildInfo {
	return BuildInfo{
		Version:   Version,
		Commit:    Commit,
		BuildTime: BuildTime,
		GoVersion: GoVersion,
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	}
}

// Features records which external tools and services were found at startup.
type Features struct {
	FFmpeg      bool
	FFprobe     bool
	File        bool
	Vips        bool
	Redis       bool
	TmpWritable bool
}

// Thumbnails reports whether video thumbnails can be produced.
func (f Features) Thumbnails() bool { return f.FFmpeg && f.FFprobe && f.TmpWritable }

// Transcoding reports whether batch and live transcodes can run.
func (f Features) Transcoding() bool { return f.FFmpeg && f.FFprobe && f.TmpWritable }

// Apply installs process-wide settings derived from cfg: the log handler and
// the worker override.
func Apply(cfg *Config) {
	logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	workers.SetOverride(cfg.Workers)
}

// LogConfig prints the banner and every setting.
func LogConfig(cfg *Config) {
	printBanner()
	logSystemInfo()

	logging.Info("------------------------------------------------------------")
	logging.Info("CONFIGURATION")
	logging.Info("------------------------------------------------------------")
	logging.Info("  TMP_DIR:                 %s", cfg.TmpDir)
	logging.Info("  LOG_LEVEL:               %s", logging.GetLevel())
	logging.Info("  LOG_FORMAT:              %s", cfg.LogFormat)
	logging.Info("  FFMPEG_BIN:              %s", cfg.FFmpegBin)
	logging.Info("  FFPROBE_BIN:             %s", cfg.FFprobeBin)
	logging.Info("  FILE_BIN:                %s", cfg.FileBin)
	logging.Info("  PROBE_TIMEOUT:           %s", cfg.ProbeTimeout)
	logging.Info("  MIME_TIMEOUT:            %s", cfg.MimeTimeout)
	logging.Info("  SHUTDOWN_TIMEOUT:        %s", cfg.ShutdownTimeout)
	logging.Info("  THUMBNAIL_SAMPLE_SIZE:   %d", cfg.ThumbnailSampleSize)
	logging.Info("  THUMBNAIL_WIDTH:         %d", cfg.ThumbnailWidth)
	logging.Info("  THUMBNAIL_MAX_SIZE:      %d", cfg.ThumbnailMaxSize)
	logging.Info("  THUMBNAIL_TTL:           %s", cfg.ThumbnailTTL)
	logging.Info("  METADATA_TTL:            %s", cfg.MetadataTTL)
	if cfg.Workers > 0 {
		logging.Info("  WORKERS:                 %d", cfg.Workers)
	} else {
		logging.Info("  WORKERS:                 auto (%d CPUs)", runtime.GOMAXPROCS(0))
	}
	logging.Info("  LIVE_IDLE_TIMEOUT:       %s", cfg.LiveIdleTimeout)
	logging.Info("  LIVE_START_TIMEOUT:      %s", cfg.LiveStartTimeout)
	logging.Info("  BATCH_ALLOW_TERMINATION: %v", cfg.BatchAllowTermination)
	logging.Info("  MIN_FREE_DISK:           %s", cfg.MinFreeDisk.HR())
	if cfg.MemoryLimit > 0 {
		logging.Info("  MEMORY_LIMIT:            %s (ratio %.2f)", cfg.MemoryLimit.HR(), cfg.MemoryRatio)
	} else {
		logging.Info("  MEMORY_LIMIT:            none")
	}
	logging.Info("  REDIS_ENABLED:           %v", cfg.RedisEnabled)
	if cfg.RedisEnabled {
		logging.Info("  REDIS_ADDR:              %s (db %d)", cfg.RedisAddr, cfg.RedisDB)
	}
	logging.Info("  METRICS_ENABLED:         %v", cfg.MetricsEnabled)
	logging.Info("  METRICS_PORT:            %s", cfg.MetricsPort)
}

// CheckFeatures probes external binaries, the temp root and Redis and logs a
// summary. Nothing here is fatal.
func CheckFeatures(ctx context.Context, cfg *Config) Features {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("FEATURE CHECKS")
	logging.Info("------------------------------------------------------------")

	f := Features{
		FFmpeg:  checkBinary(ctx, "FFmpeg", cfg.FFmpegBin, "-version"),
		FFprobe: checkBinary(ctx, "FFprobe", cfg.FFprobeBin, "-version"),
		File:    checkBinary(ctx, "file", cfg.FileBin, "--version"),
		Vips:    media.IsVipsAvailable(),
	}

	if err := ensureDirectory(cfg.TmpDir); err != nil {
		logging.Warn("  Temp root issue: %v", err)
	} else if err := testWriteAccess(cfg.TmpDir); err != nil {
		logging.Warn("  Temp root is not writable: %v", err)
	} else {
		f.TmpWritable = true
		logging.Info("  [OK] Temp root is writable")
		if usage, err := disk.Usage(cfg.TmpDir); err == nil {
			logging.Info("       %s free of %s", humanize.IBytes(usage.Free), humanize.IBytes(usage.Total))
		}
	}

	if cfg.RedisEnabled {
		f.Redis = checkRedis(ctx, cfg)
	}

	logging.Info("")
	logging.Info("  Feature availability:")
	logging.Info("    Image thumbnails: ENABLED")
	logging.Info("    libvips:          %s", enabledString(f.Vips))
	logging.Info("    Video thumbnails: %s", enabledString(f.Thumbnails()))
	logging.Info("    Transcoding:      %s", enabledString(f.Transcoding()))
	logging.Info("    MIME via file:    %s", enabledString(f.File))
	logging.Info("    Shared cache:     %s", enabledString(f.Redis))
	return f
}

// RedisConfig maps the redis settings onto the cache store options.
func RedisConfig(cfg *Config) cache.RedisConfig {
	return cache.RedisConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}
}

func checkRedis(ctx context.Context, cfg *Config) bool {
	store, err := cache.NewRedisStore(RedisConfig(cfg))
	if err != nil {
		logging.Warn("  Redis client setup failed: %v", err)
		return false
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := store.Ping(ctx); err != nil {
		logging.Warn("  Redis at %s is unreachable: %v", cfg.RedisAddr, err)
		logging.Warn("  Derivatives will only be deduplicated in memory")
		return false
	}
	logging.Info("  [OK] Redis is reachable at %s", cfg.RedisAddr)
	return true
}

func checkBinary(ctx context.Context, label, name, versionFlag string) bool {
	path, err := exec.LookPath(name)
	if err != nil {
		logging.Warn("  %s not found (%s)", label, name)
		return false
	}
	logging.Debug("  %s path: %s", label, path)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	output, err := exec.CommandContext(ctx, path, versionFlag).Output()
	if err != nil {
		logging.Warn("  %s version check failed: %v", label, err)
		return false
	}

	first, _, _ := strings.Cut(string(output), "\n")
	logging.Info("  [OK] %s: %s", label, strings.TrimSpace(first))
	return true
}

// RouteInfo contains information about a registered route
type RouteInfo struct {
	Method string
	Path   string
	Name   string
}

// GetRoutes extracts all registered routes from a mux.Router
func GetRoutes(router *mux.Router) ([]RouteInfo, error) {
	var routes []RouteInfo

	err := router.Walk(func(route *mux.Route, _ *mux.Router, _ []*mux.Route) error {
		pathTemplate, err := route.GetPathTemplate()
		if err != nil {
			return err
		}

		methods, err := route.GetMethods()
		if err != nil {
			methods = []string{"*"}
		}

		for _, method := range methods {
			routes = append(routes, RouteInfo{
				Method: method,
				Path:   pathTemplate,
				Name:   route.GetName(),
			})
		}
		return nil
	})

	sort.Slice(routes, func(i, j int) bool {
		if routes[i].Path != routes[j].Path {
			return routes[i].Path < routes[j].Path
		}
		return routes[i].Method < routes[j].Method
	})
	return routes, err
}

// LogHTTPRoutes logs the routes of the metrics server at debug level.
func LogHTTPRoutes(router *mux.Router) {
	if !logging.IsDebugEnabled() {
		return
	}
	routes, err := GetRoutes(router)
	if err != nil {
		logging.Warn("error walking routes: %v", err)
	}
	logging.Debug("  Registered routes (%d total):", len(routes))
	for _, route := range routes {
		logging.Debug("    %-6s %s", route.Method, route.Path)
	}
}

// ServerConfig holds configuration for the server startup log
type ServerConfig struct {
	MetricsPort     string
	MetricsEnabled  bool
	StartupDuration time.Duration
}

// LogServerStarted logs successful start with the endpoint information
func LogServerStarted(config ServerConfig) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("SERVER STARTED")
	logging.Info("------------------------------------------------------------")
	logging.Info("  Startup time:    %v", config.StartupDuration)
	if config.MetricsEnabled {
		logging.Info("  Metrics:         http://0.0.0.0:%s/metrics", config.MetricsPort)
		logging.Info("  Health:          http://0.0.0.0:%s/healthz", config.MetricsPort)
	} else {
		logging.Info("  Metrics:         DISABLED")
	}
	logging.Info("")
	logging.Info("  Press Ctrl+C to stop the server")
	logging.Info("------------------------------------------------------------")
}

// LogShutdownInitiated logs shutdown start
func LogShutdownInitiated(signal string) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("SHUTDOWN INITIATED (received %s)", signal)
	logging.Info("------------------------------------------------------------")
}

// LogShutdownStep logs a shutdown step
func LogShutdownStep(step string) {
	logging.Debug("  %s...", step)
}

// LogShutdownStepComplete logs a completed shutdown step
func LogShutdownStepComplete(step string) {
	logging.Info("  [OK] %s", step)
}

// LogShutdownComplete logs shutdown completion
func LogShutdownComplete() {
	logging.Info("  [OK] Shutdown complete")
}

func printBanner() {
	banner := `
------------------------------------------------------------
    _   _____   _____    _       __     __
   / | / /   | / ___/   | |     / /__  / /_
  /  |/ / /| | \__ \    | | /| / / _ \/ __ \
 / /|  / ___ |___/ /    | |/ |/ /  __/ /_/ /
/_/ |_/_/  |_/____/     |__/|__/\___/_.___/

------------------------------------------------------------`
	fmt.Fprintln(os.Stderr, banner)
	logging.Info("  Version:    %s", Version)
	logging.Info("  Commit:     %s", Commit)
	logging.Info("  Build Time: %s", BuildTime)
	logging.Info("  Started:    %s", time.Now().Format(time.RFC1123))
	logging.Info("")
}

func logSystemInfo() {
	logging.Info("------------------------------------------------------------")
	logging.Info("SYSTEM INFORMATION")
	logging.Info("------------------------------------------------------------")
	logging.Info("  Go version:      %s", runtime.Version())
	logging.Info("  OS/Arch:         %s/%s", runtime.GOOS, runtime.GOARCH)
	logging.Info("  CPUs available:  %d", runtime.NumCPU())
	logging.Info("  GOMAXPROCS:      %d", runtime.GOMAXPROCS(0))

	if runtime.GOMAXPROCS(0) < runtime.NumCPU() {
		logging.Info("  (Container CPU limit detected)")
	}

	if logging.IsDebugEnabled() {
		if hostname, err := os.Hostname(); err == nil {
			logging.Debug("  Hostname:        %s", hostname)
		}
	}
	logging.Info("")
}

func enabledString(enabled bool) string {
	if enabled {
		return "ENABLED"
	}
	return "DISABLED"
}

func ensureDirectory(path string) error {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
		logging.Debug("  Created directory: %s", path)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to stat directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s exists but is not a directory", path)
	}
	return nil
}

func testWriteAccess(dir string) error {
	testFile := filepath.Join(dir, ".write-test")
	if err := os.WriteFile(testFile, []byte("test"), 0o644); err != nil {
		return err
	}
	if err := os.Remove(testFile); err != nil {
		logging.Warn("failed to remove write test file %s: %v", testFile, err)
	}
	return nil
}
