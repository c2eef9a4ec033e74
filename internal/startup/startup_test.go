package startup

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nas-web/internal/workers"
)

func TestGetBuildInfo(t *testing.T) {
	info := GetBuildInfo()

	if info.Version == "" {
		t.Error("Expected Version to be set")
	}
	if info.OS == "" || info.Arch == "" {
		t.Error("Expected OS and Arch to be set")
	}
	if info.GoVersion != GoVersion {
		t.Errorf("Expected GoVersion=%s, got %s", GoVersion, info.GoVersion)
	}
}

// isolate runs LoadConfig from an empty directory so no stray nasweb.yaml is
// picked up.
func isolate(t *testing.T) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}

func TestLoadConfigDefaults(t *testing.T) {
	isolate(t)

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "/tmp/nasweb", cfg.TmpDir)
	assert.Equal(t, "ffmpeg", cfg.FFmpegBin)
	assert.Equal(t, "ffprobe", cfg.FFprobeBin)
	assert.Equal(t, "file", cfg.FileBin)
	assert.Equal(t, 3*time.Second, cfg.ProbeTimeout)
	assert.Equal(t, 3*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, 2, cfg.ThumbnailSampleSize)
	assert.Equal(t, 500, cfg.ThumbnailWidth)
	assert.Equal(t, 2000, cfg.ThumbnailMaxSize)
	assert.Equal(t, 2160*time.Hour, cfg.ThumbnailTTL)
	assert.Equal(t, 30*time.Minute, cfg.LiveIdleTimeout)
	assert.Equal(t, 2*time.Minute, cfg.LiveStartTimeout)
	assert.Equal(t, datasize.GB, cfg.MinFreeDisk)
	assert.False(t, cfg.BatchAllowTermination)
	assert.Zero(t, cfg.MemoryLimit)
	assert.Equal(t, 0.85, cfg.MemoryRatio)
	assert.False(t, cfg.RedisEnabled)
	assert.True(t, cfg.MetricsEnabled)
	assert.Equal(t, "9090", cfg.MetricsPort)
}

func TestLoadConfigEnvironment(t *testing.T) {
	isolate(t)
	tmp := t.TempDir()
	t.Setenv("NASWEB_TMP_DIR", tmp)
	t.Setenv("NASWEB_PROBE_TIMEOUT", "750ms")
	t.Setenv("NASWEB_THUMBNAIL_SAMPLE_SIZE", "5")
	t.Setenv("NASWEB_MIN_FREE_DISK", "512MB")
	t.Setenv("NASWEB_BATCH_ALLOW_TERMINATION", "true")
	t.Setenv("NASWEB_REDIS_ENABLED", "1")
	t.Setenv("NASWEB_REDIS_ADDR", "cache:6379")

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, tmp, cfg.TmpDir)
	assert.Equal(t, 750*time.Millisecond, cfg.ProbeTimeout)
	assert.Equal(t, 5, cfg.ThumbnailSampleSize)
	assert.Equal(t, 512*datasize.MB, cfg.MinFreeDisk)
	assert.True(t, cfg.BatchAllowTermination)
	assert.True(t, cfg.RedisEnabled)
	assert.Equal(t, "cache:6379", cfg.RedisAddr)
}

func TestLoadConfigFile(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte("THUMBNAIL_WIDTH: 320\nLIVE_IDLE_TIMEOUT: 5m\nMIN_FREE_DISK: 2GB\n"), 0o644))
	t.Setenv("NASWEB_THUMBNAIL_WIDTH", "640")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	// Environment beats the file.
	assert.Equal(t, 640, cfg.ThumbnailWidth)
	assert.Equal(t, 5*time.Minute, cfg.LiveIdleTimeout)
	assert.Equal(t, 2*datasize.GB, cfg.MinFreeDisk)
}

func TestLoadConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"bad duration", map[string]string{"NASWEB_PROBE_TIMEOUT": "soon"}},
		{"bad size", map[string]string{"NASWEB_MIN_FREE_DISK": "lots"}},
		{"zero samples", map[string]string{"NASWEB_THUMBNAIL_SAMPLE_SIZE": "0"}},
		{"memory ratio above one", map[string]string{"NASWEB_MEMORY_RATIO": "1.5"}},
		{"negative workers", map[string]string{"NASWEB_WORKERS": "-2"}},
		{"zero timeout", map[string]string{"NASWEB_SHUTDOWN_TIMEOUT": "0s"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolate(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := LoadConfig("")
			assert.Error(t, err)
		})
	}

	t.Run("missing explicit file", func(t *testing.T) {
		isolate(t)
		_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.Error(t, err)
	})
}

func TestApplySetsWorkerOverride(t *testing.T) {
	t.Cleanup(func() { workers.SetOverride(0) })

	Apply(&Config{LogLevel: "info", LogFormat: "text", Workers: 3})
	assert.Equal(t, 3, workers.Override())
}

func TestCheckFeaturesTempRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "nested", "root")
	cfg := &Config{
		TmpDir:     root,
		FFmpegBin:  "nasweb-no-such-ffmpeg",
		FFprobeBin: "nasweb-no-such-ffprobe",
		FileBin:    "nasweb-no-such-file",
	}

	f := CheckFeatures(context.Background(), cfg)

	assert.True(t, f.TmpWritable)
	assert.DirExists(t, root)
	assert.False(t, f.FFmpeg)
	assert.False(t, f.Transcoding())
	assert.False(t, f.Thumbnails())
	assert.False(t, f.Redis)
}

func TestCheckFeaturesUnreachableRedis(t *testing.T) {
	cfg := &Config{
		TmpDir:       t.TempDir(),
		FFmpegBin:    "nasweb-no-such-ffmpeg",
		FFprobeBin:   "nasweb-no-such-ffprobe",
		FileBin:      "nasweb-no-such-file",
		RedisEnabled: true,
		RedisAddr:    "127.0.0.1:1",
	}
	assert.False(t, CheckFeatures(context.Background(), cfg).Redis)
}

func TestGetRoutes(t *testing.T) {
	router := mux.NewRouter()
	router.HandleFunc("/metrics", func(_ http.ResponseWriter, _ *http.Request) {}).Methods("GET").Name("metrics")
	router.HandleFunc("/healthz", func(_ http.ResponseWriter, _ *http.Request) {}).Methods("GET", "HEAD")

	routes, err := GetRoutes(router)
	require.NoError(t, err)
	require.Len(t, routes, 3)

	assert.Equal(t, RouteInfo{Method: "GET", Path: "/healthz"}, routes[0])
	assert.Equal(t, RouteInfo{Method: "HEAD", Path: "/healthz"}, routes[1])
	assert.Equal(t, RouteInfo{Method: "GET", Path: "/metrics", Name: "metrics"}, routes[2])
}

func TestEnabledString(t *testing.T) {
	assert.Equal(t, "ENABLED", enabledString(true))
	assert.Equal(t, "DISABLED", enabledString(false))
}
