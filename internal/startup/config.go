package startup

import (
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. NASWEB_TMP_DIR.
const EnvPrefix = "NASWEB"

// Config holds all application configuration
type Config struct {
	TmpDir    string `mapstructure:"TMP_DIR"`
	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogFormat string `mapstructure:"LOG_FORMAT"`

	FFmpegBin  string `mapstructure:"FFMPEG_BIN"`
	FFprobeBin string `mapstructure:"FFPROBE_BIN"`
	FileBin    string `mapstructure:"FILE_BIN"`

	ProbeTimeout    time.Duration `mapstructure:"PROBE_TIMEOUT"`
	MimeTimeout     time.Duration `mapstructure:"MIME_TIMEOUT"`
	ShutdownTimeout time.Duration `mapstructure:"SHUTDOWN_TIMEOUT"`

	ThumbnailSampleSize int           `mapstructure:"THUMBNAIL_SAMPLE_SIZE"`
	ThumbnailWidth      int           `mapstructure:"THUMBNAIL_WIDTH"`
	ThumbnailMaxSize    int           `mapstructure:"THUMBNAIL_MAX_SIZE"`
	ThumbnailTTL        time.Duration `mapstructure:"THUMBNAIL_TTL"`
	MetadataTTL         time.Duration `mapstructure:"METADATA_TTL"`
	Workers             int           `mapstructure:"WORKERS"`

	LiveIdleTimeout       time.Duration     `mapstructure:"LIVE_IDLE_TIMEOUT"`
	LiveStartTimeout      time.Duration     `mapstructure:"LIVE_START_TIMEOUT"`
	BatchAllowTermination bool              `mapstructure:"BATCH_ALLOW_TERMINATION"`
	MinFreeDisk           datasize.ByteSize `mapstructure:"MIN_FREE_DISK"`

	MemoryLimit datasize.ByteSize `mapstructure:"MEMORY_LIMIT"`
	MemoryRatio float64           `mapstructure:"MEMORY_RATIO"`

	RedisEnabled  bool   `mapstructure:"REDIS_ENABLED"`
	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`

	MetricsEnabled bool   `mapstructure:"METRICS_ENABLED"`
	MetricsPort    string `mapstructure:"METRICS_PORT"`
}

var defaults = map[string]any{
	"TMP_DIR":                 "/tmp/nasweb",
	"LOG_LEVEL":               "info",
	"LOG_FORMAT":              "text",
	"FFMPEG_BIN":              "ffmpeg",
	"FFPROBE_BIN":             "ffprobe",
	"FILE_BIN":                "file",
	"PROBE_TIMEOUT":           "3s",
	"MIME_TIMEOUT":            "3s",
	"SHUTDOWN_TIMEOUT":        "3s",
	"THUMBNAIL_SAMPLE_SIZE":   2,
	"THUMBNAIL_WIDTH":         500,
	"THUMBNAIL_MAX_SIZE":      2000,
	"THUMBNAIL_TTL":           "2160h",
	"METADATA_TTL":            "24h",
	"WORKERS":                 0,
	"LIVE_IDLE_TIMEOUT":       "30m",
	"LIVE_START_TIMEOUT":      "2m",
	"BATCH_ALLOW_TERMINATION": false,
	"MIN_FREE_DISK":           "1GB",
	"MEMORY_LIMIT":            "0B",
	"MEMORY_RATIO":            0.85,
	"REDIS_ENABLED":           false,
	"REDIS_ADDR":              "127.0.0.1:6379",
	"REDIS_PASSWORD":          "",
	"REDIS_DB":                0,
	"METRICS_ENABLED":         true,
	"METRICS_PORT":            "9090",
}

func stringToDurationHook() mapstructure.DecodeHookFunc {
	return func(f reflect.Type, t reflect.Type, data interface{}) (interface{}, error) {
		if f.Kind() != reflect.String || t != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		return time.ParseDuration(strings.TrimSpace(data.(string)))
	}
}

func stringToByteSizeHook() mapstructure.DecodeHookFunc {
	return func(f reflect.Type, t reflect.Type, data interface{}) (interface{}, error) {
		if f.Kind() != reflect.String || t != reflect.TypeOf(datasize.ByteSize(0)) {
			return data, nil
		}
		var size datasize.ByteSize
		if err := size.UnmarshalText([]byte(strings.TrimSpace(data.(string)))); err != nil {
			return nil, fmt.Errorf("invalid size %q: %w", data, err)
		}
		return size, nil
	}
}

// LoadConfig reads defaults, then nasweb.yaml from the working directory or
// /etc/nasweb (or configFile when set), then NASWEB_* environment variables.
func LoadConfig(configFile string) (*Config, error) {
	vp := viper.New()
	for key, value := range defaults {
		vp.SetDefault(key, value)
	}

	if configFile != "" {
		vp.SetConfigFile(configFile)
	} else {
		vp.SetConfigName("nasweb")
		vp.SetConfigType("yaml")
		vp.AddConfigPath(".")
		vp.AddConfigPath("/etc/nasweb/")
	}

	if err := vp.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	vp.SetEnvPrefix(EnvPrefix)
	vp.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	vp.AutomaticEnv()

	var cfg Config
	err := vp.Unmarshal(&cfg, viper.DecodeHook(
		mapstructure.ComposeDecodeHookFunc(
			stringToDurationHook(),
			stringToByteSizeHook(),
		),
	))
	if err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks ranges and resolves TmpDir to an absolute path.
func (c *Config) Validate() error {
	if c.TmpDir == "" {
		return errors.New("TMP_DIR must not be empty")
	}
	abs, err := filepath.Abs(c.TmpDir)
	if err != nil {
		return fmt.Errorf("failed to resolve temp directory path: %w", err)
	}
	c.TmpDir = abs

	if c.ThumbnailSampleSize < 1 {
		return fmt.Errorf("THUMBNAIL_SAMPLE_SIZE must be at least 1, got %d", c.ThumbnailSampleSize)
	}
	if c.ThumbnailWidth < 1 {
		return fmt.Errorf("THUMBNAIL_WIDTH must be positive, got %d", c.ThumbnailWidth)
	}
	if c.ThumbnailMaxSize < 1 {
		return fmt.Errorf("THUMBNAIL_MAX_SIZE must be positive, got %d", c.ThumbnailMaxSize)
	}
	if c.Workers < 0 {
		return fmt.Errorf("WORKERS must not be negative, got %d", c.Workers)
	}
	for name, d := range map[string]time.Duration{
		"PROBE_TIMEOUT":      c.ProbeTimeout,
		"MIME_TIMEOUT":       c.MimeTimeout,
		"SHUTDOWN_TIMEOUT":   c.ShutdownTimeout,
		"LIVE_IDLE_TIMEOUT":  c.LiveIdleTimeout,
		"LIVE_START_TIMEOUT": c.LiveStartTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	if c.MemoryRatio <= 0 || c.MemoryRatio > 1 {
		return fmt.Errorf("MEMORY_RATIO must be in (0, 1], got %g", c.MemoryRatio)
	}
	if c.RedisEnabled && c.RedisAddr == "" {
		return errors.New("REDIS_ADDR is required when REDIS_ENABLED is set")
	}
	return nil
}
