package memory

import (
	"math"
	"os"
	"runtime/debug"

	"github.com/c2h5oh/datasize"
	"github.com/dustin/go-humanize"

	"nas-web/internal/logging"
)

// DefaultMemoryRatio is the share of the container limit given to the Go
// heap. The rest is left for ffmpeg, libvips and goroutine stacks.
const DefaultMemoryRatio = 0.85

// ConfigResult holds the result of memory configuration
type ConfigResult struct {
	Configured bool
	// Source is "GOMEMLIMIT", "MEMORY_LIMIT" or "none".
	Source         string
	ContainerLimit uint64
	GoMemLimit     int64
	Ratio          float64
}

// Configure sets GOMEMLIMIT to ratio*limit. An explicit GOMEMLIMIT in the
// environment wins; a zero limit leaves the runtime untouched.
func Configure(limit datasize.ByteSize, ratio float64) ConfigResult {
	if env := os.Getenv("GOMEMLIMIT"); env != "" {
		result := ConfigResult{Source: "GOMEMLIMIT"}
		if current := debug.SetMemoryLimit(-1); current > 0 && current < math.MaxInt64 {
			result.Configured = true
			result.GoMemLimit = current
		}
		logging.Info("GOMEMLIMIT set via environment: %s", env)
		return result
	}

	if limit == 0 {
		logging.Debug("MEMORY_LIMIT not set, GOMEMLIMIT will not be configured automatically")
		return ConfigResult{Source: "none"}
	}

	if ratio <= 0 || ratio > 1 {
		logging.Warn("MEMORY_RATIO %.2f out of range (0.0-1.0], using default %.2f", ratio, DefaultMemoryRatio)
		ratio = DefaultMemoryRatio
	}

	goMemLimit := int64(float64(limit.Bytes()) * ratio)
	debug.SetMemoryLimit(goMemLimit)

	logging.Info("Configured GOMEMLIMIT: %s (%.1f%% of %s container limit)",
		humanize.IBytes(uint64(goMemLimit)), ratio*100, humanize.IBytes(limit.Bytes()))

	return ConfigResult{
		Configured:     true,
		Source:         "MEMORY_LIMIT",
		ContainerLimit: limit.Bytes(),
		GoMemLimit:     goMemLimit,
		Ratio:          ratio,
	}
}
