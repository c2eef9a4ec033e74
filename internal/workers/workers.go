package workers

import (
	"runtime"
	"sync/atomic"
)

var override atomic.Int64

// SetOverride pins every Count result to n (still capped by limit).
// n <= 0 restores automatic sizing.
func SetOverride(n int) {
	if n < 0 {
		n = 0
	}
	override.Store(int64(n))
}

// Override returns the value set by SetOverride, or 0.
func Override() int {
	return int(override.Load())
}

// Count returns the number of concurrent slots for a given workload.
// It respects container CPU limits via GOMAXPROCS.
//
// The multiplier adjusts for task characteristics:
//   - 1.0 for CPU-bound tasks (ffmpeg frame extraction)
//   - 2.0 for I/O-bound tasks (hashing file heads over NFS)
//   - 1.5 for mixed tasks (decode + resize + encode)
//
// The limit parameter caps the slot count. Use 0 for no limit.
func Count(multiplier float64, limit int) int {
	if n := Override(); n > 0 {
		if limit > 0 && n > limit {
			return limit
		}
		return n
	}

	available := runtime.GOMAXPROCS(0)

	workers := int(float64(available) * multiplier)

	if workers < 1 {
		workers = 1
	}
	if limit > 0 && workers > limit {
		workers = limit
	}

	return workers
}

// ForCPU returns slot count for CPU-bound tasks (1 per CPU).
func ForCPU(limit int) int {
	return Count(1.0, limit)
}

// ForIO returns slot count for I/O-bound tasks (2 per CPU).
func ForIO(limit int) int {
	return Count(2.0, limit)
}

// ForMixed returns slot count for mixed tasks (1.5 per CPU).
func ForMixed(limit int) int {
	return Count(1.5, limit)
}
