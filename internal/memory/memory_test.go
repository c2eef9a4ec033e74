package memory

import (
	"context"
	"runtime/debug"
	"sync/atomic"
	"testing"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedSampler(v *atomic.Uint64) Sampler {
	return func() uint64 { return v.Load() }
}

func TestNewMonitorDefaults(t *testing.T) {
	m := NewMonitor(Config{Limit: 100, HighWaterMark: 0.9, CriticalWaterMark: 0.5})

	assert.Equal(t, 0.7, m.config.HighWaterMark, "inverted watermarks fall back to defaults")
	assert.Equal(t, 0.85, m.config.CriticalWaterMark)
	assert.Equal(t, 5*time.Second, m.config.CheckInterval)
	assert.NotNil(t, m.config.Sample)
}

func TestMonitorPauseAndResume(t *testing.T) {
	var used atomic.Uint64
	m := NewMonitor(Config{Limit: 1000, HighWaterMark: 0.7, CriticalWaterMark: 0.85, Sample: fixedSampler(&used)})

	tests := []struct {
		name   string
		used   uint64
		paused bool
	}{
		{"below high", 500, false},
		{"at critical", 850, true},
		{"between marks stays paused", 800, true},
		{"below high resumes", 699, false},
		{"between marks stays running", 800, false},
	}

	for _, tt := range tests {
		used.Store(tt.used)
		m.check()
		assert.Equal(t, tt.paused, m.IsPaused(), tt.name)
	}

	current, limit, usage := m.Stats()
	assert.Equal(t, uint64(800), current)
	assert.Equal(t, uint64(1000), limit)
	assert.InDelta(t, 0.8, usage, 1e-9)
}

func TestWaitReleasedOnRecovery(t *testing.T) {
	var used atomic.Uint64
	used.Store(900)
	m := NewMonitor(Config{Limit: 1000, Sample: fixedSampler(&used)})
	m.check()
	require.True(t, m.IsPaused())

	done := make(chan error, 1)
	go func() { done <- m.Wait(context.Background()) }()

	select {
	case <-done:
		t.Fatal("Wait returned while paused")
	case <-time.After(20 * time.Millisecond):
	}

	used.Store(100)
	m.check()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after recovery")
	}
}

func TestWaitContextAndStop(t *testing.T) {
	var used atomic.Uint64
	used.Store(999)
	m := NewMonitor(Config{Limit: 1000, Sample: fixedSampler(&used)})
	m.check()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, m.Wait(ctx), context.DeadlineExceeded)

	m.Stop()
	m.Stop()
	assert.ErrorIs(t, m.Wait(context.Background()), ErrStopped)
}

func TestNoLimitNeverPauses(t *testing.T) {
	var used atomic.Uint64
	used.Store(1 << 40)
	m := NewMonitor(Config{Sample: fixedSampler(&used)})
	m.Start()
	defer m.Stop()

	m.check()
	assert.False(t, m.IsPaused())
	assert.NoError(t, m.Wait(context.Background()))
	_, _, usage := m.Stats()
	assert.Zero(t, usage)
}

func TestMonitorLoopSamples(t *testing.T) {
	var used atomic.Uint64
	used.Store(950)
	m := NewMonitor(Config{Limit: 1000, CheckInterval: 5 * time.Millisecond, Sample: fixedSampler(&used)})
	m.Start()
	defer m.Stop()

	assert.Eventually(t, m.IsPaused, time.Second, 5*time.Millisecond)
}

func TestConfigure(t *testing.T) {
	t.Setenv("GOMEMLIMIT", "")
	original := debug.SetMemoryLimit(-1)
	t.Cleanup(func() { debug.SetMemoryLimit(original) })

	t.Run("no limit", func(t *testing.T) {
		res := Configure(0, 0.85)
		assert.False(t, res.Configured)
		assert.Equal(t, "none", res.Source)
	})

	t.Run("limit with ratio", func(t *testing.T) {
		res := Configure(1*datasize.GB, 0.5)
		require.True(t, res.Configured)
		assert.Equal(t, "MEMORY_LIMIT", res.Source)
		assert.Equal(t, int64(512*1024*1024), res.GoMemLimit)
		assert.Equal(t, res.GoMemLimit, debug.SetMemoryLimit(-1))
	})

	t.Run("ratio out of range uses default", func(t *testing.T) {
		res := Configure(100*datasize.MB, 1.5)
		assert.Equal(t, DefaultMemoryRatio, res.Ratio)
	})

	t.Run("GOMEMLIMIT wins", func(t *testing.T) {
		t.Setenv("GOMEMLIMIT", "256MiB")
		res := Configure(1*datasize.GB, 0.5)
		assert.Equal(t, "GOMEMLIMIT", res.Source)
	})
}
