package memory

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"nas-web/internal/logging"
	"nas-web/internal/metrics"
)

// ErrStopped is returned by Wait after the monitor was stopped.
var ErrStopped = errors.New("memory monitor stopped")

// Sampler reports the bytes currently in use.
type Sampler func() uint64

// Config holds memory management configuration
type Config struct {
	// Limit is the budget in bytes. 0 disables backpressure.
	Limit uint64

	// HighWaterMark is the fraction of Limit below which a pause ends (0.0-1.0)
	HighWaterMark float64

	// CriticalWaterMark is the fraction at which new work is held back (0.0-1.0)
	CriticalWaterMark float64

	// CheckInterval is how often Sample is called
	CheckInterval time.Duration

	// Sample defaults to HeapAlloc.
	Sample Sampler
}

// DefaultConfig returns the default watermarks with no limit.
func DefaultConfig() Config {
	return Config{
		HighWaterMark:     0.7,
		CriticalWaterMark: 0.85,
		CheckInterval:     5 * time.Second,
	}
}

// HeapAlloc is the Go heap in use.
func HeapAlloc() uint64 {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)
	return stats.Alloc
}

// Monitor tracks memory use and holds back new work while it is critical.
// Work already running is never interrupted.
type Monitor struct {
	config Config
	log    *logging.Logger

	stopOnce sync.Once
	stopChan chan struct{}

	mu        sync.RWMutex
	current   uint64
	isPaused  bool
	pauseChan chan struct{}
}

// NewMonitor creates a new memory monitor
func NewMonitor(config Config) *Monitor {
	if config.Sample == nil {
		config.Sample = HeapAlloc
	}
	if config.CheckInterval <= 0 {
		config.CheckInterval = DefaultConfig().CheckInterval
	}
	if config.HighWaterMark <= 0 || config.CriticalWaterMark <= 0 || config.HighWaterMark > config.CriticalWaterMark {
		d := DefaultConfig()
		config.HighWaterMark, config.CriticalWaterMark = d.HighWaterMark, d.CriticalWaterMark
	}

	return &Monitor{
		config:    config,
		log:       logging.With("memory"),
		stopChan:  make(chan struct{}),
		pauseChan: make(chan struct{}),
	}
}

// Start begins sampling. It does nothing without a limit.
func (m *Monitor) Start() {
	if m.config.Limit == 0 {
		m.log.Info("No memory limit configured, backpressure disabled")
		return
	}
	m.log.Info("Holding back new work above %s of %s",
		humanize.IBytes(uint64(float64(m.config.Limit)*m.config.CriticalWaterMark)), humanize.IBytes(m.config.Limit))
	go m.monitorLoop()
}

// Stop ends sampling and releases every waiter with ErrStopped.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopChan) })
}

func (m *Monitor) monitorLoop() {
	ticker := time.NewTicker(m.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.check()
		case <-m.stopChan:
			return
		}
	}
}

func (m *Monitor) check() {
	used := m.config.Sample()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.current = used
	if m.config.Limit == 0 {
		return
	}

	usage := float64(used) / float64(m.config.Limit)
	metrics.MemoryUsageRatio.Set(usage)

	switch {
	case usage >= m.config.CriticalWaterMark && !m.isPaused:
		m.log.Warn("Memory critical (%.1f%% of %s), holding back new work", usage*100, humanize.IBytes(m.config.Limit))
		m.isPaused = true
		metrics.MemoryPaused.Set(1)
		metrics.MemoryPausesTotal.Inc()
		go runtime.GC()
	case usage < m.config.HighWaterMark && m.isPaused:
		m.log.Info("Memory recovered (%.1f%% of %s), resuming", usage*100, humanize.IBytes(m.config.Limit))
		m.isPaused = false
		metrics.MemoryPaused.Set(0)
		close(m.pauseChan)
		m.pauseChan = make(chan struct{})
	}
}

// Wait returns once new work may start, when ctx is done, or when the
// monitor stops.
func (m *Monitor) Wait(ctx context.Context) error {
	m.mu.RLock()
	if !m.isPaused {
		m.mu.RUnlock()
		return nil
	}
	pauseChan := m.pauseChan
	m.mu.RUnlock()

	select {
	case <-pauseChan:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-m.stopChan:
		return ErrStopped
	}
}

// IsPaused reports whether new work is being held back.
func (m *Monitor) IsPaused() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.isPaused
}

// Stats returns the last sample, the limit and their ratio.
func (m *Monitor) Stats() (current, limit uint64, usage float64) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.config.Limit > 0 {
		usage = float64(m.current) / float64(m.config.Limit)
	}
	return m.current, m.config.Limit, usage
}
