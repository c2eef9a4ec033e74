package metrics

import (
	"time"

	"nas-web/internal/logging"
)

// StatsProvider interface for collecting stats
type StatsProvider interface {
	GetStats() Stats
}

// Stats is a point-in-time view of the process pipeline.
type Stats struct {
	RunningTasks  int
	ResidentBytes uint64
	LiveSessions  int
}

// Collector periodically samples a StatsProvider into gauges that are not
// updated inline (process memory, live session count).
type Collector struct {
	statsProvider StatsProvider
	interval      time.Duration
	stopChan      chan struct{}
	doneChan      chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(provider StatsProvider, interval time.Duration) *Collector {
	return &Collector{
		statsProvider: provider,
		interval:      interval,
		stopChan:      make(chan struct{}),
		doneChan:      make(chan struct{}),
	}
}

// Start begins the metrics collection loop
func (c *Collector) Start() {
	go c.collectLoop()
}

// Stop stops the metrics collection and waits for an in-progress sample.
// It must only be called after Start.
func (c *Collector) Stop() {
	close(c.stopChan)
	<-c.doneChan
}

func (c *Collector) collectLoop() {
	defer close(c.doneChan)
	c.collect()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.collect()
		case <-c.stopChan:
			return
		}
	}
}

func (c *Collector) collect() {
	if c.statsProvider == nil {
		return
	}

	stats := c.statsProvider.GetStats()

	TaskResidentBytes.Set(float64(stats.ResidentBytes))
	LiveSessionsActive.Set(float64(stats.LiveSessions))

	logging.Debug("Metrics collected: tasks=%d, rss=%d, live=%d",
		stats.RunningTasks, stats.ResidentBytes, stats.LiveSessions)
}
