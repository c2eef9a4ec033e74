package metrics

import (
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

type mockStatsProvider struct {
	mu    sync.Mutex
	calls int
	stats Stats
}

func (m *mockStatsProvider) GetStats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.stats
}

func (m *mockStatsProvider) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func TestNewCollector(t *testing.T) {
	provider := &mockStatsProvider{}
	c := NewCollector(provider, time.Minute)

	if c.statsProvider != provider {
		t.Error("statsProvider not set")
	}
	if c.interval != time.Minute {
		t.Errorf("interval = %v, want 1m", c.interval)
	}
	if c.stopChan == nil {
		t.Error("stopChan is nil")
	}
}

func TestCollectWithNilProvider(t *testing.T) {
	c := NewCollector(nil, time.Minute)
	defer func() {
		if r := recover(); r != nil {
			t.Errorf("collect() panicked with nil provider: %v", r)
		}
	}()
	c.collect()
}

func TestCollectUpdatesGauges(t *testing.T) {
	provider := &mockStatsProvider{stats: Stats{RunningTasks: 2, ResidentBytes: 4096, LiveSessions: 3}}
	c := NewCollector(provider, time.Minute)

	c.collect()

	if got := testutil.ToFloat64(TaskResidentBytes); got != 4096 {
		t.Errorf("TaskResidentBytes = %v, want 4096", got)
	}
	if got := testutil.ToFloat64(LiveSessionsActive); got != 3 {
		t.Errorf("LiveSessionsActive = %v, want 3", got)
	}
}

func TestCollectorImmediateCollection(t *testing.T) {
	provider := &mockStatsProvider{}
	c := NewCollector(provider, time.Hour)
	c.Start()
	defer c.Stop()

	deadline := time.Now().Add(time.Second)
	for provider.callCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if provider.callCount() == 0 {
		t.Error("expected an immediate collection on Start")
	}
}

func TestCollectorMultipleCycles(t *testing.T) {
	provider := &mockStatsProvider{}
	c := NewCollector(provider, 10*time.Millisecond)
	c.Start()

	time.Sleep(80 * time.Millisecond)
	c.Stop()

	if n := provider.callCount(); n < 2 {
		t.Errorf("expected several collections, got %d", n)
	}
}

func TestInitializeMetricsIdempotent(t *testing.T) {
	defer func() {
		if r := recover(); r != nil {
			t.Errorf("InitializeMetrics() panicked: %v", r)
		}
	}()

	InitializeMetrics()
	InitializeMetrics()
}

func TestInitializeMetricsPrePopulatesLabels(t *testing.T) {
	InitializeMetrics()

	// one series per command x outcome
	if n := testutil.CollectAndCount(TasksClosedTotal); n < 12 {
		t.Errorf("TasksClosedTotal series = %d, want at least 12", n)
	}
	if n := testutil.CollectAndCount(CacheRequestsTotal); n < 9 {
		t.Errorf("CacheRequestsTotal series = %d, want at least 9", n)
	}
}
