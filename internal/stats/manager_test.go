package stats

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/spaceai-hallucination-monitor/internal/domain"
	"github.com/xela07ax/spaceai-hallucination-monitor/internal/storage"
	"go.uber.org/zap"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestManager(t *testing.T) (*Manager, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	m := NewManager(storage.NewMemoryStore(), zap.NewNop(), WithClock(clock.now))
	t.Cleanup(m.Cleanup)
	return m, clock
}

func event(agent string, riskScore, latency float64, flagged bool, ts time.Time) domain.DetectionEvent {
	return domain.DetectionEvent{AgentID: agent, RiskScore: riskScore, LatencyMs: latency, Flagged: flagged, Timestamp: ts}
}

func TestAddResponse_Aggregates(t *testing.T) {
	m, clock := newTestManager(t)
	now := clock.now()

	m.AddResponse(event("a", 0.2, 100, false, now))
	m.AddResponse(event("a", 0.8, 300, true, now))
	m.AddResponse(event("b", 0.5, 200, false, now))

	got := m.GetMetrics()
	assert.Equal(t, 3, got.TotalResponses)
	assert.Equal(t, 1, got.FlaggedResponses)
	assert.InDelta(t, 1.0/3, got.FlaggedRate, 1e-9)
	assert.InDelta(t, 0.5, got.AverageRiskScore, 1e-9)
	assert.InDelta(t, 200, got.AverageLatency, 1e-9)
	assert.Equal(t, 100.0, got.MinLatency)
	assert.Equal(t, 300.0, got.MaxLatency)
	assert.Equal(t, 3, got.ResponsesPerMinute)
	assert.Equal(t, 2, got.ActiveAgents)

	a := got.Agents["a"]
	assert.Equal(t, 2, a.TotalResponses)
	assert.Equal(t, 0.5, a.FlaggedRate)
	assert.InDelta(t, 0.5, a.AverageRiskScore, 1e-9)
	assert.Equal(t, domain.TrendStable, a.Trend)
}

func TestAddResponse_RingBuffer(t *testing.T) {
	m, clock := newTestManager(t)
	for i := 0; i < HistoryLimit+10; i++ {
		m.AddResponse(event("a", 0.1, float64(i), false, clock.now()))
	}

	h := m.History()
	require.Len(t, h, HistoryLimit)
	assert.Equal(t, 10.0, h[0].LatencyMs, "oldest entries dropped first")
	assert.Equal(t, HistoryLimit, m.GetMetrics().TotalResponses)
}

func TestAddResponse_DefaultsTimestamp(t *testing.T) {
	m, clock := newTestManager(t)
	m.AddResponse(domain.DetectionEvent{AgentID: "a", RiskScore: 0.1})
	assert.Equal(t, clock.now(), m.History()[0].Timestamp)
}

func bucketTotal(trend []domain.TrendPoint) int {
	total := 0
	for _, p := range trend {
		total += p.ResponseCount
	}
	return total
}

func TestAddResponse_FutureTimestampClamped(t *testing.T) {
	m, clock := newTestManager(t)
	now := clock.now()

	m.AddResponse(event("a", 0.4, 100, false, now.Add(10*time.Minute)))
	assert.Equal(t, now, m.History()[0].Timestamp)

	got := m.GetMetrics()
	assert.Equal(t, 1, got.ResponsesPerMinute)
	assert.Equal(t, 1, got.ActiveAgents)
	assert.Equal(t, 1, bucketTotal(got.ResponseTrend))

	clock.advance(2 * time.Minute)
	got = m.Recompute()
	assert.Equal(t, 0, got.ResponsesPerMinute, "outside the 60s rate window")
	assert.Equal(t, 1, got.ActiveAgents)
	assert.Equal(t, 1, bucketTotal(got.ResponseTrend))
}

func TestAgents_OnlyActiveInWindowWithTrend(t *testing.T) {
	m, clock := newTestManager(t)
	start := clock.now()

	m.AddResponse(event("old", 0.9, 100, true, start))
	m.AddResponse(event("worse", 0.1, 100, false, start))
	m.AddResponse(event("better", 0.9, 100, true, start))

	clock.advance(10 * time.Minute)
	now := clock.now()
	m.AddResponse(event("worse", 0.6, 100, true, now))
	m.AddResponse(event("better", 0.2, 100, false, now))
	m.AddResponse(event("same", 0.5, 100, false, now))

	got := m.GetMetrics()
	assert.NotContains(t, got.Agents, "old")
	assert.Equal(t, 3, got.ActiveAgents)
	assert.Equal(t, domain.TrendDegrading, got.Agents["worse"].Trend)
	assert.Equal(t, domain.TrendImproving, got.Agents["better"].Trend)
	assert.Equal(t, domain.TrendStable, got.Agents["same"].Trend)
	assert.Equal(t, 2, got.Agents["worse"].TotalResponses)
	assert.Equal(t, now, got.Agents["worse"].LastResponse)
	assert.Equal(t, 1, got.Agents["worse"].ResponsesPerMinute)
}

func TestTrendBuckets(t *testing.T) {
	m, clock := newTestManager(t)
	now := clock.now()

	m.AddResponse(event("a", 0.4, 100, false, now.Add(-10*time.Second)))
	m.AddResponse(event("a", 0.6, 300, false, now.Add(-20*time.Second)))
	m.AddResponse(event("a", 0.9, 900, false, now.Add(-4*time.Minute-50*time.Second)))
	m.AddResponse(event("a", 0.9, 900, false, now.Add(-6*time.Minute)))

	trend := m.GetMetrics().ResponseTrend
	require.Len(t, trend, 10)
	for i := 1; i < len(trend); i++ {
		assert.True(t, trend[i-1].Timestamp.Before(trend[i].Timestamp))
	}

	assert.Equal(t, 1, trend[0].ResponseCount)
	last := trend[len(trend)-1]
	assert.Equal(t, 2, last.ResponseCount)
	assert.InDelta(t, 0.5, last.AverageRisk, 1e-9)
	assert.InDelta(t, 200, last.AverageLatency, 1e-9)
}

func TestHealthScores(t *testing.T) {
	m, clock := newTestManager(t)

	empty := m.GetMetrics()
	assert.Equal(t, 70.0, empty.SystemHealth, "no active agents")
	assert.Equal(t, 100.0, empty.ConnectionQuality)

	now := clock.now()
	m.AddResponse(event("a", 0.9, 6000, true, now))
	m.AddResponse(event("a", 0.1, 6000, false, now))

	got := m.GetMetrics()
	// flagged 0.5 -> -20, latency 6000 -> -20
	assert.Equal(t, 60.0, got.SystemHealth)
	assert.Equal(t, 70.0, got.ConnectionQuality)
}

func TestRecordError_Heuristic(t *testing.T) {
	m, clock := newTestManager(t)

	m.RecordError()
	got := m.GetMetrics()
	assert.Equal(t, 1.0, got.ErrorRate, "no responses: capped at 1")
	assert.Equal(t, 1, got.ErrorCount)

	for i := 0; i < 4; i++ {
		m.AddResponse(event("a", 0.1, 100, false, clock.now()))
	}
	m.RecordError()
	got = m.GetMetrics()
	assert.InDelta(t, 0.5, got.ErrorRate, 1e-9)
	assert.Equal(t, 2, got.ErrorCount)

	clock.advance(2 * time.Minute)
	m.RecordError()
	got = m.GetMetrics()
	assert.Equal(t, 1.0, got.ErrorRate, "old errors fall out, old responses too")
	assert.Equal(t, 3, got.ErrorCount)
}

func TestReset(t *testing.T) {
	m, clock := newTestManager(t)
	m.AddResponse(event("a", 0.9, 100, true, clock.now()))
	m.RecordError()

	var last domain.SystemMetrics
	m.Subscribe(func(v domain.SystemMetrics) { last = v })

	m.Reset()
	assert.Zero(t, last.TotalResponses)
	assert.Zero(t, last.ErrorRate)
	assert.Zero(t, last.ErrorCount)
	assert.Empty(t, last.Agents)
	assert.Empty(t, m.History())
}

func TestSubscribe_PanicIsolation(t *testing.T) {
	m, clock := newTestManager(t)
	m.Subscribe(func(domain.SystemMetrics) { panic("bad listener") })

	calls := 0
	unsubscribe := m.Subscribe(func(domain.SystemMetrics) { calls++ })
	assert.Equal(t, 1, calls, "immediate delivery")

	m.AddResponse(event("a", 0.1, 100, false, clock.now()))
	assert.Equal(t, 2, calls)

	unsubscribe()
	m.Recompute()
	assert.Equal(t, 2, calls)
}

func TestSettings_PersistAndValidate(t *testing.T) {
	store := storage.NewMemoryStore()
	m := NewManager(store, zap.NewNop())
	defer m.Cleanup()

	window := 2
	compact := true
	got, err := m.UpdateSettings(domain.StatsSettingsPatch{TrendWindow: &window, CompactMode: &compact})
	require.NoError(t, err)
	assert.Equal(t, 2, got.TrendWindow)
	assert.Len(t, m.GetMetrics().ResponseTrend, 4)

	tooFast := 10
	_, err = m.UpdateSettings(domain.StatsSettingsPatch{UpdateInterval: &tooFast})
	assert.ErrorIs(t, err, domain.ErrInvalidSettings)

	reloaded := NewManager(store, zap.NewNop())
	defer reloaded.Cleanup()
	assert.Equal(t, 2, reloaded.GetSettings().TrendWindow)
	assert.True(t, reloaded.GetSettings().CompactMode)
}

func TestStart_PeriodicRecompute(t *testing.T) {
	m := NewManager(storage.NewMemoryStore(), zap.NewNop())
	interval := 100
	_, err := m.UpdateSettings(domain.StatsSettingsPatch{UpdateInterval: &interval})
	require.NoError(t, err)

	var mu sync.Mutex
	ticks := 0
	m.Subscribe(func(domain.SystemMetrics) {
		mu.Lock()
		ticks++
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return ticks >= 3
	}, 2*time.Second, 20*time.Millisecond)
	m.Cleanup()
}
