package stats

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/xela07ax/spaceai-hallucination-monitor/internal/domain"
	"github.com/xela07ax/spaceai-hallucination-monitor/internal/infra"
	"github.com/xela07ax/spaceai-hallucination-monitor/internal/pubsub"
	"github.com/xela07ax/spaceai-hallucination-monitor/internal/storage"
	"go.uber.org/zap"
)

// HistoryLimit — размер кольцевого буфера событий.
const HistoryLimit = 1000

const minUpdateInterval = 100 // мс

// Manager накапливает события детектора и пересчитывает метрики на каждом тике.
type Manager struct {
	mu       sync.RWMutex
	history  []domain.DetectionEvent
	errTimes []time.Time // моменты RecordError, для окна в 60 секунд
	errs     errorState
	metrics  domain.SystemMetrics
	settings domain.StatsSettings

	store  storage.Store
	b      *pubsub.Broadcaster[domain.SystemMetrics]
	seq    uint64
	logger *zap.Logger
	now    func() time.Time

	interval chan time.Duration
	stopOnce sync.Once
	stop     chan struct{}
	wg       sync.WaitGroup
}

type Option func(*Manager)

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func NewManager(store storage.Store, logger *zap.Logger, opts ...Option) *Manager {
	m := &Manager{
		history:  make([]domain.DetectionEvent, 0, HistoryLimit),
		settings: domain.DefaultStatsSettings(),
		store:    store,
		logger:   logger.Named("stats"),
		now:      time.Now,
		interval: make(chan time.Duration, 1),
		stop:     make(chan struct{}),
	}
	for _, o := range opts {
		o(m)
	}
	m.b = pubsub.NewBroadcaster[domain.SystemMetrics](m.logger)
	m.load()
	m.metrics = compute(nil, errorState{}, m.windowLocked(), m.now())
	return m
}

func (m *Manager) load() {
	var saved domain.StatsSettings
	err := storage.LoadJSON(context.Background(), m.store, infra.StorageKeyStatsSettings, &saved)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return
	case err != nil:
		m.logger.Warn("failed to load stats settings, using defaults", zap.Error(err))
		return
	}
	if saved.UpdateInterval < minUpdateInterval || saved.TrendWindow < 1 {
		m.logger.Warn("stored stats settings are out of range, using defaults")
		return
	}
	m.settings = saved
}

// Start запускает периодический пересчет с интервалом UpdateInterval.
func (m *Manager) Start(ctx context.Context) {
	m.mu.RLock()
	every := time.Duration(m.settings.UpdateInterval) * time.Millisecond
	m.mu.RUnlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(every)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stop:
				return
			case d := <-m.interval:
				ticker.Reset(d)
			case <-ticker.C:
				m.Recompute()
			}
		}
	}()
}

// AddResponse добавляет событие (вытесняя самое старое сверх лимита) и сразу пересчитывает метрики.
func (m *Manager) AddResponse(ev domain.DetectionEvent) {
	m.mu.Lock()
	// События из будущего прижимаются к now, иначе rpm и тренд расходятся
	if now := m.now(); ev.Timestamp.IsZero() || ev.Timestamp.After(now) {
		ev.Timestamp = now
	}
	if len(m.history) >= HistoryLimit {
		copy(m.history, m.history[1:])
		m.history = m.history[:HistoryLimit-1]
	}
	m.history = append(m.history, ev)
	m.mu.Unlock()

	m.Recompute()
}

// Recompute — полный пересчет по текущей истории. Идемпотентен.
func (m *Manager) Recompute() domain.SystemMetrics {
	m.mu.Lock()
	m.metrics = compute(m.history, m.errs, m.windowLocked(), m.now())
	snap := m.metrics.Clone()
	m.seq++
	seq := m.seq
	m.mu.Unlock()

	m.b.PublishSeq(seq, snap)
	return snap
}

// RecordError обновляет счетчик ошибок и эвристический error rate:
// ошибки за последние 60с, деленные на текущий responses-per-minute, не больше 1.
func (m *Manager) RecordError() {
	m.mu.Lock()
	now := m.now()
	m.errTimes = append(m.errTimes, now)

	cutoff := now.Add(-rateWindow)
	kept := m.errTimes[:0]
	for _, t := range m.errTimes {
		if !t.Before(cutoff) {
			kept = append(kept, t)
		}
	}
	m.errTimes = kept

	rpm := 0
	for _, e := range m.history {
		if recent(e, now) {
			rpm++
		}
	}
	denom := math.Max(1, float64(rpm))
	m.errs.rate = math.Min(1, float64(len(m.errTimes))/denom)
	m.errs.count++
	m.mu.Unlock()

	m.Recompute()
}

// Reset очищает историю и ошибки, подписчики получают нулевые метрики.
func (m *Manager) Reset() {
	m.mu.Lock()
	m.history = m.history[:0]
	m.errTimes = nil
	m.errs = errorState{}
	m.mu.Unlock()

	m.logger.Info("stats reset")
	m.Recompute()
}

func (m *Manager) GetMetrics() domain.SystemMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.metrics.Clone()
}

// History возвращает копию удержанных событий, от старых к новым.
func (m *Manager) History() []domain.DetectionEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.DetectionEvent(nil), m.history...)
}

func (m *Manager) GetSettings() domain.StatsSettings {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.settings
}

// UpdateSettings сливает патч, сохраняет и перезапускает тикер при смене интервала.
func (m *Manager) UpdateSettings(patch domain.StatsSettingsPatch) (domain.StatsSettings, error) {
	if patch.UpdateInterval != nil && *patch.UpdateInterval < minUpdateInterval {
		return m.GetSettings(), fmt.Errorf("%w: update_interval must be >= %dms", domain.ErrInvalidSettings, minUpdateInterval)
	}
	if patch.TrendWindow != nil && *patch.TrendWindow < 1 {
		return m.GetSettings(), fmt.Errorf("%w: trend_window must be >= 1 minute", domain.ErrInvalidSettings)
	}

	m.mu.Lock()
	prevInterval := m.settings.UpdateInterval
	if patch.UpdateInterval != nil {
		m.settings.UpdateInterval = *patch.UpdateInterval
	}
	if patch.TrendWindow != nil {
		m.settings.TrendWindow = *patch.TrendWindow
	}
	if patch.Position != nil {
		m.settings.Position = *patch.Position
	}
	if patch.CompactMode != nil {
		m.settings.CompactMode = *patch.CompactMode
	}
	if patch.ShowTrends != nil {
		m.settings.ShowTrends = *patch.ShowTrends
	}
	if patch.Components != nil {
		m.settings.Components = *patch.Components
	}
	next := m.settings
	if next.UpdateInterval != prevInterval {
		// Тикер читает канал только после Start; в буфере держим последнее значение.
		select {
		case <-m.interval:
		default:
		}
		m.interval <- time.Duration(next.UpdateInterval) * time.Millisecond
	}
	m.mu.Unlock()

	if err := storage.SaveJSON(context.Background(), m.store, infra.StorageKeyStatsSettings, next); err != nil {
		m.logger.Error("failed to persist stats settings", zap.Error(err))
	}
	m.Recompute()
	return next, nil
}

// Subscribe сразу доставляет текущие метрики, затем на каждый пересчет.
func (m *Manager) Subscribe(l pubsub.Listener[domain.SystemMetrics]) func() {
	return m.b.SubscribeCurrent(l, m.GetMetrics)
}

// Cleanup останавливает тикер и снимает подписчиков.
func (m *Manager) Cleanup() {
	m.stopOnce.Do(func() { close(m.stop) })
	m.wg.Wait()
	m.b.Clear()
}

func (m *Manager) windowLocked() time.Duration {
	return time.Duration(m.settings.TrendWindow) * time.Minute
}
