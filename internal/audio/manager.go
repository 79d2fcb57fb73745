package audio

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/xela07ax/spaceai-hallucination-monitor/internal/domain"
	"github.com/xela07ax/spaceai-hallucination-monitor/internal/infra"
	"github.com/xela07ax/spaceai-hallucination-monitor/internal/notify"
	"github.com/xela07ax/spaceai-hallucination-monitor/internal/risk"
	"github.com/xela07ax/spaceai-hallucination-monitor/internal/storage"
	"go.uber.org/zap"
)

// Manager — звуковые алерты: cooldown по ключу, паттерны по уровням и профилям,
// визуальный тост. Ошибки синтеза и вывода логируются и никогда не пробрасываются.
type Manager struct {
	mu        sync.Mutex
	settings  domain.AudioSettings
	lastAlert map[string]time.Time // cooldown-ключ -> время последнего срабатывания
	ready     bool                 // Output успешно открыт

	out    Output
	store  storage.Store
	toasts *notify.Hub
	logger *zap.Logger

	now      func() time.Time
	dispatch func(func())
}

type Option func(*Manager)

// WithClock подменяет источник времени (тесты cooldown).
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithSyncPlayback выполняет воспроизведение в вызывающей горутине.
func WithSyncPlayback() Option {
	return func(m *Manager) { m.dispatch = func(f func()) { f() } }
}

func NewManager(store storage.Store, out Output, toasts *notify.Hub, logger *zap.Logger, opts ...Option) *Manager {
	m := &Manager{
		settings:  domain.DefaultAudioSettings(),
		lastAlert: make(map[string]time.Time),
		out:       out,
		store:     store,
		toasts:    toasts,
		logger:    logger.With(zap.String("mod", "audio")),
		now:       time.Now,
		dispatch:  func(f func()) { go f() },
	}
	for _, o := range opts {
		o(m)
	}
	m.load()
	return m
}

// load читает настройки один раз; битый блоб -> дефолты.
func (m *Manager) load() {
	var saved domain.AudioSettings
	err := storage.LoadJSON(context.Background(), m.store, infra.StorageKeyAudioSettings, &saved)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return
	case err != nil:
		m.logger.Warn("failed to load audio settings, using defaults", zap.Error(err))
		return
	}
	if saved.SoundProfile == "" || !saved.RiskThresholds.Monotonic() {
		m.logger.Warn("stored audio settings are inconsistent, using defaults")
		return
	}
	m.settings = saved
}

// EnableAudio лениво открывает (или возобновляет) аудио-выход.
// Отказ платформы логируется; дальнейшие вызовы Play* становятся no-op для звука.
func (m *Manager) EnableAudio(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.out == nil {
		m.logger.Warn("audio output is not available")
		return
	}
	if err := m.out.Open(ctx); err != nil {
		m.logger.Warn("audio context could not be initialized", zap.Error(err))
		m.ready = false
		return
	}
	m.ready = true
	m.logger.Info("audio enabled")
}

// Ready сообщает, открыт ли аудио-выход.
func (m *Manager) Ready() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ready
}

// GetRiskLevel — уровень риска по текущим порогам.
func (m *Manager) GetRiskLevel(score float64) domain.RiskLevel {
	m.mu.Lock()
	defer m.mu.Unlock()
	return risk.LevelFor(score, m.settings.RiskThresholds)
}

// PlayHallucinationAlert проигрывает паттерн уровня риска, если ключ
// hallucination-{agent}-{level} не срабатывал последние AlertCooldown секунд.
// Возвращает true, если алерт не был подавлен.
func (m *Manager) PlayHallucinationAlert(agentID string, riskScore float64, segments []string) bool {
	m.mu.Lock()
	if !m.settings.Enabled {
		m.mu.Unlock()
		return false
	}
	level := risk.LevelFor(riskScore, m.settings.RiskThresholds)
	key := fmt.Sprintf("hallucination-%s-%s", agentID, level)
	if !m.passCooldownLocked(key) {
		m.mu.Unlock()
		m.logger.Debug("hallucination alert suppressed by cooldown", zap.String("key", key))
		return false
	}
	pattern := HallucinationPattern(level, m.settings.SoundProfile)
	volume := m.settings.Volume
	ready := m.ready
	m.mu.Unlock()

	if ready {
		m.play(pattern, volume)
	}

	msg := fmt.Sprintf("Agent %s: risk %.0f%%", agentID, riskScore*100)
	if len(segments) > 0 {
		msg = fmt.Sprintf("%s, %d flagged segment(s)", msg, len(segments))
	}
	if m.toasts != nil {
		m.toasts.Toast(toastLevel(level), fmt.Sprintf("%s hallucination risk", titleCase(string(level))), msg)
	}
	return true
}

// PlaySystemAlert — системные звуки со своими cooldown-ключами.
func (m *Manager) PlaySystemAlert(kind SystemAlert) bool {
	if !kind.Valid() {
		m.logger.Warn("unknown system alert", zap.String("kind", string(kind)))
		return false
	}

	m.mu.Lock()
	if !m.settings.Enabled {
		m.mu.Unlock()
		return false
	}
	if !m.passCooldownLocked("system-" + string(kind)) {
		m.mu.Unlock()
		return false
	}
	volume := m.settings.Volume
	ready := m.ready
	m.mu.Unlock()

	if ready {
		m.play(SystemPattern(kind), volume)
	}
	return true
}

// TestAlert игнорирует cooldown и проигрывает паттерн уровня безусловно.
func (m *Manager) TestAlert(level domain.RiskLevel) error {
	if !level.Valid() {
		return domain.ErrUnknownLevel
	}
	m.mu.Lock()
	pattern := HallucinationPattern(level, m.settings.SoundProfile)
	volume := m.settings.Volume
	ready := m.ready
	m.mu.Unlock()

	if ready {
		m.play(pattern, volume)
	}
	return nil
}

// passCooldownLocked проверяет и сразу фиксирует срабатывание ключа.
func (m *Manager) passCooldownLocked(key string) bool {
	now := m.now()
	cooldown := time.Duration(m.settings.AlertCooldown) * time.Second
	if last, ok := m.lastAlert[key]; ok && now.Sub(last) < cooldown {
		return false
	}
	m.lastAlert[key] = now
	return true
}

func (m *Manager) play(p Pattern, volume float64) {
	m.dispatch(func() {
		defer func() {
			if r := recover(); r != nil {
				m.logger.Error("tone synthesis panicked", zap.Any("panic", r))
			}
		}()
		if err := m.out.Play(p, volume); err != nil {
			m.logger.Warn("failed to play alert pattern", zap.String("pattern", p.Name), zap.Error(err))
		}
	})
}

func (m *Manager) GetSettings() domain.AudioSettings {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.settings
}

// UpdateSettings сливает патч поверх текущих настроек и синхронно сохраняет результат.
func (m *Manager) UpdateSettings(patch domain.AudioSettingsPatch) (domain.AudioSettings, error) {
	m.mu.Lock()
	next := m.settings
	if patch.Enabled != nil {
		next.Enabled = *patch.Enabled
	}
	if patch.Volume != nil {
		next.Volume = math.Max(0, math.Min(1, *patch.Volume))
	}
	if patch.AlertCooldown != nil {
		if *patch.AlertCooldown < 0 {
			m.mu.Unlock()
			return m.GetSettings(), fmt.Errorf("%w: alert_cooldown must be >= 0", domain.ErrInvalidSettings)
		}
		next.AlertCooldown = *patch.AlertCooldown
	}
	if patch.RiskThresholds != nil {
		if !patch.RiskThresholds.Monotonic() {
			m.mu.Unlock()
			return m.GetSettings(), fmt.Errorf("%w: risk thresholds must increase", domain.ErrInvalidSettings)
		}
		next.RiskThresholds = *patch.RiskThresholds
	}
	if patch.SoundProfile != nil {
		if !patch.SoundProfile.Valid() {
			m.mu.Unlock()
			return m.GetSettings(), fmt.Errorf("%w: unknown sound profile %q", domain.ErrInvalidSettings, *patch.SoundProfile)
		}
		next.SoundProfile = *patch.SoundProfile
	}
	m.settings = next
	m.mu.Unlock()

	if err := storage.SaveJSON(context.Background(), m.store, infra.StorageKeyAudioSettings, next); err != nil {
		m.logger.Error("failed to persist audio settings", zap.Error(err))
	}
	return next, nil
}

// Cleanup закрывает аудио-выход и сбрасывает cooldown-таблицу.
func (m *Manager) Cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.out != nil {
		if err := m.out.Close(); err != nil {
			m.logger.Warn("failed to close audio output", zap.Error(err))
		}
	}
	m.ready = false
	m.lastAlert = make(map[string]time.Time)
}

func toastLevel(l domain.RiskLevel) domain.NotificationLevel {
	switch l {
	case domain.RiskCritical, domain.RiskHigh:
		return domain.NotifyError
	case domain.RiskMedium:
		return domain.NotifyWarning
	}
	return domain.NotifyInfo
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return string(s[0]-'a'+'A') + s[1:]
}
