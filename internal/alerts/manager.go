package alerts

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xela07ax/spaceai-hallucination-monitor/internal/domain"
	"github.com/xela07ax/spaceai-hallucination-monitor/internal/infra"
	"github.com/xela07ax/spaceai-hallucination-monitor/internal/pubsub"
	"github.com/xela07ax/spaceai-hallucination-monitor/internal/risk"
	"github.com/xela07ax/spaceai-hallucination-monitor/internal/storage"
	"go.uber.org/zap"
)

const (
	// SweepInterval — период проверки auto-escalation.
	SweepInterval = time.Minute
	// Retention — на загрузке восстанавливаются только неподтвержденные алерты моложе суток.
	Retention = 24 * time.Hour
)

// Sink получает события жизненного цикла алертов (архив, Redis). Вызывается вне лока.
type Sink interface {
	Record(ev domain.AlertEvent)
}

// snapshot — формат блоба в хранилище: настройки и список алертов под одним ключом.
type snapshot struct {
	Settings domain.AlertSettings     `json:"settings"`
	Alerts   []domain.PersistentAlert `json:"alerts"`
}

// Manager владеет набором алертов, требующих подтверждения оператором.
type Manager struct {
	mu       sync.RWMutex
	alerts   map[string]*domain.PersistentAlert
	settings domain.AlertSettings

	store  storage.Store
	b      *pubsub.Broadcaster[[]domain.PersistentAlert]
	seq    uint64 // номер последнего снапшота для подписчиков
	sinks  []Sink
	logger *zap.Logger
	now    func() time.Time

	stopOnce sync.Once
	stop     chan struct{}
	wg       sync.WaitGroup
}

type Option func(*Manager)

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithSink подключает получателя событий (архиватор, Redis-паблишер).
func WithSink(s Sink) Option {
	return func(m *Manager) { m.sinks = append(m.sinks, s) }
}

func NewManager(store storage.Store, logger *zap.Logger, opts ...Option) *Manager {
	m := &Manager{
		alerts:   make(map[string]*domain.PersistentAlert),
		settings: domain.DefaultAlertSettings(),
		store:    store,
		logger:   logger.Named("alerts"),
		now:      time.Now,
		stop:     make(chan struct{}),
	}
	for _, o := range opts {
		o(m)
	}
	m.b = pubsub.NewBroadcaster[[]domain.PersistentAlert](m.logger)
	m.load()
	return m
}

// load — одноразовая регидрация. Блоб не перезаписывается до следующей мутации.
func (m *Manager) load() {
	var snap snapshot
	err := storage.LoadJSON(context.Background(), m.store, infra.StorageKeyPersistentAlerts, &snap)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return
	case err != nil:
		m.logger.Warn("failed to load persistent alerts, starting empty", zap.Error(err))
		return
	}

	if snap.Settings.MinimumSeverity.Valid() {
		m.settings = snap.Settings
	}

	now := m.now()
	kept := 0
	for i := range snap.Alerts {
		a := snap.Alerts[i]
		if a.Acknowledged || now.Sub(a.CreatedAt) >= Retention {
			continue
		}
		m.alerts[a.ID] = &a
		kept++
	}
	m.logger.Info("persistent alerts restored",
		zap.Int("kept", kept),
		zap.Int("dropped", len(snap.Alerts)-kept),
	)
}

// Start запускает периодический sweep эскалаций. Останавливается Cleanup() или отменой ctx.
func (m *Manager) Start(ctx context.Context) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(SweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stop:
				return
			case <-ticker.C:
				m.Sweep()
			}
		}
	}()
}

// CreateAlert создает алерт, если категория персистентна и severity не ниже минимальной.
// Мягкий отказ сигнализируется ("", false).
func (m *Manager) CreateAlert(p domain.AlertParams) (string, bool) {
	m.mu.Lock()
	if !m.settings.Persists(p.Category) || p.Severity.Rank() < m.settings.MinimumSeverity.Rank() {
		m.mu.Unlock()
		m.logger.Debug("alert filtered out",
			zap.String("category", string(p.Category)),
			zap.String("severity", string(p.Severity)),
		)
		return "", false
	}

	now := m.now()
	a := &domain.PersistentAlert{
		ID:              uuid.New().String(),
		Title:           p.Title,
		Message:         p.Message,
		Severity:        p.Severity,
		Category:        p.Category,
		CreatedAt:       now,
		AgentID:         p.AgentID,
		RiskScore:       p.RiskScore,
		FlaggedSegments: p.FlaggedSegments,
		Mitigation:      p.Mitigation,
		Metadata:        p.Metadata,
	}
	if p.Severity.Rank() > domain.SeverityLow.Rank() {
		at := now.Add(time.Duration(m.settings.AutoEscalateTimeout) * time.Minute)
		a.AutoEscalateAt = &at
	}
	m.alerts[a.ID] = a
	m.persistLocked()
	created := a.Clone()
	seq, visible := m.stampLocked()
	m.mu.Unlock()

	m.logger.Info("alert created",
		zap.String("id", created.ID),
		zap.String("severity", string(created.Severity)),
		zap.String("category", string(created.Category)),
	)
	m.b.PublishSeq(seq, visible)
	m.emit(domain.AlertCreated, created, "")
	return created.ID, true
}

// CreateHallucinationAlert выводит severity из risk score и делегирует CreateAlert.
func (m *Manager) CreateHallucinationAlert(agentID string, riskScore float64, segments []string, mitigation string) (string, bool) {
	score := riskScore
	msg := fmt.Sprintf("Agent %s produced output with %.0f%% hallucination risk", agentID, riskScore*100)
	if len(segments) > 0 {
		msg = fmt.Sprintf("%s (%d flagged segment(s))", msg, len(segments))
	}
	return m.CreateAlert(domain.AlertParams{
		Title:           "Hallucination detected",
		Message:         msg,
		Severity:        risk.SeverityFor(riskScore),
		Category:        domain.CategoryHallucination,
		AgentID:         agentID,
		RiskScore:       &score,
		FlaggedSegments: segments,
		Mitigation:      mitigation,
	})
}

// Sweep эскалирует просроченные неподтвержденные алерты и создает по каждому
// критический системный алерт со ссылкой на исходный.
func (m *Manager) Sweep() int {
	m.mu.Lock()
	now := m.now()
	var escalated []domain.PersistentAlert
	for _, a := range m.alerts {
		if a.Acknowledged || a.Escalated || a.AutoEscalateAt == nil || now.Before(*a.AutoEscalateAt) {
			continue
		}
		a.Escalated = true
		a.Severity = a.Severity.Escalate()
		escalated = append(escalated, a.Clone())
	}
	if len(escalated) == 0 {
		m.mu.Unlock()
		return 0
	}
	m.persistLocked()
	seq, visible := m.stampLocked()
	m.mu.Unlock()

	m.b.PublishSeq(seq, visible)
	for _, a := range escalated {
		m.logger.Warn("alert escalated", zap.String("id", a.ID), zap.String("severity", string(a.Severity)))
		m.emit(domain.AlertEscalated, a, "")

		// Системный алерт проходит тот же фильтр и может быть отброшен.
		m.CreateAlert(domain.AlertParams{
			Title:    "Alert escalated: " + a.Title,
			Message:  fmt.Sprintf("Alert %q has not been acknowledged and was escalated to %s", a.Title, a.Severity),
			Severity: domain.SeverityCritical,
			Category: domain.CategorySystem,
			AgentID:  a.AgentID,
			Metadata: map[string]interface{}{"originalAlertId": a.ID},
		})
	}
	return len(escalated)
}

// AcknowledgeAlert возвращает false для неизвестного или уже подтвержденного алерта.
func (m *Manager) AcknowledgeAlert(id, by string) bool {
	m.mu.Lock()
	a, ok := m.alerts[id]
	if !ok || a.Acknowledged {
		m.mu.Unlock()
		return false
	}
	m.ackLocked(a, by)
	m.persistLocked()
	acked := a.Clone()
	seq, visible := m.stampLocked()
	m.mu.Unlock()

	m.b.PublishSeq(seq, visible)
	m.emit(domain.AlertAcknowledged, acked, by)
	return true
}

// AcknowledgeAll возвращает число впервые подтвержденных алертов.
func (m *Manager) AcknowledgeAll(by string) int {
	m.mu.Lock()
	var acked []domain.PersistentAlert
	for _, a := range m.alerts {
		if a.Acknowledged {
			continue
		}
		m.ackLocked(a, by)
		acked = append(acked, a.Clone())
	}
	if len(acked) == 0 {
		m.mu.Unlock()
		return 0
	}
	m.persistLocked()
	seq, visible := m.stampLocked()
	m.mu.Unlock()

	m.b.PublishSeq(seq, visible)
	for _, a := range acked {
		m.emit(domain.AlertAcknowledged, a, by)
	}
	return len(acked)
}

func (m *Manager) ackLocked(a *domain.PersistentAlert, by string) {
	now := m.now()
	a.Acknowledged = true
	a.AcknowledgedAt = &now
	a.AcknowledgedBy = by
}

// DismissAlert удаляет алерт без подтверждения.
func (m *Manager) DismissAlert(id string) bool {
	m.mu.Lock()
	a, ok := m.alerts[id]
	if !ok {
		m.mu.Unlock()
		return false
	}
	delete(m.alerts, id)
	m.persistLocked()
	removed := a.Clone()
	seq, visible := m.stampLocked()
	m.mu.Unlock()

	m.b.PublishSeq(seq, visible)
	m.emit(domain.AlertDismissed, removed, "")
	return true
}

func (m *Manager) ClearAll() {
	m.mu.Lock()
	removed := make([]domain.PersistentAlert, 0, len(m.alerts))
	for _, a := range m.alerts {
		removed = append(removed, a.Clone())
	}
	m.alerts = make(map[string]*domain.PersistentAlert)
	m.persistLocked()
	seq, visible := m.stampLocked()
	m.mu.Unlock()

	m.b.PublishSeq(seq, visible)
	for _, a := range removed {
		m.emit(domain.AlertCleared, a, "")
	}
}

// GetVisibleAlerts — неподтвержденные, severity desc, затем новые первыми, не больше MaxVisibleAlerts.
func (m *Manager) GetVisibleAlerts() []domain.PersistentAlert {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.visibleLocked()
}

// stampLocked снимает видимый набор для подписчиков и присваивает ему номер.
func (m *Manager) stampLocked() (uint64, []domain.PersistentAlert) {
	m.seq++
	return m.seq, m.visibleLocked()
}

func (m *Manager) visibleLocked() []domain.PersistentAlert {
	out := make([]domain.PersistentAlert, 0, len(m.alerts))
	for _, a := range m.alerts {
		if !a.Acknowledged {
			out = append(out, a.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		ri, rj := out[i].Severity.Rank(), out[j].Severity.Rank()
		if ri != rj {
			return ri > rj
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit := m.settings.MaxVisibleAlerts; limit >= 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// GetAllAlerts — все алерты, новые первыми.
func (m *Manager) GetAllAlerts() []domain.PersistentAlert {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.allLocked()
}

func (m *Manager) allLocked() []domain.PersistentAlert {
	out := make([]domain.PersistentAlert, 0, len(m.alerts))
	for _, a := range m.alerts {
		out = append(out, a.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (m *Manager) GetAlert(id string) (domain.PersistentAlert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.alerts[id]
	if !ok {
		return domain.PersistentAlert{}, domain.ErrAlertNotFound
	}
	return a.Clone(), nil
}

func (m *Manager) GetAlertStats() domain.AlertStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var s domain.AlertStats
	s.Total = len(m.alerts)
	for _, a := range m.alerts {
		if a.Escalated {
			s.Escalated++
		}
		if a.Acknowledged {
			continue
		}
		s.Unacknowledged++
		if a.Severity == domain.SeverityCritical {
			s.CriticalUnacknowledged++
		}
		if s.OldestUnacknowledged == nil || a.CreatedAt.Before(*s.OldestUnacknowledged) {
			t := a.CreatedAt
			s.OldestUnacknowledged = &t
		}
	}
	return s
}

func (m *Manager) GetSettings() domain.AlertSettings {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := m.settings
	s.PersistentCategories = append([]domain.Category(nil), m.settings.PersistentCategories...)
	return s
}

// UpdateSettings — last write wins по каждому полю патча, синхронное сохранение.
func (m *Manager) UpdateSettings(patch domain.AlertSettingsPatch) (domain.AlertSettings, error) {
	if patch.MinimumSeverity != nil && !patch.MinimumSeverity.Valid() {
		return m.GetSettings(), fmt.Errorf("%w: unknown severity %q", domain.ErrInvalidSettings, *patch.MinimumSeverity)
	}
	if patch.AutoEscalateTimeout != nil && *patch.AutoEscalateTimeout < 1 {
		return m.GetSettings(), fmt.Errorf("%w: auto_escalate_timeout must be >= 1", domain.ErrInvalidSettings)
	}
	if patch.MaxVisibleAlerts != nil && *patch.MaxVisibleAlerts < 0 {
		return m.GetSettings(), fmt.Errorf("%w: max_visible_alerts must be >= 0", domain.ErrInvalidSettings)
	}

	m.mu.Lock()
	if patch.PersistentCategories != nil {
		m.settings.PersistentCategories = append([]domain.Category(nil), patch.PersistentCategories...)
	}
	if patch.MinimumSeverity != nil {
		m.settings.MinimumSeverity = *patch.MinimumSeverity
	}
	if patch.AutoEscalateTimeout != nil {
		m.settings.AutoEscalateTimeout = *patch.AutoEscalateTimeout
	}
	if patch.MaxVisibleAlerts != nil {
		m.settings.MaxVisibleAlerts = *patch.MaxVisibleAlerts
	}
	if patch.Position != nil {
		m.settings.Position = *patch.Position
	}
	if patch.SoundEnabled != nil {
		m.settings.SoundEnabled = *patch.SoundEnabled
	}
	m.persistLocked()
	seq, visible := m.stampLocked()
	m.mu.Unlock()

	m.b.PublishSeq(seq, visible)
	return m.GetSettings(), nil
}

// Subscribe сразу доставляет текущий видимый набор, затем на каждую мутацию.
func (m *Manager) Subscribe(l pubsub.Listener[[]domain.PersistentAlert]) func() {
	return m.b.SubscribeCurrent(l, m.GetVisibleAlerts)
}

// Cleanup останавливает sweep и снимает подписчиков.
func (m *Manager) Cleanup() {
	m.stopOnce.Do(func() { close(m.stop) })
	m.wg.Wait()
	m.b.Clear()
}

// persistLocked пишет полный снапшот. Ошибка хранилища логируется: состояние в памяти остается.
func (m *Manager) persistLocked() {
	snap := snapshot{Settings: m.settings, Alerts: m.allLocked()}
	if err := storage.SaveJSON(context.Background(), m.store, infra.StorageKeyPersistentAlerts, snap); err != nil {
		m.logger.Error("failed to persist alerts", zap.Error(err))
	}
}

func (m *Manager) emit(t domain.AlertEventType, a domain.PersistentAlert, actor string) {
	if len(m.sinks) == 0 {
		return
	}
	ev := domain.AlertEvent{
		ID:        uuid.New().String(),
		Type:      t,
		AlertID:   a.ID,
		Alert:     a,
		Actor:     actor,
		Timestamp: m.now(),
	}
	for _, s := range m.sinks {
		s.Record(ev)
	}
}
