package domain

// RiskLevel — дискретный уровень риска для звуковых алертов.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

func (l RiskLevel) Valid() bool {
	switch l {
	case RiskLow, RiskMedium, RiskHigh, RiskCritical:
		return true
	}
	return false
}

// SoundProfile определяет характер тональных паттернов.
type SoundProfile string

const (
	ProfileProfessional SoundProfile = "professional"
	ProfileSubtle       SoundProfile = "subtle"
	ProfileUrgent       SoundProfile = "urgent"
)

func (p SoundProfile) Valid() bool {
	switch p {
	case ProfileProfessional, ProfileSubtle, ProfileUrgent:
		return true
	}
	return false
}

// RiskThresholds — нижние границы уровней. Должны монотонно возрастать.
type RiskThresholds struct {
	Low      float64 `json:"low"`
	Medium   float64 `json:"medium"`
	High     float64 `json:"high"`
	Critical float64 `json:"critical"`
}

func (t RiskThresholds) Monotonic() bool {
	return t.Low <= t.Medium && t.Medium <= t.High && t.High <= t.Critical
}

// AudioSettings — процесс-глобальные настройки звука, хранятся в storage.
type AudioSettings struct {
	Enabled        bool           `json:"enabled"`
	Volume         float64        `json:"volume"`
	AlertCooldown  int            `json:"alert_cooldown"` // секунды
	RiskThresholds RiskThresholds `json:"risk_thresholds"`
	SoundProfile   SoundProfile   `json:"sound_profile"`
}

func DefaultAudioSettings() AudioSettings {
	return AudioSettings{
		Enabled:       true,
		Volume:        0.7,
		AlertCooldown: 5,
		RiskThresholds: RiskThresholds{
			Low:      0.3,
			Medium:   0.5,
			High:     0.7,
			Critical: 0.85,
		},
		SoundProfile: ProfileProfessional,
	}
}

// AudioSettingsPatch — частичное обновление (last write wins по каждому полю).
type AudioSettingsPatch struct {
	Enabled        *bool           `json:"enabled,omitempty"`
	Volume         *float64        `json:"volume,omitempty"`
	AlertCooldown  *int            `json:"alert_cooldown,omitempty"`
	RiskThresholds *RiskThresholds `json:"risk_thresholds,omitempty"`
	SoundProfile   *SoundProfile   `json:"sound_profile,omitempty"`
}

// AlertSettings управляет тем, какие алерты сохраняются и как показываются.
type AlertSettings struct {
	PersistentCategories []Category `json:"persistent_categories"`
	MinimumSeverity      Severity   `json:"minimum_severity"`
	AutoEscalateTimeout  int        `json:"auto_escalate_timeout"` // минуты
	MaxVisibleAlerts     int        `json:"max_visible_alerts"`
	Position             string     `json:"position"`
	SoundEnabled         bool       `json:"sound_enabled"`
}

func DefaultAlertSettings() AlertSettings {
	return AlertSettings{
		PersistentCategories: []Category{CategoryHallucination, CategorySystem, CategoryConnection},
		MinimumSeverity:      SeverityMedium,
		AutoEscalateTimeout:  5,
		MaxVisibleAlerts:     5,
		Position:             "top-right",
		SoundEnabled:         true,
	}
}

// Persists проверяет, входит ли категория в персистентный набор.
func (s AlertSettings) Persists(c Category) bool {
	for _, pc := range s.PersistentCategories {
		if pc == c {
			return true
		}
	}
	return false
}

type AlertSettingsPatch struct {
	PersistentCategories []Category `json:"persistent_categories,omitempty"`
	MinimumSeverity      *Severity  `json:"minimum_severity,omitempty"`
	AutoEscalateTimeout  *int       `json:"auto_escalate_timeout,omitempty"`
	MaxVisibleAlerts     *int       `json:"max_visible_alerts,omitempty"`
	Position             *string    `json:"position,omitempty"`
	SoundEnabled         *bool      `json:"sound_enabled,omitempty"`
}

// StatsComponents — какие виджеты статистики видимы на дашборде.
type StatsComponents struct {
	ResponseRate   bool `json:"response_rate"`
	RiskTrend      bool `json:"risk_trend"`
	LatencyTrend   bool `json:"latency_trend"`
	AgentBreakdown bool `json:"agent_breakdown"`
	SystemHealth   bool `json:"system_health"`
}

// StatsSettings управляет частотой пересчета и окном трендов.
type StatsSettings struct {
	UpdateInterval int             `json:"update_interval"` // миллисекунды
	TrendWindow    int             `json:"trend_window"`    // минуты
	Position       string          `json:"position"`
	CompactMode    bool            `json:"compact_mode"`
	ShowTrends     bool            `json:"show_trends"`
	Components     StatsComponents `json:"components"`
}

func DefaultStatsSettings() StatsSettings {
	return StatsSettings{
		UpdateInterval: 1000,
		TrendWindow:    5,
		Position:       "bottom-right",
		CompactMode:    false,
		ShowTrends:     true,
		Components: StatsComponents{
			ResponseRate:   true,
			RiskTrend:      true,
			LatencyTrend:   true,
			AgentBreakdown: true,
			SystemHealth:   true,
		},
	}
}

type StatsSettingsPatch struct {
	UpdateInterval *int             `json:"update_interval,omitempty"`
	TrendWindow    *int             `json:"trend_window,omitempty"`
	Position       *string          `json:"position,omitempty"`
	CompactMode    *bool            `json:"compact_mode,omitempty"`
	ShowTrends     *bool            `json:"show_trends,omitempty"`
	Components     *StatsComponents `json:"components,omitempty"`
}
