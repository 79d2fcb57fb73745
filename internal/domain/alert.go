package domain

import (
	"errors"
	"time"
)

// Severity — уровень важности персистентного алерта.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank возвращает числовой ранг для сравнения (low < medium < high < critical).
// Неизвестная severity получает 0 и проигрывает любой известной.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	}
	return 0
}

func (s Severity) Valid() bool { return s.Rank() > 0 }

// Escalate поднимает severity на одну ступень; critical остается critical.
func (s Severity) Escalate() Severity {
	switch s {
	case SeverityLow:
		return SeverityMedium
	case SeverityMedium:
		return SeverityHigh
	default:
		return SeverityCritical
	}
}

// Category — источник алерта.
type Category string

const (
	CategoryHallucination Category = "hallucination"
	CategorySystem        Category = "system"
	CategoryConnection    Category = "connection"
	CategoryPerformance   Category = "performance"
)

var (
	ErrAlertNotFound   = errors.New("alert not found")
	ErrInvalidSettings = errors.New("invalid settings")
	ErrUnknownLevel    = errors.New("unknown risk level")
)

// PersistentAlert — алерт, требующий подтверждения оператором.
// Acknowledged == true всегда подразумевает заполненный AcknowledgedAt.
type PersistentAlert struct {
	ID              string                 `json:"id"`
	Title           string                 `json:"title"`
	Message         string                 `json:"message"`
	Severity        Severity               `json:"severity"`
	Category        Category               `json:"category"`
	CreatedAt       time.Time              `json:"created_at"`
	AgentID         string                 `json:"agent_id,omitempty"`
	RiskScore       *float64               `json:"risk_score,omitempty"`
	FlaggedSegments []string               `json:"flagged_segments,omitempty"`
	Mitigation      string                 `json:"mitigation,omitempty"`
	Acknowledged    bool                   `json:"acknowledged"`
	AcknowledgedAt  *time.Time             `json:"acknowledged_at,omitempty"`
	AcknowledgedBy  string                 `json:"acknowledged_by,omitempty"`
	AutoEscalateAt  *time.Time             `json:"auto_escalate_at,omitempty"`
	Escalated       bool                   `json:"escalated"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
}

// Clone возвращает копию, которую можно безопасно отдать подписчикам.
func (a PersistentAlert) Clone() PersistentAlert {
	c := a
	if a.RiskScore != nil {
		v := *a.RiskScore
		c.RiskScore = &v
	}
	if a.AcknowledgedAt != nil {
		v := *a.AcknowledgedAt
		c.AcknowledgedAt = &v
	}
	if a.AutoEscalateAt != nil {
		v := *a.AutoEscalateAt
		c.AutoEscalateAt = &v
	}
	if a.FlaggedSegments != nil {
		c.FlaggedSegments = append([]string(nil), a.FlaggedSegments...)
	}
	if a.Metadata != nil {
		c.Metadata = make(map[string]interface{}, len(a.Metadata))
		for k, v := range a.Metadata {
			c.Metadata[k] = v
		}
	}
	return c
}

// AlertParams — входные данные для создания алерта.
type AlertParams struct {
	Title           string
	Message         string
	Severity        Severity
	Category        Category
	AgentID         string
	RiskScore       *float64
	FlaggedSegments []string
	Mitigation      string
	Metadata        map[string]interface{}
}

// AlertStats — агрегаты для бейджей дашборда.
type AlertStats struct {
	Total                  int        `json:"total"`
	Unacknowledged         int        `json:"unacknowledged"`
	CriticalUnacknowledged int        `json:"critical_unacknowledged"`
	Escalated              int        `json:"escalated"`
	OldestUnacknowledged   *time.Time `json:"oldest_unacknowledged,omitempty"`
}

// AlertEventType — тип события жизненного цикла алерта (для архива и Redis).
type AlertEventType string

const (
	AlertCreated      AlertEventType = "CREATED"
	AlertAcknowledged AlertEventType = "ACKNOWLEDGED"
	AlertEscalated    AlertEventType = "ESCALATED"
	AlertDismissed    AlertEventType = "DISMISSED"
	AlertCleared      AlertEventType = "CLEARED"
)

// AlertEvent фиксирует одно изменение алерта.
type AlertEvent struct {
	ID        string          `json:"id"`
	Type      AlertEventType  `json:"type"`
	AlertID   string          `json:"alert_id"`
	Alert     PersistentAlert `json:"alert"`
	Actor     string          `json:"actor,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}
