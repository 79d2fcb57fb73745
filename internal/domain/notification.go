package domain

import "time"

// NotificationLevel повторяет варианты snackbar-уведомлений дашборда.
type NotificationLevel string

const (
	NotifyInfo    NotificationLevel = "info"
	NotifySuccess NotificationLevel = "success"
	NotifyWarning NotificationLevel = "warning"
	NotifyError   NotificationLevel = "error"
)

// Notification — транзиентное уведомление. Живет Duration, никуда не сохраняется.
type Notification struct {
	ID        string            `json:"id"`
	Level     NotificationLevel `json:"level"`
	Title     string            `json:"title,omitempty"`
	Message   string            `json:"message"`
	AgentID   string            `json:"agent_id,omitempty"`
	Toast     bool              `json:"toast,omitempty"` // визуальный тост аудио-менеджера
	Duration  time.Duration     `json:"duration"`
	CreatedAt time.Time         `json:"created_at"`
}
