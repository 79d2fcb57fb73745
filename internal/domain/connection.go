package domain

import (
	"encoding/json"
	"time"
)

// ConnectionState — состояние соединения с потоком /ws/monitor.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateError        ConnectionState = "error"
)

// ConnectionSnapshot — наблюдаемое состояние клиента мониторинга.
type ConnectionSnapshot struct {
	State                ConnectionState   `json:"state"`
	Error                string            `json:"error,omitempty"`
	ReconnectAttempts    int               `json:"reconnect_attempts"`
	MaxReconnectAttempts int               `json:"max_reconnect_attempts"`
	NextRetryAt          *time.Time        `json:"next_retry_at,omitempty"`
	LastMessageAt        *time.Time        `json:"last_message_at,omitempty"`
	LastResult           *DetectionResult  `json:"last_result,omitempty"`
	AgentErrors          map[string]string `json:"agent_errors,omitempty"`
	FinalStats           json.RawMessage   `json:"final_stats,omitempty"`
}
