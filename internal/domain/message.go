package domain

import "encoding/json"

// Типы сообщений потока /ws/monitor.
const (
	MsgDetectionResult       = "detection_result"
	MsgMonitoringStarted     = "monitoring_started"
	MsgMonitoringStopped     = "monitoring_stopped"
	MsgConnectionEstablished = "connection_established"
	MsgKeepalive             = "keepalive"
	MsgError                 = "error"
	MsgProcessingError       = "processing_error"
	MsgPing                  = "ping"
)

// Envelope — минимальная оболочка для диспетчеризации по полю type.
type Envelope struct {
	Type string `json:"type"`
}

// DetectionResult — результат проверки ответа агента детектором.
type DetectionResult struct {
	Type              string   `json:"type"`
	AgentID           string   `json:"agent_id"`
	Query             string   `json:"query"`
	Output            string   `json:"output"`
	HallucinationRisk float64  `json:"hallucination_risk"`
	Flagged           bool     `json:"flagged"`
	Confidence        float64  `json:"confidence"`
	FlaggedSegments   []string `json:"flagged_segments"`
	Mitigation        string   `json:"mitigation,omitempty"`
	Timestamp         string   `json:"timestamp"`
	ClaudeExplanation string   `json:"claude_explanation"`
	ProcessingTimeMs  float64  `json:"processing_time_ms"`
}

// StatusMessage покрывает monitoring_started/stopped, connection_established, error и keepalive.
type StatusMessage struct {
	Type       string          `json:"type"`
	Message    string          `json:"message,omitempty"`
	Timestamp  string          `json:"timestamp,omitempty"`
	FinalStats json.RawMessage `json:"final_stats,omitempty"`
}

// ProcessingError — сбой обработки ответа конкретного агента на стороне бэкенда.
type ProcessingError struct {
	Type    string `json:"type"`
	AgentID string `json:"agent_id"`
	Error   string `json:"error"`
}

// PingMessage — клиентский keepalive.
type PingMessage struct {
	Type string `json:"type"`
}
