package domain

import "time"

// DetectionEvent — одно наблюдение детектора. После создания не изменяется.
type DetectionEvent struct {
	AgentID   string    `json:"agent_id"`
	RiskScore float64   `json:"risk_score"`
	LatencyMs float64   `json:"latency_ms"`
	Flagged   bool      `json:"flagged"`
	Timestamp time.Time `json:"timestamp"`
}

// AgentTrend — направление изменения риска агента.
type AgentTrend string

const (
	TrendImproving AgentTrend = "improving"
	TrendStable    AgentTrend = "stable"
	TrendDegrading AgentTrend = "degrading"
)

// AgentMetrics — разбивка по одному агенту.
type AgentMetrics struct {
	AgentID            string     `json:"agent_id"`
	TotalResponses     int        `json:"total_responses"`
	FlaggedResponses   int        `json:"flagged_responses"`
	FlaggedRate        float64    `json:"flagged_rate"`
	AverageRiskScore   float64    `json:"average_risk_score"`
	AverageLatency     float64    `json:"average_latency"`
	LastResponse       time.Time  `json:"last_response"`
	ResponsesPerMinute int        `json:"responses_per_minute"`
	Trend              AgentTrend `json:"trend"`
}

// TrendPoint — один 30-секундный бакет временного ряда.
type TrendPoint struct {
	Timestamp      time.Time `json:"timestamp"`
	ResponseCount  int       `json:"response_count"`
	AverageRisk    float64   `json:"average_risk"`
	AverageLatency float64   `json:"average_latency"`
}

// SystemMetrics — полностью производная структура, пересчитывается на каждом тике.
type SystemMetrics struct {
	TotalResponses     int                     `json:"total_responses"`
	FlaggedResponses   int                     `json:"flagged_responses"`
	FlaggedRate        float64                 `json:"flagged_rate"`
	AverageRiskScore   float64                 `json:"average_risk_score"`
	AverageLatency     float64                 `json:"average_latency"`
	MinLatency         float64                 `json:"min_latency"`
	MaxLatency         float64                 `json:"max_latency"`
	ResponsesPerMinute int                     `json:"responses_per_minute"`
	ErrorRate          float64                 `json:"error_rate"`
	ErrorCount         int                     `json:"error_count"`
	ActiveAgents       int                     `json:"active_agents"`
	Agents             map[string]AgentMetrics `json:"agents"`
	ResponseTrend      []TrendPoint            `json:"response_trend"`
	SystemHealth       float64                 `json:"system_health"`
	ConnectionQuality  float64                 `json:"connection_quality"`
	LastUpdated        time.Time               `json:"last_updated"`
}

// Clone копирует map и слайсы, чтобы подписчики не разделяли состояние с менеджером.
func (m SystemMetrics) Clone() SystemMetrics {
	c := m
	c.Agents = make(map[string]AgentMetrics, len(m.Agents))
	for k, v := range m.Agents {
		c.Agents[k] = v
	}
	c.ResponseTrend = append([]TrendPoint(nil), m.ResponseTrend...)
	return c
}
