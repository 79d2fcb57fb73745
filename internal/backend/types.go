package backend

import "time"

// AgentTestRequest — одиночная проверка ответа агента.
type AgentTestRequest struct {
	AgentID string `json:"agent_id"`
	Query   string `json:"query"`
	Output  string `json:"output"`
	Context string `json:"context,omitempty"`
}

type BatchStatus string

const (
	BatchUploaded  BatchStatus = "uploaded"
	BatchRunning   BatchStatus = "running"
	BatchCompleted BatchStatus = "completed"
	BatchCancelled BatchStatus = "cancelled"
	BatchFailed    BatchStatus = "failed"
)

// BatchJob — состояние пакетной проверки на стороне бэкенда.
type BatchJob struct {
	JobID          string      `json:"job_id"`
	Status         BatchStatus `json:"status"`
	Filename       string      `json:"filename,omitempty"`
	TotalItems     int         `json:"total_items"`
	ProcessedItems int         `json:"processed_items"`
	FlaggedItems   int         `json:"flagged_items"`
	CreatedAt      *time.Time  `json:"created_at,omitempty"`
	CompletedAt    *time.Time  `json:"completed_at,omitempty"`
	Error          string      `json:"error,omitempty"`
}

// ExportFormat — формат выгрузки результатов пакета.
type ExportFormat string

const (
	ExportJSON ExportFormat = "json"
	ExportCSV  ExportFormat = "csv"
)

func (f ExportFormat) Valid() bool {
	return f == ExportJSON || f == ExportCSV
}

// AnalyticsSummary — агрегаты бэкенда за период.
type AnalyticsSummary struct {
	TotalRequests    int                `json:"total_requests"`
	FlaggedRequests  int                `json:"flagged_requests"`
	AverageRiskScore float64            `json:"average_risk_score"`
	AverageLatencyMs float64            `json:"average_latency_ms"`
	ByAgent          map[string]float64 `json:"by_agent,omitempty"`
	PeriodStart      *time.Time         `json:"period_start,omitempty"`
	PeriodEnd        *time.Time         `json:"period_end,omitempty"`
}
