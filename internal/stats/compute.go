package stats

import (
	"math"
	"time"

	"github.com/xela07ax/spaceai-hallucination-monitor/internal/domain"
)

const (
	// BucketWidth — ширина бакета временного ряда.
	BucketWidth = 30 * time.Second
	rateWindow  = time.Minute
	// TrendDeadband — разница средних рисков, ниже которой тренд считается stable.
	TrendDeadband = 0.1
)

// errorState — то, что не выводится из истории: счетчик и эвристика RecordError.
type errorState struct {
	rate  float64
	count int
}

// compute пересчитывает метрики с нуля по всей удержанной истории.
// Чистая функция: результат зависит только от аргументов.
func compute(history []domain.DetectionEvent, errs errorState, window time.Duration, now time.Time) domain.SystemMetrics {
	m := domain.SystemMetrics{
		ErrorRate:     errs.rate,
		ErrorCount:    errs.count,
		Agents:        make(map[string]domain.AgentMetrics),
		ResponseTrend: buckets(history, window, now),
		LastUpdated:   now,
	}

	if n := len(history); n > 0 {
		var riskSum, latSum float64
		m.MinLatency = math.Inf(1)
		for _, e := range history {
			if e.Flagged {
				m.FlaggedResponses++
			}
			riskSum += e.RiskScore
			latSum += e.LatencyMs
			m.MinLatency = math.Min(m.MinLatency, e.LatencyMs)
			m.MaxLatency = math.Max(m.MaxLatency, e.LatencyMs)
			if recent(e, now) {
				m.ResponsesPerMinute++
			}
		}
		m.TotalResponses = n
		m.FlaggedRate = float64(m.FlaggedResponses) / float64(n)
		m.AverageRiskScore = riskSum / float64(n)
		m.AverageLatency = latSum / float64(n)
	}

	for id, am := range agents(history, window, now) {
		m.Agents[id] = am
	}
	m.ActiveAgents = len(m.Agents)
	m.SystemHealth = systemHealth(m)
	m.ConnectionQuality = connectionQuality(m)
	return m
}

func recent(e domain.DetectionEvent, now time.Time) bool {
	age := now.Sub(e.Timestamp)
	return age >= 0 && age <= rateWindow
}

// agents — разбивка только по агентам, у которых есть события внутри окна тренда.
func agents(history []domain.DetectionEvent, window time.Duration, now time.Time) map[string]domain.AgentMetrics {
	windowStart := now.Add(-window)

	byAgent := make(map[string][]domain.DetectionEvent)
	active := make(map[string]bool)
	for _, e := range history {
		byAgent[e.AgentID] = append(byAgent[e.AgentID], e)
		if !e.Timestamp.Before(windowStart) {
			active[e.AgentID] = true
		}
	}

	out := make(map[string]domain.AgentMetrics, len(active))
	for id := range active {
		events := byAgent[id]
		am := domain.AgentMetrics{AgentID: id, TotalResponses: len(events)}

		var riskSum, latSum, inSum, preSum float64
		var inN, preN int
		for _, e := range events {
			if e.Flagged {
				am.FlaggedResponses++
			}
			riskSum += e.RiskScore
			latSum += e.LatencyMs
			if e.Timestamp.After(am.LastResponse) {
				am.LastResponse = e.Timestamp
			}
			if recent(e, now) {
				am.ResponsesPerMinute++
			}
			if e.Timestamp.Before(windowStart) {
				preSum += e.RiskScore
				preN++
			} else {
				inSum += e.RiskScore
				inN++
			}
		}
		n := float64(len(events))
		am.FlaggedRate = float64(am.FlaggedResponses) / n
		am.AverageRiskScore = riskSum / n
		am.AverageLatency = latSum / n
		am.Trend = classifyTrend(inSum, inN, preSum, preN)
		out[id] = am
	}
	return out
}

// classifyTrend сравнивает средний риск в окне со средним до окна. Рост риска означает degrading.
func classifyTrend(inSum float64, inN int, preSum float64, preN int) domain.AgentTrend {
	if inN == 0 || preN == 0 {
		return domain.TrendStable
	}
	diff := inSum/float64(inN) - preSum/float64(preN)
	switch {
	case diff > TrendDeadband:
		return domain.TrendDegrading
	case diff < -TrendDeadband:
		return domain.TrendImproving
	default:
		return domain.TrendStable
	}
}

// buckets строит ряд из window/30s бакетов, от старых к новым. Последний бакет заканчивается на now.
func buckets(history []domain.DetectionEvent, window time.Duration, now time.Time) []domain.TrendPoint {
	n := int(window / BucketWidth)
	if n <= 0 {
		return []domain.TrendPoint{}
	}
	start := now.Add(-time.Duration(n) * BucketWidth)

	points := make([]domain.TrendPoint, n)
	riskSum := make([]float64, n)
	latSum := make([]float64, n)
	for i := range points {
		points[i].Timestamp = start.Add(time.Duration(i) * BucketWidth)
	}

	for _, e := range history {
		if e.Timestamp.Before(start) || e.Timestamp.After(now) {
			continue
		}
		i := int(e.Timestamp.Sub(start) / BucketWidth)
		if i >= n {
			i = n - 1 // событие ровно в now
		}
		points[i].ResponseCount++
		riskSum[i] += e.RiskScore
		latSum[i] += e.LatencyMs
	}

	for i := range points {
		if c := points[i].ResponseCount; c > 0 {
			points[i].AverageRisk = riskSum[i] / float64(c)
			points[i].AverageLatency = latSum[i] / float64(c)
		}
	}
	return points
}

// systemHealth: 100 минус штрафы за ошибки, долю флагов, задержку и отсутствие агентов.
func systemHealth(m domain.SystemMetrics) float64 {
	score := 100.0
	score -= math.Min(50, m.ErrorRate*100)

	switch {
	case m.FlaggedRate > 0.3:
		score -= 20
	case m.FlaggedRate > 0.1:
		score -= 10
	}

	switch {
	case m.AverageLatency > 5000:
		score -= 20
	case m.AverageLatency > 2000:
		score -= 10
	}

	if m.ActiveAgents == 0 {
		score -= 30
	}
	return math.Max(0, score)
}

// connectionQuality: штраф за ошибки и пропорциональный задержке штраф (не больше 30).
func connectionQuality(m domain.SystemMetrics) float64 {
	score := 100.0
	score -= math.Min(50, m.ErrorRate*100)
	score -= math.Min(30, m.AverageLatency/100)
	return math.Max(0, score)
}
