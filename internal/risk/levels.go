package risk

import (
	"github.com/xela07ax/spaceai-hallucination-monitor/internal/domain"
)

// Границы severity для персистентных алертов о галлюцинациях.
// Не зависят от пользовательских порогов звука.
const (
	CriticalScore = 0.85
	HighScore     = 0.7
	MediumScore   = 0.5
)

// LevelFor переводит risk score в один из четырех уровней по порогам.
// Граница уровня включается в этот уровень: score == t.Critical -> critical.
// Функция монотонна по score при монотонных порогах.
func LevelFor(score float64, t domain.RiskThresholds) domain.RiskLevel {
	switch {
	case score >= t.Critical:
		return domain.RiskCritical
	case score >= t.High:
		return domain.RiskHigh
	case score >= t.Medium:
		return domain.RiskMedium
	default:
		return domain.RiskLow
	}
}

// SeverityFor — бакетизация risk score для CreateHallucinationAlert.
func SeverityFor(score float64) domain.Severity {
	switch {
	case score >= CriticalScore:
		return domain.SeverityCritical
	case score >= HighScore:
		return domain.SeverityHigh
	case score >= MediumScore:
		return domain.SeverityMedium
	default:
		return domain.SeverityLow
	}
}

// Clamp ограничивает score отрезком [0,1]; бэкенд иногда присылает NaN-подобный мусор.
func Clamp(score float64) float64 {
	if score != score || score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
