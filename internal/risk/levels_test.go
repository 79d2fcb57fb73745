package risk

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/xela07ax/spaceai-hallucination-monitor/internal/domain"
)

func TestLevelFor_DefaultBoundaries(t *testing.T) {
	th := domain.DefaultAudioSettings().RiskThresholds

	cases := []struct {
		score float64
		want  domain.RiskLevel
	}{
		{0, domain.RiskLow},
		{0.3, domain.RiskLow},
		{0.49, domain.RiskLow},
		{0.5, domain.RiskMedium},
		{0.69, domain.RiskMedium},
		{0.7, domain.RiskHigh},
		{0.84, domain.RiskHigh},
		{0.85, domain.RiskCritical},
		{1, domain.RiskCritical},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, LevelFor(c.score, th), "score=%v", c.score)
	}
}

func TestLevelFor_Monotonic(t *testing.T) {
	th := domain.DefaultAudioSettings().RiskThresholds
	rank := map[domain.RiskLevel]int{
		domain.RiskLow: 0, domain.RiskMedium: 1, domain.RiskHigh: 2, domain.RiskCritical: 3,
	}

	prev := -1
	for i := 0; i <= 1000; i++ {
		r := rank[LevelFor(float64(i)/1000, th)]
		assert.GreaterOrEqual(t, r, prev)
		prev = r
	}
}

func TestSeverityFor(t *testing.T) {
	assert.Equal(t, domain.SeverityCritical, SeverityFor(0.9))
	assert.Equal(t, domain.SeverityCritical, SeverityFor(0.85))
	assert.Equal(t, domain.SeverityHigh, SeverityFor(0.7))
	assert.Equal(t, domain.SeverityMedium, SeverityFor(0.5))
	assert.Equal(t, domain.SeverityLow, SeverityFor(0.49))
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 0.0, Clamp(-1))
	assert.Equal(t, 1.0, Clamp(2))
	assert.Equal(t, 0.0, Clamp(math.NaN()))
	assert.Equal(t, 0.42, Clamp(0.42))
}
