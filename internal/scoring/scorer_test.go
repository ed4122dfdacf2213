package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ssm-ops/watchtower/internal/models"
)

func TestScore_KnownValues(t *testing.T) {
	// A trusted address with a safe request scores zero.
	assert.Equal(t, 0, Score(models.ThreatSafe, nil, nil, 0, 100))

	// A critical request from a fully distrusted address saturates.
	assert.Equal(t, 100, Score(models.ThreatCritical, nil, nil, 0, 0))

	// 50 base + 2*5 signatures + 1*3 flags + 10 anomaly + 25 reputation = 98.
	got := Score(models.ThreatMedium, []string{"a", "b"}, []string{"x"}, 0.5, 50)
	assert.Equal(t, 98, got)
}

func TestScore_Saturates(t *testing.T) {
	sigs := make([]string, 40)
	for i := range sigs {
		sigs[i] = "sig"
	}
	assert.Equal(t, 100, Score(models.ThreatLow, sigs, nil, 1.0, 0))
}

func TestScore_BoundedForAllLevels(t *testing.T) {
	levels := []models.ThreatLevel{
		models.ThreatSafe, models.ThreatLow, models.ThreatMedium,
		models.ThreatHigh, models.ThreatCritical,
	}
	for _, level := range levels {
		for _, rep := range []int{0, 25, 50, 75, 100} {
			for _, anomaly := range []float64{0, 0.3, 0.7, 1} {
				s := Score(level, []string{"a"}, []string{"b", "c"}, anomaly, rep)
				assert.GreaterOrEqual(t, s, 0)
				assert.LessOrEqual(t, s, 100)
			}
		}
	}
}

func TestScore_ClampsOutOfRangeInputs(t *testing.T) {
	// Anomaly above 1 behaves as 1, below 0 as 0.
	assert.Equal(t, Score(models.ThreatLow, nil, nil, 1, 50), Score(models.ThreatLow, nil, nil, 5, 50))
	assert.Equal(t, Score(models.ThreatLow, nil, nil, 0, 50), Score(models.ThreatLow, nil, nil, -1, 50))

	// Reputation outside [0,100] is clamped, not rejected.
	assert.Equal(t, Score(models.ThreatLow, nil, nil, 0, 0), Score(models.ThreatLow, nil, nil, 0, -20))
	assert.Equal(t, Score(models.ThreatLow, nil, nil, 0, 100), Score(models.ThreatLow, nil, nil, 0, 400))
}

func TestScore_UnknownLevelScoresAsSafe(t *testing.T) {
	assert.Equal(t, 25, Score(models.ThreatLevel("bogus"), nil, nil, 0, 50))
}
