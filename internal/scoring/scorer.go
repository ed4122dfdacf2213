// Package scoring computes the bounded risk score for a classified request.
// Score is a pure function: same inputs, same output, no side effects.
package scoring

import (
	"math"

	"github.com/ssm-ops/watchtower/internal/models"
)

// DefaultReputation is assumed for addresses with no intelligence row.
const DefaultReputation = 50

var baseScores = map[models.ThreatLevel]int{
	models.ThreatSafe:     0,
	models.ThreatLow:      20,
	models.ThreatMedium:   50,
	models.ThreatHigh:     80,
	models.ThreatCritical: 100,
}

// Score derives a risk score in [0,100] from the threat level and signal
// inputs. The additive terms are summed then capped, so heavily flagged
// requests saturate at 100 rather than being normalized. Out-of-range
// anomaly scores and reputations are clamped, never rejected.
func Score(level models.ThreatLevel, signatureMatches, behavioralFlags []string, anomalyScore float64, ipReputation int) int {
	anomaly := clampFloat(anomalyScore, 0, 1)
	reputation := clampInt(ipReputation, 0, 100)

	raw := baseScores[level]
	raw += 5 * len(signatureMatches)
	raw += 3 * len(behavioralFlags)
	raw += int(math.Round(20 * anomaly))
	raw += (100 - reputation) / 2

	if raw > 100 {
		return 100
	}
	return raw
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
