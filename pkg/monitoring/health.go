package monitoring

import (
	"math"
	"time"
)

// Health states derived from the composite score.
const (
	HealthStateHealthy   = "healthy"
	HealthStateDegraded  = "degraded"
	HealthStateUnhealthy = "unhealthy"
)

const (
	healthyThreshold  = 80.0
	degradedThreshold = 50.0

	// Score deductions. Volume weighs heaviest; a system drowning in
	// errors is worse than one recovering slowly.
	volumeDeduction       = 30.0
	recoveryDeduction     = 20.0
	handlingTimeDeduction = 15.0
)

// healthState maps a 0-100 score to a state label.
func healthState(score float64) string {
	switch {
	case score >= healthyThreshold:
		return HealthStateHealthy
	case score >= degradedThreshold:
		return HealthStateDegraded
	default:
		return HealthStateUnhealthy
	}
}

// systemScore computes the base 0-100 score from window aggregates, then
// scales it by the geometric mean of per-provider scores so one failing
// provider drags the composite down without zeroing it.
func systemScore(m *Metrics, alertErrorRate float64, alertHandlingTime time.Duration) float64 {
	score := 100.0

	// Volume: full deduction at or above the alerting error rate.
	if alertErrorRate > 0 {
		frac := m.ErrorsPerMinute / alertErrorRate
		if frac > 1 {
			frac = 1
		}
		score -= volumeDeduction * frac
	}

	// Recovery: full deduction when nothing recovers.
	if m.TotalEvents > 0 {
		score -= recoveryDeduction * (1 - m.RecoveryRate)
	}

	// Handling time: full deduction at or above the alerting threshold.
	if alertHandlingTime > 0 && m.AvgHandlingTime > 0 {
		frac := float64(m.AvgHandlingTime) / float64(alertHandlingTime)
		if frac > 1 {
			frac = 1
		}
		score -= handlingTimeDeduction * frac
	}

	if score < 0 {
		score = 0
	}

	if len(m.Providers) > 0 {
		score *= geometricMean(m.Providers) / 100.0
	}
	return score
}

// providerScore computes one provider's 0-100 score from its window
// counters. Consecutive errors dominate: a provider failing every request
// right now is unhealthy regardless of its past hour.
func providerScore(pm *ProviderMetrics, consecutiveThreshold int) float64 {
	score := 100.0

	if consecutiveThreshold > 0 && pm.ConsecutiveErrors > 0 {
		frac := float64(pm.ConsecutiveErrors) / float64(consecutiveThreshold)
		if frac > 1 {
			frac = 1
		}
		score -= 50.0 * frac
	}

	if pm.RetryAttempts > 0 {
		score -= 25.0 * (1 - pm.RetrySuccessRate)
	}

	if pm.Errors > 0 {
		frac := float64(pm.Errors) / 100.0
		if frac > 1 {
			frac = 1
		}
		score -= 25.0 * frac
	}

	if score < 0 {
		score = 0
	}
	return score
}

// geometricMean of provider health scores. Zero scores are floored at 1 so
// a single dead provider does not collapse the mean to zero outright.
func geometricMean(providers []ProviderMetrics) float64 {
	sum := 0.0
	for _, pm := range providers {
		score := pm.HealthScore
		if score < 1 {
			score = 1
		}
		sum += math.Log(score)
	}
	return math.Exp(sum / float64(len(providers)))
}
