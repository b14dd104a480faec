package rotation

import "time"

// ScoreBreakdown is ephemeral diagnostic detail for one hybrid score; it is
// never persisted.
type ScoreBreakdown struct {
	Health    float64
	Tokens    float64
	Freshness float64
}

const freshnessCap = time.Hour

// HybridScore combines health, token budget, and staleness into one ranking
// value. Tokens carry 5x weight: they are the most direct proxy for "won't
// immediately 429". Health is a slower trust signal, and freshness is a soft
// LRU tie-breaker capped at one hour of staleness. The total clamps at zero
// so a LastUsed in the future (clock skew) cannot go negative.
func HybridScore(healthScore, tokens, maxTokens float64, lastUsed, now time.Time) (float64, ScoreBreakdown) {
	breakdown := ScoreBreakdown{
		Health: healthScore * 2,
	}

	if maxTokens > 0 {
		breakdown.Tokens = (tokens / maxTokens) * 100 * 5
	}

	sinceUsed := now.Sub(lastUsed)
	if sinceUsed > freshnessCap {
		sinceUsed = freshnessCap
	}
	if sinceUsed > 0 {
		breakdown.Freshness = sinceUsed.Seconds() * 0.1
	}

	score := breakdown.Health + breakdown.Tokens + breakdown.Freshness
	if score < 0 {
		score = 0
	}
	return score, breakdown
}
