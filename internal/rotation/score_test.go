package rotation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHybridScoreWeighting(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	// health 80 contributes 160, 25/50 tokens contribute 250, and ten
	// minutes of staleness adds 60.
	score, breakdown := HybridScore(80, 25, 50, now.Add(-10*time.Minute), now)

	assert.Equal(t, 160.0, breakdown.Health)
	assert.Equal(t, 250.0, breakdown.Tokens)
	assert.Equal(t, 60.0, breakdown.Freshness)
	assert.Equal(t, 470.0, score)
}

func TestHybridScoreFreshnessCapsAtOneHour(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	_, hourOld := HybridScore(80, 25, 50, now.Add(-time.Hour), now)
	_, dayOld := HybridScore(80, 25, 50, now.Add(-24*time.Hour), now)

	assert.Equal(t, 360.0, hourOld.Freshness)
	assert.Equal(t, hourOld.Freshness, dayOld.Freshness)
}

func TestHybridScoreNeverUsedAccountGetsCappedFreshness(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	_, breakdown := HybridScore(70, 50, 50, time.Time{}, now)

	assert.Equal(t, 360.0, breakdown.Freshness)
}

func TestHybridScoreFutureLastUsedDoesNotGoNegative(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	score, breakdown := HybridScore(0, 0, 50, now.Add(time.Minute), now)

	assert.Equal(t, 0.0, breakdown.Freshness)
	assert.GreaterOrEqual(t, score, 0.0)
}

func TestHybridScoreZeroMaxTokensSkipsTokenComponent(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	_, breakdown := HybridScore(80, 25, 0, now, now)

	assert.Equal(t, 0.0, breakdown.Tokens)
}
