package rotation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/rotator/internal/domain"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

const (
	accountA = domain.AccountID("a1b2c3d4e5f6a1b2c3d4e5f6a1b2c3d4e5f6a1b2")
	accountB = domain.AccountID("b2c3d4e5f6a1b2c3d4e5f6a1b2c3d4e5f6a1b2c3")
)

func TestHealthTrackerUntrackedAccountStartsAtInitialScore(t *testing.T) {
	t.Parallel()

	tracker := NewHealthTracker(DefaultHealthConfig(), newFakeClock())

	assert.Equal(t, 70.0, tracker.Score(accountA))
	assert.True(t, tracker.Usable(accountA))
}

func TestHealthTrackerRewardsAndPenalties(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	tracker := NewHealthTracker(DefaultHealthConfig(), clock)

	tracker.RecordSuccess(accountA)
	assert.Equal(t, 71.0, tracker.Score(accountA))

	tracker.RecordRateLimit(accountA)
	assert.Equal(t, 61.0, tracker.Score(accountA))

	tracker.RecordFailure(accountA)
	assert.Equal(t, 41.0, tracker.Score(accountA))
	assert.False(t, tracker.Usable(accountA))
}

func TestHealthTrackerScoreStaysWithinBounds(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	tracker := NewHealthTracker(DefaultHealthConfig(), clock)

	for i := 0; i < 10; i++ {
		tracker.RecordFailure(accountA)
	}
	assert.Equal(t, 0.0, tracker.Score(accountA))

	for i := 0; i < 200; i++ {
		tracker.RecordSuccess(accountA)
	}
	assert.Equal(t, 100.0, tracker.Score(accountA))

	tracker.RecordSuccess(accountA)
	assert.Equal(t, 100.0, tracker.Score(accountA))
}

func TestHealthTrackerLazyRecoveryFloorsElapsedHours(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	tracker := NewHealthTracker(DefaultHealthConfig(), clock)

	tracker.RecordFailure(accountA)
	tracker.RecordFailure(accountA)
	require.Equal(t, 30.0, tracker.Score(accountA))

	// Recovery is floor(hours * rate): 90 minutes at 5/hour grants
	// floor(1.5*5) = 7 points, not 7.5.
	clock.Advance(90 * time.Minute)
	assert.Equal(t, 37.0, tracker.Score(accountA))

	// Reads do not write: the same elapsed time yields the same score.
	assert.Equal(t, 37.0, tracker.Score(accountA))

	clock.Advance(24 * time.Hour)
	assert.Equal(t, 100.0, tracker.Score(accountA))
}

func TestHealthTrackerRecoveryAppliesBeforePenalty(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	tracker := NewHealthTracker(DefaultHealthConfig(), clock)

	tracker.RecordFailure(accountA)
	require.Equal(t, 50.0, tracker.Score(accountA))

	// Two hours recover 10 points, then the rate-limit penalty lands on the
	// recovered value.
	clock.Advance(2 * time.Hour)
	tracker.RecordRateLimit(accountA)
	assert.Equal(t, 50.0, tracker.Score(accountA))
}

func TestHealthTrackerConsecutiveFailures(t *testing.T) {
	t.Parallel()

	tracker := NewHealthTracker(DefaultHealthConfig(), newFakeClock())

	assert.Equal(t, 0, tracker.ConsecutiveFailures(accountA))

	tracker.RecordRateLimit(accountA)
	tracker.RecordFailure(accountA)
	assert.Equal(t, 2, tracker.ConsecutiveFailures(accountA))

	tracker.RecordSuccess(accountA)
	assert.Equal(t, 0, tracker.ConsecutiveFailures(accountA))
}

func TestHealthTrackerAccountsAreIndependent(t *testing.T) {
	t.Parallel()

	tracker := NewHealthTracker(DefaultHealthConfig(), newFakeClock())

	tracker.RecordFailure(accountA)

	assert.Equal(t, 50.0, tracker.Score(accountA))
	assert.Equal(t, 70.0, tracker.Score(accountB))
}

func TestHealthTrackerResetDropsState(t *testing.T) {
	t.Parallel()

	tracker := NewHealthTracker(DefaultHealthConfig(), newFakeClock())

	tracker.RecordFailure(accountA)
	require.Equal(t, 50.0, tracker.Score(accountA))

	tracker.Reset(accountA)
	assert.Equal(t, 70.0, tracker.Score(accountA))
	assert.Equal(t, 0, tracker.ConsecutiveFailures(accountA))
}

func TestHealthTrackerRekeyMovesState(t *testing.T) {
	t.Parallel()

	tracker := NewHealthTracker(DefaultHealthConfig(), newFakeClock())

	tracker.RecordFailure(accountA)
	require.Equal(t, 50.0, tracker.Score(accountA))

	tracker.Rekey(accountA, accountB)
	assert.Equal(t, 50.0, tracker.Score(accountB))
	assert.Equal(t, 1, tracker.ConsecutiveFailures(accountB))
	assert.Equal(t, 70.0, tracker.Score(accountA))

	// Rekeying an untracked account leaves the destination untouched.
	tracker.Rekey(accountA, accountB)
	assert.Equal(t, 50.0, tracker.Score(accountB))
}

func TestHealthTrackerSnapshotRestoreRoundTrip(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	tracker := NewHealthTracker(DefaultHealthConfig(), clock)

	tracker.RecordFailure(accountA)
	tracker.RecordSuccess(accountB)

	restored := NewHealthTracker(DefaultHealthConfig(), clock)
	restored.Restore(tracker.Snapshot())

	assert.Equal(t, tracker.Score(accountA), restored.Score(accountA))
	assert.Equal(t, tracker.Score(accountB), restored.Score(accountB))
	assert.Equal(t, 1, restored.ConsecutiveFailures(accountA))
}

func TestHealthTrackerRestoreClampsOutOfRangeScores(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	tracker := NewHealthTracker(DefaultHealthConfig(), clock)

	tracker.Restore(map[domain.AccountID]HealthState{
		accountA: {Score: 250, LastUpdated: clock.Now()},
		accountB: {Score: -40, LastUpdated: clock.Now()},
	})

	assert.Equal(t, 100.0, tracker.Score(accountA))
	assert.Equal(t, 0.0, tracker.Score(accountB))
}
