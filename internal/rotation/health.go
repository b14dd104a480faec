package rotation

import (
	"math"
	"time"

	"github.com/bnema/rotator/internal/domain"
	"github.com/bnema/rotator/internal/ports"
)

type HealthConfig struct {
	Initial             float64
	MaxScore            float64
	SuccessReward       float64
	RateLimitPenalty    float64
	FailurePenalty      float64
	RecoveryRatePerHour float64
	MinUsable           float64
}

func DefaultHealthConfig() HealthConfig {
	return HealthConfig{
		Initial:             70,
		MaxScore:            100,
		SuccessReward:       1,
		RateLimitPenalty:    -10,
		FailurePenalty:      -20,
		RecoveryRatePerHour: 5,
		MinUsable:           50,
	}
}

type HealthState struct {
	Score               float64
	LastUpdated         time.Time
	LastSuccess         time.Time
	ConsecutiveFailures int
}

// HealthTracker maintains a wellness score per account. Scores recover
// lazily from elapsed wall-clock time on read, so the value is consistent
// regardless of call frequency. The tracker is process-local and does no
// I/O; persistence goes through Snapshot/Restore.
type HealthTracker struct {
	cfg    HealthConfig
	clock  ports.Clock
	states map[domain.AccountID]HealthState
}

func NewHealthTracker(cfg HealthConfig, clock ports.Clock) *HealthTracker {
	if clock == nil {
		clock = ports.SystemClock{}
	}

	return &HealthTracker{
		cfg:    cfg,
		clock:  clock,
		states: map[domain.AccountID]HealthState{},
	}
}

func (t *HealthTracker) Config() HealthConfig {
	return t.cfg
}

// Score returns the current recovered score, clamped to [0, MaxScore].
// Untracked accounts start at the configured initial score.
func (t *HealthTracker) Score(id domain.AccountID) float64 {
	state, ok := t.states[id]
	if !ok {
		return t.clamp(t.cfg.Initial)
	}
	return t.recovered(state)
}

func (t *HealthTracker) RecordSuccess(id domain.AccountID) {
	now := t.clock.Now()
	state := t.stateFor(id)
	state.Score = t.clamp(t.recovered(state) + t.cfg.SuccessReward)
	state.ConsecutiveFailures = 0
	state.LastUpdated = now
	state.LastSuccess = now
	t.states[id] = state
}

func (t *HealthTracker) RecordRateLimit(id domain.AccountID) {
	t.penalize(id, t.cfg.RateLimitPenalty)
}

// RecordFailure applies the hard-failure penalty; auth and network failures
// weigh twice a rate limit.
func (t *HealthTracker) RecordFailure(id domain.AccountID) {
	t.penalize(id, t.cfg.FailurePenalty)
}

func (t *HealthTracker) penalize(id domain.AccountID, penalty float64) {
	state := t.stateFor(id)
	state.Score = t.clamp(t.recovered(state) + penalty)
	state.ConsecutiveFailures++
	state.LastUpdated = t.clock.Now()
	t.states[id] = state
}

// ConsecutiveFailures returns how many failures the account has accumulated
// since its last success; the dispatcher indexes backoff tiers with it.
func (t *HealthTracker) ConsecutiveFailures(id domain.AccountID) int {
	return t.states[id].ConsecutiveFailures
}

func (t *HealthTracker) Usable(id domain.AccountID) bool {
	return t.Score(id) >= t.cfg.MinUsable
}

// Reset drops all state for the account, used when it is removed or its
// credentials are replaced.
func (t *HealthTracker) Reset(id domain.AccountID) {
	delete(t.states, id)
}

// Rekey moves an account's state to a new identity. A token refresh may
// rotate the refresh token the ID derives from; the account is the same, so
// its score follows it.
func (t *HealthTracker) Rekey(oldID, newID domain.AccountID) {
	if oldID == newID {
		return
	}
	state, ok := t.states[oldID]
	if !ok {
		return
	}
	delete(t.states, oldID)
	t.states[newID] = state
}

func (t *HealthTracker) Snapshot() map[domain.AccountID]HealthState {
	snapshot := make(map[domain.AccountID]HealthState, len(t.states))
	for id, state := range t.states {
		snapshot[id] = state
	}
	return snapshot
}

func (t *HealthTracker) Restore(snapshot map[domain.AccountID]HealthState) {
	t.states = make(map[domain.AccountID]HealthState, len(snapshot))
	for id, state := range snapshot {
		state.Score = t.clamp(state.Score)
		t.states[id] = state
	}
}

func (t *HealthTracker) stateFor(id domain.AccountID) HealthState {
	if state, ok := t.states[id]; ok {
		return state
	}
	return HealthState{Score: t.clamp(t.cfg.Initial), LastUpdated: t.clock.Now()}
}

func (t *HealthTracker) recovered(state HealthState) float64 {
	if state.LastUpdated.IsZero() {
		return t.clamp(state.Score)
	}
	elapsed := t.clock.Now().Sub(state.LastUpdated)
	if elapsed <= 0 {
		return t.clamp(state.Score)
	}
	recovery := math.Floor(elapsed.Hours() * t.cfg.RecoveryRatePerHour)
	return t.clamp(state.Score + recovery)
}

func (t *HealthTracker) clamp(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > t.cfg.MaxScore {
		return t.cfg.MaxScore
	}
	return score
}
