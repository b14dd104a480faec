package rotation

import (
	"time"

	"github.com/bnema/rotator/internal/domain"
	"github.com/bnema/rotator/internal/ports"
)

type BucketConfig struct {
	MaxTokens             float64
	RegenerationPerMinute float64
	InitialTokens         float64
}

func DefaultBucketConfig() BucketConfig {
	return BucketConfig{
		MaxTokens:             50,
		RegenerationPerMinute: 6,
		InitialTokens:         50,
	}
}

type BucketState struct {
	Tokens      float64
	LastUpdated time.Time
}

// BucketTracker is a client-side token bucket per account, regenerated
// lazily on read. Like the health tracker it is process-local, I/O-free,
// and persisted via Snapshot/Restore.
type BucketTracker struct {
	cfg    BucketConfig
	clock  ports.Clock
	states map[domain.AccountID]BucketState
}

func NewBucketTracker(cfg BucketConfig, clock ports.Clock) *BucketTracker {
	if clock == nil {
		clock = ports.SystemClock{}
	}

	return &BucketTracker{
		cfg:    cfg,
		clock:  clock,
		states: map[domain.AccountID]BucketState{},
	}
}

func (t *BucketTracker) Config() BucketConfig {
	return t.cfg
}

func (t *BucketTracker) Tokens(id domain.AccountID) float64 {
	state, ok := t.states[id]
	if !ok {
		return t.clamp(t.cfg.InitialTokens)
	}
	return t.regenerated(state)
}

func (t *BucketTracker) Has(id domain.AccountID, cost float64) bool {
	return t.Tokens(id) >= cost
}

// Consume deducts cost when the balance covers it and reports whether the
// deduction happened. No partial consumption.
func (t *BucketTracker) Consume(id domain.AccountID, cost float64) bool {
	current := t.Tokens(id)
	if current < cost {
		return false
	}
	t.states[id] = BucketState{Tokens: current - cost, LastUpdated: t.clock.Now()}
	return true
}

func (t *BucketTracker) Refund(id domain.AccountID, amount float64) {
	current := t.Tokens(id)
	t.states[id] = BucketState{Tokens: t.clamp(current + amount), LastUpdated: t.clock.Now()}
}

func (t *BucketTracker) Reset(id domain.AccountID) {
	delete(t.states, id)
}

// Rekey moves an account's bucket to a new identity after a refresh-token
// rotation changes the ID it is keyed under.
func (t *BucketTracker) Rekey(oldID, newID domain.AccountID) {
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

func (t *BucketTracker) Snapshot() map[domain.AccountID]BucketState {
	snapshot := make(map[domain.AccountID]BucketState, len(t.states))
	for id, state := range t.states {
		snapshot[id] = state
	}
	return snapshot
}

func (t *BucketTracker) Restore(snapshot map[domain.AccountID]BucketState) {
	t.states = make(map[domain.AccountID]BucketState, len(snapshot))
	for id, state := range snapshot {
		state.Tokens = t.clamp(state.Tokens)
		t.states[id] = state
	}
}

func (t *BucketTracker) regenerated(state BucketState) float64 {
	if state.LastUpdated.IsZero() {
		return t.clamp(state.Tokens)
	}
	elapsed := t.clock.Now().Sub(state.LastUpdated)
	if elapsed <= 0 {
		return t.clamp(state.Tokens)
	}
	regen := elapsed.Minutes() * t.cfg.RegenerationPerMinute
	return t.clamp(state.Tokens + regen)
}

func (t *BucketTracker) clamp(tokens float64) float64 {
	if tokens < 0 {
		return 0
	}
	if tokens > t.cfg.MaxTokens {
		return t.cfg.MaxTokens
	}
	return tokens
}

// Snapshot bundles both trackers' exported state for persistence.
type Snapshot struct {
	Health  map[domain.AccountID]HealthState
	Buckets map[domain.AccountID]BucketState
}
