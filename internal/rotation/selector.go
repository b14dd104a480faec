package rotation

import (
	"os"
	"sort"
	"time"

	"github.com/bnema/rotator/internal/domain"
)

type Strategy string

const (
	StrategyRoundRobin Strategy = "round-robin"
	StrategySequential Strategy = "sequential"
	StrategyHybrid     Strategy = "hybrid"
)

func (s Strategy) Valid() bool {
	switch s {
	case StrategyRoundRobin, StrategySequential, StrategyHybrid:
		return true
	}
	return false
}

// FallbackPolicy governs hybrid selection when no candidate meets the
// health/token thresholds: soft picks the best degraded account anyway
// (liveness over strictness), strict returns nothing.
type FallbackPolicy string

const (
	FallbackSoft   FallbackPolicy = "soft"
	FallbackStrict FallbackPolicy = "strict"
)

// Candidate is the per-account view the hybrid strategy scores. Index is the
// position in storage at the time the view was built.
type Candidate struct {
	Index       int
	ID          domain.AccountID
	LastUsed    time.Time
	HealthScore float64
	Tokens      float64
	RateLimited bool
}

type Pick struct {
	Index     int
	Score     float64
	Breakdown ScoreBreakdown
}

// SelectHybrid filters and scores candidates. Rate-limited accounts are hard
// excluded. Of the rest, candidates with health at or above minHealth and at
// least one token form the ideal set; when that set is empty the soft policy
// scores the whole non-limited set instead so the pool never stalls merely
// because every account is under threshold. Ties go to the earliest
// candidate in input order.
func SelectHybrid(candidates []Candidate, minHealth, maxTokens float64, now time.Time, fallback FallbackPolicy) (Pick, bool) {
	available := make([]Candidate, 0, len(candidates))
	for _, candidate := range candidates {
		if candidate.RateLimited {
			continue
		}
		available = append(available, candidate)
	}
	if len(available) == 0 {
		return Pick{}, false
	}

	ideal := make([]Candidate, 0, len(available))
	for _, candidate := range available {
		if candidate.HealthScore >= minHealth && candidate.Tokens >= 1 {
			ideal = append(ideal, candidate)
		}
	}

	pool := ideal
	if len(pool) == 0 {
		if fallback == FallbackStrict {
			return Pick{}, false
		}
		pool = available
	}

	picks := make([]Pick, 0, len(pool))
	for _, candidate := range pool {
		score, breakdown := HybridScore(candidate.HealthScore, candidate.Tokens, maxTokens, candidate.LastUsed, now)
		picks = append(picks, Pick{Index: candidate.Index, Score: score, Breakdown: breakdown})
	}

	sort.SliceStable(picks, func(i, j int) bool {
		return picks[i].Score > picks[j].Score
	})

	return picks[0], true
}

type SelectorConfig struct {
	Strategy            Strategy
	Fallback            FallbackPolicy
	WorkerOffsetEnabled bool
	// WorkerID rotates hybrid candidates so concurrent workers spread across
	// distinct accounts without coordination. Negative means fall back to the
	// OS pid.
	WorkerID int
}

func DefaultSelectorConfig() SelectorConfig {
	return SelectorConfig{
		Strategy: StrategyHybrid,
		Fallback: FallbackSoft,
		WorkerID: -1,
	}
}

// Selector applies the configured rotation strategy over a storage value.
// Trackers are injected, never shared globals.
type Selector struct {
	cfg     SelectorConfig
	health  *HealthTracker
	buckets *BucketTracker
	pid     func() int
}

func NewSelector(cfg SelectorConfig, health *HealthTracker, buckets *BucketTracker) *Selector {
	if cfg.Strategy == "" {
		cfg.Strategy = StrategyHybrid
	}
	if cfg.Fallback == "" {
		cfg.Fallback = FallbackSoft
	}

	return &Selector{cfg: cfg, health: health, buckets: buckets, pid: os.Getpid}
}

// Selection carries the chosen account, its volatile index, and the updated
// storage the caller is expected to persist.
type Selection struct {
	Account   domain.Account
	Index     int
	Storage   domain.Storage
	Score     float64
	Breakdown ScoreBreakdown
}

// Select picks the next account, or reports false when no account is
// selectable: every account rate-limited, or the pool is empty.
func (s *Selector) Select(storage domain.Storage, now time.Time) (Selection, bool) {
	if len(storage.Accounts) == 0 {
		return Selection{}, false
	}

	switch s.cfg.Strategy {
	case StrategySequential:
		return s.selectScan(storage, now, min(storage.ActiveIndex, len(storage.Accounts)-1))
	case StrategyHybrid:
		return s.selectHybrid(storage, now)
	default:
		return s.selectScan(storage, now, (storage.ActiveIndex+1)%len(storage.Accounts))
	}
}

// selectScan walks forward from start, wrapping once, and takes the first
// account without an active rate-limit window. Round-robin and sequential
// differ only in their starting position.
func (s *Selector) selectScan(storage domain.Storage, now time.Time, start int) (Selection, bool) {
	count := len(storage.Accounts)
	if start < 0 {
		start = 0
	}
	for offset := 0; offset < count; offset++ {
		index := (start + offset) % count
		if storage.Accounts[index].IsRateLimited(now) {
			continue
		}
		storage = storage.Clone()
		storage.ActiveIndex = index
		return Selection{Account: storage.Accounts[index], Index: index, Storage: storage}, true
	}
	return Selection{}, false
}

func (s *Selector) selectHybrid(storage domain.Storage, now time.Time) (Selection, bool) {
	candidates := make([]Candidate, 0, len(storage.Accounts))
	for index, account := range storage.Accounts {
		id := account.Key()
		candidates = append(candidates, Candidate{
			Index:       index,
			ID:          id,
			LastUsed:    account.LastUsed,
			HealthScore: s.health.Score(id),
			Tokens:      s.buckets.Tokens(id),
			RateLimited: account.IsRateLimited(now),
		})
	}

	if offset := s.workerOffset(len(candidates)); offset > 0 {
		rotated := make([]Candidate, 0, len(candidates))
		rotated = append(rotated, candidates[offset:]...)
		rotated = append(rotated, candidates[:offset]...)
		candidates = rotated
	}

	pick, ok := SelectHybrid(candidates, s.health.Config().MinUsable, s.buckets.Config().MaxTokens, now, s.cfg.Fallback)
	if !ok {
		return Selection{}, false
	}

	account := storage.Accounts[pick.Index]
	// The winner normally passed the token check; a soft-fallback winner may
	// sit at zero, in which case the consume is a tolerated no-op.
	s.buckets.Consume(account.Key(), 1)

	storage = storage.Clone()
	storage.ActiveIndex = pick.Index
	return Selection{
		Account:   account,
		Index:     pick.Index,
		Storage:   storage,
		Score:     pick.Score,
		Breakdown: pick.Breakdown,
	}, true
}

func (s *Selector) workerOffset(count int) int {
	if !s.cfg.WorkerOffsetEnabled || count == 0 {
		return 0
	}
	worker := s.cfg.WorkerID
	if worker < 0 {
		worker = s.pid()
	}
	if worker < 0 {
		return 0
	}
	return worker % count
}
