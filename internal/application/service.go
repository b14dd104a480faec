package application

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bnema/rotator/internal/domain"
	"github.com/bnema/rotator/internal/ports"
	"github.com/bnema/rotator/internal/rotation"
)

// TrackerStateStore persists health and token-bucket snapshots across
// restarts. Persistence is best-effort: a missing file yields empty
// snapshots.
type TrackerStateStore interface {
	LoadSnapshot(ctx context.Context) (rotation.Snapshot, error)
	SaveSnapshot(ctx context.Context, snapshot rotation.Snapshot) error
}

// Service covers pool management: adding and removing accounts, restoring
// tracker state at startup, and building the joined status view.
type Service struct {
	store   ports.AccountStore
	states  TrackerStateStore
	health  *rotation.HealthTracker
	buckets *rotation.BucketTracker
	clock   ports.Clock
}

func NewService(store ports.AccountStore, states TrackerStateStore, health *rotation.HealthTracker, buckets *rotation.BucketTracker, clock ports.Clock) *Service {
	if clock == nil {
		clock = ports.SystemClock{}
	}

	return &Service{
		store:   store,
		states:  states,
		health:  health,
		buckets: buckets,
		clock:   clock,
	}
}

// RestoreTrackers loads persisted tracker snapshots into the injected
// trackers. A missing snapshot file is a fresh start, not an error.
func (s *Service) RestoreTrackers(ctx context.Context) error {
	if s.states == nil {
		return nil
	}

	snapshot, err := s.states.LoadSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("load tracker snapshot: %w", err)
	}
	s.health.Restore(snapshot.Health)
	s.buckets.Restore(snapshot.Buckets)
	return nil
}

func (s *Service) AddAccount(ctx context.Context, refreshToken string) (domain.Account, error) {
	account := domain.Account{RefreshToken: strings.TrimSpace(refreshToken)}
	if err := account.Validate(); err != nil {
		return domain.Account{}, err
	}

	storage, err := s.store.Load(ctx)
	if err != nil {
		return domain.Account{}, fmt.Errorf("load account storage: %w", err)
	}

	storage = domain.UpsertAccount(storage, account, s.clock.Now())
	if err := s.store.Save(ctx, storage); err != nil {
		return domain.Account{}, fmt.Errorf("save account storage: %w", err)
	}

	return account, nil
}

// RemoveAccount deletes the account and drops its tracker state so a later
// account at the same position cannot inherit stale scores.
func (s *Service) RemoveAccount(ctx context.Context, refreshToken string) error {
	storage, err := s.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load account storage: %w", err)
	}

	key := domain.Account{RefreshToken: strings.TrimSpace(refreshToken)}.Key()
	index := -1
	for i, account := range storage.Accounts {
		if account.Key() == key {
			index = i
			break
		}
	}
	if index < 0 {
		return domain.ErrAccountNotFound
	}

	storage, err = domain.RemoveAccount(storage, index)
	if err != nil {
		return err
	}

	s.health.Reset(key)
	s.buckets.Reset(key)

	// Merge-on-save would resurrect the removed entry from disk, so removal
	// replaces the file wholesale.
	if err := s.store.Replace(ctx, storage); err != nil {
		return fmt.Errorf("replace account storage: %w", err)
	}

	if s.states != nil {
		snapshot := rotation.Snapshot{Health: s.health.Snapshot(), Buckets: s.buckets.Snapshot()}
		if err := s.states.SaveSnapshot(ctx, snapshot); err != nil {
			return fmt.Errorf("save tracker snapshot: %w", err)
		}
	}

	return nil
}

// Status is the joined per-account view of storage and tracker state used by
// the CLI renderer.
type Status struct {
	ID                  domain.AccountID
	Index               int
	Active              bool
	AddedAt             time.Time
	LastUsed            time.Time
	HealthScore         float64
	MaxHealthScore      float64
	Usable              bool
	Tokens              float64
	MaxTokens           float64
	RateLimitedFor      time.Duration
	ConsecutiveFailures int
	HasAccessToken      bool
	TokenExpiresIn      time.Duration
}

func (s *Service) Statuses(ctx context.Context) ([]Status, error) {
	storage, err := s.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load account storage: %w", err)
	}

	now := s.clock.Now()
	statuses := make([]Status, 0, len(storage.Accounts))
	for index, account := range storage.Accounts {
		id := account.Key()
		status := Status{
			ID:                  id,
			Index:               index,
			Active:              index == storage.ActiveIndex,
			AddedAt:             account.AddedAt,
			LastUsed:            account.LastUsed,
			HealthScore:         s.health.Score(id),
			MaxHealthScore:      s.health.Config().MaxScore,
			Usable:              s.health.Usable(id),
			Tokens:              s.buckets.Tokens(id),
			MaxTokens:           s.buckets.Config().MaxTokens,
			ConsecutiveFailures: s.health.ConsecutiveFailures(id),
			HasAccessToken:      account.AccessToken != "",
		}
		if account.IsRateLimited(now) {
			status.RateLimitedFor = account.RateLimitResetAt.Sub(now)
		}
		if status.HasAccessToken && !account.ExpiresAt.IsZero() && account.ExpiresAt.After(now) {
			status.TokenExpiresIn = account.ExpiresAt.Sub(now)
		}
		statuses = append(statuses, status)
	}

	return statuses, nil
}
