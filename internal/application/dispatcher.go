package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bnema/rotator/internal/domain"
	"github.com/bnema/rotator/internal/ports"
	"github.com/bnema/rotator/internal/rotation"
)

type DispatcherConfig struct {
	// MaxRateLimitWait is the ceiling on sleeping for a pool-wide rate limit;
	// a soonest unlock further out fails fast instead.
	MaxRateLimitWait time.Duration
	// RefreshWindow triggers a proactive token refresh when the access token
	// expires within it.
	RefreshWindow time.Duration
	// InvalidGrantCooldown parks an account whose refresh grant was rejected.
	// The credential may be re-authed externally, so it is cooled down rather
	// than removed.
	InvalidGrantCooldown time.Duration
}

func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		MaxRateLimitWait:     5 * time.Minute,
		RefreshWindow:        5 * time.Minute,
		InvalidGrantCooldown: 5 * time.Minute,
	}
}

type DispatcherDeps struct {
	Store     ports.AccountStore
	States    TrackerStateStore
	Health    *rotation.HealthTracker
	Buckets   *rotation.BucketTracker
	Selector  *rotation.Selector
	Refresher ports.TokenRefresher
	Upstream  ports.UpstreamClient
	Clock     ports.Clock
	Sleeper   ports.Sleeper
	Logger    *slog.Logger
}

// Dispatcher drives one request through the account pool: select an account,
// refresh its token when needed, send, classify the outcome, and either
// return or rotate with backoff. It is bounded per round by pool size and in
// wall-clock time by MaxRateLimitWait.
type Dispatcher struct {
	cfg       DispatcherConfig
	store     ports.AccountStore
	states    TrackerStateStore
	health    *rotation.HealthTracker
	buckets   *rotation.BucketTracker
	selector  *rotation.Selector
	refresher ports.TokenRefresher
	upstream  ports.UpstreamClient
	clock     ports.Clock
	sleeper   ports.Sleeper
	logger    *slog.Logger
}

func NewDispatcher(cfg DispatcherConfig, deps DispatcherDeps) *Dispatcher {
	if deps.Clock == nil {
		deps.Clock = ports.SystemClock{}
	}
	if deps.Sleeper == nil {
		deps.Sleeper = ports.SystemSleeper{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	return &Dispatcher{
		cfg:       cfg,
		store:     deps.Store,
		states:    deps.States,
		health:    deps.Health,
		buckets:   deps.Buckets,
		selector:  deps.Selector,
		refresher: deps.Refresher,
		upstream:  deps.Upstream,
		clock:     deps.Clock,
		sleeper:   deps.Sleeper,
		logger:    deps.Logger,
	}
}

// Do runs the dispatch loop for a single request. It returns the upstream
// response on success or when the response is not retryable (including a
// final rate-limit response after the pool is exhausted with no future
// unlock). The only error cases are the two terminal pool conditions,
// transport failures that survived a full round, and context cancellation.
func (d *Dispatcher) Do(ctx context.Context, req domain.UpstreamRequest) (domain.UpstreamResponse, error) {
	storage, err := d.store.Load(ctx)
	if err != nil {
		return domain.UpstreamResponse{}, fmt.Errorf("load account storage: %w", err)
	}

	attempts := 0
	var lastErr error

	for {
		if err := ctx.Err(); err != nil {
			return domain.UpstreamResponse{}, err
		}

		now := d.clock.Now()
		selection, ok := d.selector.Select(storage, now)
		if !ok {
			wait, limited := domain.MinRateLimitWait(storage, now)
			if !limited {
				return domain.UpstreamResponse{}, domain.ErrNoAccountsAvailable
			}
			if wait > d.cfg.MaxRateLimitWait {
				return domain.UpstreamResponse{}, fmt.Errorf("%w: next unlock in %s", domain.ErrAllAccountsRateLimited, wait.Round(time.Second))
			}
			d.logger.Info("pool rate limited, waiting for soonest unlock", "wait", wait)
			if err := d.sleeper.Sleep(ctx, wait); err != nil {
				return domain.UpstreamResponse{}, err
			}
			continue
		}

		storage = selection.Storage
		account := selection.Account
		id := account.Key()

		if account.NeedsRefresh(now, d.cfg.RefreshWindow) {
			refreshed, refreshErr := d.refreshAccount(ctx, &storage, selection.Index)
			if refreshErr != nil {
				lastErr = refreshErr
				attempts++
				if exhausted, err := d.endOfRound(ctx, &storage, &attempts); exhausted {
					if err != nil {
						return domain.UpstreamResponse{}, err
					}
					return domain.UpstreamResponse{}, fmt.Errorf("refresh account token: %w", lastErr)
				}
				continue
			}
			account = refreshed
			// Refresh may rotate the refresh token and with it the key
			// tracker updates below are recorded under.
			id = account.Key()
		}

		resp, sendErr := d.upstream.Send(ctx, account.AccessToken, req)
		if sendErr != nil {
			if ctx.Err() != nil {
				return domain.UpstreamResponse{}, sendErr
			}
			d.logger.Warn("upstream transport failure", "account", id, "error", sendErr)
			d.health.RecordFailure(id)
			d.persist(ctx, storage)
			lastErr = sendErr
			attempts++
			if exhausted, err := d.endOfRound(ctx, &storage, &attempts); exhausted {
				if err != nil {
					return domain.UpstreamResponse{}, err
				}
				return domain.UpstreamResponse{}, fmt.Errorf("send upstream request: %w", lastErr)
			}
			continue
		}

		if resp.IsSuccess() {
			d.health.RecordSuccess(id)
			now = d.clock.Now()
			if updated, err := domain.RecordSuccess(storage, selection.Index, now); err == nil {
				storage = updated
			}
			d.persist(ctx, storage)
			return resp, nil
		}

		if !resp.IsRetryable() {
			// Client errors other than 429 are the caller's problem, not a
			// pool health signal.
			return resp, nil
		}

		reason := domain.ClassifyRetry(resp)
		switch reason {
		case domain.ReasonRateLimit, domain.ReasonQuotaExhausted:
			d.health.RecordRateLimit(id)
		default:
			d.health.RecordFailure(id)
		}

		attemptIndex := d.health.ConsecutiveFailures(id) - 1
		backoff := domain.BackoffFor(reason, attemptIndex, domain.RetryAfter(resp.Header, d.clock.Now()))
		until := d.clock.Now().Add(backoff)
		if updated, err := domain.MarkRateLimited(storage, selection.Index, until); err == nil {
			storage = updated
		}
		if updated, err := domain.RecordFailure(storage, selection.Index, d.clock.Now()); err == nil {
			storage = updated
		}
		d.persist(ctx, storage)

		d.logger.Info("upstream retry scheduled",
			"account", id,
			"status", resp.Status,
			"reason", string(reason),
			"backoff", backoff,
		)

		attempts++
		if exhausted, err := d.endOfRound(ctx, &storage, &attempts); exhausted {
			if err != nil {
				return domain.UpstreamResponse{}, err
			}
			// No future unlock: the last response is final.
			return resp, nil
		}
	}
}

// refreshAccount refreshes the selected account's credentials and persists
// them. Invalid grants cool the account down; other failures leave its
// rate-limit window untouched so the next round can retry it.
func (d *Dispatcher) refreshAccount(ctx context.Context, storage *domain.Storage, index int) (domain.Account, error) {
	account := storage.Accounts[index]
	id := account.Key()

	credentials, err := d.refresher.Refresh(ctx, account.RefreshToken)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidGrant) {
			until := d.clock.Now().Add(d.cfg.InvalidGrantCooldown)
			if updated, markErr := domain.MarkRateLimited(*storage, index, until); markErr == nil {
				*storage = updated
			}
			d.health.RecordFailure(id)
			d.persist(ctx, *storage)
			d.logger.Warn("refresh grant rejected, cooling account down", "account", id, "until", until)
		}
		return domain.Account{}, err
	}

	patch := domain.AccountPatch{
		AccessToken: &credentials.AccessToken,
		ExpiresAt:   &credentials.ExpiresAt,
	}
	if credentials.RefreshToken != "" && credentials.RefreshToken != account.RefreshToken {
		patch.RefreshToken = &credentials.RefreshToken
	}
	if credentials.ResourceURL != "" {
		patch.ResourceURL = &credentials.ResourceURL
	}

	updated, err := domain.UpdateAccount(*storage, index, patch)
	if err != nil {
		return domain.Account{}, err
	}
	*storage = updated

	if patch.RefreshToken != nil {
		// The refresh token is the account's identity: carry tracker state to
		// the new key, and replace the file wholesale. A merge keyed by
		// refresh token would keep the stale entry on disk and append the
		// rotated one as a duplicate.
		newID := updated.Accounts[index].Key()
		d.health.Rekey(id, newID)
		d.buckets.Rekey(id, newID)
		d.persistReplace(ctx, *storage)
	} else {
		d.persist(ctx, *storage)
	}

	return updated.Accounts[index], nil
}

// endOfRound handles attempt exhaustion: once every account has been tried
// this round, sleep until the soonest unlock and start a fresh round, or
// report exhaustion when no unlock exists or it is too far out.
func (d *Dispatcher) endOfRound(ctx context.Context, storage *domain.Storage, attempts *int) (bool, error) {
	poolSize := len(storage.Accounts)
	if poolSize == 0 {
		return true, domain.ErrNoAccountsAvailable
	}
	if *attempts < poolSize {
		return false, nil
	}

	now := d.clock.Now()
	wait, limited := domain.MinRateLimitWait(*storage, now)
	if !limited {
		return true, nil
	}
	if wait > d.cfg.MaxRateLimitWait {
		return true, fmt.Errorf("%w: next unlock in %s", domain.ErrAllAccountsRateLimited, wait.Round(time.Second))
	}

	d.logger.Info("round exhausted, waiting for soonest unlock", "wait", wait)
	if err := d.sleeper.Sleep(ctx, wait); err != nil {
		return true, err
	}
	*attempts = 0
	return false, nil
}

// persist writes storage and tracker snapshots. Persistence failures are
// logged, not fatal: the loop keeps its in-memory state and trades
// durability for availability under lock contention.
func (d *Dispatcher) persist(ctx context.Context, storage domain.Storage) {
	d.persistWith(ctx, storage, d.store.Save)
}

// persistReplace bypasses merge-on-save for writes merge cannot express,
// such as a refresh-token rotation that changes an account's key.
func (d *Dispatcher) persistReplace(ctx context.Context, storage domain.Storage) {
	d.persistWith(ctx, storage, d.store.Replace)
}

func (d *Dispatcher) persistWith(ctx context.Context, storage domain.Storage, write func(context.Context, domain.Storage) error) {
	if err := write(ctx, storage); err != nil {
		d.logger.Warn("persist account storage", "error", err)
	}
	if d.states == nil {
		return
	}
	snapshot := rotation.Snapshot{Health: d.health.Snapshot(), Buckets: d.buckets.Snapshot()}
	if err := d.states.SaveSnapshot(ctx, snapshot); err != nil {
		d.logger.Warn("persist tracker state", "error", err)
	}
}
