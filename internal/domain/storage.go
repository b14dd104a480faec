package domain

import (
	"time"
)

const CurrentStorageVersion = 1

// Storage is the single source of truth for identity, credentials, and
// rate-limit windows. Account order is selection order; ActiveIndex is
// advisory across processes and only trusted immediately after load/save.
type Storage struct {
	Version     int
	Accounts    []Account
	ActiveIndex int
}

func NewStorage() Storage {
	return Storage{Version: CurrentStorageVersion}
}

func (s Storage) Clone() Storage {
	accounts := make([]Account, len(s.Accounts))
	copy(accounts, s.Accounts)
	s.Accounts = accounts
	return s
}

// ClampActiveIndex restores the invariant ActiveIndex ∈ [0, len-1], or 0 for
// an empty account list.
func (s Storage) ClampActiveIndex() Storage {
	if len(s.Accounts) == 0 {
		s.ActiveIndex = 0
		return s
	}
	if s.ActiveIndex < 0 || s.ActiveIndex >= len(s.Accounts) {
		s.ActiveIndex = 0
	}
	return s
}

// AccountPatch carries partial field updates; nil fields are left untouched.
type AccountPatch struct {
	RefreshToken     *string
	AccessToken      *string
	ExpiresAt        *time.Time
	ResourceURL      *string
	LastUsed         *time.Time
	RateLimitResetAt *time.Time
}

// UpsertAccount inserts the account or, when the refresh token already
// exists, overwrites that entry in place.
func UpsertAccount(s Storage, account Account, now time.Time) Storage {
	s = s.Clone()
	if account.AddedAt.IsZero() {
		account.AddedAt = now
	}
	for i := range s.Accounts {
		if s.Accounts[i].Key() == account.Key() {
			account.AddedAt = s.Accounts[i].AddedAt
			s.Accounts[i] = account
			return s.ClampActiveIndex()
		}
	}
	s.Accounts = append(s.Accounts, account)
	return s.ClampActiveIndex()
}

func UpdateAccount(s Storage, index int, patch AccountPatch) (Storage, error) {
	if index < 0 || index >= len(s.Accounts) {
		return s, ErrAccountNotFound
	}
	s = s.Clone()
	account := s.Accounts[index]
	if patch.RefreshToken != nil {
		account.RefreshToken = *patch.RefreshToken
	}
	if patch.AccessToken != nil {
		account.AccessToken = *patch.AccessToken
	}
	if patch.ExpiresAt != nil {
		account.ExpiresAt = *patch.ExpiresAt
	}
	if patch.ResourceURL != nil {
		account.ResourceURL = *patch.ResourceURL
	}
	if patch.LastUsed != nil {
		account.LastUsed = *patch.LastUsed
	}
	if patch.RateLimitResetAt != nil {
		account.RateLimitResetAt = *patch.RateLimitResetAt
	}
	s.Accounts[index] = account
	return s, nil
}

func RemoveAccount(s Storage, index int) (Storage, error) {
	if index < 0 || index >= len(s.Accounts) {
		return s, ErrAccountNotFound
	}
	s = s.Clone()
	s.Accounts = append(s.Accounts[:index], s.Accounts[index+1:]...)
	return s.ClampActiveIndex(), nil
}

func MarkRateLimited(s Storage, index int, until time.Time) (Storage, error) {
	return UpdateAccount(s, index, AccountPatch{RateLimitResetAt: &until})
}

func RecordSuccess(s Storage, index int, now time.Time) (Storage, error) {
	var cleared time.Time
	return UpdateAccount(s, index, AccountPatch{LastUsed: &now, RateLimitResetAt: &cleared})
}

func RecordFailure(s Storage, index int, now time.Time) (Storage, error) {
	return UpdateAccount(s, index, AccountPatch{LastUsed: &now})
}

// MinRateLimitWait returns the shortest positive wait until any account's
// rate-limit window expires. ok is false when no account is limited.
func MinRateLimitWait(s Storage, now time.Time) (wait time.Duration, ok bool) {
	for _, account := range s.Accounts {
		if !account.RateLimitResetAt.After(now) {
			continue
		}
		remaining := account.RateLimitResetAt.Sub(now)
		if !ok || remaining < wait {
			wait = remaining
			ok = true
		}
	}
	return wait, ok
}

// MergeStorage reconciles an in-memory update with the current on-disk state.
// Entries are keyed by refresh token; when a key exists on both sides the
// entry with the newer LastUsed wins and zero-valued fields are backfilled
// from the other side. Accounts only the update knows about are appended, so
// concurrent writers adding distinct accounts never clobber each other.
func MergeStorage(current, update Storage) Storage {
	merged := Storage{Version: CurrentStorageVersion, ActiveIndex: update.ActiveIndex}

	fromUpdate := make(map[AccountID]Account, len(update.Accounts))
	for _, account := range update.Accounts {
		fromUpdate[account.Key()] = account
	}

	seen := make(map[AccountID]struct{}, len(current.Accounts))
	for _, existing := range current.Accounts {
		key := existing.Key()
		seen[key] = struct{}{}
		updated, ok := fromUpdate[key]
		if !ok {
			merged.Accounts = append(merged.Accounts, existing)
			continue
		}
		merged.Accounts = append(merged.Accounts, mergeAccount(existing, updated))
	}

	for _, account := range update.Accounts {
		if _, ok := seen[account.Key()]; ok {
			continue
		}
		merged.Accounts = append(merged.Accounts, account)
	}

	return merged.ClampActiveIndex()
}

func mergeAccount(existing, updated Account) Account {
	winner, loser := updated, existing
	if existing.LastUsed.After(updated.LastUsed) {
		winner, loser = existing, updated
	}

	if winner.AccessToken == "" {
		winner.AccessToken = loser.AccessToken
	}
	if winner.ExpiresAt.IsZero() {
		winner.ExpiresAt = loser.ExpiresAt
	}
	if winner.ResourceURL == "" {
		winner.ResourceURL = loser.ResourceURL
	}
	if winner.AddedAt.IsZero() || (!loser.AddedAt.IsZero() && loser.AddedAt.Before(winner.AddedAt)) {
		winner.AddedAt = loser.AddedAt
	}
	// RateLimitResetAt is never backfilled: the newer side is authoritative,
	// otherwise a success that cleared the window would resurrect it on save.
	return winner
}
