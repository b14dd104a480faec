package domain

import (
	"crypto/sha1"
	"encoding/hex"
	"strings"
	"time"
)

// AccountID is the stable identity of an account, derived from its refresh
// token. Positional indexes into Storage.Accounts are volatile handles valid
// only within a single selection call and are never persisted as identity.
type AccountID string

type Account struct {
	RefreshToken     string
	AccessToken      string
	ExpiresAt        time.Time
	ResourceURL      string
	AddedAt          time.Time
	LastUsed         time.Time
	RateLimitResetAt time.Time
}

func (a Account) Key() AccountID {
	hash := sha1.Sum([]byte(strings.TrimSpace(a.RefreshToken)))
	return AccountID(hex.EncodeToString(hash[:]))
}

func (a Account) IsRateLimited(now time.Time) bool {
	return a.RateLimitResetAt.After(now)
}

// NeedsRefresh reports whether the access token is missing or expires within
// the proactive-refresh window.
func (a Account) NeedsRefresh(now time.Time, window time.Duration) bool {
	if strings.TrimSpace(a.AccessToken) == "" {
		return true
	}
	if a.ExpiresAt.IsZero() {
		return false
	}
	return !now.Add(window).Before(a.ExpiresAt)
}

func (a Account) Validate() error {
	if strings.TrimSpace(a.RefreshToken) == "" {
		return ErrRefreshTokenRequired
	}
	return nil
}

// Credentials is the result of a successful token refresh.
type Credentials struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	ResourceURL  string
}
