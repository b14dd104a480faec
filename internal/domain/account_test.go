package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccountKeyIsStableAndTrimmed(t *testing.T) {
	t.Parallel()

	a := Account{RefreshToken: "refresh-token-1"}
	b := Account{RefreshToken: "  refresh-token-1  "}
	c := Account{RefreshToken: "refresh-token-2"}

	assert.Equal(t, a.Key(), b.Key())
	assert.NotEqual(t, a.Key(), c.Key())
	assert.Len(t, string(a.Key()), 40)
}

func TestAccountKeyIgnoresMutableFields(t *testing.T) {
	t.Parallel()

	a := Account{RefreshToken: "refresh-token-1"}
	b := a
	b.AccessToken = "access"
	b.LastUsed = time.Now()

	assert.Equal(t, a.Key(), b.Key())
}

func TestAccountIsRateLimited(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	assert.False(t, Account{}.IsRateLimited(now))
	assert.False(t, Account{RateLimitResetAt: now}.IsRateLimited(now))
	assert.False(t, Account{RateLimitResetAt: now.Add(-time.Second)}.IsRateLimited(now))
	assert.True(t, Account{RateLimitResetAt: now.Add(time.Second)}.IsRateLimited(now))
}

func TestAccountNeedsRefresh(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	window := 5 * time.Minute

	tests := []struct {
		name    string
		account Account
		want    bool
	}{
		{name: "missing access token", account: Account{}, want: true},
		{name: "blank access token", account: Account{AccessToken: "  "}, want: true},
		{name: "no expiry recorded", account: Account{AccessToken: "tok"}, want: false},
		{name: "expires outside window", account: Account{AccessToken: "tok", ExpiresAt: now.Add(time.Hour)}, want: false},
		{name: "expires inside window", account: Account{AccessToken: "tok", ExpiresAt: now.Add(2 * time.Minute)}, want: true},
		{name: "expires exactly at window edge", account: Account{AccessToken: "tok", ExpiresAt: now.Add(window)}, want: true},
		{name: "already expired", account: Account{AccessToken: "tok", ExpiresAt: now.Add(-time.Minute)}, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.account.NeedsRefresh(now, window))
		})
	}
}

func TestAccountValidate(t *testing.T) {
	t.Parallel()

	require.NoError(t, Account{RefreshToken: "refresh-token-1"}.Validate())

	assert.ErrorIs(t, Account{}.Validate(), ErrRefreshTokenRequired)
	assert.ErrorIs(t, Account{RefreshToken: "   "}.Validate(), ErrRefreshTokenRequired)
}
