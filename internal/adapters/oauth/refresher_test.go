package oauth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/rotator/internal/domain"
)

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time {
	return c.now
}

func newRefresher(serverURL string) RefresherAdapter {
	return RefresherAdapter{
		API:      API{BaseURL: serverURL, TokenPath: "/oauth/token"},
		ClientID: "client-123",
		Clock:    fixedClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
	}
}

func TestRefresherExchangesRefreshToken(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/oauth/token", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		assert.Equal(t, "client-123", r.PostForm.Get("client_id"))
		assert.Equal(t, "refresh-1", r.PostForm.Get("refresh_token"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"access_token": "access-1",
			"refresh_token": "refresh-2",
			"expires_in": 3600,
			"resource_url": "https://api.example.com"
		}`))
	}))
	defer server.Close()

	adapter := newRefresher(server.URL)
	credentials, err := adapter.Refresh(context.Background(), "refresh-1")
	require.NoError(t, err)

	assert.Equal(t, "access-1", credentials.AccessToken)
	assert.Equal(t, "refresh-2", credentials.RefreshToken)
	assert.Equal(t, "https://api.example.com", credentials.ResourceURL)
	assert.Equal(t, time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC), credentials.ExpiresAt)
}

func TestRefresherKeepsOldRefreshTokenWhenServerOmitsIt(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"access_token": "access-1", "expires_in": 60}`))
	}))
	defer server.Close()

	adapter := newRefresher(server.URL)
	credentials, err := adapter.Refresh(context.Background(), "refresh-1")
	require.NoError(t, err)

	assert.Equal(t, "refresh-1", credentials.RefreshToken)
}

func TestRefresherMapsInvalidGrant(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error": "invalid_grant", "error_description": "refresh token revoked"}`))
	}))
	defer server.Close()

	adapter := newRefresher(server.URL)
	_, err := adapter.Refresh(context.Background(), "refresh-1")

	require.ErrorIs(t, err, domain.ErrInvalidGrant)
	assert.Contains(t, err.Error(), "refresh token revoked")
}

func TestRefresherOtherOAuthErrorsAreNotInvalidGrant(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error": "server_error"}`))
	}))
	defer server.Close()

	adapter := newRefresher(server.URL)
	_, err := adapter.Refresh(context.Background(), "refresh-1")

	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrInvalidGrant)
	assert.Contains(t, err.Error(), "server_error")
}

func TestRefresherRejectsMissingAccessToken(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"expires_in": 60}`))
	}))
	defer server.Close()

	adapter := newRefresher(server.URL)
	_, err := adapter.Refresh(context.Background(), "refresh-1")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing access token")
}

func TestRefresherValidatesInputs(t *testing.T) {
	t.Parallel()

	adapter := newRefresher("https://auth.example.com")
	_, err := adapter.Refresh(context.Background(), "  ")
	assert.ErrorIs(t, err, domain.ErrRefreshTokenRequired)

	adapter.ClientID = ""
	_, err = adapter.Refresh(context.Background(), "refresh-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "client id")
}

func TestBuildAPIURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		baseURL string
		path    string
		want    string
		wantErr bool
	}{
		{name: "joins path", baseURL: "https://auth.example.com", path: "/oauth/token", want: "https://auth.example.com/oauth/token"},
		{name: "missing base url", baseURL: "", path: "/oauth/token", wantErr: true},
		{name: "missing path", baseURL: "https://auth.example.com", path: "", wantErr: true},
		{name: "unsupported scheme", baseURL: "ftp://auth.example.com", path: "/oauth/token", wantErr: true},
		{name: "missing host", baseURL: "https://", path: "/oauth/token", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := buildAPIURL(tt.baseURL, tt.path)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
