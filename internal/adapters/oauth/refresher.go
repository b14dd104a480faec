package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bnema/rotator/internal/domain"
	"github.com/bnema/rotator/internal/ports"
)

const refreshGrantType = "refresh_token"
const maxOAuthResponseBytes = 1 << 20

type API struct {
	BaseURL   string
	TokenPath string
}

// RefresherAdapter exchanges a refresh token for fresh credentials via the
// standard refresh_token grant. An invalid_grant response maps to
// domain.ErrInvalidGrant so the dispatcher can cool the account down instead
// of retrying the same dead credential.
type RefresherAdapter struct {
	API            API
	ClientID       string
	HTTPClient     *http.Client
	RequestTimeout time.Duration
	Clock          ports.Clock
}

var _ ports.TokenRefresher = (*RefresherAdapter)(nil)

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	ResourceURL  string `json:"resource_url"`
}

type oauthErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func (a RefresherAdapter) Refresh(ctx context.Context, refreshToken string) (domain.Credentials, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return domain.Credentials{}, domain.ErrRefreshTokenRequired
	}
	if a.ClientID == "" {
		return domain.Credentials{}, errors.New("client id is required")
	}

	endpoint, err := buildAPIURL(a.API.BaseURL, a.API.TokenPath)
	if err != nil {
		return domain.Credentials{}, err
	}

	values := url.Values{}
	values.Set("grant_type", refreshGrantType)
	values.Set("client_id", a.ClientID)
	values.Set("refresh_token", refreshToken)

	requestCtx, cancel := a.requestContext(ctx)
	defer cancel()
	req, err := http.NewRequestWithContext(requestCtx, http.MethodPost, endpoint, strings.NewReader(values.Encode()))
	if err != nil {
		return domain.Credentials{}, fmt.Errorf("create refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.httpClient().Do(req)
	if err != nil {
		return domain.Credentials{}, fmt.Errorf("request token refresh: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		oauthErr := decodeOAuthError(resp)
		if oauthErr.Error == "invalid_grant" {
			return domain.Credentials{}, fmt.Errorf("%w: %s", domain.ErrInvalidGrant, formatOAuthError(resp.StatusCode, oauthErr))
		}
		return domain.Credentials{}, fmt.Errorf("request token refresh: %s", formatOAuthError(resp.StatusCode, oauthErr))
	}

	var payload tokenResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxOAuthResponseBytes)).Decode(&payload); err != nil {
		return domain.Credentials{}, fmt.Errorf("decode refresh response: %w", err)
	}
	if payload.AccessToken == "" {
		return domain.Credentials{}, errors.New("refresh response missing access token")
	}

	credentials := domain.Credentials{
		AccessToken:  payload.AccessToken,
		RefreshToken: payload.RefreshToken,
		ResourceURL:  payload.ResourceURL,
	}
	// Servers that do not rotate refresh tokens omit the field.
	if credentials.RefreshToken == "" {
		credentials.RefreshToken = refreshToken
	}
	if payload.ExpiresIn > 0 {
		credentials.ExpiresAt = a.now().Add(time.Duration(payload.ExpiresIn) * time.Second)
	}

	return credentials, nil
}

func (a RefresherAdapter) httpClient() *http.Client {
	if a.HTTPClient != nil {
		return a.HTTPClient
	}
	return http.DefaultClient
}

func (a RefresherAdapter) now() time.Time {
	if a.Clock != nil {
		return a.Clock.Now()
	}
	return time.Now()
}

func (a RefresherAdapter) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}

	requestTimeout := a.RequestTimeout
	if requestTimeout <= 0 {
		requestTimeout = 30 * time.Second
	}

	return context.WithTimeout(ctx, requestTimeout)
}

func decodeOAuthError(resp *http.Response) oauthErrorResponse {
	var oauthErr oauthErrorResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxOAuthResponseBytes)).Decode(&oauthErr); err != nil {
		return oauthErrorResponse{}
	}
	return oauthErr
}

func formatOAuthError(statusCode int, oauthErr oauthErrorResponse) string {
	if oauthErr.Error == "" {
		return fmt.Sprintf("status %d", statusCode)
	}
	if oauthErr.ErrorDescription != "" {
		return oauthErr.Error + ": " + oauthErr.ErrorDescription
	}
	return oauthErr.Error
}

func buildAPIURL(baseURL string, path string) (string, error) {
	if baseURL == "" {
		return "", errors.New("api base url is required")
	}
	if path == "" {
		return "", errors.New("api path is required")
	}

	parsed, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parse api base url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", errors.New("api base url must use http or https")
	}
	if parsed.Host == "" {
		return "", errors.New("api base url host is required")
	}

	endpoint, err := parsed.Parse(path)
	if err != nil {
		return "", fmt.Errorf("parse api path: %w", err)
	}
	return endpoint.String(), nil
}
