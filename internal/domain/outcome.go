package domain

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// RetryReason classifies a retryable upstream response so the dispatcher can
// pick the matching backoff tier.
type RetryReason string

const (
	ReasonQuotaExhausted RetryReason = "quota_exhausted"
	ReasonRateLimit      RetryReason = "rate_limit"
	ReasonServerError    RetryReason = "server_error"
	ReasonUnknown        RetryReason = "unknown"
)

// Backoff tiers per reason, indexed by min(attempt, len-1).
var backoffTiers = map[RetryReason][]time.Duration{
	ReasonQuotaExhausted: {60 * time.Second, 300 * time.Second, 1800 * time.Second},
	ReasonRateLimit:      {30 * time.Second, 60 * time.Second},
	ReasonServerError:    {20 * time.Second, 40 * time.Second},
	ReasonUnknown:        {60 * time.Second},
}

type UpstreamRequest struct {
	Method string
	Path   string
	Header http.Header
	Body   []byte
}

type UpstreamResponse struct {
	Status int
	Header http.Header
	Body   []byte
}

func (r UpstreamResponse) IsSuccess() bool {
	return r.Status >= http.StatusOK && r.Status < http.StatusMultipleChoices
}

// IsRetryable reports whether the response should rotate to another account
// rather than surface to the caller.
func (r UpstreamResponse) IsRetryable() bool {
	return r.Status == http.StatusTooManyRequests || r.Status >= http.StatusInternalServerError
}

// ClassifyRetry derives the retry reason from status and headers. Quota
// exhaustion is a 429 whose rate-limit budget reads zero or whose body names
// the quota; any other 429 is a plain rate limit.
func ClassifyRetry(resp UpstreamResponse) RetryReason {
	switch {
	case resp.Status == http.StatusTooManyRequests:
		if quotaExhausted(resp) {
			return ReasonQuotaExhausted
		}
		return ReasonRateLimit
	case resp.Status >= http.StatusInternalServerError:
		return ReasonServerError
	default:
		return ReasonUnknown
	}
}

func quotaExhausted(resp UpstreamResponse) bool {
	for _, key := range []string{"X-RateLimit-Remaining", "X-RateLimit-Remaining-Requests", "X-RateLimit-Remaining-Tokens"} {
		if value := strings.TrimSpace(resp.Header.Get(key)); value == "0" {
			return true
		}
	}
	body := strings.ToLower(string(resp.Body))
	return strings.Contains(body, "quota exceeded") || strings.Contains(body, "quota_exhausted")
}

// RetryAfter extracts the server-supplied wait from a Retry-After header,
// accepting both delta-seconds and HTTP-date forms. Zero means no guidance.
func RetryAfter(header http.Header, now time.Time) time.Duration {
	value := strings.TrimSpace(header.Get("Retry-After"))
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds <= 0 {
			return 0
		}
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil && at.After(now) {
		return at.Sub(now)
	}
	return 0
}

// BackoffFor returns the wait before the account may be tried again:
// max(server Retry-After, reason tier at the attempt count).
func BackoffFor(reason RetryReason, attempt int, retryAfter time.Duration) time.Duration {
	tiers, ok := backoffTiers[reason]
	if !ok {
		tiers = backoffTiers[ReasonUnknown]
	}
	if attempt < 0 {
		attempt = 0
	}
	if attempt >= len(tiers) {
		attempt = len(tiers) - 1
	}
	tier := tiers[attempt]
	if retryAfter > tier {
		return retryAfter
	}
	return tier
}
