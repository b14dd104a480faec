package upstream

import (
	"bytes"
	"context"
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

const maxResponseBytes = 16 << 20

// ClientAdapter sends requests to the upstream API with bearer auth. It
// reports transport failures as errors and upstream rejections as responses;
// outcome classification is the dispatcher's job.
type ClientAdapter struct {
	BaseURL        string
	HTTPClient     *http.Client
	RequestTimeout time.Duration
}

var _ ports.UpstreamClient = (*ClientAdapter)(nil)

func (c ClientAdapter) Send(ctx context.Context, accessToken string, req domain.UpstreamRequest) (domain.UpstreamResponse, error) {
	if strings.TrimSpace(accessToken) == "" {
		return domain.UpstreamResponse{}, errors.New("access token is required")
	}

	endpoint, err := c.buildURL(req.Path)
	if err != nil {
		return domain.UpstreamResponse{}, err
	}

	method := req.Method
	if method == "" {
		method = http.MethodPost
	}

	requestCtx, cancel := c.requestContext(ctx)
	defer cancel()

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(requestCtx, method, endpoint, body)
	if err != nil {
		return domain.UpstreamResponse{}, fmt.Errorf("create upstream request: %w", err)
	}
	for key, values := range req.Header {
		for _, value := range values {
			httpReq.Header.Add(key, value)
		}
	}
	httpReq.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.httpClient().Do(httpReq)
	if err != nil {
		return domain.UpstreamResponse{}, fmt.Errorf("send upstream request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return domain.UpstreamResponse{}, fmt.Errorf("read upstream response: %w", err)
	}

	return domain.UpstreamResponse{
		Status: resp.StatusCode,
		Header: resp.Header.Clone(),
		Body:   payload,
	}, nil
}

func (c ClientAdapter) buildURL(path string) (string, error) {
	if c.BaseURL == "" {
		return "", errors.New("upstream base url is required")
	}

	parsed, err := url.Parse(c.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parse upstream base url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", errors.New("upstream base url must use http or https")
	}

	if path == "" {
		return parsed.String(), nil
	}

	endpoint, err := parsed.Parse(path)
	if err != nil {
		return "", fmt.Errorf("parse upstream path: %w", err)
	}
	return endpoint.String(), nil
}

func (c ClientAdapter) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c ClientAdapter) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}

	requestTimeout := c.RequestTimeout
	if requestTimeout <= 0 {
		requestTimeout = 10 * time.Minute
	}

	return context.WithTimeout(ctx, requestTimeout)
}
