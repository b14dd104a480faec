package ports

import (
	"context"

	"github.com/bnema/rotator/internal/domain"
)

// UpstreamClient sends one request with the given access token. A non-2xx
// status is returned as a response, not an error; errors mean the request
// never completed.
type UpstreamClient interface {
	Send(ctx context.Context, accessToken string, req domain.UpstreamRequest) (domain.UpstreamResponse, error)
}
