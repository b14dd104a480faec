package ports

import (
	"context"

	"github.com/bnema/rotator/internal/domain"
)

// TokenRefresher exchanges a refresh token for fresh credentials. An
// unrecoverable grant surfaces as domain.ErrInvalidGrant.
type TokenRefresher interface {
	Refresh(ctx context.Context, refreshToken string) (domain.Credentials, error)
}
