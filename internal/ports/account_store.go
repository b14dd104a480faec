package ports

import (
	"context"

	"github.com/bnema/rotator/internal/domain"
)

// AccountStore persists the shared account file. Load treats a missing or
// corrupt file as an empty storage; Save merges with the current on-disk
// state under a cross-process advisory lock. Replace overwrites wholesale,
// for writes a merge cannot express: account removal and refresh-token
// rotation, which changes the key the merge matches on.
type AccountStore interface {
	Load(ctx context.Context) (domain.Storage, error)
	Save(ctx context.Context, storage domain.Storage) error
	Replace(ctx context.Context, storage domain.Storage) error
}
