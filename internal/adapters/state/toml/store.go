package toml

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	toml "github.com/pelletier/go-toml/v2"

	"github.com/bnema/rotator/internal/application"
	"github.com/bnema/rotator/internal/domain"
	"github.com/bnema/rotator/internal/rotation"
)

const (
	stateFileMode   = 0o600
	stateDirMode    = 0o700
	tempFilePattern = ".tracker-state-*.toml.tmp"
)

// Store persists tracker snapshots to a TOML sidecar next to the account
// file. The snapshots are process-local scoring state; unlike the account
// file they have a single writer, so a plain atomic write suffices.
type Store struct {
	path string
}

var _ application.TrackerStateStore = (*Store)(nil)

func NewStore(path string) (*Store, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve tracker state path: %w", err)
	}

	return &Store{path: filepath.Clean(absPath)}, nil
}

func (s *Store) LoadSnapshot(ctx context.Context) (rotation.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return rotation.Snapshot{}, err
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return emptySnapshot(), nil
		}
		return rotation.Snapshot{}, fmt.Errorf("read tracker state file: %w", err)
	}

	var file fileSchema
	if err := toml.Unmarshal(data, &file); err != nil {
		return emptySnapshot(), nil
	}
	file.applyDefaults()
	if err := file.validateVersion(); err != nil {
		return emptySnapshot(), nil
	}

	return fromSchema(file), nil
}

func (s *Store) SaveSnapshot(ctx context.Context, snapshot rotation.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(s.path), stateDirMode); err != nil {
		return fmt.Errorf("create tracker state directory: %w", err)
	}

	data, err := toml.Marshal(toSchema(snapshot))
	if err != nil {
		return fmt.Errorf("encode tracker state file: %w", err)
	}

	tempFile, err := os.CreateTemp(filepath.Dir(s.path), tempFilePattern)
	if err != nil {
		return fmt.Errorf("create temp tracker state file: %w", err)
	}

	tempName := tempFile.Name()
	cleanup := true
	defer func() {
		if cleanup {
			_ = os.Remove(tempName)
		}
	}()

	if _, err := tempFile.Write(data); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("write temp tracker state file: %w", err)
	}

	if err := tempFile.Chmod(stateFileMode); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("chmod temp tracker state file: %w", err)
	}

	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("close temp tracker state file: %w", err)
	}

	if err := os.Rename(tempName, s.path); err != nil {
		return fmt.Errorf("replace tracker state file: %w", err)
	}

	cleanup = false

	return nil
}

func emptySnapshot() rotation.Snapshot {
	return rotation.Snapshot{
		Health:  map[domain.AccountID]rotation.HealthState{},
		Buckets: map[domain.AccountID]rotation.BucketState{},
	}
}
