package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/bnema/rotator/internal/domain"
	"github.com/bnema/rotator/internal/ports"
)

const (
	accountsFileMode = 0o600
	accountsDirMode  = 0o700
	tempFilePattern  = ".accounts-*.json.tmp"
	lockSuffix       = ".lock"

	defaultLockWait = 2 * time.Second
)

// Store persists domain.Storage to a shared JSON file. Save is
// read-merge-write under a cross-process advisory lock, then a temp-file
// rename, so concurrent writers appending distinct accounts never clobber
// each other and a crash mid-write never corrupts the store.
type Store struct {
	path     string
	lockWait time.Duration
	logger   *slog.Logger
}

var _ ports.AccountStore = (*Store)(nil)

type Option func(*Store)

func WithLockWait(wait time.Duration) Option {
	return func(s *Store) {
		if wait > 0 {
			s.lockWait = wait
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func NewStore(path string, opts ...Option) (*Store, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve accounts path: %w", err)
	}

	store := &Store{
		path:     filepath.Clean(absPath),
		lockWait: defaultLockWait,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(store)
	}

	return store, nil
}

// Load reads the account file. Missing, malformed, or wrong-version files
// yield an empty storage: a broken store is recovered from, never fatal.
func (s *Store) Load(ctx context.Context) (domain.Storage, error) {
	if err := ctx.Err(); err != nil {
		return domain.Storage{}, err
	}

	file, ok := s.readSchema()
	if !ok {
		return domain.NewStorage(), nil
	}

	return fromSchema(file), nil
}

func (s *Store) Save(ctx context.Context, storage domain.Storage) error {
	return s.write(ctx, storage, true)
}

// Replace writes storage without merging; removal cannot be expressed as a
// merge because merge preserves on-disk accounts absent from the update.
func (s *Store) Replace(ctx context.Context, storage domain.Storage) error {
	return s.write(ctx, storage, false)
}

func (s *Store) write(ctx context.Context, storage domain.Storage, merge bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(s.path), accountsDirMode); err != nil {
		return fmt.Errorf("create accounts directory: %w", err)
	}

	lock := newFileLock(s.path+lockSuffix, s.lockWait)
	if err := lock.acquire(ctx); err != nil {
		if errors.Is(err, domain.ErrStoreLocked) {
			s.logger.Warn("account store lock contention", "path", s.path, "wait", s.lockWait)
		}
		return err
	}
	defer lock.release()

	merged := storage
	if merge {
		if current, ok := s.readSchema(); ok {
			merged = domain.MergeStorage(fromSchema(current), storage)
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	return s.writeSchema(toSchema(merged))
}

// readSchema returns ok=false for anything unreadable; the caller treats
// that as an empty store.
func (s *Store) readSchema() (fileSchema, bool) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("read accounts file", "path", s.path, "error", err)
		}
		return fileSchema{}, false
	}

	var file fileSchema
	if err := json.Unmarshal(data, &file); err != nil {
		s.logger.Warn("decode accounts file, treating as empty", "path", s.path, "error", err)
		return fileSchema{}, false
	}
	file.applyDefaults()
	if err := file.validateVersion(); err != nil {
		s.logger.Warn("accounts file version mismatch, treating as empty", "path", s.path, "error", err)
		return fileSchema{}, false
	}

	return file, true
}

func (s *Store) writeSchema(file fileSchema) error {
	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("encode accounts file: %w", err)
	}

	tempFile, err := os.CreateTemp(filepath.Dir(s.path), tempFilePattern)
	if err != nil {
		return fmt.Errorf("create temp accounts file: %w", err)
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
		return fmt.Errorf("write temp accounts file: %w", err)
	}

	if err := tempFile.Chmod(accountsFileMode); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("chmod temp accounts file: %w", err)
	}

	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("close temp accounts file: %w", err)
	}

	if err := os.Rename(tempName, s.path); err != nil {
		return fmt.Errorf("replace accounts file: %w", err)
	}

	cleanup = false

	if err := os.Chmod(s.path, accountsFileMode); err != nil {
		return fmt.Errorf("chmod accounts file: %w", err)
	}

	return nil
}
