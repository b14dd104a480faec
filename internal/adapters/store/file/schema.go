package file

import (
	"fmt"
	"time"

	"github.com/bnema/rotator/internal/domain"
)

const currentSchemaVersion = 1

// fileSchema mirrors the shared JSON account file. Timestamps travel as Unix
// milliseconds so other tooling reading the same file needs no time parsing.
type fileSchema struct {
	Version     int             `json:"version"`
	Accounts    []accountSchema `json:"accounts"`
	ActiveIndex int             `json:"activeIndex"`
}

type accountSchema struct {
	RefreshToken     string `json:"refreshToken"`
	AccessToken      string `json:"accessToken,omitempty"`
	Expires          int64  `json:"expires,omitempty"`
	ResourceURL      string `json:"resourceUrl,omitempty"`
	AddedAt          int64  `json:"addedAt"`
	LastUsed         int64  `json:"lastUsed"`
	RateLimitResetAt int64  `json:"rateLimitResetAt,omitempty"`
}

func (s *fileSchema) applyDefaults() {
	if s.Version == 0 {
		s.Version = currentSchemaVersion
	}
}

func (s fileSchema) validateVersion() error {
	if s.Version > currentSchemaVersion {
		return fmt.Errorf("unsupported accounts schema version %d (current %d)", s.Version, currentSchemaVersion)
	}
	return nil
}

func toSchema(storage domain.Storage) fileSchema {
	accounts := make([]accountSchema, 0, len(storage.Accounts))
	for _, account := range storage.Accounts {
		accounts = append(accounts, accountSchema{
			RefreshToken:     account.RefreshToken,
			AccessToken:      account.AccessToken,
			Expires:          toMillis(account.ExpiresAt),
			ResourceURL:      account.ResourceURL,
			AddedAt:          toMillis(account.AddedAt),
			LastUsed:         toMillis(account.LastUsed),
			RateLimitResetAt: toMillis(account.RateLimitResetAt),
		})
	}

	return fileSchema{
		Version:     currentSchemaVersion,
		Accounts:    accounts,
		ActiveIndex: storage.ActiveIndex,
	}
}

func fromSchema(file fileSchema) domain.Storage {
	accounts := make([]domain.Account, 0, len(file.Accounts))
	for _, entry := range file.Accounts {
		accounts = append(accounts, domain.Account{
			RefreshToken:     entry.RefreshToken,
			AccessToken:      entry.AccessToken,
			ExpiresAt:        fromMillis(entry.Expires),
			ResourceURL:      entry.ResourceURL,
			AddedAt:          fromMillis(entry.AddedAt),
			LastUsed:         fromMillis(entry.LastUsed),
			RateLimitResetAt: fromMillis(entry.RateLimitResetAt),
		})
	}

	return domain.Storage{
		Version:     file.Version,
		Accounts:    accounts,
		ActiveIndex: file.ActiveIndex,
	}.ClampActiveIndex()
}

func toMillis(value time.Time) int64 {
	if value.IsZero() {
		return 0
	}
	return value.UnixMilli()
}

func fromMillis(millis int64) time.Time {
	if millis == 0 {
		return time.Time{}
	}
	return time.UnixMilli(millis).UTC()
}
