package toml

import (
	"fmt"
	"time"

	"github.com/bnema/rotator/internal/domain"
	"github.com/bnema/rotator/internal/rotation"
)

const currentSchemaVersion = 1

type fileSchema struct {
	Version int                     `toml:"version"`
	Health  map[string]healthSchema `toml:"health,omitempty"`
	Buckets map[string]bucketSchema `toml:"buckets,omitempty"`
}

type healthSchema struct {
	Score               float64 `toml:"score"`
	LastUpdated         string  `toml:"last_updated,omitempty"`
	LastSuccess         string  `toml:"last_success,omitempty"`
	ConsecutiveFailures int     `toml:"consecutive_failures"`
}

type bucketSchema struct {
	Tokens      float64 `toml:"tokens"`
	LastUpdated string  `toml:"last_updated,omitempty"`
}

func (s *fileSchema) applyDefaults() {
	if s.Version == 0 {
		s.Version = currentSchemaVersion
	}
}

func (s fileSchema) validateVersion() error {
	if s.Version > currentSchemaVersion {
		return fmt.Errorf("unsupported tracker state schema version %d (current %d)", s.Version, currentSchemaVersion)
	}
	return nil
}

func toSchema(snapshot rotation.Snapshot) fileSchema {
	file := fileSchema{
		Version: currentSchemaVersion,
		Health:  make(map[string]healthSchema, len(snapshot.Health)),
		Buckets: make(map[string]bucketSchema, len(snapshot.Buckets)),
	}

	for id, state := range snapshot.Health {
		file.Health[string(id)] = healthSchema{
			Score:               state.Score,
			LastUpdated:         formatTime(state.LastUpdated),
			LastSuccess:         formatTime(state.LastSuccess),
			ConsecutiveFailures: state.ConsecutiveFailures,
		}
	}

	for id, state := range snapshot.Buckets {
		file.Buckets[string(id)] = bucketSchema{
			Tokens:      state.Tokens,
			LastUpdated: formatTime(state.LastUpdated),
		}
	}

	return file
}

func fromSchema(file fileSchema) rotation.Snapshot {
	snapshot := rotation.Snapshot{
		Health:  make(map[domain.AccountID]rotation.HealthState, len(file.Health)),
		Buckets: make(map[domain.AccountID]rotation.BucketState, len(file.Buckets)),
	}

	for id, entry := range file.Health {
		snapshot.Health[domain.AccountID(id)] = rotation.HealthState{
			Score:               entry.Score,
			LastUpdated:         parseTime(entry.LastUpdated),
			LastSuccess:         parseTime(entry.LastSuccess),
			ConsecutiveFailures: entry.ConsecutiveFailures,
		}
	}

	for id, entry := range file.Buckets {
		snapshot.Buckets[domain.AccountID(id)] = rotation.BucketState{
			Tokens:      entry.Tokens,
			LastUpdated: parseTime(entry.LastUpdated),
		}
	}

	return snapshot
}

func parseTime(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}

	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}
	}

	return parsed
}

func formatTime(value time.Time) string {
	if value.IsZero() {
		return ""
	}

	return value.UTC().Format(time.RFC3339)
}
