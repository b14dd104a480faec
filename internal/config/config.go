package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/bnema/rotator/internal/application"
	"github.com/bnema/rotator/internal/rotation"
)

const (
	configName = "config"
	configType = "toml"
	configDir  = ".rotator"

	accountsFile = "accounts.json"
	stateFile    = "tracker-state.toml"
)

type Config struct {
	AccountsPath string
	StatePath    string

	Strategy            rotation.Strategy
	Fallback            rotation.FallbackPolicy
	WorkerOffsetEnabled bool
	WorkerID            int

	Health rotation.HealthConfig
	Bucket rotation.BucketConfig

	Dispatcher application.DispatcherConfig

	AuthBaseURL     string
	AuthTokenPath   string
	AuthClientID    string
	UpstreamBaseURL string
}

// Load reads ~/.rotator/config.toml through viper; a missing file yields the
// defaults. Every tunable of the rotation engine is exposed here.
func Load(cfg *viper.Viper) (Config, error) {
	if cfg == nil {
		cfg = viper.New()
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return Config{}, fmt.Errorf("resolve home directory: %w", err)
	}
	baseDir := filepath.Join(homeDir, configDir)

	cfg.SetConfigName(configName)
	cfg.SetConfigType(configType)
	cfg.AddConfigPath(baseDir)

	setDefaults(cfg, baseDir)

	if err := cfg.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	loaded := Config{
		AccountsPath:        cfg.GetString("accounts.path"),
		StatePath:           cfg.GetString("accounts.state_path"),
		Strategy:            rotation.Strategy(cfg.GetString("rotation.strategy")),
		Fallback:            rotation.FallbackPolicy(cfg.GetString("rotation.fallback")),
		WorkerOffsetEnabled: cfg.GetBool("rotation.worker_offset_enabled"),
		WorkerID:            cfg.GetInt("rotation.worker_id"),
		Health: rotation.HealthConfig{
			Initial:             cfg.GetFloat64("health.initial"),
			MaxScore:            cfg.GetFloat64("health.max_score"),
			SuccessReward:       cfg.GetFloat64("health.success_reward"),
			RateLimitPenalty:    cfg.GetFloat64("health.rate_limit_penalty"),
			FailurePenalty:      cfg.GetFloat64("health.failure_penalty"),
			RecoveryRatePerHour: cfg.GetFloat64("health.recovery_rate_per_hour"),
			MinUsable:           cfg.GetFloat64("health.min_usable"),
		},
		Bucket: rotation.BucketConfig{
			MaxTokens:             cfg.GetFloat64("bucket.max_tokens"),
			RegenerationPerMinute: cfg.GetFloat64("bucket.regeneration_rate_per_minute"),
			InitialTokens:         cfg.GetFloat64("bucket.initial_tokens"),
		},
		Dispatcher: application.DispatcherConfig{
			MaxRateLimitWait:     time.Duration(cfg.GetInt("dispatch.max_rate_limit_wait_seconds")) * time.Second,
			RefreshWindow:        time.Duration(cfg.GetInt("dispatch.refresh_window_seconds")) * time.Second,
			InvalidGrantCooldown: time.Duration(cfg.GetInt("dispatch.invalid_grant_cooldown_seconds")) * time.Second,
		},
		AuthBaseURL:     cfg.GetString("auth.base_url"),
		AuthTokenPath:   cfg.GetString("auth.token_path"),
		AuthClientID:    cfg.GetString("auth.client_id"),
		UpstreamBaseURL: cfg.GetString("upstream.base_url"),
	}

	if !loaded.Strategy.Valid() {
		return Config{}, fmt.Errorf("unsupported rotation strategy %q", loaded.Strategy)
	}
	if loaded.Fallback != rotation.FallbackSoft && loaded.Fallback != rotation.FallbackStrict {
		return Config{}, fmt.Errorf("unsupported fallback policy %q", loaded.Fallback)
	}

	return loaded, nil
}

func (c Config) SelectorConfig() rotation.SelectorConfig {
	return rotation.SelectorConfig{
		Strategy:            c.Strategy,
		Fallback:            c.Fallback,
		WorkerOffsetEnabled: c.WorkerOffsetEnabled,
		WorkerID:            c.WorkerID,
	}
}

func setDefaults(cfg *viper.Viper, baseDir string) {
	health := rotation.DefaultHealthConfig()
	bucket := rotation.DefaultBucketConfig()
	dispatch := application.DefaultDispatcherConfig()

	cfg.SetDefault("accounts.path", filepath.Join(baseDir, accountsFile))
	cfg.SetDefault("accounts.state_path", filepath.Join(baseDir, stateFile))

	cfg.SetDefault("rotation.strategy", string(rotation.StrategyHybrid))
	cfg.SetDefault("rotation.fallback", string(rotation.FallbackSoft))
	cfg.SetDefault("rotation.worker_offset_enabled", false)
	cfg.SetDefault("rotation.worker_id", -1)

	cfg.SetDefault("health.initial", health.Initial)
	cfg.SetDefault("health.max_score", health.MaxScore)
	cfg.SetDefault("health.success_reward", health.SuccessReward)
	cfg.SetDefault("health.rate_limit_penalty", health.RateLimitPenalty)
	cfg.SetDefault("health.failure_penalty", health.FailurePenalty)
	cfg.SetDefault("health.recovery_rate_per_hour", health.RecoveryRatePerHour)
	cfg.SetDefault("health.min_usable", health.MinUsable)

	cfg.SetDefault("bucket.max_tokens", bucket.MaxTokens)
	cfg.SetDefault("bucket.regeneration_rate_per_minute", bucket.RegenerationPerMinute)
	cfg.SetDefault("bucket.initial_tokens", bucket.InitialTokens)

	cfg.SetDefault("dispatch.max_rate_limit_wait_seconds", int(dispatch.MaxRateLimitWait.Seconds()))
	cfg.SetDefault("dispatch.refresh_window_seconds", int(dispatch.RefreshWindow.Seconds()))
	cfg.SetDefault("dispatch.invalid_grant_cooldown_seconds", int(dispatch.InvalidGrantCooldown.Seconds()))

	// Endpoints have no sane defaults; the send command fails until the
	// config names them.
	cfg.SetDefault("auth.base_url", "")
	cfg.SetDefault("auth.token_path", "/oauth/token")
	cfg.SetDefault("auth.client_id", "")
	cfg.SetDefault("upstream.base_url", "")
}
