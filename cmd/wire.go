package cmd

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/spf13/viper"

	oauthadapter "github.com/bnema/rotator/internal/adapters/oauth"
	statusadapter "github.com/bnema/rotator/internal/adapters/render/status"
	statestore "github.com/bnema/rotator/internal/adapters/state/toml"
	filestore "github.com/bnema/rotator/internal/adapters/store/file"
	upstreamadapter "github.com/bnema/rotator/internal/adapters/upstream"
	"github.com/bnema/rotator/internal/application"
	"github.com/bnema/rotator/internal/config"
	"github.com/bnema/rotator/internal/ports"
	"github.com/bnema/rotator/internal/rotation"
)

type app struct {
	cfg            config.Config
	service        *application.Service
	dispatcher     *application.Dispatcher
	statusRenderer func([]application.Status, statusadapter.RenderOptions) (string, error)
	logLevel       *slog.LevelVar
	now            func() time.Time
}

func wireApp() (*app, error) {
	cfg, err := config.Load(viper.New())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	// Flags are parsed after wiring, so the level is adjusted through the
	// LevelVar once the root command runs.
	logLevel := &slog.LevelVar{}
	logLevel.Set(slog.LevelWarn)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	store, err := filestore.NewStore(cfg.AccountsPath, filestore.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("wire account store: %w", err)
	}

	states, err := statestore.NewStore(cfg.StatePath)
	if err != nil {
		return nil, fmt.Errorf("wire tracker state store: %w", err)
	}

	clock := ports.SystemClock{}
	health := rotation.NewHealthTracker(cfg.Health, clock)
	buckets := rotation.NewBucketTracker(cfg.Bucket, clock)
	selector := rotation.NewSelector(cfg.SelectorConfig(), health, buckets)

	refresher := oauthadapter.RefresherAdapter{
		API:      oauthadapter.API{BaseURL: cfg.AuthBaseURL, TokenPath: cfg.AuthTokenPath},
		ClientID: cfg.AuthClientID,
		Clock:    clock,
	}

	upstream := upstreamadapter.ClientAdapter{
		BaseURL:    cfg.UpstreamBaseURL,
		HTTPClient: http.DefaultClient,
	}

	dispatcher := application.NewDispatcher(cfg.Dispatcher, application.DispatcherDeps{
		Store:     store,
		States:    states,
		Health:    health,
		Buckets:   buckets,
		Selector:  selector,
		Refresher: refresher,
		Upstream:  upstream,
		Clock:     clock,
		Logger:    logger,
	})

	return &app{
		cfg:            cfg,
		service:        application.NewService(store, states, health, buckets, clock),
		dispatcher:     dispatcher,
		statusRenderer: statusadapter.Render,
		logLevel:       logLevel,
		now:            time.Now,
	}, nil
}
