package cmd

import (
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/user/markhub/internal/config"
	"github.com/user/markhub/internal/db"
	"github.com/user/markhub/internal/indexer"
	"github.com/user/markhub/internal/integrations"
	"github.com/user/markhub/internal/logger"
)

// app holds everything a command needs, restored from the data directory.
type app struct {
	cfg     *config.Config
	logger  arbor.ILogger
	store   *db.Store
	bridge  *integrations.WebsocketBridge
	manager *integrations.Manager
	indexer *indexer.Indexer
}

type appOptions struct {
	dashboard bool // log to file only
	silent    bool // no progress bars
}

func newApp(opts appOptions) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	var log arbor.ILogger
	if opts.dashboard {
		log = logger.ForDashboard(cfg.Logging, cfg.LogDir())
	} else {
		log = logger.New(cfg.Logging, cfg.LogDir())
	}

	store, err := db.NewStore(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	bridge := integrations.NewWebsocketBridge(log)
	manager := integrations.NewManager(log, store)
	manager.RegisterDefaults(integrationOptions(cfg, log, bridge)...)

	configs, err := store.LoadIntegrations()
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to load integration configs: %w", err)
	}
	for _, c := range configs {
		manager.Restore(c)
	}

	var notifier indexer.Notifier
	if z, err := manager.Get(integrations.ZapierID); err == nil {
		notifier, _ = z.(indexer.Notifier)
	}
	ix := indexer.New(store, notifier, log, indexer.Options{Silent: opts.silent || opts.dashboard})

	log.Debug().
		Str("data_dir", cfg.DataDir).
		Int("restored", len(configs)).
		Msg("Application initialised")

	return &app{
		cfg:     cfg,
		logger:  log,
		store:   store,
		bridge:  bridge,
		manager: manager,
		indexer: ix,
	}, nil
}

func integrationOptions(cfg *config.Config, log arbor.ILogger, bridge integrations.ExtensionBridge) []integrations.Option {
	opts := []integrations.Option{
		integrations.WithLogger(log),
		integrations.WithExtensionBridge(bridge),
	}
	if cfg.Integrations.AllowPrivateHosts {
		opts = append(opts, integrations.WithURLGuard(integrations.NewURLGuard(integrations.AllowPrivateHosts())))
	}
	if cfg.Integrations.HTTPTimeout > 0 {
		opts = append(opts, integrations.WithTimeout(cfg.Integrations.HTTPTimeout))
	}
	if cfg.Integrations.RateLimit > 0 {
		opts = append(opts, integrations.WithRateLimit(cfg.Integrations.RateLimit))
	}
	return opts
}

func (a *app) Close() error {
	return a.store.Close()
}

// zapier returns the registered Zapier adapter.
func (a *app) zapier() (*integrations.ZapierIntegration, error) {
	i, err := a.manager.Get(integrations.ZapierID)
	if err != nil {
		return nil, err
	}
	z, ok := i.(*integrations.ZapierIntegration)
	if !ok {
		return nil, fmt.Errorf("%w: zapier webhooks", integrations.ErrUnsupportedOperation)
	}
	return z, nil
}

func (a *app) chrome() (*integrations.ChromeIntegration, error) {
	i, err := a.manager.Get(integrations.ChromeID)
	if err != nil {
		return nil, err
	}
	c, ok := i.(*integrations.ChromeIntegration)
	if !ok {
		return nil, fmt.Errorf("%w: chrome upload", integrations.ErrUnsupportedOperation)
	}
	return c, nil
}
