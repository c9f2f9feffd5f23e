package cli

import (
	"github.com/quotapanel/quotapanel/internal/aggregator"
	"github.com/quotapanel/quotapanel/internal/alerts"
	"github.com/quotapanel/quotapanel/internal/config"
	"github.com/quotapanel/quotapanel/internal/credstore"
	"github.com/quotapanel/quotapanel/internal/logging"
	"github.com/quotapanel/quotapanel/internal/metrics"
	"github.com/quotapanel/quotapanel/internal/oauthflow"
	"github.com/quotapanel/quotapanel/internal/quota"
	"github.com/quotapanel/quotapanel/internal/store"
	"github.com/quotapanel/quotapanel/internal/token"
	"github.com/quotapanel/quotapanel/internal/transport"
)

// app bundles the wired components behind the commands.
type app struct {
	cfg        *config.Config
	logger     *logging.Logger
	metrics    *metrics.Metrics
	creds      *credstore.Store
	transport  *transport.Reloadable
	proxyStore *store.ProxyStore
	snapshots  *store.SnapshotStore
	agg        *aggregator.Aggregator
	flow       *oauthflow.Flow
}

// buildApp loads configuration and wires every component. withSnapshots
// controls whether the SQLite mirror is opened; one-shot commands skip it.
func buildApp(configPath string, withSnapshots bool) (*app, error) {
	cfg, err := config.LoadOrDefaults(configPath)
	if err != nil {
		return nil, err
	}

	logger := logging.NewLogger(logging.WithLevel(logging.LogLevel(cfg.Server.LogLevel)))
	m := metrics.NewMetrics("quotapanel")

	proxyStore := store.NewProxyStore(cfg.Proxy.ConfigPath)
	proxyCfg, err := proxyStore.Load()
	if err != nil {
		return nil, err
	}
	tr, err := transport.NewReloadable(proxyCfg)
	if err != nil {
		return nil, err
	}

	creds := credstore.New(cfg.Credentials.Dir, cfg.Credentials.CacheTTL, logger)
	tokens := token.NewManager(tr, creds, logger, token.WithMetrics(m))
	fetcher := quota.NewFetcher(tr, logger, quota.WithMetrics(m))

	aggOpts := []aggregator.Option{
		aggregator.WithConcurrency(cfg.Aggregator.Concurrency),
		aggregator.WithMetrics(m),
	}

	var snapshots *store.SnapshotStore
	if withSnapshots {
		snapshots, err = store.NewSnapshotStore(cfg.Snapshot.DBPath, logger)
		if err != nil {
			return nil, err
		}
		aggOpts = append(aggOpts, aggregator.WithSnapshotStore(snapshots))
	}

	if cfg.Telegram.Enabled {
		watcher := alerts.NewWatcher(cfg.Telegram.Token, cfg.Telegram.ChatID, logger)
		aggOpts = append(aggOpts, aggregator.WithWatcher(watcher))
	}

	agg := aggregator.New(creds, tokens, fetcher, logger, aggOpts...)
	flow := oauthflow.New(tr, creds)

	return &app{
		cfg:        cfg,
		logger:     logger,
		metrics:    m,
		creds:      creds,
		transport:  tr,
		proxyStore: proxyStore,
		snapshots:  snapshots,
		agg:        agg,
		flow:       flow,
	}, nil
}
