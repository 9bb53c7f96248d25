package main

import (
	"log/slog"

	"github.com/rickgao/alert-feed/internal/api"
	"github.com/rickgao/alert-feed/internal/config"
	"github.com/rickgao/alert-feed/internal/connection"
	"github.com/rickgao/alert-feed/internal/feed"
	"github.com/rickgao/alert-feed/internal/journal"
	"github.com/rickgao/alert-feed/internal/poller"
	"github.com/rickgao/alert-feed/internal/router"
	"github.com/rickgao/alert-feed/internal/snapshot"
	"github.com/rickgao/alert-feed/internal/subscription"
	"github.com/rickgao/alert-feed/internal/toast"
	"github.com/rickgao/alert-feed/internal/version"
)

func identity(cfg *config.Config) connection.Identity {
	return connection.Identity{
		ID:    cfg.Identity.ID,
		Role:  cfg.Identity.Role,
		Token: cfg.Broker.Token,
	}
}

func managerConfig(cfg *config.Config) connection.ManagerConfig {
	mcfg := connection.DefaultManagerConfig()
	mcfg.Client.URL = cfg.Broker.URL
	mcfg.Client.HandshakeTimeout = cfg.Broker.ConnectTimeout
	mcfg.Client.WriteTimeout = cfg.Broker.WriteTimeout
	mcfg.Client.PingInterval = cfg.Broker.PingInterval
	mcfg.Client.PingTimeout = cfg.Broker.PingTimeout
	mcfg.ConnectTimeout = cfg.Broker.ConnectTimeout
	mcfg.Retry = connection.RetryPolicy{
		Mode:        connection.RetryMode(cfg.Retry.Mode),
		Interval:    cfg.Retry.Interval,
		MaxInterval: cfg.Retry.MaxInterval,
		Multiplier:  cfg.Retry.Multiplier,
		Jitter:      mcfg.Retry.Jitter,
		MaxAttempts: cfg.Retry.MaxAttempts,
	}
	return mcfg
}

func newAPIClient(cfg *config.Config, logger *slog.Logger) *api.Client {
	return api.NewClient(cfg.API.BaseURL, cfg.API.Token,
		api.WithLogger(logger),
		api.WithTimeout(cfg.API.Timeout),
		api.WithRetries(cfg.API.MaxRetries, cfg.Retry.Interval),
		api.WithUserAgent(version.UserAgent()),
	)
}

func feedConfig(cfg *config.Config) feed.Config {
	fcfg := feed.DefaultConfig()
	fcfg.Identity = identity(cfg)
	fcfg.Topics = subscription.TopicConfig{
		Global:         cfg.Broker.GlobalTopic,
		PersonalPrefix: cfg.Broker.PersonalPrefix,
	}
	fcfg.Toast = toast.Config{
		Quota:             cfg.Toast.Quota,
		TTL:               cfg.Toast.TTL,
		StickyUrgent:      *cfg.Toast.StickyUrgent,
		PermissionTimeout: cfg.Toast.PermissionTimeout,
	}
	fcfg.Snapshot = snapshot.Config{Timeout: cfg.Feed.SnapshotTimeout}
	fcfg.Router = router.Config{
		QueueSize:    cfg.Journal.QueueSize,
		QueueMaxSize: cfg.Journal.QueueMaxSize,
		Journal:      cfg.Database.Enabled(),
	}
	fcfg.RequestTimeout = cfg.Feed.RequestTimeout
	fcfg.RefreshOnReconnect = *cfg.Feed.RefreshOnReconnect
	return fcfg
}

func pollerConfig(cfg *config.Config) poller.Config {
	return poller.Config{
		Interval: cfg.Feed.ResyncInterval,
		Timeout:  cfg.Feed.SnapshotTimeout,
	}
}

func journalConfig(cfg *config.Config) journal.Config {
	jcfg := journal.DefaultConfig()
	jcfg.BatchSize = cfg.Journal.BatchSize
	jcfg.FlushInterval = cfg.Journal.FlushInterval
	return jcfg
}
