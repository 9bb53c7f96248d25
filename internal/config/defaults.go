package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultBrokerURL         = "ws://localhost:8080/ws"
	DefaultAPIURL            = "http://localhost:8080/api"
	DefaultRole              = "EMPLOYE"
	DefaultConnectTimeout    = 10 * time.Second
	DefaultWriteTimeout      = 10 * time.Second
	DefaultPingInterval      = 15 * time.Second
	DefaultPingTimeout       = 45 * time.Second
	DefaultGlobalTopic       = "/topic/alertes"
	DefaultPersonalPrefix    = "/topic/alertes"
	DefaultAPITimeout        = 30 * time.Second
	DefaultMaxRetries        = 3
	DefaultRetryMode         = "exponential"
	DefaultRetryInterval     = 1 * time.Second
	DefaultRetryMaxInterval  = 30 * time.Second
	DefaultRetryMultiplier   = 2.0
	DefaultRetryMaxAttempts  = 10
	DefaultToastQuota        = 3
	DefaultToastTTL          = 5 * time.Second
	DefaultPermissionTimeout = 30 * time.Second
	DefaultRequestTimeout    = 15 * time.Second
	DefaultSnapshotTimeout   = 20 * time.Second
	DefaultResyncInterval    = 30 * time.Second
	DefaultDBPort            = 5432
	DefaultDBSSLMode         = "prefer"
	DefaultMaxConns          = 4
	DefaultMinConns          = 1
	DefaultBatchSize         = 500
	DefaultFlushInterval     = 1 * time.Second
	DefaultQueueSize         = 256
	DefaultQueueMaxSize      = 10000
	DefaultLogLevel          = "info"
	DefaultLogFormat         = "console"
)

func (c *Config) applyDefaults() {
	if c.Identity.Role == "" {
		c.Identity.Role = DefaultRole
	}

	// Broker defaults
	if c.Broker.URL == "" {
		c.Broker.URL = DefaultBrokerURL
	}
	if c.Broker.ConnectTimeout == 0 {
		c.Broker.ConnectTimeout = DefaultConnectTimeout
	}
	if c.Broker.WriteTimeout == 0 {
		c.Broker.WriteTimeout = DefaultWriteTimeout
	}
	if c.Broker.PingInterval == 0 {
		c.Broker.PingInterval = DefaultPingInterval
	}
	if c.Broker.PingTimeout == 0 {
		c.Broker.PingTimeout = DefaultPingTimeout
	}
	if c.Broker.GlobalTopic == "" {
		c.Broker.GlobalTopic = DefaultGlobalTopic
	}
	if c.Broker.PersonalPrefix == "" {
		c.Broker.PersonalPrefix = DefaultPersonalPrefix
	}

	// API defaults
	if c.API.BaseURL == "" {
		c.API.BaseURL = DefaultAPIURL
	}
	if c.API.Token == "" {
		c.API.Token = c.Broker.Token
	}
	if c.API.Timeout == 0 {
		c.API.Timeout = DefaultAPITimeout
	}
	if c.API.MaxRetries == 0 {
		c.API.MaxRetries = DefaultMaxRetries
	}

	// Retry defaults
	if c.Retry.Mode == "" {
		c.Retry.Mode = DefaultRetryMode
	}
	if c.Retry.Interval == 0 {
		c.Retry.Interval = DefaultRetryInterval
	}
	if c.Retry.MaxInterval == 0 {
		c.Retry.MaxInterval = DefaultRetryMaxInterval
	}
	if c.Retry.Multiplier == 0 {
		c.Retry.Multiplier = DefaultRetryMultiplier
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = DefaultRetryMaxAttempts
	}

	// Toast defaults
	if c.Toast.Quota == 0 {
		c.Toast.Quota = DefaultToastQuota
	}
	if c.Toast.TTL == 0 {
		c.Toast.TTL = DefaultToastTTL
	}
	if c.Toast.StickyUrgent == nil {
		c.Toast.StickyUrgent = boolPtr(true)
	}
	if c.Toast.PermissionTimeout == 0 {
		c.Toast.PermissionTimeout = DefaultPermissionTimeout
	}

	// Feed defaults
	if c.Feed.RequestTimeout == 0 {
		c.Feed.RequestTimeout = DefaultRequestTimeout
	}
	if c.Feed.SnapshotTimeout == 0 {
		c.Feed.SnapshotTimeout = DefaultSnapshotTimeout
	}
	if c.Feed.ResyncInterval == 0 {
		c.Feed.ResyncInterval = DefaultResyncInterval
	}
	if c.Feed.RefreshOnReconnect == nil {
		c.Feed.RefreshOnReconnect = boolPtr(true)
	}

	// Database and journal defaults
	applyDBDefaults(&c.Database)
	if c.Journal.BatchSize == 0 {
		c.Journal.BatchSize = DefaultBatchSize
	}
	if c.Journal.FlushInterval == 0 {
		c.Journal.FlushInterval = DefaultFlushInterval
	}
	if c.Journal.QueueSize == 0 {
		c.Journal.QueueSize = DefaultQueueSize
	}
	if c.Journal.QueueMaxSize == 0 {
		c.Journal.QueueMaxSize = DefaultQueueMaxSize
	}

	// Log defaults
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}

func boolPtr(v bool) *bool { return &v }
