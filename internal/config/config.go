package config

import "time"

// Config is the root configuration of an alert feed client.
type Config struct {
	Identity IdentityConfig `yaml:"identity"`
	Broker   BrokerConfig   `yaml:"broker"`
	API      APIConfig      `yaml:"api"`
	Retry    RetryConfig    `yaml:"retry"`
	Toast    ToastConfig    `yaml:"toast"`
	Feed     FeedConfig     `yaml:"feed"`
	Database DBConfig       `yaml:"database"`
	Journal  JournalConfig  `yaml:"journal"`
	Log      LogConfig      `yaml:"log"`
}

// IdentityConfig is the user the feed runs as.
type IdentityConfig struct {
	ID   string `yaml:"id" env:"ALERTFEED_IDENTITY"`
	Role string `yaml:"role" env:"ALERTFEED_ROLE"`
}

// BrokerConfig holds websocket broker settings.
type BrokerConfig struct {
	URL            string        `yaml:"url" env:"ALERTFEED_BROKER_URL"`
	Token          string        `yaml:"token" env:"ALERTFEED_TOKEN"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	PingInterval   time.Duration `yaml:"ping_interval"`
	PingTimeout    time.Duration `yaml:"ping_timeout"`
	GlobalTopic    string        `yaml:"global_topic"`
	PersonalPrefix string        `yaml:"personal_prefix"`
}

// APIConfig holds REST settings.
type APIConfig struct {
	BaseURL    string        `yaml:"base_url" env:"ALERTFEED_API_URL"`
	Token      string        `yaml:"token" env:"ALERTFEED_API_TOKEN"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
}

// RetryConfig is the reconnect policy.
type RetryConfig struct {
	Mode        string        `yaml:"mode" env:"ALERTFEED_RETRY_MODE"` // fixed or exponential
	Interval    time.Duration `yaml:"interval"`
	MaxInterval time.Duration `yaml:"max_interval"`
	Multiplier  float64       `yaml:"multiplier"`
	MaxAttempts int           `yaml:"max_attempts" env:"ALERTFEED_RETRY_MAX_ATTEMPTS"`
}

// ToastConfig holds toast scheduling settings.
type ToastConfig struct {
	Quota             int           `yaml:"quota"`
	TTL               time.Duration `yaml:"ttl"`
	StickyUrgent      *bool         `yaml:"sticky_urgent"`
	PermissionTimeout time.Duration `yaml:"permission_timeout"`
}

// FeedConfig holds feed service settings.
type FeedConfig struct {
	RequestTimeout     time.Duration `yaml:"request_timeout"`
	SnapshotTimeout    time.Duration `yaml:"snapshot_timeout"`
	ResyncInterval     time.Duration `yaml:"resync_interval"`
	RefreshOnReconnect *bool         `yaml:"refresh_on_reconnect"`
}

// DBConfig holds the optional journal database. The journal is disabled
// when Host is empty.
type DBConfig struct {
	Host     string `yaml:"host" env:"ALERTFEED_DB_HOST"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password" env:"ALERTFEED_DB_PASSWORD"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// Enabled reports whether a database is configured.
func (db DBConfig) Enabled() bool {
	return db.Host != ""
}

// JournalConfig holds delta journal writer settings.
type JournalConfig struct {
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	QueueSize     int           `yaml:"queue_size"`
	QueueMaxSize  int           `yaml:"queue_max_size"`
}

// LogConfig selects the log handler.
type LogConfig struct {
	Level  string `yaml:"level" env:"ALERTFEED_LOG_LEVEL"`
	Format string `yaml:"format" env:"ALERTFEED_LOG_FORMAT"` // console or json
}
