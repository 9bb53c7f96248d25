package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Identity.ID) == "" {
		return errors.New("identity.id is required")
	}

	if err := validateURL("broker.url", c.Broker.URL, "ws", "wss", "http", "https"); err != nil {
		return err
	}
	if err := validateURL("api.base_url", c.API.BaseURL, "http", "https"); err != nil {
		return err
	}
	if c.Broker.PingInterval > 0 && c.Broker.PingTimeout <= c.Broker.PingInterval {
		return fmt.Errorf("broker.ping_timeout (%s) must exceed broker.ping_interval (%s)",
			c.Broker.PingTimeout, c.Broker.PingInterval)
	}
	if c.API.MaxRetries < 0 {
		return errors.New("api.max_retries must be >= 0")
	}

	switch c.Retry.Mode {
	case "fixed", "exponential":
	default:
		return fmt.Errorf("retry.mode must be fixed or exponential, got %q", c.Retry.Mode)
	}
	if c.Retry.Interval <= 0 {
		return errors.New("retry.interval must be > 0")
	}
	if c.Retry.MaxAttempts < 1 {
		return errors.New("retry.max_attempts must be >= 1")
	}
	if c.Retry.Mode == "exponential" && c.Retry.Multiplier < 1 {
		return fmt.Errorf("retry.multiplier must be >= 1, got %v", c.Retry.Multiplier)
	}

	if c.Toast.Quota < 1 {
		return errors.New("toast.quota must be >= 1")
	}
	if c.Toast.TTL <= 0 {
		return errors.New("toast.ttl must be > 0")
	}

	if c.Database.Enabled() {
		if err := c.Database.validate("database"); err != nil {
			return err
		}
		if c.Journal.BatchSize < 1 {
			return errors.New("journal.batch_size must be >= 1")
		}
		if c.Journal.QueueMaxSize < c.Journal.QueueSize {
			return fmt.Errorf("journal.queue_max_size (%d) cannot be below journal.queue_size (%d)",
				c.Journal.QueueMaxSize, c.Journal.QueueSize)
		}
	}

	switch strings.ToLower(c.Log.Format) {
	case "console", "json":
	default:
		return fmt.Errorf("log.format must be console or json, got %q", c.Log.Format)
	}

	return nil
}

func validateURL(field, raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s is invalid: %w", field, err)
	}
	for _, s := range schemes {
		if u.Scheme == s {
			if u.Host == "" {
				return fmt.Errorf("%s has no host", field)
			}
			return nil
		}
	}
	return fmt.Errorf("%s scheme must be one of %v, got %q", field, schemes, u.Scheme)
}

func (db *DBConfig) validate(prefix string) error {
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
