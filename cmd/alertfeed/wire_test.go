package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/alert-feed/internal/config"
	"github.com/rickgao/alert-feed/internal/connection"
	"github.com/rickgao/alert-feed/internal/version"
)

func loadTestConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("ALERTFEED_IDENTITY", "42")
	t.Setenv("ALERTFEED_TOKEN", "tok")
	t.Setenv("ALERTFEED_RETRY_MODE", "fixed")
	cfg, err := config.LoadAndValidate("")
	require.NoError(t, err)
	return cfg
}

func TestManagerConfig(t *testing.T) {
	cfg := loadTestConfig(t)

	mcfg := managerConfig(cfg)
	assert.Equal(t, config.DefaultBrokerURL, mcfg.Client.URL)
	assert.Equal(t, config.DefaultPingInterval, mcfg.Client.PingInterval)
	assert.Equal(t, config.DefaultPingTimeout, mcfg.Client.PingTimeout)
	assert.Equal(t, connection.RetryFixed, mcfg.Retry.Mode)
	assert.Equal(t, config.DefaultRetryMaxAttempts, mcfg.Retry.MaxAttempts)
	assert.Equal(t, time.Second, mcfg.Retry.Interval)

	id := identity(cfg)
	assert.Equal(t, connection.Identity{ID: "42", Role: config.DefaultRole, Token: "tok"}, id)
}

func TestFeedConfig(t *testing.T) {
	cfg := loadTestConfig(t)

	fcfg := feedConfig(cfg)
	assert.Equal(t, "42", fcfg.Identity.ID)
	assert.Equal(t, "/topic/alertes", fcfg.Topics.GlobalTopic())
	assert.Equal(t, "/topic/alertes/employe/42", fcfg.Topics.PersonalTopic("42"))
	assert.Equal(t, config.DefaultToastQuota, fcfg.Toast.Quota)
	assert.True(t, fcfg.Toast.StickyUrgent)
	assert.True(t, fcfg.RefreshOnReconnect)
	assert.False(t, fcfg.Router.Journal)

	cfg.Database.Host = "db"
	assert.True(t, feedConfig(cfg).Router.Journal)

	assert.Equal(t, config.DefaultResyncInterval, pollerConfig(cfg).Interval)
	assert.Equal(t, config.DefaultBatchSize, journalConfig(cfg).BatchSize)
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	app := newApp()
	app.Writer = &out

	require.NoError(t, app.Run(context.Background(), []string{"alertfeed", "version"}))
	assert.Equal(t, version.String(), strings.TrimSpace(out.String()))
}
