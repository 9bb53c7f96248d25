package feed

import (
	"context"
	"errors"
	"time"

	"github.com/rickgao/alert-feed/internal/api"
	"github.com/rickgao/alert-feed/internal/connection"
	"github.com/rickgao/alert-feed/internal/model"
	"github.com/rickgao/alert-feed/internal/router"
	"github.com/rickgao/alert-feed/internal/snapshot"
	"github.com/rickgao/alert-feed/internal/subscription"
	"github.com/rickgao/alert-feed/internal/toast"
)

// Errors
var (
	ErrNotStarted     = errors.New("feed not started")
	ErrAlreadyStarted = errors.New("feed already started")
	ErrStopped        = errors.New("feed stopped")
)

// API is the part of api.Client the feed needs.
type API interface {
	GetAlerts(ctx context.Context, identity string) (*api.Snapshot, error)
	MarkRead(ctx context.Context, id string) error
	DeleteAlert(ctx context.Context, id string) error
}

// Deps are the collaborators injected into a Feed.
type Deps struct {
	Transport connection.Manager // Required
	API       API                // Required
	Notifier  toast.Notifier     // Optional; NopNotifier when nil
}

// Config holds feed configuration.
type Config struct {
	Identity           connection.Identity
	Topics             subscription.TopicConfig
	Toast              toast.Config
	Snapshot           snapshot.Config
	Router             router.Config
	RequestTimeout     time.Duration // Bound on mark-read and delete calls
	RefreshOnReconnect bool          // Reload the snapshot after a dropped connection recovers
}

// DefaultConfig returns sensible defaults. Identity must be set by the caller.
func DefaultConfig() Config {
	return Config{
		Topics:             subscription.DefaultTopicConfig(),
		Toast:              toast.DefaultConfig(),
		Snapshot:           snapshot.DefaultConfig(),
		Router:             router.DefaultConfig(),
		RequestTimeout:     15 * time.Second,
		RefreshOnReconnect: true,
	}
}

// Diagnostics aggregates component statistics.
type Diagnostics struct {
	Alerts        model.Stats
	Connection    connection.ManagerStats
	Subscriptions subscription.Stats
	Router        router.Stats
	Toasts        int
	Degraded      bool
	LastError     string
	LastRefresh   time.Time
	Refreshes     int64
}
