package toast

import (
	"context"
	"time"

	"github.com/rickgao/alert-feed/internal/model"
)

// Config holds Toast Scheduler configuration.
type Config struct {
	Quota             int           `yaml:"quota"`              // Max visible toasts
	TTL               time.Duration `yaml:"ttl"`                // Auto-expiry of non-sticky toasts
	StickyUrgent      bool          `yaml:"sticky_urgent"`      // Urgent toasts require explicit dismissal
	PermissionTimeout time.Duration `yaml:"permission_timeout"` // Bound on Notifier.RequestPermission
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Quota:             3,
		TTL:               5 * time.Second,
		StickyUrgent:      true,
		PermissionTimeout: 30 * time.Second,
	}
}

// Toast is an ephemeral view of a new alert. It never mutates the alert.
type Toast struct {
	Alert     model.Alert
	ShownAt   time.Time
	ExpiresAt time.Time // Zero for sticky toasts
	Dismissed bool
}

// Sticky reports whether the toast waits for explicit dismissal.
func (t Toast) Sticky() bool {
	return t.ExpiresAt.IsZero()
}

// EventKind enumerates toast lifecycle events.
type EventKind int

const (
	EventShown EventKind = iota + 1
	EventExpired
	EventDismissed
	EventEvicted
)

func (k EventKind) String() string {
	switch k {
	case EventShown:
		return "shown"
	case EventExpired:
		return "expired"
	case EventDismissed:
		return "dismissed"
	case EventEvicted:
		return "evicted"
	default:
		return "unknown"
	}
}

// Event is a toast lifecycle change.
type Event struct {
	Kind  EventKind
	Toast Toast
}

// Listener receives toast events without scheduler locks held.
type Listener func(Event)

// -----------------------------------------------------------------------------
// Notifier capability
// -----------------------------------------------------------------------------

// Permission is the answer of a Notifier permission request.
type Permission int

const (
	PermissionUnknown Permission = iota
	PermissionGranted
	PermissionDenied
)

func (p Permission) String() string {
	switch p {
	case PermissionGranted:
		return "granted"
	case PermissionDenied:
		return "denied"
	default:
		return "unknown"
	}
}

// Notifier surfaces toasts outside the process (desktop, terminal, chat).
type Notifier interface {
	// RequestPermission asks once whether toasts may be shown.
	RequestPermission(ctx context.Context) Permission

	// Show displays one alert. Called only after permission was granted.
	Show(alert model.Alert)
}
