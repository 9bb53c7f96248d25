package snapshot

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/rickgao/alert-feed/internal/api"
	"github.com/rickgao/alert-feed/internal/model"
)

// ErrSuperseded is returned by a Load whose result was overtaken by a newer
// Load or canceled by Cancel.
var ErrSuperseded = errors.New("snapshot load superseded")

// Fetcher is the part of api.Client the loader needs.
type Fetcher interface {
	GetAlerts(ctx context.Context, identity string) (*api.Snapshot, error)
}

// Snapshot is the ordered alert list of one identity.
type Snapshot struct {
	Alerts     []model.Alert
	Total      int
	Generation uint64
	FetchedAt  time.Time
}

// Config holds Snapshot Loader configuration.
type Config struct {
	Timeout time.Duration // Bound on one fetch, including retries
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{Timeout: 20 * time.Second}
}

// Loader fetches snapshots, guarding against stale responses.
type Loader struct {
	cfg     Config
	fetcher Fetcher
	logger  *slog.Logger

	mu         sync.Mutex
	generation uint64
	cancel     context.CancelFunc
}

// NewLoader creates a loader.
func NewLoader(cfg Config, fetcher Fetcher, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	return &Loader{
		cfg:     cfg,
		fetcher: fetcher,
		logger:  logger.With("component", "snapshot"),
	}
}

// Load fetches the snapshot of identity. A previous in-flight Load is
// canceled and returns ErrSuperseded.
func (l *Loader) Load(ctx context.Context, identity string) (*Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, l.cfg.Timeout)
	defer cancel()

	l.mu.Lock()
	if l.cancel != nil {
		l.cancel()
	}
	l.generation++
	gen := l.generation
	l.cancel = cancel
	l.mu.Unlock()

	start := time.Now()
	resp, err := l.fetcher.GetAlerts(ctx, identity)

	l.mu.Lock()
	current := l.generation == gen
	if current {
		l.cancel = nil
	}
	l.mu.Unlock()

	if !current {
		l.logger.Debug("discarding stale snapshot", "generation", gen)
		return nil, ErrSuperseded
	}
	if err != nil {
		l.logger.Warn("snapshot load failed",
			"identity", identity,
			"kind", api.KindOf(err),
			"duration", time.Since(start),
			"error", err,
		)
		return nil, err
	}

	alerts, skipped := api.ToModels(resp.Alerts)
	if skipped > 0 {
		l.logger.Warn("dropped malformed snapshot items", "count", skipped)
	}
	model.SortAlerts(alerts)

	total := resp.Total
	if total < len(alerts) {
		total = len(alerts)
	}

	l.logger.Info("snapshot loaded",
		"identity", identity,
		"alerts", len(alerts),
		"total", total,
		"generation", gen,
		"duration", time.Since(start),
	)

	return &Snapshot{
		Alerts:     alerts,
		Total:      total,
		Generation: gen,
		FetchedAt:  time.Now(),
	}, nil
}

// Cancel aborts the in-flight Load, if any. The aborted Load returns
// ErrSuperseded.
func (l *Loader) Cancel() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.generation++
	if l.cancel != nil {
		l.cancel()
		l.cancel = nil
	}
}

// Generation returns the generation of the most recent Load or Cancel.
func (l *Loader) Generation() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.generation
}
