package poller

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Target is the feed as seen by the poller.
type Target interface {
	Degraded() bool
	Refresh(ctx context.Context) error
}

// Config holds poller configuration.
type Config struct {
	Interval time.Duration // Check interval (default: 30s)
	Timeout  time.Duration // Per-refresh timeout (default: 20s)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval: 30 * time.Second,
		Timeout:  20 * time.Second,
	}
}

// Stats counts poller activity.
type Stats struct {
	Checks    int64
	Refreshes int64
	Failures  int64
}

// Poller periodically retries the snapshot while the feed is degraded.
type Poller struct {
	cfg    Config
	target Target
	logger *slog.Logger

	checks    atomic.Int64
	refreshes atomic.Int64
	failures  atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Poller.
func New(cfg Config, target Target, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	return &Poller{
		cfg:    cfg,
		target: target,
		logger: logger.With("component", "poller"),
	}
}

// Start begins the polling loop.
func (p *Poller) Start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go p.run()

	p.logger.Info("resync poller started", "interval", p.cfg.Interval)
	return nil
}

// Stop gracefully shuts down the poller.
func (p *Poller) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("resync poller stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns poller counters.
func (p *Poller) Stats() Stats {
	return Stats{
		Checks:    p.checks.Load(),
		Refreshes: p.refreshes.Load(),
		Failures:  p.failures.Load(),
	}
}

// run is the main polling loop.
func (p *Poller) run() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.check()
		}
	}
}

// check refreshes the target once if it is degraded.
func (p *Poller) check() {
	p.checks.Add(1)
	if !p.target.Degraded() {
		return
	}

	ctx, cancel := context.WithTimeout(p.ctx, p.cfg.Timeout)
	defer cancel()

	start := time.Now()
	p.refreshes.Add(1)
	if err := p.target.Refresh(ctx); err != nil {
		p.failures.Add(1)
		p.logger.Warn("resync failed", "duration", time.Since(start), "error", err)
		return
	}
	p.logger.Info("resync succeeded", "duration", time.Since(start))
}
