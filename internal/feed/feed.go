package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rickgao/alert-feed/internal/api"
	"github.com/rickgao/alert-feed/internal/connection"
	"github.com/rickgao/alert-feed/internal/model"
	"github.com/rickgao/alert-feed/internal/router"
	"github.com/rickgao/alert-feed/internal/snapshot"
	"github.com/rickgao/alert-feed/internal/store"
	"github.com/rickgao/alert-feed/internal/subscription"
	"github.com/rickgao/alert-feed/internal/toast"
)

// Feed is the alert delivery service for one identity.
type Feed struct {
	cfg    Config
	deps   Deps
	logger *slog.Logger

	store    *store.Store
	toasts   *toast.Scheduler
	registry *subscription.Registry
	router   router.Router
	loader   *snapshot.Loader

	// seedMu orders snapshot application against the loader generation.
	seedMu sync.Mutex

	subMu   sync.Mutex
	handles []subscription.Handle

	mu          sync.Mutex
	started     bool
	stopped     bool
	seeded      bool
	preSeed     []model.Alert // New alerts seen before the first snapshot
	dropped     bool          // Connection lost since the last connected event
	degraded    bool
	lastErr     error
	lastRefresh time.Time
	refreshes   int64
	listeners   map[int]func()
	nextID      int
	removers    []func()

	// changed wakes notifyLoop; one pending signal covers any burst.
	changed chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a feed over the injected transport and REST client. The
// transport is not connected until Start.
func New(cfg Config, deps Deps, logger *slog.Logger) (*Feed, error) {
	if deps.Transport == nil {
		return nil, errors.New("feed: transport is required")
	}
	if deps.API == nil {
		return nil, errors.New("feed: api client is required")
	}
	if cfg.Identity.ID == "" {
		return nil, connection.ErrMissingIdentity
	}
	if deps.Notifier == nil {
		deps.Notifier = toast.NopNotifier{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultConfig().RequestTimeout
	}

	f := &Feed{
		cfg:       cfg,
		deps:      deps,
		logger:    logger.With("component", "feed", "identity", cfg.Identity.ID),
		listeners: make(map[int]func()),
		changed:   make(chan struct{}, 1),
	}
	f.ctx, f.cancel = context.WithCancel(context.Background())
	go f.notifyLoop()

	f.store = store.New(logger)
	f.toasts = toast.NewScheduler(cfg.Toast, deps.Notifier, logger)
	f.loader = snapshot.NewLoader(cfg.Snapshot, deps.API, logger)
	f.router = router.NewRouter(cfg.Router, router.Sinks{
		Store:       f.store,
		Toasts:      seedGate{f},
		OnStatsHint: f.onStatsHint,
	}, logger)
	f.registry = subscription.NewRegistry(deps.Transport, logger)

	f.removers = append(f.removers,
		deps.Transport.Listen(f.onEvent),
		f.store.Listen(f.notifyChange),
		f.toasts.Listen(func(toast.Event) { f.notifyChange() }),
	)

	return f, nil
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Start subscribes the global and personal topics, connects and loads the
// initial snapshot. Connect and snapshot failures are not fatal: the
// transport keeps retrying and the feed reports Degraded until a refresh
// succeeds.
func (f *Feed) Start(ctx context.Context) error {
	f.mu.Lock()
	if f.stopped {
		f.mu.Unlock()
		return ErrStopped
	}
	if f.started {
		f.mu.Unlock()
		return ErrAlreadyStarted
	}
	f.started = true
	f.mu.Unlock()

	f.ensureSubscribed()

	err := f.deps.Transport.Connect(ctx, f.cfg.Identity)
	switch {
	case errors.Is(err, connection.ErrMissingIdentity), errors.Is(err, connection.ErrManagerClosed):
		return fmt.Errorf("connect: %w", err)
	case err != nil:
		f.logger.Warn("initial connect failed, retrying in background", "error", err)
	}

	if err := f.load(ctx); err != nil && !errors.Is(err, snapshot.ErrSuperseded) {
		f.logger.Warn("initial snapshot failed, feed degraded", "error", err)
	}

	f.logger.Info("feed started",
		"global_topic", f.cfg.Topics.GlobalTopic(),
		"personal_topic", f.cfg.Topics.PersonalTopic(f.cfg.Identity.ID),
		"connected", f.deps.Transport.IsConnected(),
		"alerts", f.store.Len(),
	)
	return nil
}

// Stop unsubscribes, disconnects and releases timers. A stopped feed cannot
// be restarted.
func (f *Feed) Stop(ctx context.Context) error {
	f.mu.Lock()
	if f.stopped {
		f.mu.Unlock()
		return nil
	}
	f.stopped = true
	removers := f.removers
	f.removers = nil
	f.mu.Unlock()

	f.subMu.Lock()
	handles := f.handles
	f.handles = nil
	f.subMu.Unlock()

	f.logger.Info("stopping feed")

	f.cancel()
	f.loader.Cancel()

	for _, h := range handles {
		f.registry.Unsubscribe(h)
	}
	if err := f.deps.Transport.Disconnect(ctx); err != nil {
		f.logger.Warn("disconnect failed", "error", err)
	}
	f.registry.Close()
	for _, remove := range removers {
		remove()
	}
	f.toasts.Close()
	f.router.Close()

	done := make(chan struct{})
	go func() {
		f.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		f.logger.Info("feed stopped")
		return nil
	case <-ctx.Done():
		f.logger.Warn("feed stop timed out")
		return ctx.Err()
	}
}

// ensureSubscribed subscribes each feed topic that has no handler, such as
// after a requested disconnect cleared the registry.
func (f *Feed) ensureSubscribed() {
	topics := []string{
		f.cfg.Topics.GlobalTopic(),
		f.cfg.Topics.PersonalTopic(f.cfg.Identity.ID),
	}

	f.subMu.Lock()
	defer f.subMu.Unlock()

	kept := f.handles[:0]
	for _, h := range f.handles {
		if f.registry.RefCount(h.Topic()) > 0 {
			kept = append(kept, h)
		}
	}
	f.handles = kept

	for _, topic := range topics {
		if f.registry.RefCount(topic) > 0 {
			continue
		}
		f.handles = append(f.handles, f.registry.Subscribe(topic, f.router.Handle))
	}
}

func (f *Feed) checkRunning() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch {
	case f.stopped:
		return ErrStopped
	case !f.started:
		return ErrNotStarted
	}
	return nil
}

// -----------------------------------------------------------------------------
// Events
// -----------------------------------------------------------------------------

// onEvent tracks drops so the snapshot is reloaded once the connection
// recovers. Alerts published while offline are only recovered that way.
func (f *Feed) onEvent(ev connection.Event) {
	switch ev.Kind {
	case connection.EventConnecting:
	case connection.EventConnected:
		f.mu.Lock()
		refresh := f.dropped && f.cfg.RefreshOnReconnect && f.started && !f.stopped
		f.dropped = false
		if refresh {
			f.wg.Add(1)
		}
		f.mu.Unlock()

		if refresh {
			go f.refreshAfterReconnect()
		}
	case connection.EventDisconnected:
		if !ev.Requested {
			f.mu.Lock()
			f.dropped = true
			f.mu.Unlock()
		}
	case connection.EventError:
		f.logger.Warn("transport error", "attempt", ev.Attempt, "error", ev.Err)
	}
	f.notifyChange()
}

func (f *Feed) refreshAfterReconnect() {
	defer f.wg.Done()

	if err := f.load(f.ctx); err != nil {
		if !errors.Is(err, snapshot.ErrSuperseded) {
			f.logger.Warn("refresh after reconnect failed", "error", err)
		}
		return
	}
	f.logger.Info("refreshed after reconnect", "alerts", f.store.Len())
}

func (f *Feed) onStatsHint(h model.StatsHint) {
	f.logger.Debug("server stats changed", "user_id", h.UserID, "at", h.At)
}

// seedGate holds back toasts until the first snapshot is applied, so that
// snapshot members streamed early never toast.
type seedGate struct{ f *Feed }

func (g seedGate) OnNewAlert(a model.Alert) bool {
	f := g.f
	f.mu.Lock()
	if !f.seeded {
		f.preSeed = append(f.preSeed, a)
		if quota := f.cfg.Toast.Quota; quota > 0 && len(f.preSeed) > quota {
			f.preSeed = f.preSeed[len(f.preSeed)-quota:]
		}
		f.mu.Unlock()
		return true
	}
	f.mu.Unlock()
	return f.toasts.OnNewAlert(a)
}

// -----------------------------------------------------------------------------
// Snapshot
// -----------------------------------------------------------------------------

// Refresh reloads the snapshot and replaces the store contents, keeping
// pending optimistic edits. Returns snapshot.ErrSuperseded when a newer
// refresh overtook this one.
func (f *Feed) Refresh(ctx context.Context) error {
	if err := f.checkRunning(); err != nil {
		return err
	}
	return f.load(ctx)
}

func (f *Feed) load(ctx context.Context) error {
	f.store.BeginSnapshot()
	snap, err := f.loader.Load(ctx, f.cfg.Identity.ID)
	if errors.Is(err, snapshot.ErrSuperseded) {
		return err
	}
	if err != nil {
		f.mu.Lock()
		f.degraded = true
		f.lastErr = err
		f.mu.Unlock()
		f.notifyChange()
		return err
	}

	if !f.apply(snap) {
		return snapshot.ErrSuperseded
	}
	return nil
}

// apply seeds the store unless a newer load started after snap was fetched.
func (f *Feed) apply(snap *snapshot.Snapshot) bool {
	f.seedMu.Lock()
	if f.loader.Generation() != snap.Generation {
		f.seedMu.Unlock()
		f.logger.Debug("discarding overtaken snapshot", "generation", snap.Generation)
		return false
	}

	ids := make([]string, len(snap.Alerts))
	for i, a := range snap.Alerts {
		ids[i] = a.ID
	}
	f.toasts.MarkSeen(ids...)
	f.store.Seed(snap.Alerts, f.store.Seeded())
	f.seedMu.Unlock()

	f.mu.Lock()
	pending := f.preSeed
	f.preSeed = nil
	f.seeded = true
	f.degraded = false
	f.lastErr = nil
	f.lastRefresh = snap.FetchedAt
	f.refreshes++
	f.mu.Unlock()

	for _, a := range pending {
		if cur, ok := f.store.Get(a.ID); ok {
			f.toasts.OnNewAlert(cur)
		}
	}

	f.notifyChange()
	return true
}

// -----------------------------------------------------------------------------
// Actions
// -----------------------------------------------------------------------------

// MarkRead marks id read locally, then confirms with the server. On failure
// the local change is reverted and the *api.RequestError is returned.
func (f *Feed) MarkRead(ctx context.Context, id string) error {
	if err := f.checkRunning(); err != nil {
		return err
	}

	token, err := f.store.MarkRead(id)
	if err != nil {
		return err
	}
	f.toasts.Dismiss(id)

	ctx, cancel := context.WithTimeout(ctx, f.cfg.RequestTimeout)
	defer cancel()

	if err := f.deps.API.MarkRead(ctx, id); err != nil {
		reverted := f.store.Revert(token)
		f.logger.Warn("mark read failed",
			"id", id,
			"kind", api.KindOf(err),
			"reverted", reverted,
			"error", err,
		)
		return err
	}
	f.store.Commit(token)
	return nil
}

// Delete removes id locally, then confirms with the server. On failure the
// alert is restored and the *api.RequestError is returned.
func (f *Feed) Delete(ctx context.Context, id string) error {
	if err := f.checkRunning(); err != nil {
		return err
	}

	token, err := f.store.Delete(id)
	if err != nil {
		return err
	}
	f.toasts.Dismiss(id)

	ctx, cancel := context.WithTimeout(ctx, f.cfg.RequestTimeout)
	defer cancel()

	if err := f.deps.API.DeleteAlert(ctx, id); err != nil {
		reverted := f.store.Revert(token)
		f.logger.Warn("delete failed",
			"id", id,
			"kind", api.KindOf(err),
			"reverted", reverted,
			"error", err,
		)
		return err
	}
	f.store.Commit(token)
	return nil
}

// Reconnect restarts the transport after retries were exhausted.
func (f *Feed) Reconnect(ctx context.Context) error {
	if err := f.checkRunning(); err != nil {
		return err
	}
	f.ensureSubscribed()
	return f.deps.Transport.Reconnect(ctx)
}

// Dismiss hides the toast of id. Dismissing twice is a no-op.
func (f *Feed) Dismiss(id string) bool {
	return f.toasts.Dismiss(id)
}

// -----------------------------------------------------------------------------
// Views
// -----------------------------------------------------------------------------

// ConnectionStatus returns the transport state.
func (f *Feed) ConnectionStatus() model.ConnectionState {
	return f.deps.Transport.State()
}

// IsConnected reports whether the transport is connected.
func (f *Feed) IsConnected() bool {
	return f.deps.Transport.IsConnected()
}

// Alerts returns the alerts newest first.
func (f *Feed) Alerts() []model.Alert {
	return f.store.List()
}

// Stats returns alert counts.
func (f *Feed) Stats() model.Stats {
	return f.store.Stats()
}

// Toasts returns the visible toasts, oldest first.
func (f *Feed) Toasts() []toast.Toast {
	return f.toasts.Visible()
}

// Degraded reports whether the last snapshot load failed.
func (f *Feed) Degraded() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.degraded
}

// LastError returns the error of the last failed snapshot load, if degraded.
func (f *Feed) LastError() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastErr
}

// JournalQueue returns the router's record queue, nil unless journaling is
// enabled in the router config.
func (f *Feed) JournalQueue() *router.Queue[router.Record] {
	return f.router.Queue()
}

// Diagnostics returns statistics of every component.
func (f *Feed) Diagnostics() Diagnostics {
	d := Diagnostics{
		Alerts:        f.store.Stats(),
		Connection:    f.deps.Transport.Stats(),
		Subscriptions: f.registry.Stats(),
		Router:        f.router.Stats(),
		Toasts:        len(f.toasts.Visible()),
	}

	f.mu.Lock()
	d.Degraded = f.degraded
	if f.lastErr != nil {
		d.LastError = f.lastErr.Error()
	}
	d.LastRefresh = f.lastRefresh
	d.Refreshes = f.refreshes
	f.mu.Unlock()

	return d
}

// OnChange registers fn to be called after alerts, toasts, connection state
// or the degraded flag change. Listeners run on one goroutine owned by the
// feed and may call any Feed method, Stop included. Changes that arrive
// while listeners run are coalesced into a single further call. It returns
// a function removing fn.
func (f *Feed) OnChange(fn func()) (remove func()) {
	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.listeners[id] = fn
	f.mu.Unlock()

	return func() {
		f.mu.Lock()
		delete(f.listeners, id)
		f.mu.Unlock()
	}
}

func (f *Feed) notifyChange() {
	select {
	case f.changed <- struct{}{}:
	default:
	}
}

// notifyLoop calls the change listeners until the feed is stopped.
func (f *Feed) notifyLoop() {
	for {
		select {
		case <-f.ctx.Done():
			return
		case <-f.changed:
		}

		f.mu.Lock()
		fns := make([]func(), 0, len(f.listeners))
		for _, fn := range f.listeners {
			fns = append(fns, fn)
		}
		f.mu.Unlock()

		for _, fn := range fns {
			f.call(fn)
		}
	}
}

func (f *Feed) call(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			f.logger.Error("change listener panicked", "panic", r)
		}
	}()
	fn()
}
