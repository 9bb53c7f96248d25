package toast

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/rickgao/alert-feed/internal/model"
)

type entry struct {
	toast Toast
	seq   uint64
	timer *time.Timer
}

// Scheduler decides which new alerts become toasts and owns their timers.
type Scheduler struct {
	cfg      Config
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time

	mu      sync.Mutex
	visible []*entry // Oldest first
	seen    map[string]struct{}
	toasted map[string]struct{}
	seq     uint64
	closed  bool
	perm    Permission
	asking  bool
	asked   bool

	listenMu   sync.Mutex
	listeners  map[int]Listener
	nextListen int

	wg sync.WaitGroup
}

// NewScheduler creates a scheduler. A nil notifier behaves like NopNotifier.
func NewScheduler(cfg Config, notifier Notifier, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if notifier == nil {
		notifier = NopNotifier{}
	}
	def := DefaultConfig()
	if cfg.Quota < 1 {
		cfg.Quota = def.Quota
	}
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	if cfg.PermissionTimeout <= 0 {
		cfg.PermissionTimeout = def.PermissionTimeout
	}

	return &Scheduler{
		cfg:       cfg,
		notifier:  notifier,
		logger:    logger.With("component", "toast"),
		now:       time.Now,
		seen:      make(map[string]struct{}),
		toasted:   make(map[string]struct{}),
		listeners: make(map[int]Listener),
	}
}

// MarkSeen records alerts that must never toast, such as snapshot members.
func (s *Scheduler) MarkSeen(ids ...string) {
	s.mu.Lock()
	for _, id := range ids {
		s.seen[id] = struct{}{}
	}
	s.mu.Unlock()
}

// OnNewAlert admits a toast for a new unread alert. Returns false when the
// alert is suppressed.
func (s *Scheduler) OnNewAlert(a model.Alert) bool {
	s.mu.Lock()
	if s.closed || a.ID == "" || a.ReadState == model.Read {
		s.mu.Unlock()
		return false
	}
	if _, ok := s.seen[a.ID]; ok {
		s.mu.Unlock()
		return false
	}
	if _, ok := s.toasted[a.ID]; ok {
		s.mu.Unlock()
		return false
	}
	s.toasted[a.ID] = struct{}{}

	var events []Event
	for len(s.visible) >= s.cfg.Quota {
		oldest := s.visible[0]
		s.visible = s.visible[1:]
		oldest.stop()
		events = append(events, Event{Kind: EventEvicted, Toast: oldest.toast})
	}

	s.seq++
	e := &entry{
		toast: Toast{Alert: a, ShownAt: s.now()},
		seq:   s.seq,
	}
	if !(s.cfg.StickyUrgent && a.Severity == model.SeverityUrgent) {
		e.toast.ExpiresAt = e.toast.ShownAt.Add(s.cfg.TTL)
		id, seq := a.ID, e.seq
		e.timer = time.AfterFunc(s.cfg.TTL, func() { s.expire(id, seq) })
	}
	s.visible = append(s.visible, e)
	events = append(events, Event{Kind: EventShown, Toast: e.toast})

	show, ask := s.permissionLocked()
	if ask {
		s.wg.Add(1)
	}
	s.mu.Unlock()

	if ask {
		go s.requestPermission()
	}
	if show {
		s.notifier.Show(a)
	}

	s.logger.Debug("toast shown", "id", a.ID, "severity", a.Severity, "sticky", e.toast.Sticky())
	s.emit(events)
	return true
}

// permissionLocked reports whether to Show now and whether to start the
// one-time permission request.
func (s *Scheduler) permissionLocked() (show, ask bool) {
	switch {
	case s.perm == PermissionGranted:
		return true, false
	case s.asked || s.asking:
		return false, false
	default:
		s.asking = true
		return false, true
	}
}

func (s *Scheduler) requestPermission() {
	defer s.wg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.PermissionTimeout)
	defer cancel()
	perm := s.notifier.RequestPermission(ctx)

	s.mu.Lock()
	s.perm = perm
	s.asking = false
	s.asked = true
	var pending []model.Alert
	if perm == PermissionGranted && !s.closed {
		for _, e := range s.visible {
			pending = append(pending, e.toast.Alert)
		}
	}
	s.mu.Unlock()

	s.logger.Info("notification permission", "permission", perm)
	for _, a := range pending {
		s.notifier.Show(a)
	}
}

// Permission returns the notifier permission, PermissionUnknown until the
// first toast triggered the request and it completed.
func (s *Scheduler) Permission() Permission {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.perm
}

func (s *Scheduler) expire(id string, seq uint64) {
	s.mu.Lock()
	idx := s.indexLocked(id)
	if idx < 0 || s.visible[idx].seq != seq {
		s.mu.Unlock()
		return
	}
	e := s.visible[idx]
	s.visible = append(s.visible[:idx:idx], s.visible[idx+1:]...)
	s.mu.Unlock()

	s.logger.Debug("toast expired", "id", id)
	s.emit([]Event{{Kind: EventExpired, Toast: e.toast}})
}

// Dismiss removes the toast for id. Dismissing a toast that is no longer
// visible is a no-op returning false.
func (s *Scheduler) Dismiss(id string) bool {
	s.mu.Lock()
	idx := s.indexLocked(id)
	if idx < 0 {
		s.mu.Unlock()
		return false
	}
	e := s.visible[idx]
	s.visible = append(s.visible[:idx:idx], s.visible[idx+1:]...)
	e.stop()
	e.toast.Dismissed = true
	s.mu.Unlock()

	s.emit([]Event{{Kind: EventDismissed, Toast: e.toast}})
	return true
}

func (s *Scheduler) indexLocked(id string) int {
	for i, e := range s.visible {
		if e.toast.Alert.ID == id {
			return i
		}
	}
	return -1
}

func (e *entry) stop() {
	if e.timer != nil {
		e.timer.Stop()
	}
}

// Visible returns the visible toasts, oldest first.
func (s *Scheduler) Visible() []Toast {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Toast, len(s.visible))
	for i, e := range s.visible {
		out[i] = e.toast
	}
	return out
}

// Listen registers fn for toast events and returns a function removing it.
func (s *Scheduler) Listen(fn Listener) (remove func()) {
	s.listenMu.Lock()
	id := s.nextListen
	s.nextListen++
	s.listeners[id] = fn
	s.listenMu.Unlock()

	return func() {
		s.listenMu.Lock()
		delete(s.listeners, id)
		s.listenMu.Unlock()
	}
}

func (s *Scheduler) emit(events []Event) {
	if len(events) == 0 {
		return
	}

	s.listenMu.Lock()
	listeners := make([]Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		listeners = append(listeners, l)
	}
	s.listenMu.Unlock()

	for _, ev := range events {
		for _, l := range listeners {
			s.call(l, ev)
		}
	}
}

func (s *Scheduler) call(l Listener, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("toast listener panicked", "event", ev.Kind, "panic", r)
		}
	}()
	l(ev)
}

// Close stops every timer and clears the visible toasts. OnNewAlert is a
// no-op afterwards.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for _, e := range s.visible {
		e.stop()
	}
	s.visible = nil
	s.mu.Unlock()

	s.wg.Wait()
}
