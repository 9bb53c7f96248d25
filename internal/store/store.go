package store

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/rickgao/alert-feed/internal/model"
)

// Store is the single deduplicated, ordered alert collection.
type Store struct {
	logger *slog.Logger

	mu         sync.RWMutex
	alerts     map[string]model.Alert
	tombstones map[string]struct{}
	pending    map[Token]*pendingOp
	seeded     bool

	// Ids inserted, read or deleted by delta since the last BeginSnapshot
	// or Seed. A refresh seed may predate them.
	streamed     map[string]struct{}
	streamedGone map[string]struct{}

	// Derived on every mutation.
	sorted []model.Alert
	stats  model.Stats

	listenMu   sync.Mutex
	listeners  map[int]Listener
	nextListen int
}

// New creates an empty, unseeded store.
func New(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Store{
		logger:     logger.With("component", "store"),
		alerts:     make(map[string]model.Alert),
		tombstones: make(map[string]struct{}),
		pending:    make(map[Token]*pendingOp),
		listeners:  make(map[int]Listener),
	}
	s.resetStreamedLocked()
	s.recomputeLocked()
	return s
}

// -----------------------------------------------------------------------------
// Snapshot
// -----------------------------------------------------------------------------

// BeginSnapshot marks the start of a snapshot fetch. Deltas applied after
// it survive a refresh seed of that snapshot.
func (s *Store) BeginSnapshot() {
	s.mu.Lock()
	s.resetStreamedLocked()
	s.mu.Unlock()
}

func (s *Store) resetStreamedLocked() {
	s.streamed = make(map[string]struct{})
	s.streamedGone = make(map[string]struct{})
}

// Seed loads a snapshot. It applies when the store was never seeded or when
// refresh is set; otherwise it is ignored and returns false.
//
// The first seed keeps alerts that arrived by delta before it. A refresh
// replaces the contents, then re-applies pending optimistic edits and the
// deltas applied since BeginSnapshot. Read never moves back to Unread.
func (s *Store) Seed(alerts []model.Alert, refresh bool) bool {
	s.mu.Lock()
	if s.seeded && !refresh {
		s.mu.Unlock()
		s.logger.Debug("ignoring non-refresh seed of seeded store", "count", len(alerts))
		return false
	}

	snapshot := make(map[string]model.Alert, len(alerts))
	dropped := 0
	for _, a := range alerts {
		if a.ID == "" {
			dropped++
			continue
		}
		if prev, ok := snapshot[a.ID]; ok {
			a = mergeAlert(prev, a)
		}
		snapshot[a.ID] = a
	}

	kept := 0
	if refresh {
		for id := range s.streamedGone {
			delete(snapshot, id)
		}
		prev := s.alerts
		s.alerts = snapshot
		for id := range snapshot {
			delete(s.tombstones, id)
		}
		s.reapplyPendingLocked()

		for id, a := range s.alerts {
			if cur, ok := prev[id]; ok {
				s.alerts[id] = mergeAlert(a, cur)
			}
		}
		for id := range s.streamed {
			cur, ok := prev[id]
			if !ok {
				continue
			}
			if _, present := s.alerts[id]; present {
				continue
			}
			if _, gone := s.tombstones[id]; gone || s.pendingDeleteLocked(id) {
				continue
			}
			s.alerts[id] = cur
			kept++
		}
	} else {
		for id, a := range snapshot {
			if _, gone := s.tombstones[id]; gone || s.pendingDeleteLocked(id) {
				continue
			}
			if cur, ok := s.alerts[id]; ok {
				s.alerts[id] = mergeAlert(a, cur)
				continue
			}
			s.alerts[id] = a
		}
	}

	s.seeded = true
	s.resetStreamedLocked()
	s.recomputeLocked()
	total := len(s.alerts)
	s.mu.Unlock()

	if dropped > 0 {
		s.logger.Warn("dropped malformed snapshot items", "count", dropped)
	}
	s.logger.Info("store seeded", "refresh", refresh, "alerts", total, "kept_streamed", kept)

	s.notify()
	return true
}

// reapplyPendingLocked keeps optimistic edits visible across a refresh. An
// edit the snapshot already reflects counts as confirmed.
func (s *Store) reapplyPendingLocked() {
	for _, op := range s.pending {
		if op.confirmed {
			continue
		}
		a, ok := s.alerts[op.id]
		switch op.kind {
		case opMarkRead:
			if !ok {
				continue
			}
			if a.ReadState == model.Read {
				op.confirmed = true
				continue
			}
			a.ReadState = model.Read
			s.alerts[op.id] = a
		case opDelete:
			if !ok {
				op.confirmed = true
				continue
			}
			delete(s.alerts, op.id)
		}
	}
}

// -----------------------------------------------------------------------------
// Deltas
// -----------------------------------------------------------------------------

// ApplyDelta applies one streamed event. Applying the same delta twice has the
// same effect as applying it once.
func (s *Store) ApplyDelta(d model.Delta) Outcome {
	s.mu.Lock()
	var out Outcome
	switch d := d.(type) {
	case model.NewAlert:
		out = s.applyNewLocked(d.Alert)
	case model.StatusChanged:
		out = s.applyStatusLocked(d.ID, d.State)
	case model.Deleted:
		out = s.applyDeletedLocked(d.ID)
	case model.StatsHint:
		out = Outcome{Ignored: true}
	default:
		out = Outcome{Ignored: true}
	}
	if out.Inserted || out.Changed {
		s.recomputeLocked()
	}
	s.mu.Unlock()

	if out.Inserted || out.Changed {
		s.notify()
	}
	return out
}

func (s *Store) applyNewLocked(a model.Alert) Outcome {
	if a.ID == "" {
		return Outcome{Ignored: true}
	}
	if _, gone := s.tombstones[a.ID]; gone || s.pendingDeleteLocked(a.ID) {
		return Outcome{Ignored: true}
	}

	cur, ok := s.alerts[a.ID]
	if !ok {
		s.alerts[a.ID] = a
		s.streamed[a.ID] = struct{}{}
		return Outcome{Inserted: true}
	}

	merged := mergeAlert(cur, a)
	if merged.ReadState == cur.ReadState {
		return Outcome{Ignored: true}
	}
	s.alerts[a.ID] = merged
	s.streamed[a.ID] = struct{}{}
	s.confirmLocked(opMarkRead, a.ID)
	return Outcome{Changed: true}
}

func (s *Store) applyStatusLocked(id string, state model.ReadState) Outcome {
	cur, ok := s.alerts[id]
	if !ok || state != model.Read {
		return Outcome{Ignored: true}
	}

	s.confirmLocked(opMarkRead, id)
	if cur.ReadState == model.Read {
		return Outcome{Ignored: true}
	}
	cur.ReadState = model.Read
	s.alerts[id] = cur
	s.streamed[id] = struct{}{}
	return Outcome{Changed: true}
}

func (s *Store) applyDeletedLocked(id string) Outcome {
	if id == "" {
		return Outcome{Ignored: true}
	}
	s.tombstones[id] = struct{}{}
	s.streamedGone[id] = struct{}{}
	delete(s.streamed, id)
	s.confirmLocked(opDelete, id)

	if _, ok := s.alerts[id]; !ok {
		return Outcome{Ignored: true}
	}
	delete(s.alerts, id)
	return Outcome{Changed: true}
}

// mergeAlert keeps cur and only lets the read state move forward.
func mergeAlert(cur, incoming model.Alert) model.Alert {
	if incoming.ReadState == model.Read {
		cur.ReadState = model.Read
	}
	return cur
}

// confirmLocked marks pending mutations of kind on id as confirmed by the server.
func (s *Store) confirmLocked(kind opKind, id string) {
	for _, op := range s.pending {
		if op.kind == kind && op.id == id {
			op.confirmed = true
		}
	}
}

func (s *Store) pendingDeleteLocked(id string) bool {
	for _, op := range s.pending {
		if op.kind == opDelete && op.id == id && !op.confirmed {
			return true
		}
	}
	return false
}

// -----------------------------------------------------------------------------
// Optimistic mutations
// -----------------------------------------------------------------------------

// MarkRead marks id read immediately and returns a token for Revert or Commit.
func (s *Store) MarkRead(id string) (Token, error) {
	return s.mutate(opMarkRead, id)
}

// Delete removes id immediately and returns a token for Revert or Commit.
func (s *Store) Delete(id string) (Token, error) {
	return s.mutate(opDelete, id)
}

func (s *Store) mutate(kind opKind, id string) (Token, error) {
	if id == "" {
		return "", ErrEmptyID
	}

	s.mu.Lock()
	cur, ok := s.alerts[id]
	if !ok {
		s.mu.Unlock()
		return "", ErrNotFound
	}

	token := Token(uuid.NewString())
	s.pending[token] = &pendingOp{kind: kind, id: id, prior: cur}

	changed := false
	switch kind {
	case opMarkRead:
		if cur.ReadState != model.Read {
			cur.ReadState = model.Read
			s.alerts[id] = cur
			changed = true
		}
	case opDelete:
		delete(s.alerts, id)
		changed = true
	}
	if changed {
		s.recomputeLocked()
	}
	s.mu.Unlock()

	s.logger.Debug("optimistic mutation", "op", kind, "id", id, "token", token)
	if changed {
		s.notify()
	}
	return token, nil
}

// Revert restores the state captured by token. It does nothing and returns
// false when the token is unknown, already settled, or the server confirmed
// the change in the meantime.
func (s *Store) Revert(token Token) bool {
	s.mu.Lock()
	op, ok := s.pending[token]
	if !ok {
		s.mu.Unlock()
		return false
	}
	delete(s.pending, token)

	if op.confirmed {
		s.mu.Unlock()
		s.logger.Debug("revert skipped, change confirmed by server", "id", op.id)
		return false
	}

	restored := false
	switch op.kind {
	case opMarkRead:
		if cur, ok := s.alerts[op.id]; ok && cur.ReadState != op.prior.ReadState {
			cur.ReadState = op.prior.ReadState
			s.alerts[op.id] = cur
			restored = true
		}
	case opDelete:
		_, gone := s.tombstones[op.id]
		if _, present := s.alerts[op.id]; !present && !gone {
			s.alerts[op.id] = op.prior
			restored = true
		}
	}
	if restored {
		s.recomputeLocked()
	}
	s.mu.Unlock()

	s.logger.Info("optimistic mutation reverted", "op", op.kind, "id", op.id, "restored", restored)
	if restored {
		s.notify()
	}
	return true
}

// Commit forgets token once the backing request succeeded. A committed delete
// leaves a tombstone.
func (s *Store) Commit(token Token) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	op, ok := s.pending[token]
	if !ok {
		return false
	}
	delete(s.pending, token)
	if op.kind == opDelete {
		s.tombstones[op.id] = struct{}{}
		s.streamedGone[op.id] = struct{}{}
	}
	return true
}

// -----------------------------------------------------------------------------
// Views
// -----------------------------------------------------------------------------

// recomputeLocked rebuilds the ordered listing and stats.
func (s *Store) recomputeLocked() {
	sorted := make([]model.Alert, 0, len(s.alerts))
	for _, a := range s.alerts {
		sorted = append(sorted, a)
	}
	model.SortAlerts(sorted)
	s.sorted = sorted
	s.stats = model.ComputeStats(sorted)
}

// List returns the alerts in canonical order.
func (s *Store) List() []model.Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.Alert(nil), s.sorted...)
}

// Get returns the alert with id.
func (s *Store) Get(id string) (model.Alert, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.alerts[id]
	return a, ok
}

// Len returns the number of alerts.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.alerts)
}

// Stats returns the derived statistics.
func (s *Store) Stats() model.Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := s.stats
	st.BySeverity = make(map[model.Severity]int, len(s.stats.BySeverity))
	for k, v := range s.stats.BySeverity {
		st.BySeverity[k] = v
	}
	return st
}

// Seeded reports whether a snapshot was ever applied.
func (s *Store) Seeded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.seeded
}

// Pending returns the number of unsettled optimistic mutations.
func (s *Store) Pending() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.pending)
}

// -----------------------------------------------------------------------------
// Change notification
// -----------------------------------------------------------------------------

// Listen registers fn for change notifications and returns a function removing it.
func (s *Store) Listen(fn Listener) (remove func()) {
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

func (s *Store) notify() {
	s.listenMu.Lock()
	listeners := make([]Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		listeners = append(listeners, l)
	}
	s.listenMu.Unlock()

	for _, l := range listeners {
		s.call(l)
	}
}

func (s *Store) call(l Listener) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("store listener panicked", "panic", r)
		}
	}()
	l()
}
