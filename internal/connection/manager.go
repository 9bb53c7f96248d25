package connection

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/rickgao/alert-feed/internal/model"
)

// Manager owns the single logical broker connection.
type Manager interface {
	// Connect establishes the connection for identity. Calls made while
	// connecting or connected share the existing attempt or socket.
	Connect(ctx context.Context, id Identity) error

	// Disconnect tears the connection down and stops automatic reconnection.
	Disconnect(ctx context.Context) error

	// Reconnect restarts connection attempts, resetting the retry budget.
	Reconnect(ctx context.Context) error

	// Close disconnects and releases the manager. Connect fails afterwards.
	Close(ctx context.Context) error

	// Publish sends payload to destination. Best-effort; never panics.
	Publish(destination string, payload any) bool

	// BrokerSubscribe sends a broker-level subscribe for topic.
	BrokerSubscribe(topic string) bool

	// BrokerUnsubscribe sends a broker-level unsubscribe for topic.
	BrokerUnsubscribe(topic string) bool

	// SetInbound installs the handler for inbound "message" frames.
	SetInbound(h InboundHandler)

	// Listen registers a lifecycle listener and returns a function removing it.
	Listen(fn Listener) (remove func())

	// State returns the current connection state.
	State() model.ConnectionState

	// IsConnected reports whether the state is Connected.
	IsConnected() bool

	// Stats returns transport statistics.
	Stats() ManagerStats
}

const connectKey = "connect"

// manager implements the Manager interface.
type manager struct {
	cfg    ManagerConfig
	logger *slog.Logger

	// Test seam; defaults to NewClient.
	newClient func(ClientConfig, *slog.Logger) Client

	flight singleflight.Group

	// Lifetime of the manager; canceled by Close.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.Mutex
	state       model.ConnectionState
	identity    Identity
	hasIdentity bool
	closed      bool
	client      Client
	sessionID   string
	attempts    int
	lastErr     error
	lastConnAt  time.Time

	// epoch is bumped by Disconnect; a dial started in an older epoch is discarded.
	epoch      uint64
	dialCtx    context.Context
	dialCancel context.CancelFunc

	sessionCancel context.CancelFunc
	loopCancel    context.CancelFunc
	loopRunning   bool

	inbound InboundHandler

	// Events waiting for delivery; draining is set while one goroutine
	// delivers them. Guarded by mu.
	events   []pendingEvent
	draining bool

	listeners   map[int]Listener
	listenerSeq []int
	nextListen  int

	cmdID          atomic.Int64
	connects       atomic.Int64
	framesReceived atomic.Int64
	parseErrors    atomic.Int64
	publishDrops   atomic.Int64
}

// NewManager creates a new Transport Manager in the Disconnected state.
func NewManager(cfg ManagerConfig, logger *slog.Logger) Manager {
	return newManager(cfg, logger)
}

func newManager(cfg ManagerConfig, logger *slog.Logger) *manager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultManagerConfig().ConnectTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	dialCtx, dialCancel := context.WithCancel(ctx)

	return &manager{
		cfg:        cfg,
		logger:     logger,
		newClient:  NewClient,
		ctx:        ctx,
		cancel:     cancel,
		state:      model.Disconnected,
		dialCtx:    dialCtx,
		dialCancel: dialCancel,
		listeners:  make(map[int]Listener),
	}
}

// Connect establishes the connection.
func (m *manager) Connect(ctx context.Context, id Identity) error {
	if id.ID == "" {
		return ErrMissingIdentity
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrManagerClosed
	}
	if m.state == model.Connected {
		m.mu.Unlock()
		return nil
	}
	m.identity = id
	m.hasIdentity = true
	epoch := m.epoch
	m.mu.Unlock()

	err := m.dial(ctx, 0, false)
	if err != nil && !errors.Is(err, ErrManagerClosed) && !m.superseded(err) {
		m.startReconnect(epoch, false)
	}
	return err
}

// Reconnect restarts connection attempts with a fresh retry budget.
func (m *manager) Reconnect(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrManagerClosed
	}
	if !m.hasIdentity {
		m.mu.Unlock()
		return ErrMissingIdentity
	}
	if m.state == model.Connected {
		m.mu.Unlock()
		return nil
	}
	m.stopLoopLocked()
	m.attempts = 0
	epoch := m.epoch
	m.mu.Unlock()

	m.logger.Info("manual reconnect requested")

	err := m.dial(ctx, 0, false)
	if err != nil && !errors.Is(err, ErrManagerClosed) && !m.superseded(err) {
		m.startReconnect(epoch, false)
	}
	return err
}

// Disconnect tears down the connection.
func (m *manager) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	m.epoch++
	m.stopLoopLocked()
	m.dialCancel()
	m.dialCtx, m.dialCancel = context.WithCancel(m.ctx)
	if m.sessionCancel != nil {
		m.sessionCancel()
		m.sessionCancel = nil
	}
	client := m.client
	m.client = nil
	m.attempts = 0
	m.mu.Unlock()

	if client != nil {
		if err := client.Close(); err != nil {
			m.logger.Debug("close websocket", "error", err)
		}
	}

	if m.transition(Event{Kind: EventDisconnected, Requested: true}) {
		m.logger.Info("transport disconnected")
	}
	return nil
}

// Close shuts the manager down and waits for its goroutines.
func (m *manager) Close(ctx context.Context) error {
	m.Disconnect(ctx)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	m.cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		m.logger.Warn("transport shutdown timeout")
		return ctx.Err()
	}

	m.logger.Info("transport manager closed")
	return nil
}

// superseded reports whether err came from a dial that Disconnect abandoned.
func (m *manager) superseded(err error) bool {
	return errors.Is(err, errSuperseded)
}

var errSuperseded = errors.New("connect attempt superseded by disconnect")

// dial runs one connect attempt, shared by every concurrent caller.
// Events queued by the attempt are delivered after the shared call
// returns, so a listener may itself call Connect or Reconnect.
func (m *manager) dial(ctx context.Context, attempt int, final bool) error {
	_, err, shared := m.flight.Do(connectKey, func() (any, error) {
		return nil, m.connectOnce(ctx, attempt, final)
	})
	if shared {
		m.logger.Debug("joined in-flight connect")
	}
	m.flush()
	return err
}

// connectOnce performs a single connect attempt.
func (m *manager) connectOnce(ctx context.Context, attempt int, final bool) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrManagerClosed
	}
	if m.state == model.Connected {
		m.mu.Unlock()
		return nil
	}
	epoch := m.epoch
	dialCtx := m.dialCtx
	cfg := m.cfg.Client
	cfg.Identity = m.identity
	m.mu.Unlock()

	if _, ok := m.enqueue(Event{Kind: EventConnecting, Attempt: attempt}); !ok {
		if m.State() == model.Connected {
			return nil
		}
		return fmt.Errorf("cannot connect from state %s", m.State())
	}

	sessionID := uuid.NewString()
	logger := m.logger.With("session", sessionID)
	client := m.newClient(cfg, logger)

	attemptCtx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
	defer cancel()
	stop := context.AfterFunc(dialCtx, cancel)
	defer stop()

	err := client.Connect(attemptCtx)
	if err != nil {
		client.Close()

		m.mu.Lock()
		stale := m.epoch != epoch
		m.mu.Unlock()
		if stale {
			return errSuperseded
		}

		if final {
			err = fmt.Errorf("%w: %w", ErrRetriesExhausted, err)
		}
		logger.Warn("connect failed",
			"attempt", attempt,
			"url", cfg.URL,
			"error", err,
		)
		m.enqueue(Event{Kind: EventError, Err: err, Attempt: attempt})
		return err
	}

	m.mu.Lock()
	if m.epoch != epoch || m.closed {
		m.mu.Unlock()
		client.Close()
		return errSuperseded
	}
	// The read loop waits until Connected has reached every listener
	// (the subscription registry), so resubscription precedes any inbound
	// dispatch.
	ready, ok := m.enqueueLocked(Event{Kind: EventConnected, Attempt: attempt})
	if !ok {
		m.mu.Unlock()
		client.Close()
		return errSuperseded
	}
	sessCtx, sessCancel := context.WithCancel(m.ctx)
	m.client = client
	m.sessionID = sessionID
	m.sessionCancel = sessCancel
	m.attempts = 0
	m.lastConnAt = time.Now()
	m.mu.Unlock()

	m.connects.Add(1)

	logger.Info("transport connected",
		"identity", cfg.Identity.ID,
		"role", cfg.Identity.Role,
		"attempt", attempt,
	)

	m.wg.Add(1)
	go m.readLoop(sessCtx, client, ready)

	return nil
}

// readLoop consumes frames for one socket until it fails or is replaced.
// Nothing is read before ready is closed.
func (m *manager) readLoop(ctx context.Context, client Client, ready <-chan struct{}) {
	defer m.wg.Done()

	select {
	case <-ctx.Done():
		return
	case <-ready:
	}

	for {
		select {
		case <-ctx.Done():
			return

		case err := <-client.Errors():
			m.handleDrop(client, err)
			return

		case msg, ok := <-client.Messages():
			if !ok {
				return
			}
			m.handleFrame(msg)
		}
	}
}

// handleDrop moves to Disconnected after an unexpected socket failure and
// starts the reconnect loop.
func (m *manager) handleDrop(client Client, err error) {
	m.mu.Lock()
	if m.client != client {
		m.mu.Unlock()
		return
	}
	m.client = nil
	if m.sessionCancel != nil {
		m.sessionCancel()
		m.sessionCancel = nil
	}
	epoch := m.epoch
	m.mu.Unlock()

	client.Close()

	m.logger.Warn("transport dropped", "error", err)
	m.transition(Event{Kind: EventDisconnected, Err: err})
	m.startReconnect(epoch, true)
}

// startReconnect launches the retry loop. Unless force is set, a running
// loop is left alone; after a drop any running loop is stale and replaced.
// Nothing starts if Disconnect ran since epoch was read, including from
// a listener.
func (m *manager) startReconnect(epoch uint64, force bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed || m.epoch != epoch || m.cfg.Retry.MaxAttempts < 1 {
		return
	}
	if m.loopRunning {
		if !force {
			return
		}
		m.stopLoopLocked()
	}

	loopCtx, cancel := context.WithCancel(m.ctx)
	m.loopCancel = cancel
	m.loopRunning = true

	m.wg.Add(1)
	go m.reconnectLoop(loopCtx, cancel)
}

// stopLoopLocked cancels the retry loop. Must be called with mu held.
func (m *manager) stopLoopLocked() {
	if m.loopCancel != nil {
		m.loopCancel()
		m.loopCancel = nil
	}
	m.loopRunning = false
}

// reconnectLoop retries under the configured policy and ends in the
// terminal Error state when the budget is spent.
func (m *manager) reconnectLoop(ctx context.Context, cancel context.CancelFunc) {
	defer m.wg.Done()
	defer func() {
		m.mu.Lock()
		if ctx.Err() == nil {
			m.loopRunning = false
			m.loopCancel = nil
		}
		m.mu.Unlock()
		cancel()
	}()

	policy := m.cfg.Retry
	b := policy.newBackOff()

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		wait := b.NextBackOff()
		if wait == backoff.Stop {
			wait = policy.Interval
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}

		if m.State() == model.Connected {
			return
		}

		m.mu.Lock()
		m.attempts = attempt
		m.mu.Unlock()

		m.logger.Info("attempting reconnection",
			"attempt", attempt,
			"max_attempts", policy.MaxAttempts,
			"wait", wait,
		)

		err := m.dial(ctx, attempt, attempt == policy.MaxAttempts)
		if err == nil {
			return
		}
		if errors.Is(err, ErrManagerClosed) || m.superseded(err) || ctx.Err() != nil {
			return
		}
	}

	m.logger.Error("reconnect attempts exhausted, manual reconnect required",
		"attempts", policy.MaxAttempts,
	)
}

// newBackOff builds the interval generator for the policy.
func (p RetryPolicy) newBackOff() backoff.BackOff {
	if p.Mode == RetryFixed {
		return backoff.NewConstantBackOff(p.Interval)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Interval
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	b.Multiplier = p.Multiplier
	if b.Multiplier <= 1 {
		b.Multiplier = 2
	}
	b.RandomizationFactor = p.Jitter
	b.Reset()
	return b
}

// pendingEvent is a lifecycle event queued for delivery. done is closed
// once every listener has seen it.
type pendingEvent struct {
	ev   Event
	done chan struct{}
}

// transition moves to the event's state and delivers queued events.
func (m *manager) transition(ev Event) bool {
	_, ok := m.enqueue(ev)
	m.flush()
	return ok
}

func (m *manager) enqueue(ev Event) (<-chan struct{}, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enqueueLocked(ev)
}

// enqueueLocked applies the event's state change and queues it. Automatic
// transitions must follow model.ConnectionState.CanTransition; a requested
// disconnect is legal from any state except Disconnected. Must be called
// with mu held.
func (m *manager) enqueueLocked(ev Event) (<-chan struct{}, bool) {
	next := ev.Kind.State()

	if ev.Requested {
		if m.state == model.Disconnected {
			return nil, false
		}
	} else if !m.state.CanTransition(next) {
		m.logger.Debug("ignoring illegal transition",
			"from", m.state,
			"to", next,
		)
		return nil, false
	}
	m.state = next
	if ev.Err != nil {
		m.lastErr = ev.Err
	}
	ev.At = time.Now()

	done := make(chan struct{})
	m.events = append(m.events, pendingEvent{ev: ev, done: done})
	return done, true
}

// flush delivers queued events in order with no lock held. When another
// goroutine is already draining, including a listener calling back into
// the manager, flush returns and that goroutine delivers the new events.
func (m *manager) flush() {
	m.mu.Lock()
	if m.draining {
		m.mu.Unlock()
		return
	}
	m.draining = true

	for len(m.events) > 0 {
		p := m.events[0]
		m.events[0] = pendingEvent{}
		m.events = m.events[1:]
		listeners := make([]Listener, 0, len(m.listenerSeq))
		for _, id := range m.listenerSeq {
			listeners = append(listeners, m.listeners[id])
		}
		m.mu.Unlock()

		for _, l := range listeners {
			m.notify(l, p.ev)
		}
		close(p.done)

		m.mu.Lock()
	}
	m.events = nil
	m.draining = false
	m.mu.Unlock()
}

func (m *manager) notify(l Listener, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("lifecycle listener panicked", "event", ev.Kind, "panic", r)
		}
	}()
	l(ev)
}

// Listen registers a lifecycle listener.
func (m *manager) Listen(fn Listener) func() {
	m.mu.Lock()
	id := m.nextListen
	m.nextListen++
	m.listeners[id] = fn
	m.listenerSeq = append(m.listenerSeq, id)
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			delete(m.listeners, id)
			for i, v := range m.listenerSeq {
				if v == id {
					m.listenerSeq = append(m.listenerSeq[:i], m.listenerSeq[i+1:]...)
					break
				}
			}
		})
	}
}

// SetInbound installs the inbound handler.
func (m *manager) SetInbound(h InboundHandler) {
	m.mu.Lock()
	m.inbound = h
	m.mu.Unlock()
}

// State returns the current state.
func (m *manager) State() model.ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsConnected reports whether the state is Connected.
func (m *manager) IsConnected() bool {
	return m.State() == model.Connected
}

// Stats returns current statistics.
func (m *manager) Stats() ManagerStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := ManagerStats{
		State:           m.state,
		Attempts:        m.attempts,
		Connects:        m.connects.Load(),
		FramesReceived:  m.framesReceived.Load(),
		ParseErrors:     m.parseErrors.Load(),
		PublishDrops:    m.publishDrops.Load(),
		SessionID:       m.sessionID,
		LastConnectedAt: m.lastConnAt,
	}
	if m.lastErr != nil {
		st.LastError = m.lastErr.Error()
	}
	return st
}

// -----------------------------------------------------------------------------
// Outbound
// -----------------------------------------------------------------------------

// Publish sends a payload to a broker destination.
func (m *manager) Publish(destination string, payload any) bool {
	raw, err := marshalPayload(payload)
	if err != nil {
		m.publishDrops.Add(1)
		m.logger.Warn("dropping publish, payload not encodable",
			"destination", destination,
			"error", err,
		)
		return false
	}

	if !m.send("publish", PublishParams{Destination: destination, Payload: raw}) {
		m.publishDrops.Add(1)
		m.logger.Warn("dropping publish", "destination", destination, "state", m.State())
		return false
	}
	return true
}

func marshalPayload(payload any) (json.RawMessage, error) {
	switch p := payload.(type) {
	case json.RawMessage:
		if !json.Valid(p) {
			return nil, ErrMalformedFrame
		}
		return p, nil
	case []byte:
		if !json.Valid(p) {
			return nil, ErrMalformedFrame
		}
		return json.RawMessage(p), nil
	default:
		return json.Marshal(payload)
	}
}

// BrokerSubscribe sends a subscribe command.
func (m *manager) BrokerSubscribe(topic string) bool {
	return m.send("subscribe", TopicParams{Topic: topic})
}

// BrokerUnsubscribe sends an unsubscribe command.
func (m *manager) BrokerUnsubscribe(topic string) bool {
	return m.send("unsubscribe", TopicParams{Topic: topic})
}

// send writes a command on the live socket. Returns false when not connected
// or the write fails.
func (m *manager) send(cmd string, params any) bool {
	m.mu.Lock()
	if m.state != model.Connected || m.client == nil {
		m.mu.Unlock()
		return false
	}
	client := m.client
	m.mu.Unlock()

	data, err := json.Marshal(Command{
		ID:     m.cmdID.Add(1),
		Cmd:    cmd,
		Params: params,
	})
	if err != nil {
		m.logger.Warn("failed to encode command", "cmd", cmd, "error", err)
		return false
	}

	if err := client.Send(data); err != nil {
		m.logger.Warn("failed to send command", "cmd", cmd, "error", err)
		return false
	}
	return true
}

// -----------------------------------------------------------------------------
// Inbound
// -----------------------------------------------------------------------------

// handleFrame parses one inbound frame. Malformed frames are logged and
// dropped here and never reach the inbound handler.
func (m *manager) handleFrame(msg TimestampedMessage) {
	m.framesReceived.Add(1)

	var f Frame
	if err := json.Unmarshal(msg.Data, &f); err != nil {
		m.parseErrors.Add(1)
		m.logger.Warn("dropping unparseable frame", "error", err, "size", len(msg.Data))
		return
	}

	switch f.Type {
	case "message":
		body, err := unwrapBody(f.Body)
		if err != nil || f.Topic == "" {
			m.parseErrors.Add(1)
			m.logger.Warn("dropping malformed message frame", "topic", f.Topic, "error", err)
			return
		}
		m.deliver(f.Topic, body)

	case "error":
		var em ErrorMsg
		if len(f.Msg) > 0 {
			if err := json.Unmarshal(f.Msg, &em); err != nil {
				m.parseErrors.Add(1)
				m.logger.Warn("dropping malformed error frame", "id", f.ID, "error", err)
				return
			}
		}
		m.logger.Warn("broker error", "id", f.ID, "code", em.Code, "message", em.Message)

	case "subscribed", "unsubscribed", "ok":
		m.logger.Debug("broker ack", "id", f.ID, "type", f.Type)

	default:
		m.logger.Debug("ignoring unknown frame type", "type", f.Type)
	}
}

// unwrapBody accepts a JSON value or a JSON string holding JSON.
func unwrapBody(raw json.RawMessage) ([]byte, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, ErrMalformedFrame
	}
	if raw[0] != '"' {
		return raw, nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	if !json.Valid([]byte(s)) {
		return nil, ErrMalformedFrame
	}
	return []byte(s), nil
}

func (m *manager) deliver(topic string, body []byte) {
	m.mu.Lock()
	h := m.inbound
	m.mu.Unlock()

	if h == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("inbound handler panicked", "topic", topic, "panic", r)
		}
	}()
	h(topic, body)
}
