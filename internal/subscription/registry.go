package subscription

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/rickgao/alert-feed/internal/connection"
)

type handlerEntry struct {
	id uint64
	fn Handler
}

type topicEntry struct {
	handlers []handlerEntry
	// subscribed is set once a broker subscribe went out in the current
	// session; cleared when the connection goes down.
	subscribed bool
}

// Registry is a reference-counted topic multiplexer over one transport.
type Registry struct {
	transport Transport
	logger    *slog.Logger

	mu     sync.Mutex
	topics map[string]*topicEntry
	order  []string // Topics in registration order
	nextID uint64
	closed bool

	removeListener func()

	delivered    atomic.Int64
	unrouted     atomic.Int64
	resubscribes atomic.Int64
	panics       atomic.Int64
}

// NewRegistry creates a registry, installs it as the transport's inbound
// handler and listens for lifecycle events.
func NewRegistry(t Transport, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}

	r := &Registry{
		transport: t,
		logger:    logger.With("component", "subscription"),
		topics:    make(map[string]*topicEntry),
	}

	t.SetInbound(r.Dispatch)
	r.removeListener = t.Listen(r.onEvent)

	return r
}

// Subscribe registers handler on topic. The broker subscribe is sent once
// per topic and connection session, and only while connected; otherwise the
// next connected event covers it.
func (r *Registry) Subscribe(topic string, handler Handler) Handle {
	r.mu.Lock()
	if r.closed || topic == "" || handler == nil {
		r.mu.Unlock()
		return Handle{}
	}

	r.nextID++
	h := Handle{id: r.nextID, topic: topic}

	entry, ok := r.topics[topic]
	if !ok {
		entry = &topicEntry{}
		r.topics[topic] = entry
		r.order = append(r.order, topic)
	}
	entry.handlers = append(entry.handlers, handlerEntry{id: h.id, fn: handler})
	refs := len(entry.handlers)
	r.mu.Unlock()

	// Checked after the insert so a concurrent connected event either sees
	// the topic or we see the connected state. Whichever claims the topic
	// first sends the subscribe.
	if r.transport.IsConnected() && r.claim(topic) {
		if !r.transport.BrokerSubscribe(topic) {
			r.release(topic)
			r.logger.Warn("broker subscribe failed, will retry on connect", "topic", topic)
		}
	}

	r.logger.Debug("handler subscribed", "topic", topic, "refs", refs)
	return h
}

// Unsubscribe removes the handler behind h. The broker unsubscribe is sent
// when the last handler of the topic goes. Returns false when h is unknown or
// was already removed.
func (r *Registry) Unsubscribe(h Handle) bool {
	if !h.Valid() {
		return false
	}

	r.mu.Lock()
	entry, ok := r.topics[h.topic]
	if !ok {
		r.mu.Unlock()
		return false
	}

	idx := -1
	for i, he := range entry.handlers {
		if he.id == h.id {
			idx = i
			break
		}
	}
	if idx < 0 {
		r.mu.Unlock()
		return false
	}

	entry.handlers = append(entry.handlers[:idx:idx], entry.handlers[idx+1:]...)
	last := len(entry.handlers) == 0
	subscribed := entry.subscribed
	if last {
		delete(r.topics, h.topic)
		r.removeOrderLocked(h.topic)
	}
	r.mu.Unlock()

	if last && subscribed && r.transport.IsConnected() {
		r.transport.BrokerUnsubscribe(h.topic)
	}

	r.logger.Debug("handler unsubscribed", "topic", h.topic, "last", last)
	return true
}

// claim marks topic as subscribed for the current session. It returns
// false when the topic is gone or another caller already claimed it.
func (r *Registry) claim(topic string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.topics[topic]
	if !ok || entry.subscribed {
		return false
	}
	entry.subscribed = true
	return true
}

func (r *Registry) release(topic string) {
	r.mu.Lock()
	if entry, ok := r.topics[topic]; ok {
		entry.subscribed = false
	}
	r.mu.Unlock()
}

func (r *Registry) removeOrderLocked(topic string) {
	for i, t := range r.order {
		if t == topic {
			r.order = append(r.order[:i:i], r.order[i+1:]...)
			return
		}
	}
}

// Dispatch delivers body to every handler of topic in registration order.
// It is the transport's inbound handler.
func (r *Registry) Dispatch(topic string, body []byte) {
	r.mu.Lock()
	entry, ok := r.topics[topic]
	var handlers []handlerEntry
	if ok {
		handlers = append(handlers, entry.handlers...)
	}
	r.mu.Unlock()

	if len(handlers) == 0 {
		r.unrouted.Add(1)
		r.logger.Debug("no handler for topic", "topic", topic)
		return
	}

	for _, he := range handlers {
		r.invoke(he.fn, topic, body)
	}
}

func (r *Registry) invoke(fn Handler, topic string, body []byte) {
	defer func() {
		if rec := recover(); rec != nil {
			r.panics.Add(1)
			r.logger.Error("subscription handler panicked", "topic", topic, "panic", rec)
		}
	}()
	r.delivered.Add(1)
	fn(topic, body)
}

// onEvent resubscribes on connect and clears everything on a requested
// disconnect.
func (r *Registry) onEvent(ev connection.Event) {
	switch ev.Kind {
	case connection.EventConnected:
		r.resubscribe()

	case connection.EventDisconnected:
		if ev.Requested {
			r.clear()
			return
		}
		r.resetSession()

	case connection.EventConnecting, connection.EventError:
	}
}

// resubscribe sends a subscribe for every topic not yet subscribed in this
// session, in registration order.
func (r *Registry) resubscribe() {
	r.mu.Lock()
	var topics []string
	for _, topic := range r.order {
		if entry := r.topics[topic]; !entry.subscribed {
			entry.subscribed = true
			topics = append(topics, topic)
		}
	}
	r.mu.Unlock()

	for _, topic := range topics {
		if !r.transport.BrokerSubscribe(topic) {
			r.release(topic)
			r.logger.Warn("resubscribe failed", "topic", topic)
			continue
		}
		r.resubscribes.Add(1)
	}

	if len(topics) > 0 {
		r.logger.Info("resubscribed topics", "count", len(topics))
	}
}

// resetSession forgets which topics the broker holds after a drop.
func (r *Registry) resetSession() {
	r.mu.Lock()
	for _, entry := range r.topics {
		entry.subscribed = false
	}
	r.mu.Unlock()
}

func (r *Registry) clear() {
	r.mu.Lock()
	n := len(r.topics)
	r.topics = make(map[string]*topicEntry)
	r.order = nil
	r.mu.Unlock()

	if n > 0 {
		r.logger.Info("cleared subscriptions on disconnect", "topics", n)
	}
}

// Topics returns the live topics in registration order.
func (r *Registry) Topics() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

// RefCount returns the number of handlers on topic.
func (r *Registry) RefCount(topic string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.topics[topic]; ok {
		return len(entry.handlers)
	}
	return 0
}

// Stats returns current statistics.
func (r *Registry) Stats() Stats {
	r.mu.Lock()
	st := Stats{Topics: len(r.topics)}
	for _, entry := range r.topics {
		st.Handlers += len(entry.handlers)
	}
	r.mu.Unlock()

	st.Delivered = r.delivered.Load()
	st.Unrouted = r.unrouted.Load()
	st.Resubscribes = r.resubscribes.Load()
	st.Panics = r.panics.Load()
	return st
}

// Close detaches the registry from the transport. Subscribe returns an
// invalid handle afterwards.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.topics = make(map[string]*topicEntry)
	r.order = nil
	r.mu.Unlock()

	r.removeListener()
	r.transport.SetInbound(nil)
}
