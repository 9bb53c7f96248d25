package router

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/rickgao/alert-feed/internal/api"
	"github.com/rickgao/alert-feed/internal/model"
)

// Router turns topic bodies into deltas and applies them.
type Router interface {
	// Handle decodes and applies one topic body. It has the shape of a
	// subscription handler.
	Handle(topic string, body []byte)

	// Queue returns the journal queue. Nil unless Config.Journal is set.
	Queue() *Queue[Record]

	// Stats returns current router statistics.
	Stats() Stats

	// Close closes the journal queue.
	Close()
}

// Sinks are the router's outputs. Only Store is required.
type Sinks struct {
	Store       Applier
	Toasts      Toaster
	OnStatsHint func(model.StatsHint)
}

// router is the internal implementation.
type router struct {
	cfg    Config
	sinks  Sinks
	logger *slog.Logger
	queue  *Queue[Record]
	now    func() time.Time

	mu          sync.Mutex
	received    int64
	applied     int64
	duplicates  int64
	parseErrors int64
	unknown     int64
}

// NewRouter creates a delta router.
func NewRouter(cfg Config, sinks Sinks, logger *slog.Logger) Router {
	if logger == nil {
		logger = slog.Default()
	}

	r := &router{
		cfg:    cfg,
		sinks:  sinks,
		logger: logger.With("component", "router"),
		now:    time.Now,
	}
	if cfg.Journal {
		r.queue = NewQueue[Record](cfg.QueueSize, cfg.QueueMaxSize)
	}
	return r
}

// Decode parses one topic body.
func Decode(body []byte) (model.Delta, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 || body[0] != '{' {
		return nil, ErrMalformed
	}

	var w bodyWire
	if err := json.Unmarshal(body, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	if action := strings.ToUpper(strings.TrimSpace(w.Action)); action != "" {
		id := strings.TrimSpace(string(w.AlerteID))
		if id == "" {
			id = strings.TrimSpace(string(w.ID))
		}
		if id == "" {
			return nil, fmt.Errorf("%w: %s without alerteId", ErrMalformed, action)
		}
		switch action {
		case "DELETE", "DELETED":
			return model.Deleted{ID: id}, nil
		case "READ", "LU", "MARK_READ":
			return model.StatusChanged{ID: id, State: model.Read}, nil
		default:
			return nil, fmt.Errorf("%w: action %q", ErrUnknownShape, w.Action)
		}
	}

	if strings.EqualFold(strings.TrimSpace(w.Type), "STATS_UPDATE") {
		at, _ := api.ParseTimestamp(w.Timestamp)
		return model.StatsHint{
			UserID: strings.TrimSpace(string(w.UserID)),
			At:     at,
		}, nil
	}

	if strings.TrimSpace(string(w.ID)) == "" {
		return nil, ErrUnknownShape
	}
	wire := w.alert()
	a, err := wire.ToModel()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return model.NewAlert{Alert: a}, nil
}

// Handle decodes, applies and journals one body.
func (r *router) Handle(topic string, body []byte) {
	r.mu.Lock()
	r.received++
	r.mu.Unlock()

	d, err := Decode(body)
	if err != nil {
		r.mu.Lock()
		if errors.Is(err, ErrUnknownShape) {
			r.unknown++
		} else {
			r.parseErrors++
		}
		r.mu.Unlock()
		r.logger.Warn("dropping alert body", "topic", topic, "size", len(body), "error", err)
		return
	}

	if hint, ok := d.(model.StatsHint); ok {
		r.mu.Lock()
		r.applied++
		r.mu.Unlock()
		r.logger.Debug("stats hint", "topic", topic, "user_id", hint.UserID)
		if r.sinks.OnStatsHint != nil {
			r.sinks.OnStatsHint(hint)
		}
		return
	}

	out := r.sinks.Store.ApplyDelta(d)

	r.mu.Lock()
	if out.Ignored {
		r.duplicates++
	} else {
		r.applied++
	}
	r.mu.Unlock()

	if out.Ignored {
		r.logger.Debug("delta ignored", "topic", topic, "kind", d.Kind(), "id", d.AlertID())
		return
	}

	if na, ok := d.(model.NewAlert); ok && out.Inserted && r.sinks.Toasts != nil {
		r.sinks.Toasts.OnNewAlert(na.Alert)
	}

	if r.queue != nil {
		r.queue.Send(Record{
			AlertID:    d.AlertID(),
			Kind:       d.Kind(),
			Topic:      topic,
			ReceivedAt: r.now(),
			Payload:    json.RawMessage(bytes.Clone(body)),
		})
	}
}

// Queue returns the journal queue.
func (r *router) Queue() *Queue[Record] {
	return r.queue
}

// Stats returns current statistics.
func (r *router) Stats() Stats {
	r.mu.Lock()
	s := Stats{
		Received:    r.received,
		Applied:     r.applied,
		Duplicates:  r.duplicates,
		ParseErrors: r.parseErrors,
		Unknown:     r.unknown,
	}
	r.mu.Unlock()

	if r.queue != nil {
		s.Queue = r.queue.Stats()
	}
	return s
}

// Close closes the journal queue so its consumer can drain and exit.
func (r *router) Close() {
	if r.queue != nil {
		r.queue.Close()
	}
}
