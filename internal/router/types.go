package router

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/rickgao/alert-feed/internal/api"
	"github.com/rickgao/alert-feed/internal/model"
	"github.com/rickgao/alert-feed/internal/store"
)

// Errors
var (
	ErrMalformed    = errors.New("malformed alert body")
	ErrUnknownShape = errors.New("unknown alert body shape")
)

// Config holds router configuration.
type Config struct {
	QueueSize    int  `yaml:"queue_size"`     // Initial journal queue capacity
	QueueMaxSize int  `yaml:"queue_max_size"` // Oldest records are dropped beyond this
	Journal      bool `yaml:"-"`              // Queue applied deltas as Records
}

// DefaultConfig returns sensible defaults. Records are only queued when
// Journal is set.
func DefaultConfig() Config {
	return Config{
		QueueSize:    256,
		QueueMaxSize: 10000,
	}
}

// Record is one applied delta, queued for the journal.
type Record struct {
	AlertID    string
	Kind       model.DeltaKind
	Topic      string
	ReceivedAt time.Time
	Payload    json.RawMessage
}

// Stats contains runtime statistics.
type Stats struct {
	Received    int64
	Applied     int64
	Duplicates  int64
	ParseErrors int64
	Unknown     int64
	Queue       QueueStats
}

// Applier receives decoded deltas. *store.Store implements it.
type Applier interface {
	ApplyDelta(d model.Delta) store.Outcome
}

// Toaster is told about alerts the store had never seen.
type Toaster interface {
	OnNewAlert(a model.Alert) bool
}

// Wire types

// bodyWire covers both alert objects and tagged envelopes such as
// {"action":"DELETE","alerteId":7} or {"type":"STATS_UPDATE","userId":42}.
type bodyWire struct {
	ID        api.FlexString  `json:"id"`
	Message   string          `json:"message"`
	Type      string          `json:"type"`
	Status    string          `json:"status"`
	Timestamp json.RawMessage `json:"timestamp"`
	UserID    api.FlexString  `json:"userId"`
	Action    string          `json:"action"`
	AlerteID  api.FlexString  `json:"alerteId"`
}

func (w *bodyWire) alert() api.APIAlert {
	return api.APIAlert{
		ID:        w.ID,
		Message:   w.Message,
		Type:      w.Type,
		Status:    w.Status,
		Timestamp: w.Timestamp,
		UserID:    w.UserID,
	}
}
