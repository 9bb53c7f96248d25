package store

import (
	"errors"

	"github.com/rickgao/alert-feed/internal/model"
)

// Errors
var (
	ErrNotFound = errors.New("alert not found")
	ErrEmptyID  = errors.New("alert id is empty")
)

// Token identifies one pending optimistic mutation.
type Token string

// Outcome reports what ApplyDelta did.
type Outcome struct {
	Inserted bool // A new alert entered the store
	Changed  bool // An existing alert was updated or removed
	Ignored  bool // Duplicate, stale, unknown or not applicable
}

// Listener is called after every mutation that changed the collection.
// It runs without store locks held.
type Listener func()

type opKind int

const (
	opMarkRead opKind = iota + 1
	opDelete
)

func (k opKind) String() string {
	switch k {
	case opMarkRead:
		return "mark_read"
	case opDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// pendingOp is an optimistic mutation awaiting Commit or Revert.
type pendingOp struct {
	kind  opKind
	id    string
	prior model.Alert
	// confirmed is set when a server delta made the same change; the
	// mutation can no longer be reverted.
	confirmed bool
}
