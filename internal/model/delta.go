package model

import "time"

// DeltaKind enumerates the incremental events the feed understands.
type DeltaKind int

const (
	DeltaNewAlert DeltaKind = iota + 1
	DeltaStatusChanged
	DeltaDeleted
	DeltaStatsHint
)

func (k DeltaKind) String() string {
	switch k {
	case DeltaNewAlert:
		return "new_alert"
	case DeltaStatusChanged:
		return "status_changed"
	case DeltaDeleted:
		return "deleted"
	case DeltaStatsHint:
		return "stats_hint"
	default:
		return "unknown"
	}
}

// Delta is a closed set of incremental events. Only the types in this
// package implement it.
type Delta interface {
	Kind() DeltaKind
	AlertID() string
	delta()
}

// NewAlert carries a full alert, possibly one already known.
type NewAlert struct {
	Alert Alert
}

// StatusChanged moves an alert to a read state.
type StatusChanged struct {
	ID    string
	State ReadState
}

// Deleted removes an alert.
type Deleted struct {
	ID string
}

// StatsHint tells that server-side counters changed for a user.
type StatsHint struct {
	UserID string
	At     time.Time
}

func (NewAlert) Kind() DeltaKind      { return DeltaNewAlert }
func (StatusChanged) Kind() DeltaKind { return DeltaStatusChanged }
func (Deleted) Kind() DeltaKind       { return DeltaDeleted }
func (StatsHint) Kind() DeltaKind     { return DeltaStatsHint }

func (d NewAlert) AlertID() string      { return d.Alert.ID }
func (d StatusChanged) AlertID() string { return d.ID }
func (d Deleted) AlertID() string       { return d.ID }
func (StatsHint) AlertID() string       { return "" }

func (NewAlert) delta()      {}
func (StatusChanged) delta() {}
func (Deleted) delta()       {}
func (StatsHint) delta()     {}
