package model

import (
	"strings"
	"time"
)

// -----------------------------------------------------------------------------
// Alert
// -----------------------------------------------------------------------------

// Severity classifies an alert for display.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityUrgent  Severity = "urgent"
)

// Severities lists every severity in display order.
var Severities = []Severity{SeverityInfo, SeveritySuccess, SeverityWarning, SeverityUrgent}

// ParseSeverity maps a wire "type" value to a Severity. Unknown values are info.
func ParseSeverity(s string) Severity {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "success":
		return SeveritySuccess
	case "warning", "warn":
		return SeverityWarning
	case "urgent", "error", "critical", "danger":
		return SeverityUrgent
	default:
		return SeverityInfo
	}
}

// ReadState is the read flag of an alert. Unread -> Read is the only
// transition a delta may cause.
type ReadState int

const (
	Unread ReadState = iota
	Read
)

func (s ReadState) String() string {
	if s == Read {
		return "read"
	}
	return "unread"
}

// ParseReadState maps a wire "status" value to a ReadState.
func ParseReadState(s string) ReadState {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "READ", "LU", "SEEN":
		return Read
	default:
		return Unread
	}
}

// Scope tells whether an alert was addressed to one user or broadcast.
type Scope int

const (
	ScopeGlobal Scope = iota
	ScopeUser
)

func (s Scope) String() string {
	if s == ScopeUser {
		return "user"
	}
	return "global"
}

// Alert is a server-created notification observed by the feed.
type Alert struct {
	ID        string
	Message   string
	Severity  Severity
	ReadState ReadState
	CreatedAt time.Time
	Scope     Scope
	UserID    string // Empty for global alerts
}

// IsUnread reports whether the alert has not been read yet.
func (a Alert) IsUnread() bool {
	return a.ReadState == Unread
}

// -----------------------------------------------------------------------------
// Derived statistics
// -----------------------------------------------------------------------------

// Stats are derived counts over the alert collection.
type Stats struct {
	Total      int
	Unread     int
	Read       int
	BySeverity map[Severity]int
}

// ComputeStats counts alerts by read state and severity.
func ComputeStats(alerts []Alert) Stats {
	st := Stats{BySeverity: make(map[Severity]int, len(Severities))}
	for _, sev := range Severities {
		st.BySeverity[sev] = 0
	}
	for _, a := range alerts {
		st.Total++
		if a.ReadState == Read {
			st.Read++
		} else {
			st.Unread++
		}
		st.BySeverity[a.Severity]++
	}
	return st
}
