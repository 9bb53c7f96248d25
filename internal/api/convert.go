package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/rickgao/alert-feed/internal/model"
)

// ErrMissingID is returned when converting an alert without an id.
var ErrMissingID = errors.New("alert has no id")

// timestampLayouts are tried in order for string timestamps. Layouts without
// a zone are read as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// ParseTimestamp parses an ISO 8601 string (with or without zone) or a number
// of milliseconds since epoch. Returns false for empty or invalid input.
func ParseTimestamp(raw json.RawMessage) (time.Time, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return time.Time{}, false
	}

	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return time.Time{}, false
		}
		return ParseTimestampString(s)
	}

	ms, err := strconv.ParseFloat(string(raw), 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(int64(ms)).UTC(), true
}

// ParseTimestampString parses a string timestamp; all-digit strings are epoch
// milliseconds.
func ParseTimestampString(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), true
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// ToModel converts an APIAlert to model.Alert. A missing or unparseable
// timestamp becomes the zero time so the alert sorts last.
func (a *APIAlert) ToModel() (model.Alert, error) {
	id := strings.TrimSpace(string(a.ID))
	if id == "" {
		return model.Alert{}, ErrMissingID
	}

	createdAt, _ := ParseTimestamp(a.Timestamp)

	out := model.Alert{
		ID:        id,
		Message:   a.Message,
		Severity:  model.ParseSeverity(a.Type),
		ReadState: model.ParseReadState(a.Status),
		CreatedAt: createdAt,
		Scope:     model.ScopeGlobal,
		UserID:    strings.TrimSpace(string(a.UserID)),
	}
	if out.UserID != "" {
		out.Scope = model.ScopeUser
	}
	return out, nil
}

// ToModels converts a slice, skipping alerts without an id. It returns the
// number skipped.
func ToModels(in []APIAlert) ([]model.Alert, int) {
	out := make([]model.Alert, 0, len(in))
	skipped := 0
	for i := range in {
		a, err := in[i].ToModel()
		if err != nil {
			skipped++
			continue
		}
		out = append(out, a)
	}
	return out, skipped
}
