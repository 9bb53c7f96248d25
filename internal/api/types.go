package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// FlexString decodes a JSON string or number into a string. null decodes to "".
// The alert service sends numeric ids from some endpoints and strings from others.
type FlexString string

func (s *FlexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*s = ""
		return nil
	}
	if b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = FlexString(v)
		return nil
	}
	if _, err := strconv.ParseFloat(string(b), 64); err != nil {
		return fmt.Errorf("flex string: unsupported value %s", b)
	}
	*s = FlexString(b)
	return nil
}

// APIAlert is an alert as served by GET /alertes/employe/{id} and pushed on
// the broker topics.
type APIAlert struct {
	ID        FlexString      `json:"id"`
	Message   string          `json:"message"`
	Type      string          `json:"type"`   // info, success, warning, urgent, error
	Status    string          `json:"status"` // NON_LU, LU, READ, ...
	Timestamp json.RawMessage `json:"timestamp"`
	UserID    FlexString      `json:"userId"`
}

// AlertsResponse is the envelope form of the snapshot response. A bare JSON
// array is also accepted.
type AlertsResponse struct {
	Alertes []APIAlert `json:"alertes"`
	Total   int        `json:"total"`
}

// Snapshot is a decoded snapshot response.
type Snapshot struct {
	Alerts []APIAlert
	Total  int
}

// CreateAlertRequest is the body of POST /alertes.
type CreateAlertRequest struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	UserID  string `json:"userId,omitempty"`
}
